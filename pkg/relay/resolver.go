// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relay

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// DNSResolver is a backend.Resolver doing real A queries against the
// system's configured nameservers, for hosts that do not bring their own
// resolver.
type DNSResolver struct {
	c       *dns.Client
	servers []string
}

// NewDNSResolver reads the system resolver configuration. Pass an empty
// path for the default /etc/resolv.conf.
func NewDNSResolver(resolvConf string) (*DNSResolver, error) {
	if resolvConf == "" {
		resolvConf = "/etc/resolv.conf"
	}
	cc, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return nil, err
	}
	servers := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		servers = append(servers, net.JoinHostPort(s, cc.Port))
	}
	return &DNSResolver{
		c:       &dns.Client{Timeout: 5 * time.Second},
		servers: servers,
	}, nil
}

// LookupA starts an asynchronous A query. The callback fires exactly
// once unless the returned cancel function runs first. It runs on the
// query's own goroutine, not on the host event loop.
func (r *DNSResolver) LookupA(host string, cb func(ip string, err error)) (cancel func()) {
	ctx, cancelCtx := context.WithCancel(context.Background())

	go func() {
		ip, err := r.lookup(ctx, host)
		if ctx.Err() != nil {
			return
		}
		cb(ip, err)
	}()

	return cancelCtx
}

func (r *DNSResolver) lookup(ctx context.Context, host string) (string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.c.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				return a.A.String(), nil
			}
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no A record for %q", host)
	}
	return "", lastErr
}
