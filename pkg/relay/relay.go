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

// Package relay obtains short-lived media relay credentials and the
// relay list from the MRAS service, resolving each relay hostname to an
// IP through the host's asynchronous resolver.
package relay

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipe-go/mediacall/pkg/backend"
	"github.com/sipe-go/mediacall/pkg/config"
	"github.com/sipe-go/mediacall/pkg/logging"
)

const (
	mrasContentType = "application/msrtc-media-relay-auth+xml"
	mrasNamespace   = "http://schemas.microsoft.com/2006/09/sip/mrasp"

	// requestedDuration is the credential lifetime asked of the server,
	// in seconds.
	requestedDuration = 480
)

// Credentials are the MRAS-issued relay credentials with their expiry.
type Credentials struct {
	Username string
	Password string
	Expires  time.Time
	Duration time.Duration
}

// mediaRelay is one relay entry; Host starts as the advertised hostname
// and is replaced in place by the resolved IP. An empty Host marks a
// relay whose resolution failed.
type mediaRelay struct {
	Host    string
	UDPPort int
	TCPPort int

	resolved  bool
	cancelDNS func()
}

type mrasRequest struct {
	XMLName   xml.Name `xml:"request"`
	Namespace string   `xml:"xmlns,attr"`
	RequestID string   `xml:"requestID,attr"`
	From      string   `xml:"from,attr"`
	To        string   `xml:"to,attr"`
	Version   string   `xml:"version,attr"`

	CredentialsRequest struct {
		ID       string `xml:"credentialsRequestID,attr"`
		Identity string `xml:"identity"`
		Location string `xml:"location"`
		Duration int    `xml:"duration"`
	} `xml:"credentialsRequest"`
}

type mrasResponse struct {
	XMLName      xml.Name `xml:"response"`
	ReasonPhrase string   `xml:"reasonPhrase,attr"`

	CredentialsResponse struct {
		Credentials struct {
			Username string `xml:"username"`
			Password string `xml:"password"`
		} `xml:"credentials"`
		MediaRelayList struct {
			Relays []struct {
				HostName string `xml:"hostName"`
				UDPPort  int    `xml:"udpPort"`
				TCPPort  int    `xml:"tcpPort"`
			} `xml:"mediaRelay"`
		} `xml:"mediaRelayList"`
	} `xml:"credentialsResponse"`
}

// Client requests and caches MRAS credentials and the relay list for one
// session. It implements signaling.RelayProvider.
type Client struct {
	conf     *config.Config
	hc       *http.Client
	resolver backend.Resolver
	cache    CredentialCache
	log      logging.Logger

	mu     sync.Mutex
	creds  *Credentials
	relays []*mediaRelay
}

// ClientParams collects the collaborators of a Client. HTTPClient and
// Cache default when nil.
type ClientParams struct {
	Config   *config.Config
	Resolver backend.Resolver
	Log      logging.Logger

	HTTPClient *http.Client
	Cache      CredentialCache
}

func NewClient(p ClientParams) *Client {
	if p.HTTPClient == nil {
		p.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if p.Cache == nil {
		p.Cache = NewMemoryCache()
	}
	if p.Log == nil {
		p.Log = logging.NewNop()
	}
	return &Client{
		conf:     p.Config,
		hc:       p.HTTPClient,
		resolver: p.Resolver,
		cache:    p.Cache,
		log:      p.Log,
	}
}

// Request performs the MRAS credential exchange and kicks off hostname
// resolution for every returned relay.
func (c *Client) Request(ctx context.Context) error {
	if c.conf.MRASURI == "" {
		return fmt.Errorf("relay: no MRAS URI configured")
	}

	location := "intranet"
	if c.conf.RemoteUser {
		location = "internet"
	}

	reqID := uuid.NewString()
	body := mrasRequest{
		Namespace: mrasNamespace,
		RequestID: reqID,
		From:      c.conf.SelfURI,
		To:        c.conf.MRASURI,
		Version:   "1.0",
	}
	body.CredentialsRequest.ID = reqID
	body.CredentialsRequest.Identity = c.conf.SelfURI
	body.CredentialsRequest.Location = location
	body.CredentialsRequest.Duration = requestedDuration

	payload, err := xml.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.conf.MRASURI, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", mrasContentType)

	httpResp, err := c.hc.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		return fmt.Errorf("relay: MRAS returned status %d", httpResp.StatusCode)
	}
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}

	var resp mrasResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("relay: invalid MRAS response: %w", err)
	}
	if resp.ReasonPhrase != "OK" {
		return fmt.Errorf("relay: MRAS refused request: %q", resp.ReasonPhrase)
	}

	c.mu.Lock()

	c.cancelPendingLocked()

	creds := &Credentials{
		Username: resp.CredentialsResponse.Credentials.Username,
		Password: resp.CredentialsResponse.Credentials.Password,
		Duration: requestedDuration * time.Second,
		Expires:  time.Now().Add(requestedDuration * time.Second),
	}
	c.creds = creds
	c.cache.Put(ctx, c.conf.SelfURI, creds)

	c.relays = nil
	for _, r := range resp.CredentialsResponse.MediaRelayList.Relays {
		relay := &mediaRelay{
			Host:    r.HostName,
			UDPPort: r.UDPPort,
			TCPPort: r.TCPPort,
		}
		c.relays = append(c.relays, relay)
		c.log.Infow("media relay", "host", r.HostName,
			"udpPort", r.UDPPort, "tcpPort", r.TCPPort)
	}
	relays := append([]*mediaRelay(nil), c.relays...)
	c.mu.Unlock()

	for _, relay := range relays {
		c.resolve(relay)
	}
	return nil
}

func (c *Client) resolve(relay *mediaRelay) {
	if c.resolver == nil {
		return
	}
	hostname := relay.Host
	cancel := c.resolver.LookupA(hostname, func(ip string, err error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		relay.resolved = true
		relay.cancelDNS = nil
		if err != nil || ip == "" {
			// An unresolvable relay is skipped downstream.
			c.log.Warnw("unable to resolve media relay", err, "host", hostname)
			relay.Host = ""
			return
		}
		c.log.Infow("media relay resolved", "host", hostname, "ip", ip)
		relay.Host = ip
	})
	c.mu.Lock()
	if !relay.resolved {
		relay.cancelDNS = cancel
	}
	c.mu.Unlock()
}

func (c *Client) cancelPendingLocked() {
	for _, r := range c.relays {
		if r.cancelDNS != nil {
			r.cancelDNS()
			r.cancelDNS = nil
		}
	}
}

// Close cancels any pending relay resolutions.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelPendingLocked()
}

// Credentials returns valid relay credentials, re-requesting them when
// less than a configured fraction of their lifetime remains.
func (c *Client) Credentials(ctx context.Context) (*Credentials, error) {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()

	if creds == nil {
		if cached, ok := c.cache.Get(ctx, c.conf.SelfURI); ok {
			c.mu.Lock()
			c.creds = cached
			c.mu.Unlock()
			creds = cached
		}
	}

	if creds != nil && !c.nearExpiry(creds) {
		return creds, nil
	}

	if err := c.Request(ctx); err != nil {
		if creds != nil && time.Now().Before(creds.Expires) {
			// Degrade to the old credentials while they still work.
			return creds, nil
		}
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds, nil
}

func (c *Client) nearExpiry(creds *Credentials) bool {
	frac := c.conf.MRASCredentialRefreshFraction
	if frac <= 0 {
		frac = 0.10
	}
	remaining := time.Until(creds.Expires)
	return remaining < time.Duration(float64(creds.Duration)*frac)
}

// Relays returns the resolved relay list for the media engine, skipping
// entries whose resolution failed or is still pending the way the
// engine would skip an unusable relay.
func (c *Client) Relays() []backend.Relay {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]backend.Relay, 0, len(c.relays))
	for _, r := range c.relays {
		if r.Host == "" || r.cancelDNS != nil {
			continue
		}
		out = append(out, backend.Relay{
			Host:    r.Host,
			UDPPort: r.UDPPort,
			TCPPort: r.TCPPort,
		})
	}
	return out
}

// RelayCredentials adapts the cached credentials for the signalling
// layer.
func (c *Client) RelayCredentials() (username, password string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds == nil || time.Now().After(c.creds.Expires) {
		return "", "", false
	}
	return c.creds.Username, c.creds.Password, true
}
