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

// mediacalld wires the media call core together for manual exercise: it
// loads the session configuration, builds the relay client and serves
// the Prometheus metrics endpoint. SIP transport and the media engine
// are host collaborators; this harness stubs them out.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/sipe-go/mediacall/pkg/backend"
	"github.com/sipe-go/mediacall/pkg/config"
	"github.com/sipe-go/mediacall/pkg/logging"
	"github.com/sipe-go/mediacall/pkg/relay"
	"github.com/sipe-go/mediacall/pkg/sdp"
	"github.com/sipe-go/mediacall/pkg/signaling"
	"github.com/sipe-go/mediacall/pkg/stats"
	"github.com/sipe-go/mediacall/pkg/wire"
)

func main() {
	cmd := &cli.Command{
		Name:        "mediacalld",
		Usage:       "media call signalling core",
		Description: "Lync-dialect media call negotiation harness",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the yaml config file",
				Sources: cli.EnvVars("MEDIACALL_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config-body",
				Usage:   "yaml config body",
				Sources: cli.EnvVars("MEDIACALL_CONFIG_BODY"),
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "listen address for the Prometheus endpoint",
				Value: ":9090",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Command) (*config.Config, error) {
	body := c.String("config-body")
	if path := c.String("config"); body == "" && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		body = string(data)
	}
	return config.NewConfig(body)
}

func run(ctx context.Context, c *cli.Command) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	zl, err := conf.BuildLogger()
	if err != nil {
		return err
	}
	log := logging.New(zl)

	mon := stats.NewMonitor()
	defer mon.Stop()

	resolver, err := relay.NewDNSResolver("")
	if err != nil {
		return err
	}

	var cache relay.CredentialCache
	if conf.RedisAddr != "" {
		cache = relay.NewRedisCache(redis.NewClient(&redis.Options{Addr: conf.RedisAddr}))
	}
	relays := relay.NewClient(relay.ClientParams{
		Config:   conf,
		Resolver: resolver,
		Log:      log,
		Cache:    cache,
	})
	defer relays.Close()

	sess, err := signaling.NewSession(signaling.SessionParams{
		Config:    conf,
		Log:       log,
		Transport: loggingTransport{log: log},
		Driver:    nopDriver{},
		Relays:    relays,
		Monitor:   mon,
	})
	if err != nil {
		return err
	}

	log.Infow("session ready", "self", conf.SelfURI, "calls", sess.Registry().Len())

	srv := &http.Server{Addr: c.String("metrics-addr"), Handler: promhttp.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics server failed", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	sess.SignOut()
	return srv.Shutdown(context.Background())
}

// loggingTransport prints outbound SIP traffic instead of sending it.
type loggingTransport struct {
	log logging.Logger
}

func (t loggingTransport) SendRequest(req *sip.Request, _ wire.ResponseFunc) error {
	t.log.Infow("would send request", "method", req.Method)
	return nil
}

func (t loggingTransport) SendResponse(resp *sip.Response) error {
	t.log.Infow("would send response", "status", int(resp.StatusCode))
	return nil
}

// nopDriver satisfies the media engine interfaces without touching any
// real media.
type nopDriver struct{}

func (nopDriver) NewMedia(_, _ string, _ bool) (backend.Media, error) { return nopMedia{}, nil }
func (nopDriver) NetworkIP() string                                   { return "127.0.0.1" }

type nopMedia struct{}

func (nopMedia) AddStream(backend.StreamOptions) (backend.Stream, error) { return &nopStream{}, nil }
func (nopMedia) SetCName(string)                                         {}
func (nopMedia) Accept(bool)                                             {}
func (nopMedia) Reject(bool)                                             {}
func (nopMedia) Hangup(bool)                                             {}

type nopStream struct {
	held bool
}

func (*nopStream) Initialized() bool                              { return true }
func (*nopStream) LocalCodecs() []sdp.Codec                       { return nil }
func (*nopStream) LocalCandidates() []sdp.Candidate               { return nil }
func (*nopStream) ActiveLocalCandidates() []sdp.Candidate         { return nil }
func (*nopStream) ActiveRemoteCandidates() []sdp.Candidate        { return nil }
func (*nopStream) SetRemoteCodecs([]sdp.Codec) bool               { return true }
func (*nopStream) SetRemoteCandidates([]sdp.Candidate)            {}
func (*nopStream) SetEncryptionKeys(_, _ *sdp.EncryptionKey)      {}
func (s *nopStream) SetHeld(held bool)                            { s.held = held }
func (s *nopStream) Held() bool                                   { return s.held }
func (*nopStream) Read([]byte) (int, error)                       { return 0, nil }
func (n *nopStream) Write(p []byte) (int, error)                  { return len(p), nil }
func (*nopStream) End()                                           {}
