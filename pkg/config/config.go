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

// Package config loads the per-signed-in-session configuration: port
// ranges, ICE/encryption defaults, the MRAS endpoint and the
// OCS2007/Lync2013 server-profile flags.
package config

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sipe-go/mediacall/pkg/errors"
	"github.com/sipe-go/mediacall/pkg/sdp"
)

// PortRange is an inclusive [Min, Max] local port range.
type PortRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// PortRanges holds the per-media-type candidate gathering ranges, falling
// back to General when a media type has no dedicated range.
type PortRanges struct {
	Audio              PortRange `yaml:"audio"`
	Video              PortRange `yaml:"video"`
	Data               PortRange `yaml:"data"`
	ApplicationSharing PortRange `yaml:"application_sharing"`
	General            PortRange `yaml:"general"`
}

// ForMediaType returns the configured range for the given SDP media section
// name, falling back to General when unset.
func (p PortRanges) ForMediaType(name string) PortRange {
	r := p.General
	switch name {
	case "audio":
		if p.Audio != (PortRange{}) {
			r = p.Audio
		}
	case "video":
		if p.Video != (PortRange{}) {
			r = p.Video
		}
	case "data":
		if p.Data != (PortRange{}) {
			r = p.Data
		}
	case "applicationsharing":
		if p.ApplicationSharing != (PortRange{}) {
			r = p.ApplicationSharing
		}
	}
	return r
}

// LoggingConfig configures the zap logger (pkg/logging).
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func (l LoggingConfig) ZapLevel() zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Config is the per-session configuration, loaded once at sign-in and
// passed explicitly into every entry point; nothing here is global.
type Config struct {
	// SelfURI is this account's own SIP URI, used for self-loop detection
	// on inbound INVITEs and as the MRAS request's own-uri field.
	SelfURI string `yaml:"self_uri"`

	// MRASURI is the media-relay-authentication-service endpoint.
	MRASURI string `yaml:"mras_uri"`

	// LineURI, when set, is emitted as P-Preferred-Identity on outbound
	// INVITEs for unified-communications lines.
	LineURI string `yaml:"line_uri"`

	// TestCallBotURI, when matched against a call's remote URI, disables
	// the legacy multipart/alternative fallback body.
	TestCallBotURI string `yaml:"test_call_bot_uri"`

	// OCS2007 and Lync2013 are server-profile flags. Lync2013 selects the
	// ICE version used for conference joins; OCS2007 is not read by the
	// call code.
	OCS2007  bool `yaml:"ocs2007"`
	Lync2013 bool `yaml:"lync2013"`

	// DefaultICEVersion is used for the first INVITE of a new call.
	DefaultICEVersion sdp.ICEVersion `yaml:"default_ice_version"`

	// EncryptionPolicy is this account's encryption policy;
	// sdp.EncryptionDefault means "obey server".
	EncryptionPolicy sdp.EncryptionPolicy `yaml:"encryption_policy"`

	// ServerEncryptionPolicy is the default the server advertised at
	// sign-in. The explicit encryption attribute is only put on the wire
	// when the effective policy differs from it.
	ServerEncryptionPolicy sdp.EncryptionPolicy `yaml:"server_encryption_policy"`

	// RemoteUser marks a session connecting from outside the corporate
	// network; it selects the "internet" location in relay credential
	// requests.
	RemoteUser bool `yaml:"remote_user"`

	// Ports are the local candidate-gathering port ranges.
	Ports PortRanges `yaml:"ports"`

	// MRASCredentialRefreshFraction is the fraction of the advertised
	// credential duration remaining below which pkg/relay re-requests
	// MRAS credentials. Zero selects the default of 0.10.
	MRASCredentialRefreshFraction float64 `yaml:"mras_credential_refresh_fraction"`

	// RedisAddr, when set, backs pkg/relay's credential cache with Redis
	// instead of the in-memory default, so multiple processes of the same
	// signed-in session pool can share MRAS credentials.
	RedisAddr string `yaml:"redis_addr"`

	Logging LoggingConfig `yaml:"logging"`
}

// NewConfig loads a Config from a YAML document, with environment
// variable defaults for the connection identity.
func NewConfig(confYAML string) (*Config, error) {
	conf := &Config{
		SelfURI: os.Getenv("MEDIACALL_SELF_URI"),
		MRASURI: os.Getenv("MEDIACALL_MRAS_URI"),
	}
	if confYAML != "" {
		if err := yaml.Unmarshal([]byte(confYAML), conf); err != nil {
			return nil, errors.ErrCouldNotParseConfig(err)
		}
	}
	if conf.MRASCredentialRefreshFraction <= 0 {
		conf.MRASCredentialRefreshFraction = 0.10
	}
	if conf.Ports.General == (PortRange{}) {
		conf.Ports.General = PortRange{Min: 6000, Max: 7999}
	}
	return conf, nil
}

// BuildLogger constructs the zap logger this config describes.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(c.Logging.ZapLevel())
	return zc.Build()
}
