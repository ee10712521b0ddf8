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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sipe-go/mediacall/pkg/sdp"
)

func TestNewConfigDefaults(t *testing.T) {
	conf, err := NewConfig("")
	require.NoError(t, err)
	require.InDelta(t, 0.10, conf.MRASCredentialRefreshFraction, 1e-9)
	require.Equal(t, PortRange{Min: 6000, Max: 7999}, conf.Ports.General)
}

func TestNewConfigFromYAML(t *testing.T) {
	conf, err := NewConfig(`
self_uri: sip:alice@example.com
mras_uri: https://mras.example.com/cred
lync2013: true
default_ice_version: rfc-5245
encryption_policy: required
ports:
  audio:
    min: 12000
    max: 12999
  general:
    min: 20000
    max: 29999
`)
	require.NoError(t, err)
	require.Equal(t, "sip:alice@example.com", conf.SelfURI)
	require.True(t, conf.Lync2013)
	require.Equal(t, sdp.ICERFC5245, conf.DefaultICEVersion)
	require.Equal(t, sdp.EncryptionRequired, conf.EncryptionPolicy)
	require.Equal(t, PortRange{Min: 12000, Max: 12999}, conf.Ports.Audio)
}

func TestNewConfigRejectsBadYAML(t *testing.T) {
	_, err := NewConfig("ports: [not a map]")
	require.Error(t, err)
}

func TestPortRangeFallback(t *testing.T) {
	p := PortRanges{
		Audio:   PortRange{Min: 12000, Max: 12999},
		General: PortRange{Min: 20000, Max: 29999},
	}
	require.Equal(t, p.Audio, p.ForMediaType("audio"))
	require.Equal(t, p.General, p.ForMediaType("video"))
	require.Equal(t, p.General, p.ForMediaType("data"))
	require.Equal(t, p.General, p.ForMediaType("applicationsharing"))
	require.Equal(t, p.General, p.ForMediaType("something-else"))

	p.Data = PortRange{Min: 40000, Max: 40999}
	require.Equal(t, p.Data, p.ForMediaType("data"))
}
