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

// Package backend declares the capability interfaces the host must
// implement for mediacall: the media engine that owns sockets, codecs and
// SRTP, and the asynchronous DNS resolver used for media-relay lookups.
// The core never touches media directly; it only negotiates what the
// engine should do.
package backend

import (
	"github.com/sipe-go/mediacall/pkg/sdp"
)

// Relay is one media relay handed to the engine for candidate gathering.
// Host is an IP literal once DNS resolution finished.
type Relay struct {
	Host    string
	UDPPort int
	TCPPort int
}

// StreamOptions parameterises stream creation on the media engine.
type StreamOptions struct {
	StreamID   string // audio, video, data, applicationsharing
	MediaType  string // audio, video or application
	ICEVersion sdp.ICEVersion
	Initiator  bool

	// PortMin and PortMax bound local candidate gathering.
	PortMin int
	PortMax int

	Relays        []Relay
	RelayUsername string
	RelayPassword string
}

// Driver is the host's media engine factory plus the host-level queries
// that do not belong to any single call.
type Driver interface {
	// NewMedia creates the media state for one call. Events for it are
	// delivered back into the core through the Session entry points.
	NewMedia(callID, remoteURI string, initiator bool) (Media, error)

	// NetworkIP reports the local address the host would use to reach
	// the server, used for SDP origin lines and fallback bodies.
	NetworkIP() string
}

// Media is the engine side of one call.
type Media interface {
	AddStream(opts StreamOptions) (Stream, error)

	SetCName(cname string)

	Accept(local bool)
	Reject(local bool)
	Hangup(local bool)
}

// Stream is the engine side of one media stream. Read and Write move raw
// stream bytes and are only meaningful for data streams.
type Stream interface {
	Initialized() bool

	LocalCodecs() []sdp.Codec
	LocalCandidates() []sdp.Candidate
	ActiveLocalCandidates() []sdp.Candidate
	ActiveRemoteCandidates() []sdp.Candidate

	// SetRemoteCodecs installs the peer's codec list, returning false
	// when the engine can use none of them.
	SetRemoteCodecs(codecs []sdp.Codec) bool
	SetRemoteCandidates(cands []sdp.Candidate)

	SetEncryptionKeys(local, remote *sdp.EncryptionKey)

	SetHeld(held bool)
	Held() bool

	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	End()
}

// Resolver is the host's asynchronous A-query interface. The callback
// fires from the host event loop; the returned cancel function stops a
// pending query, after which the callback will not fire.
type Resolver interface {
	LookupA(host string, cb func(ip string, err error)) (cancel func())
}
