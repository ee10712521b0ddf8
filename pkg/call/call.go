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

// Package call holds the media call and stream records plus the
// per-session registry indexing calls by SIP Call-ID.
package call

import (
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/frostbyte73/core"

	"github.com/sipe-go/mediacall/pkg/backend"
	"github.com/sipe-go/mediacall/pkg/logging"
	"github.com/sipe-go/mediacall/pkg/sdp"
	"github.com/sipe-go/mediacall/pkg/wire"
)

// State is the signalling state of a call.
type State int

const (
	StateIdle State = iota
	StateLocalOffering
	StateRemoteOffering
	StateEstablished
	StateReinviting
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocalOffering:
		return "local-offering"
	case StateRemoteOffering:
		return "remote-offering"
	case StateEstablished:
		return "established"
	case StateReinviting:
		return "reinviting"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// MediaType classifies a stream independently of its SDP section name, so
// two section names can map to the same engine media kind.
type MediaType int

const (
	MediaAudio MediaType = iota
	MediaVideo
	MediaApplication
)

func (t MediaType) String() string {
	switch t {
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	case MediaApplication:
		return "application"
	}
	return "unknown"
}

// MediaTypeOf maps an SDP media section name onto a MediaType. The second
// return is false for section names this module does not carry.
func MediaTypeOf(streamID string) (MediaType, bool) {
	switch streamID {
	case "audio":
		return MediaAudio, true
	case "video":
		return MediaVideo, true
	case "data", "applicationsharing":
		return MediaApplication, true
	}
	return 0, false
}

// OverlayKind tags the payload attached to a stream by a higher layer.
type OverlayKind int

const (
	OverlayNone OverlayKind = iota
	OverlayFileTransfer
)

// Overlay is a higher-layer payload riding on a stream. The owning layer
// keeps all of its state behind this value; the call knows only the tag.
type Overlay interface {
	OverlayKind() OverlayKind
}

// Optional overlay hooks. An overlay implements the ones it cares about;
// the signalling layer type-asserts before dispatching.
type (
	// InfoHandler receives in-dialog INFO requests for the call.
	InfoHandler interface {
		HandleInfo(req *sip.Request)
	}
	// PairEstablishedHandler fires when the engine reports a usable
	// candidate pair on the overlay's stream.
	PairEstablishedHandler interface {
		CandidatePairEstablished()
	}
	// ReadableHandler fires when the overlay's stream has bytes to read.
	ReadableHandler interface {
		Readable()
	}
	// EndHandler fires when the call carrying the overlay goes away.
	EndHandler interface {
		CallEnded(local bool)
	}
)

// Stream is one media direction-pair inside a call.
type Stream struct {
	ID        string
	MediaType MediaType

	// Key is the local SRTP key offered for this stream; RemoteKeyID is
	// recorded when the peer's key is installed.
	Key         *sdp.EncryptionKey
	RemoteKeyID int

	// RemoteSet is latched once the peer's codecs and candidates have
	// been applied. It never goes back to false.
	RemoteSet bool

	// Attributes are extra SDP attributes emitted verbatim, in insertion
	// order, on this stream's media section.
	Attributes []sdp.Attribute

	Overlay Overlay

	Media backend.Stream
}

// AddAttribute appends an extra SDP attribute for this stream's section.
func (s *Stream) AddAttribute(name, value string) {
	s.Attributes = append(s.Attributes, sdp.Attribute{Name: name, Value: value})
}

// EncryptionActive reports whether SRTP is in effect on this stream for
// the given call compatibility flag and effective policy.
func (s *Stream) EncryptionActive(encryptionCompatible bool, policy sdp.EncryptionPolicy) bool {
	return s.Key != nil && encryptionCompatible && s.RemoteSet && policy != sdp.EncryptionRejected
}

// Call is one media session with a single remote party.
type Call struct {
	ID         string
	RemoteURI  string
	ICEVersion sdp.ICEVersion
	Initiator  bool
	WithVideo  bool

	State State

	// EncryptionCompatible starts true on every fresh offer/answer round
	// and is cleared when the peer's policy cannot be reconciled with
	// ours.
	EncryptionCompatible bool

	// LocalAccepted is set once the local side answered an inbound call.
	LocalAccepted bool

	Dialog *wire.Dialog

	// Invite is the retained inbound INVITE; while it is held no
	// response other than the single releasing final one may be sent.
	Invite *sip.Request

	// OutgoingInvite is the in-flight outbound INVITE, kept so its
	// response can be acknowledged with a matching cseq.
	OutgoingInvite *sip.Request

	// Remote is the last-received remote SDP still pending application,
	// kept until every stream it created reports initialisation.
	Remote *sdp.Message

	// ExtraInvitePart, when set, rides along the SDP in the next
	// outbound INVITE as a second MIME part under ExtraInviteType.
	ExtraInvitePart *wire.Part
	ExtraInviteType string

	Streams []*Stream

	// FailedSections are media sections this side refused or could not
	// activate; they are echoed back with port 0 in every subsequent
	// SDP of this call.
	FailedSections []sdp.MediaSection

	Media backend.Media

	Log logging.Logger

	stopped core.Fuse
}

// Stream returns the stream with the given id, or nil.
func (c *Call) Stream(id string) *Stream {
	for _, s := range c.Streams {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// RemoveStream drops the stream with the given id from the call.
func (c *Call) RemoveStream(id string) {
	for i, s := range c.Streams {
		if s.ID == id {
			c.Streams = append(c.Streams[:i], c.Streams[i+1:]...)
			return
		}
	}
}

// Initialized reports whether every stream's engine side finished local
// preparation.
func (c *Call) Initialized() bool {
	for _, s := range c.Streams {
		if !s.Media.Initialized() {
			return false
		}
	}
	return true
}

// IsConference reports whether the remote party is an audio-video
// conference focus.
func (c *Call) IsConference() bool {
	return strings.Contains(c.RemoteURI, "app:conf:audio-video:")
}

// Terminate marks the call dead. It is idempotent; the first caller gets
// true.
func (c *Call) Terminate() bool {
	first := false
	c.stopped.Once(func() {
		c.State = StateTerminated
		first = true
	})
	return first
}

// Terminated reports whether Terminate ran.
func (c *Call) Terminated() bool {
	return c.stopped.IsBroken()
}
