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

// Package sdp is the SDP model and codec: a decoded view of a session
// description plus the candidate/codec normalisation rules real Lync/OCS
// deployments require, built as a thin layer over pion/sdp/v3.
package sdp

// ICEVersion is the negotiated ICE dialect. Lync-family servers speak one
// of two incompatible flavours; a failed negotiation retries under the
// other.
type ICEVersion string

const (
	ICEDraft6  ICEVersion = "draft-6"
	ICERFC5245 ICEVersion = "rfc-5245"
)

// Other returns the alternative ICE version, used when retrying a
// rejected INVITE under the other dialect.
func (v ICEVersion) Other() ICEVersion {
	if v == ICERFC5245 {
		return ICEDraft6
	}
	return ICERFC5245
}

// EncryptionPolicy is the effective SRTP-encryption policy for a call.
// EncryptionDefault ("obey server") resolves to the
// server-advertised default at serialisation time and never itself
// appears on the wire.
type EncryptionPolicy string

const (
	EncryptionDefault  EncryptionPolicy = ""
	EncryptionRejected EncryptionPolicy = "rejected"
	EncryptionOptional EncryptionPolicy = "optional"
	EncryptionRequired EncryptionPolicy = "required"
)

// Resolve turns EncryptionDefault ("obey server") into serverDefault,
// leaving any explicit policy untouched. Callers must pass a concrete
// serverDefault (never EncryptionDefault itself); pkg/signaling and
// Marshal map an unset server default to EncryptionOptional.
func (p EncryptionPolicy) Resolve(serverDefault EncryptionPolicy) EncryptionPolicy {
	if p == EncryptionDefault {
		return serverDefault
	}
	return p
}

// Component identifies which half of an RTP/RTCP pair a Candidate
// describes.
type Component int

const (
	ComponentRTP  Component = 1
	ComponentRTCP Component = 2
)

// CandidateType is the ICE candidate kind.
type CandidateType string

const (
	CandidateHost  CandidateType = "host"
	CandidateRelay CandidateType = "relay"
	CandidateSrflx CandidateType = "srflx"
	CandidatePrflx CandidateType = "prflx"
	CandidateAny   CandidateType = "any"
)

// CandidateProtocol is the transport a Candidate is reachable over.
type CandidateProtocol string

const (
	ProtoUDP        CandidateProtocol = "udp"
	ProtoTCPPassive CandidateProtocol = "tcp-passive"
	ProtoTCPActive  CandidateProtocol = "tcp-active"
)

// Candidate is one ICE candidate.
type Candidate struct {
	Foundation string
	Component  Component
	Type       CandidateType
	Protocol   CandidateProtocol
	IP         string
	Port       int
	BaseIP     string
	BasePort   int
	Priority   uint32
	Username   string
	Password   string
}

// Param is a free-form codec fmtp parameter, order-preserving.
type Param struct {
	Name  string
	Value string
}

// Codec describes one RTP payload type carried in a media section.
type Codec struct {
	PayloadID int
	Name      string
	ClockRate int
	MediaType string // audio|video|application
	Params    []Param
}

// Attribute is a generic SDP a= line, order-preserving.
type Attribute struct {
	Name  string
	Value string
}

// EncryptionKey is a 30-byte SRTP key plus its key id.
type EncryptionKey struct {
	Key   [30]byte
	KeyID int
}

// MediaSection is one m= block of a session description.
type MediaSection struct {
	Name             string // audio|video|data|applicationsharing
	Port             int
	IP               string
	RTCPPort         int // 0 means "same as RTP port", no a=rtcp is emitted
	Codecs           []Codec
	Candidates       []Candidate
	RemoteCandidates []Candidate
	Attributes       []Attribute
	Key              *EncryptionKey
	EncryptionActive bool
	Inactive         bool
	// Failed marks a section the core refused or could not activate; it is
	// echoed back with Port == 0 in every subsequent SDP on this call and
	// is never revived.
	Failed bool
}

// Attr looks up the first attribute with the given name, or returns "",
// false.
func (m *MediaSection) Attr(name string) (string, bool) {
	for _, a := range m.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr appends or replaces an attribute, preserving insertion order on
// first set.
func (m *MediaSection) SetAttr(name, value string) {
	for i := range m.Attributes {
		if m.Attributes[i].Name == name {
			m.Attributes[i].Value = value
			return
		}
	}
	m.Attributes = append(m.Attributes, Attribute{Name: name, Value: value})
}

// RemoveAttr deletes the first attribute with the given name, if present.
func (m *MediaSection) RemoveAttr(name string) {
	for i := range m.Attributes {
		if m.Attributes[i].Name == name {
			m.Attributes = append(m.Attributes[:i], m.Attributes[i+1:]...)
			return
		}
	}
}

// Message is the decoded view of an SDP body.
type Message struct {
	OriginIP      string
	ICEVersion    ICEVersion
	MediaSections []MediaSection
}

// Section returns the media section with the given name, or nil.
func (m *Message) Section(name string) *MediaSection {
	for i := range m.MediaSections {
		if m.MediaSections[i].Name == name {
			return &m.MediaSections[i]
		}
	}
	return nil
}

// Clone deep-copies the message so the signalling layer can diff a
// pending remote description against a call's stored streams without
// mutating the caller's copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := &Message{
		OriginIP:      m.OriginIP,
		ICEVersion:    m.ICEVersion,
		MediaSections: make([]MediaSection, len(m.MediaSections)),
	}
	for i, s := range m.MediaSections {
		out.MediaSections[i] = s
		out.MediaSections[i].Codecs = append([]Codec(nil), s.Codecs...)
		out.MediaSections[i].Candidates = append([]Candidate(nil), s.Candidates...)
		out.MediaSections[i].RemoteCandidates = append([]Candidate(nil), s.RemoteCandidates...)
		out.MediaSections[i].Attributes = append([]Attribute(nil), s.Attributes...)
		if s.Key != nil {
			k := *s.Key
			out.MediaSections[i].Key = &k
		}
	}
	return out
}
