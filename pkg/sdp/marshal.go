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

package sdp

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// Marshal serialises a Message into an SDP body.
// serverDefault is the server-advertised encryption default: the
// explicit a=encryption attribute is only emitted when the
// call's negotiated policy differs from it, so calls against the default
// look no different from pre-policy clients.
func Marshal(m *Message, policy, serverDefault EncryptionPolicy) ([]byte, error) {
	sess := psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: m.OriginIP,
		},
		SessionName: "session",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: m.OriginIP},
		},
		TimeDescriptions: []psdp.TimeDescription{{}},
	}

	for _, s := range m.MediaSections {
		sess.MediaDescriptions = append(sess.MediaDescriptions, marshalSection(&s, policy, serverDefault))
	}

	return sess.Marshal()
}

func marshalSection(s *MediaSection, policy, serverDefault EncryptionPolicy) *psdp.MediaDescription {
	cands := filterIPv6(s.Candidates)
	ip, rtpPort, rtcpPort := SelectSectionAddress(cands)
	if ip == "" {
		ip = s.IP
	}
	port := s.Port
	if port != 0 && rtpPort != 0 {
		port = rtpPort
	}
	if s.Failed {
		port = 0
	}

	codecs := NormalizeCodecs(s.Codecs)
	formats := make([]string, 0, len(codecs))
	attrs := make([]psdp.Attribute, 0, len(codecs)+len(cands)+len(s.Attributes)+4)

	for _, c := range codecs {
		formats = append(formats, strconv.Itoa(c.PayloadID))
		rtpmap := fmt.Sprintf("%d %s/%d", c.PayloadID, c.Name, c.ClockRate)
		attrs = append(attrs, psdp.Attribute{Key: "rtpmap", Value: rtpmap})
		if len(c.Params) > 0 {
			parts := make([]string, 0, len(c.Params))
			for _, p := range c.Params {
				if p.Value == "" {
					parts = append(parts, p.Name)
				} else {
					parts = append(parts, p.Name+"="+p.Value)
				}
			}
			attrs = append(attrs, psdp.Attribute{
				Key:   "fmtp",
				Value: fmt.Sprintf("%d %s", c.PayloadID, strings.Join(parts, ";")),
			})
		}
	}

	for _, c := range cands {
		attrs = append(attrs, psdp.Attribute{Key: "candidate", Value: marshalCandidate(c)})
	}
	for _, c := range s.RemoteCandidates {
		if isIPv6(c.IP) {
			continue
		}
		attrs = append(attrs, psdp.Attribute{
			Key:   "remote-candidate",
			Value: fmt.Sprintf("%d %s %d", c.Component, c.IP, c.Port),
		})
	}

	if rtcpPort != 0 && rtcpPort != rtpPort {
		attrs = append(attrs, psdp.Attribute{Key: "rtcp", Value: strconv.Itoa(rtcpPort)})
	} else if s.RTCPPort != 0 && s.RTCPPort != port {
		attrs = append(attrs, psdp.Attribute{Key: "rtcp", Value: strconv.Itoa(s.RTCPPort)})
	}

	if s.Inactive {
		attrs = append(attrs, psdp.Attribute{Key: "inactive"})
	}

	if serverDefault == EncryptionDefault {
		serverDefault = EncryptionOptional
	}
	effective := policy.Resolve(serverDefault)
	if effective != serverDefault {
		attrs = append(attrs, psdp.Attribute{Key: "encryption", Value: string(effective)})
	}

	if s.Key != nil && effective != EncryptionRejected {
		attrs = append(attrs, psdp.Attribute{
			Key:   "crypto",
			Value: fmt.Sprintf("%d %s", s.Key.KeyID, base64.StdEncoding.EncodeToString(s.Key.Key[:])),
		})
	}

	for _, a := range s.Attributes {
		attrs = append(attrs, psdp.Attribute{Key: a.Name, Value: a.Value})
	}

	return &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   s.Name,
			Port:    psdp.RangedPort{Value: port},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: nonEmpty(ip, "0.0.0.0")},
		},
		Attributes: attrs,
	}
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func marshalCandidate(c Candidate) string {
	proto := "UDP"
	switch c.Protocol {
	case ProtoTCPPassive:
		proto = "TCP-PASS"
	case ProtoTCPActive:
		proto = "TCP-ACT"
	}
	v := fmt.Sprintf("%s %d %s %d %s %d typ %s", c.Foundation, c.Component, proto, c.Priority, c.IP, c.Port, c.Type)
	if c.BaseIP != "" {
		v += fmt.Sprintf(" raddr %s rport %d", c.BaseIP, c.BasePort)
	}
	if c.Username != "" {
		v += " username " + c.Username
	}
	if c.Password != "" {
		v += " password " + c.Password
	}
	return v
}
