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

	"github.com/sipe-go/mediacall/pkg/errors"
)

// Unmarshal parses an SDP body into a Message. A parse failure makes the
// signalling layer answer 488 Not Acceptable Here and hang up.
func Unmarshal(data []byte) (*Message, error) {
	var sess psdp.SessionDescription
	if err := sess.Unmarshal(data); err != nil {
		return nil, err
	}
	m := &Message{OriginIP: sess.Origin.UnicastAddress}
	if sess.ConnectionInformation != nil && sess.ConnectionInformation.Address != nil {
		m.OriginIP = sess.ConnectionInformation.Address.Address
	}
	for _, md := range sess.MediaDescriptions {
		sec, err := unmarshalSection(md)
		if err != nil {
			return nil, err
		}
		m.MediaSections = append(m.MediaSections, *sec)
	}
	return m, nil
}

func unmarshalSection(md *psdp.MediaDescription) (*MediaSection, error) {
	sec := &MediaSection{
		Name: md.MediaName.Media,
		Port: md.MediaName.Port.Value,
	}
	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		sec.IP = md.ConnectionInformation.Address.Address
	}

	codecByID := make(map[int]*Codec)
	for _, f := range md.MediaName.Formats {
		id, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		c := &Codec{PayloadID: id, MediaType: sec.Name}
		codecByID[id] = c
		sec.Codecs = append(sec.Codecs, *c)
	}

	for _, a := range md.Attributes {
		switch a.Key {
		case "rtpmap":
			id, name, rate, ok := parseRTPMap(a.Value)
			if !ok {
				continue
			}
			for i := range sec.Codecs {
				if sec.Codecs[i].PayloadID == id {
					sec.Codecs[i].Name = name
					sec.Codecs[i].ClockRate = rate
				}
			}
		case "fmtp":
			id, params, ok := parseFmtp(a.Value)
			if !ok {
				continue
			}
			for i := range sec.Codecs {
				if sec.Codecs[i].PayloadID == id {
					sec.Codecs[i].Params = params
				}
			}
		case "candidate":
			c, err := parseCandidate(a.Value)
			if err != nil {
				return nil, errors.SDPError{Err: err}
			}
			sec.Candidates = append(sec.Candidates, c)
		case "remote-candidate":
			c, ok := parseRemoteCandidate(a.Value)
			if ok {
				sec.RemoteCandidates = append(sec.RemoteCandidates, c)
			}
		case "rtcp":
			if p, err := strconv.Atoi(a.Value); err == nil {
				sec.RTCPPort = p
			}
		case "inactive":
			sec.Inactive = true
		case "encryption":
			sec.SetAttr("encryption", a.Value)
		case "crypto":
			k, ok := parseCrypto(a.Value)
			if ok {
				sec.Key = k
			}
		default:
			sec.Attributes = append(sec.Attributes, Attribute{Name: a.Key, Value: a.Value})
		}
	}

	sec.Candidates = NormalizeCandidates(sec.Candidates)
	sec.Codecs = NormalizeCodecs(sec.Codecs)
	return sec, nil
}

func parseRTPMap(v string) (id int, name string, clockRate int, ok bool) {
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 {
		return 0, "", 0, false
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", 0, false
	}
	nc := strings.SplitN(parts[1], "/", 2)
	name = nc[0]
	if len(nc) == 2 {
		clockRate, _ = strconv.Atoi(nc[1])
	}
	return id, name, clockRate, true
}

func parseFmtp(v string) (id int, params []Param, ok bool) {
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 {
		return 0, nil, false
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, nil, false
	}
	for _, kv := range strings.Split(parts[1], ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		if i := strings.IndexByte(kv, '='); i >= 0 {
			params = append(params, Param{Name: kv[:i], Value: kv[i+1:]})
		} else {
			params = append(params, Param{Name: kv})
		}
	}
	return id, params, true
}

func parseCandidate(v string) (Candidate, error) {
	fields := strings.Fields(v)
	if len(fields) < 6 {
		return Candidate{}, fmt.Errorf("invalid candidate attribute %q", v)
	}
	comp, err := strconv.Atoi(fields[1])
	if err != nil {
		return Candidate{}, fmt.Errorf("invalid candidate component %q", v)
	}
	priority, _ := strconv.ParseUint(fields[3], 10, 32)
	port, _ := strconv.Atoi(fields[5])
	c := Candidate{
		Foundation: fields[0],
		Component:  Component(comp),
		Protocol:   unmarshalProto(fields[2]),
		Priority:   uint32(priority),
		IP:         fields[4],
		Port:       port,
		Type:       CandidateHost,
	}
	for i := 6; i+1 < len(fields); i += 2 {
		switch fields[i] {
		case "typ":
			c.Type = CandidateType(fields[i+1])
		case "raddr":
			c.BaseIP = fields[i+1]
		case "rport":
			c.BasePort, _ = strconv.Atoi(fields[i+1])
		case "username":
			c.Username = fields[i+1]
		case "password":
			c.Password = fields[i+1]
		}
	}
	return c, nil
}

func unmarshalProto(s string) CandidateProtocol {
	switch s {
	case "TCP-PASS":
		return ProtoTCPPassive
	case "TCP-ACT":
		return ProtoTCPActive
	default:
		return ProtoUDP
	}
}

func parseRemoteCandidate(v string) (Candidate, bool) {
	fields := strings.Fields(v)
	if len(fields) != 3 {
		return Candidate{}, false
	}
	comp, err := strconv.Atoi(fields[0])
	if err != nil {
		return Candidate{}, false
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return Candidate{}, false
	}
	return Candidate{Component: Component(comp), IP: fields[1], Port: port}, true
}

func parseCrypto(v string) (*EncryptionKey, bool) {
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return nil, false
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil || len(raw) != 30 {
		return nil, false
	}
	k := &EncryptionKey{KeyID: id}
	copy(k.Key[:], raw)
	return k, true
}
