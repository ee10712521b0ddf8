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
	"sort"
	"strings"
)

// NormalizeCandidates applies the engine-candidate quirk workarounds in
// order (IPv6 filter, mistagged-TCP cleanup, active-port inference) and
// returns the result sorted stably by (foundation, username, component).
func NormalizeCandidates(raw []Candidate) []Candidate {
	cands := filterIPv6(raw)
	cands = dropMistaggedTCP(cands)
	cands = inferActivePorts(cands)
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Foundation != b.Foundation {
			return a.Foundation < b.Foundation
		}
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.Component < b.Component
	})
	return cands
}

// isIPv6 reports whether s looks like an IPv6 literal. Candidates never
// carry a zone id or brackets in this model, so a bare colon check is
// sufficient to distinguish it from an IPv4 dotted-quad. IPv6 candidates
// must never reach the wire.
func isIPv6(s string) bool {
	return strings.Contains(s, ":")
}

func filterIPv6(cands []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if isIPv6(c.IP) || isIPv6(c.BaseIP) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// dropMistaggedTCP discards UDP candidate pairs that share a foundation and
// either a port or a base port while both are non-host: older engines
// misreport TCP candidates as UDP, and a shared port/base-port between two
// non-host entries on the same IP is the tell.
func dropMistaggedTCP(cands []Candidate) []Candidate {
	drop := make(map[int]bool, len(cands))
	for i := 0; i < len(cands); i++ {
		a := cands[i]
		if a.Protocol != ProtoUDP || a.Type == CandidateHost {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			b := cands[j]
			if b.Protocol != ProtoUDP || b.Type == CandidateHost {
				continue
			}
			if a.Foundation != b.Foundation || a.IP != b.IP {
				continue
			}
			if a.Port == b.Port || a.BasePort == b.BasePort {
				drop[i] = true
				drop[j] = true
			}
		}
	}
	if len(drop) == 0 {
		return cands
	}
	out := make([]Candidate, 0, len(cands))
	for i, c := range cands {
		if !drop[i] {
			out = append(out, c)
		}
	}
	return out
}

// inferActivePorts fills in TCP-active candidates advertised with port 0
// from a matching TCP-passive candidate on the same type/IP/base IP, and
// fills relay base ports from any host candidate sharing the base IP.
func inferActivePorts(cands []Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	copy(out, cands)

	for i := range out {
		c := &out[i]
		if c.Protocol == ProtoTCPActive && c.Port == 0 {
			for _, p := range cands {
				if p.Protocol == ProtoTCPPassive && p.Type == c.Type &&
					p.IP == c.IP && p.BaseIP == c.BaseIP {
					c.Port = p.Port
					break
				}
			}
		}
		if c.Type == CandidateRelay && c.BasePort == 0 {
			for _, h := range cands {
				if h.Type == CandidateHost && h.BaseIP == c.BaseIP {
					c.BasePort = h.BasePort
					break
				}
			}
		}
	}
	return out
}

// SelectSectionAddress picks the IP/RTP-port/RTCP-port a media section's
// c= and m= lines should carry: prefer a host-type
// candidate's IP, otherwise any candidate's IP; then fill the RTP port
// from the component=RTP entry sharing that IP and the RTCP port from the
// component=RTCP entry, stopping once both are filled.
func SelectSectionAddress(cands []Candidate) (ip string, rtpPort, rtcpPort int) {
	if len(cands) == 0 {
		return "", 0, 0
	}
	ip = cands[0].IP
	for _, c := range cands {
		if c.Type == CandidateHost {
			ip = c.IP
			break
		}
	}
	for _, c := range cands {
		if c.IP != ip {
			continue
		}
		if rtpPort != 0 && rtcpPort != 0 {
			break
		}
		switch c.Component {
		case ComponentRTP:
			if rtpPort == 0 {
				rtpPort = c.Port
			}
		case ComponentRTCP:
			if rtcpPort == 0 {
				rtcpPort = c.Port
			}
		}
	}
	return ip, rtpPort, rtcpPort
}
