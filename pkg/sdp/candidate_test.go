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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCandidatesDropsIPv6(t *testing.T) {
	in := []Candidate{
		{Foundation: "1", IP: "fe80::1", Component: ComponentRTP, Type: CandidateHost},
		{Foundation: "2", IP: "10.0.0.1", Component: ComponentRTP, Type: CandidateHost},
	}
	out := NormalizeCandidates(in)
	require.Len(t, out, 1)
	require.Equal(t, "10.0.0.1", out[0].IP)
}

func TestNormalizeCandidatesDropsMistaggedTCP(t *testing.T) {
	in := []Candidate{
		{Foundation: "1", IP: "10.0.0.1", Port: 5000, Protocol: ProtoUDP, Type: CandidateSrflx},
		{Foundation: "1", IP: "10.0.0.1", Port: 5000, Protocol: ProtoUDP, Type: CandidateRelay},
		{Foundation: "2", IP: "10.0.0.1", Port: 5001, Protocol: ProtoUDP, Type: CandidateHost},
	}
	out := NormalizeCandidates(in)
	require.Len(t, out, 1)
	require.Equal(t, CandidateHost, out[0].Type)
}

func TestNormalizeCandidatesInfersActivePort(t *testing.T) {
	in := []Candidate{
		{Foundation: "1", Type: CandidateHost, Protocol: ProtoTCPPassive, IP: "10.0.0.1", BaseIP: "10.0.0.1", Port: 7000},
		{Foundation: "1", Type: CandidateHost, Protocol: ProtoTCPActive, IP: "10.0.0.1", BaseIP: "10.0.0.1", Port: 0},
	}
	out := NormalizeCandidates(in)
	require.Len(t, out, 2)
	for _, c := range out {
		if c.Protocol == ProtoTCPActive {
			require.Equal(t, 7000, c.Port)
		}
	}
}

func TestNormalizeCandidatesStableSort(t *testing.T) {
	in := []Candidate{
		{Foundation: "b", Username: "u2", Component: ComponentRTCP, Type: CandidateHost, IP: "10.0.0.2"},
		{Foundation: "a", Username: "u1", Component: ComponentRTP, Type: CandidateHost, IP: "10.0.0.1"},
		{Foundation: "a", Username: "u1", Component: ComponentRTCP, Type: CandidateHost, IP: "10.0.0.1"},
	}
	out := NormalizeCandidates(in)
	require.Equal(t, "a", out[0].Foundation)
	require.Equal(t, ComponentRTP, out[0].Component)
	require.Equal(t, "a", out[1].Foundation)
	require.Equal(t, ComponentRTCP, out[1].Component)
	require.Equal(t, "b", out[2].Foundation)
}

func TestSelectSectionAddressPrefersHost(t *testing.T) {
	cands := []Candidate{
		{Type: CandidateRelay, IP: "203.0.113.1", Port: 9000, Component: ComponentRTP},
		{Type: CandidateHost, IP: "10.0.0.1", Port: 5000, Component: ComponentRTP},
		{Type: CandidateHost, IP: "10.0.0.1", Port: 5001, Component: ComponentRTCP},
	}
	ip, rtp, rtcp := SelectSectionAddress(cands)
	require.Equal(t, "10.0.0.1", ip)
	require.Equal(t, 5000, rtp)
	require.Equal(t, 5001, rtcp)
}
