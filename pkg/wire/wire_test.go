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

package wire

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/require"
)

func TestMSDiagnostics(t *testing.T) {
	code, reason := MSDiagnostics(`7008;reason="Error parsing SDP";source="srv.example.com"`)
	require.Equal(t, 7008, code)
	require.Equal(t, "Error parsing SDP", reason)

	code, reason = MSDiagnostics(`52017;reason="Encryption levels dont match"`)
	require.Equal(t, 52017, code)
	require.Equal(t, "Encryption levels dont match", reason)

	code, reason = MSDiagnostics("garbage")
	require.Equal(t, 0, code)
	require.Equal(t, "", reason)
}

func TestWarningCode(t *testing.T) {
	var uri sip.Uri
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &uri))
	req := sip.NewRequest(sip.INVITE, uri)
	resp := sip.NewResponseFromRequest(req, 480, "Temporarily Unavailable", nil)
	require.Equal(t, 0, WarningCode(resp))

	resp.AppendHeader(sip.NewHeader("Warning", `391 lcs.microsoft.com "do not disturb"`))
	require.Equal(t, 391, WarningCode(resp))
}

func TestDialogCSeqAdvancesPerRequest(t *testing.T) {
	var local, remote sip.Uri
	require.NoError(t, sip.ParseUri("sip:alice@example.com", &local))
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &remote))

	d := NewDialog(local, remote)
	require.NotEmpty(t, d.CallID)
	require.NotEmpty(t, d.LocalTag)
	require.EqualValues(t, 0, d.CSeq)

	first := d.NewRequest(sip.INVITE)
	require.EqualValues(t, 1, first.CSeq().SeqNo)
	second := d.NewRequest(sip.INVITE)
	require.EqualValues(t, 2, second.CSeq().SeqNo)

	from := first.From()
	require.NotNil(t, from)
	tag, ok := from.Params.Get("tag")
	require.True(t, ok)
	require.Equal(t, d.LocalTag, tag)
}

func TestDialogFromRequestTakesRemoteTag(t *testing.T) {
	var local, remote sip.Uri
	require.NoError(t, sip.ParseUri("sip:alice@example.com", &local))
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &remote))

	req := sip.NewRequest(sip.INVITE, local)
	fromParams := sip.NewParams()
	fromParams.Add("tag", "remote-tag")
	req.AppendHeader(&sip.FromHeader{Address: remote, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: local, Params: sip.NewParams()})
	cid := sip.CallIDHeader("call-1")
	req.AppendHeader(&cid)

	d, err := NewDialogFromRequest(req)
	require.NoError(t, err)
	require.Equal(t, "call-1", d.CallID)
	require.Equal(t, "remote-tag", d.RemoteTag)
	require.NotEmpty(t, d.LocalTag)

	resp := d.NewResponse(req, 180, "Ringing", nil)
	to := resp.To()
	require.NotNil(t, to)
	tag, ok := to.Params.Get("tag")
	require.True(t, ok)
	require.Equal(t, d.LocalTag, tag)
}

func TestMultipartRoundTrip(t *testing.T) {
	contentType, body := BuildMultipart("multipart/mixed", []Part{
		{
			ContentType: "application/ms-filetransfer+xml",
			ExtraHeaders: [][2]string{
				{"Content-Disposition", "render; handling=optional"},
			},
			Body: []byte("<request/>"),
		},
		{
			ContentType: "application/sdp",
			Body:        []byte("v=0\r\n"),
		},
	})
	require.Contains(t, contentType, "multipart/mixed")
	require.Contains(t, contentType, "boundary=")

	parts, err := ParseMultipart(contentType, body)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.Equal(t, "application/ms-filetransfer+xml", parts[0].ContentType)
	require.Equal(t, []byte("<request/>"), parts[0].Body)
	require.Equal(t, []byte("v=0\r\n"), parts[1].Body)

	xmlPart := FindPart(parts, "application/ms-filetransfer+xml")
	require.NotNil(t, xmlPart)
	require.Nil(t, FindPart(parts, "text/plain"))
}

func TestParseMultipartIgnoresPlainBodies(t *testing.T) {
	parts, err := ParseMultipart("application/sdp", []byte("v=0\r\n"))
	require.NoError(t, err)
	require.Nil(t, parts)
}
