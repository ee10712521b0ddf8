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

// Package wire adapts the sipgo message types this module consumes from
// and produces for the host's SIP transport: a minimal dialog record with
// cseq tracking, a callback-style transport interface, and header helpers
// for the Microsoft diagnostic extensions.
package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// ResponseFunc is invoked with the final response of a client
// transaction started by Transport.SendRequest.
type ResponseFunc func(resp *sip.Response)

// Transport is the host's SIP sending surface. Requests and responses
// handed to it have complete headers and bodies; the host owns routing,
// retransmission and transaction timers. A nil ResponseFunc means the
// core has no interest in the response (ACK, CANCEL, INFO fire-and-forget).
type Transport interface {
	SendRequest(req *sip.Request, cb ResponseFunc) error
	SendResponse(resp *sip.Response) error
}

// Dialog is the slice of SIP dialog state the media call core needs:
// identity of both ends and the request sequence number it bumps on every
// outbound request.
type Dialog struct {
	CallID    string
	LocalURI  sip.Uri
	RemoteURI sip.Uri
	LocalTag  string
	RemoteTag string
	CSeq      uint32
}

// NewDialog creates an outbound dialog with a fresh Call-ID and local
// tag and a zero cseq.
func NewDialog(localURI, remoteURI sip.Uri) *Dialog {
	return &Dialog{
		CallID:    uuid.NewString(),
		LocalURI:  localURI,
		RemoteURI: remoteURI,
		LocalTag:  GenerateTag(),
	}
}

// NewDialogFromRequest initialises a dialog from an inbound request: the
// peer's From becomes our remote side and a local tag is generated for
// the To headers of our responses.
func NewDialogFromRequest(req *sip.Request) (*Dialog, error) {
	from := req.From()
	to := req.To()
	callID := req.CallID()
	if from == nil || to == nil || callID == nil {
		return nil, fmt.Errorf("request is missing dialog headers")
	}
	d := &Dialog{
		CallID:    callID.Value(),
		LocalURI:  to.Address,
		RemoteURI: from.Address,
		LocalTag:  GenerateTag(),
	}
	if tag, ok := from.Params.Get("tag"); ok {
		d.RemoteTag = tag
	}
	return d, nil
}

// GenerateTag returns a fresh dialog tag.
func GenerateTag() string {
	return uuid.NewString()[:8]
}

// NewRequest builds an in-dialog request of the given method with
// From/To/Call-ID filled from the dialog and the next cseq.
func (d *Dialog) NewRequest(method sip.RequestMethod) *sip.Request {
	req := sip.NewRequest(method, d.RemoteURI)

	from := &sip.FromHeader{Address: d.LocalURI, Params: sip.NewParams()}
	from.Params.Add("tag", d.LocalTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: d.RemoteURI, Params: sip.NewParams()}
	if d.RemoteTag != "" {
		to.Params.Add("tag", d.RemoteTag)
	}
	req.AppendHeader(to)

	callID := sip.CallIDHeader(d.CallID)
	req.AppendHeader(&callID)

	d.CSeq++
	req.AppendHeader(&sip.CSeqHeader{SeqNo: d.CSeq, MethodName: method})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	return req
}

// RememberRemoteTag stores the peer's tag from a response To header, once.
func (d *Dialog) RememberRemoteTag(resp *sip.Response) {
	if d.RemoteTag != "" {
		return
	}
	if to := resp.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			d.RemoteTag = tag
		}
	}
}

// NewResponse builds a response to req, appending a tag to the To header
// so the reply establishes our side of the dialog.
func (d *Dialog) NewResponse(req *sip.Request, statusCode int, reason string, body []byte) *sip.Response {
	resp := sip.NewResponseFromRequest(req, statusCode, reason, body)
	if to := resp.To(); to != nil {
		if _, ok := to.Params.Get("tag"); !ok {
			to.Params.Add("tag", d.LocalTag)
		}
	}
	return resp
}

// CallIDOf extracts the Call-ID header value of a request, or "".
func CallIDOf(req *sip.Request) string {
	if h := req.CallID(); h != nil {
		return h.Value()
	}
	return ""
}

// FromURI extracts the bare From URI of a request as a string, or "".
func FromURI(req *sip.Request) string {
	if from := req.From(); from != nil {
		return from.Address.String()
	}
	return ""
}

// MSDiagnostics parses an ms-diagnostics or ms-client-diagnostics header
// value of the form `7008;reason="Error parsing SDP";source="..."` into
// the numeric error code and the quoted reason.
func MSDiagnostics(value string) (code int, reason string) {
	parts := strings.Split(value, ";")
	if len(parts) == 0 {
		return 0, ""
	}
	code, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if v, ok := strings.CutPrefix(p, "reason="); ok {
			reason = strings.Trim(v, `"`)
		}
	}
	return code, reason
}

// DiagnosticsCode returns the numeric code of the named diagnostics
// header on resp, or 0 when absent.
func DiagnosticsCode(resp *sip.Response, header string) int {
	h := resp.GetHeader(header)
	if h == nil {
		return 0
	}
	code, _ := MSDiagnostics(h.Value())
	return code
}

// DiagnosticsReason returns the parsed reason of ms-diagnostics or
// ms-client-diagnostics on resp, whichever is present first.
func DiagnosticsReason(resp *sip.Response) string {
	for _, name := range []string{"ms-diagnostics", "ms-client-diagnostics"} {
		if h := resp.GetHeader(name); h != nil {
			if _, reason := MSDiagnostics(h.Value()); reason != "" {
				return reason
			}
		}
	}
	return ""
}

// WarningCode parses the leading numeric code of a Warning header on
// resp, such as `391 lcs.microsoft.com "..."`. Returns 0 when absent or
// malformed.
func WarningCode(resp *sip.Response) int {
	h := resp.GetHeader("Warning")
	if h == nil {
		return 0
	}
	fields := strings.Fields(h.Value())
	if len(fields) == 0 {
		return 0
	}
	code, _ := strconv.Atoi(fields[0])
	return code
}
