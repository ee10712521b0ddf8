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

package signaling

import (
	"bytes"
	"context"

	"github.com/emiago/sipgo/sip"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sipe-go/mediacall/pkg/call"
	"github.com/sipe-go/mediacall/pkg/sdp"
	"github.com/sipe-go/mediacall/pkg/stats"
	"github.com/sipe-go/mediacall/pkg/wire"
)

// isDataBody reports whether an SDP body describes a data-only session
// (file transfer or application sharing) rather than a voice/video call.
func isDataBody(body []byte) bool {
	return bytes.Contains(body, []byte("m=data")) ||
		bytes.Contains(body, []byte("m=applicationsharing"))
}

func (s *Session) handleInvite(req *sip.Request) {
	s.ProcessInviteCall(req, req.Body())
}

// ProcessInviteCall handles an inbound INVITE whose SDP body has already
// been isolated (overlays strip their extra MIME parts first). Returns
// the call the INVITE belongs to, or nil when it was refused.
func (s *Session) ProcessInviteCall(req *sip.Request, body []byte) *call.Call {
	_, span := Tracer.Start(context.Background(), "sip.invite.inbound",
		trace.WithAttributes(attribute.String("call_id", wire.CallIDOf(req))))
	defer span.End()

	s.mon.InviteReq(stats.Inbound)

	c := s.reg.Get(wire.CallIDOf(req))

	// A second voice call is refused outright.
	if !isDataBody(body) {
		if audio := s.reg.AudioCall(); audio != nil && audio != c {
			s.respondTo(req, 486, "Busy Here")
			return nil
		}
	}

	if c != nil && c.RemoteURI == s.conf.SelfURI {
		s.respondTo(req, 488, "Not Acceptable Here")
		return nil
	}

	msg, err := sdp.Unmarshal(body)
	if err != nil {
		s.log.Warnw("inbound invite has malformed sdp", err)
		s.respondTo(req, 488, "Not Acceptable Here")
		if c != nil {
			c.Media.Hangup(false)
			s.teardown(c, "malformed-sdp")
		}
		return nil
	}

	if c == nil {
		dialog, err := wire.NewDialogFromRequest(req)
		if err != nil {
			s.respondTo(req, 488, "Not Acceptable Here")
			return nil
		}
		c, err = s.newCall(dialog, wire.FromURI(req), false, msg.ICEVersion)
		if err != nil {
			s.log.Errorw("failed to create inbound call", err)
			s.respondTo(req, 488, "Not Acceptable Here")
			return nil
		}
		c.State = call.StateRemoteOffering
	}

	c.Invite = req

	// Allocate streams for any media section we do not carry yet.
	hasNewStreams := false
	for i := range msg.MediaSections {
		sec := &msg.MediaSections[i]
		if sec.Port == 0 || c.Stream(sec.Name) != nil {
			continue
		}
		if _, ok := call.MediaTypeOf(sec.Name); !ok {
			continue
		}
		st, err := s.AddStream(c, sec.Name, false)
		if err != nil {
			c.Log.Errorw("failed to create stream", err, "stream", sec.Name)
			continue
		}
		switch sec.Name {
		case "data":
			st.AddAttribute("recvonly", "")
		case "applicationsharing":
			st.AddAttribute("x-applicationsharing-session-id", "1")
			st.AddAttribute("x-applicationsharing-role", "viewer")
			st.AddAttribute("x-applicationsharing-media-type", "rdp")
		}
		hasNewStreams = true
	}

	if hasNewStreams {
		c.Remote = msg
		s.sendResponse(c.Dialog.NewResponse(c.Invite, 180, "Ringing", nil))
		// Processing continues in StreamInitialized.
		return c
	}

	// A re-INVITE over known streams (hold, unhold, codec change) is
	// answered immediately.
	if !s.applyRemoteMessage(c, msg) {
		c.Media.Hangup(false)
		s.teardown(c, "no-usable-media")
		return nil
	}
	s.sendSDPResponse(c, 200, "OK")
	return c
}

// applyRemoteMessage applies the peer's media description to the call's
// streams. Sections that cannot be activated are recorded as failed and
// stripped from msg; they will be echoed back with port zero. Returns
// false when no section survived, which ends the call.
func (s *Session) applyRemoteMessage(c *call.Call, msg *sdp.Message) bool {
	c.FailedSections = nil
	c.EncryptionCompatible = true

	policy := s.effectivePolicy()
	var kept []sdp.MediaSection
	for i := range msg.MediaSections {
		sec := &msg.MediaSections[i]

		if enc, ok := sec.Attr("encryption"); ok &&
			enc == string(sdp.EncryptionRejected) && policy == sdp.EncryptionRequired {
			c.EncryptionCompatible = false
		}

		if s.updateStreamFromSection(c, sec) {
			kept = append(kept, *sec)
		} else {
			c.RemoveStream(sec.Name)
			sec.Port = 0
			sec.Failed = true
			c.FailedSections = append(c.FailedSections, *sec)
		}
	}
	msg.MediaSections = kept
	return len(kept) > 0
}

// updateStreamFromSection pushes one remote media section into the
// matching stream's engine state. A false return marks the section
// failed.
func (s *Session) updateStreamFromSection(c *call.Call, sec *sdp.MediaSection) bool {
	st := c.Stream(sec.Name)

	if sec.Port == 0 {
		if st != nil {
			st.Media.End()
		}
		return true
	}
	if st == nil {
		return false
	}

	if sec.Inactive {
		st.Media.SetHeld(true)
	} else if st.Media.Held() {
		st.Media.SetHeld(false)
	}

	if st.RemoteSet {
		return true
	}

	if sec.Key != nil && st.Key != nil {
		st.Media.SetEncryptionKeys(st.Key, sec.Key)
		st.RemoteKeyID = sec.Key.KeyID
	}

	if !st.Media.SetRemoteCodecs(sec.Codecs) {
		st.Media.End()
		return false
	}
	st.Media.SetRemoteCandidates(sec.Candidates)

	st.RemoteSet = true
	return true
}

// sendSDPResponse answers the retained INVITE with our current media
// description, releasing it.
func (s *Session) sendSDPResponse(c *call.Call, code int, reason string) {
	if c.Invite == nil {
		return
	}
	body, err := s.marshalSDP(c)
	if err != nil {
		c.Log.Errorw("failed to serialize sdp answer", err)
		return
	}
	resp := c.Dialog.NewResponse(c.Invite, code, reason, body)
	resp.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	s.sendResponse(resp)
	c.Invite = nil
}

// sendInviteResponseIfReady answers the pending inbound INVITE once the
// local side accepted and every stream finished initialisation. An
// irreconcilable encryption policy turns the answer into a 488.
func (s *Session) sendInviteResponseIfReady(c *call.Call) bool {
	if !c.LocalAccepted || !c.Initialized() || c.Invite == nil {
		return false
	}

	if !c.EncryptionCompatible {
		resp := c.Dialog.NewResponse(c.Invite, 488, encryptionMismatchReason, nil)
		resp.AppendHeader(sip.NewHeader("Warning",
			`308 lcs.microsoft.com "Encryption Levels not compatible"`))
		s.sendResponse(resp)
		c.Invite = nil
		c.Media.Reject(false)
		s.mon.EncryptionIncompatible()
		s.notifyError("Unable to establish a call",
			"Encryption settings of peer are incompatible with ours.")
		s.teardown(c, "encryption-incompatible")
		return true
	}

	s.sendSDPResponse(c, 200, "OK")
	c.State = call.StateEstablished
	return true
}

func (s *Session) handleAck(req *sip.Request) {
	c := s.reg.Get(wire.CallIDOf(req))
	if c == nil {
		return
	}
	if !c.Initiator && c.LocalAccepted && c.State != call.StateEstablished {
		c.State = call.StateEstablished
	}
}

// handleCancel answers the CANCEL itself, terminates the still-open
// INVITE and rejects the engine media.
func (s *Session) handleCancel(req *sip.Request) {
	c := s.reg.Get(wire.CallIDOf(req))
	if c == nil {
		s.respondTo(req, 481, "Call/Transaction Does Not Exist")
		return
	}
	s.respondTo(req, 200, "OK")
	if c.Invite != nil {
		s.sendResponse(c.Dialog.NewResponse(c.Invite, 487, "Request Terminated", nil))
		c.Invite = nil
	}
	c.Media.Reject(false)
	s.teardown(c, "cancelled")
}

func (s *Session) handleBye(req *sip.Request) {
	c := s.reg.Get(wire.CallIDOf(req))
	if c == nil {
		s.respondTo(req, 481, "Call/Transaction Does Not Exist")
		return
	}
	s.respondTo(req, 200, "OK")
	c.State = call.StateTerminating
	for _, st := range c.Streams {
		if h, ok := st.Overlay.(call.EndHandler); ok {
			h.CallEnded(false)
		}
	}
	c.Media.Hangup(false)
	s.teardown(c, "remote-hangup")
}

// handleInfo acknowledges in-dialog INFO requests and forwards them to
// the stream overlays.
func (s *Session) handleInfo(req *sip.Request) {
	c := s.reg.Get(wire.CallIDOf(req))
	if c == nil {
		s.respondTo(req, 481, "Call/Transaction Does Not Exist")
		return
	}
	s.respondTo(req, 200, "OK")
	for _, st := range c.Streams {
		if h, ok := st.Overlay.(call.InfoHandler); ok {
			h.HandleInfo(req)
		}
	}
}
