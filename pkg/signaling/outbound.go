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
	"context"
	"fmt"
	"strconv"

	"github.com/emiago/sipgo/sip"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sipe-go/mediacall/pkg/call"
	"github.com/sipe-go/mediacall/pkg/errors"
	"github.com/sipe-go/mediacall/pkg/sdp"
	"github.com/sipe-go/mediacall/pkg/wire"
)

// archivingProxyReason is the response string legacy archiving proxies
// send, typo included, when they cannot parse a current-dialect INVITE.
const archivingProxyReason = "Mutipart mime in content type not supported by Archiving CDR service"

const encryptionMismatchReason = "Encryption Levels not compatible"

// responseFunc consumes the final response of an outbound INVITE.
type responseFunc func(c *call.Call, resp *sip.Response)

// InitiateCall starts an outbound voice (optionally video) call using
// the configured default ICE version.
func (s *Session) InitiateCall(remoteURI string, withVideo bool) (*call.Call, error) {
	ice := s.conf.DefaultICEVersion
	if ice == "" {
		ice = sdp.ICERFC5245
	}
	return s.InitiateCallICE(remoteURI, ice, withVideo)
}

// InitiateCallICE starts an outbound voice call under an explicit ICE
// version. At most one voice call may exist at a time; a second request
// is refused before any SIP traffic is generated.
func (s *Session) InitiateCallICE(remoteURI string, ice sdp.ICEVersion, withVideo bool) (*call.Call, error) {
	if s.reg.AudioCall() != nil {
		return nil, errors.ErrAudioCallActive
	}

	c, err := s.newOutgoing(remoteURI, ice)
	if err != nil {
		return nil, err
	}
	c.WithVideo = withVideo

	if _, err := s.AddStream(c, "audio", true); err != nil {
		s.notifyError("Error occurred", "Error creating audio stream")
		c.Media.Hangup(false)
		s.teardown(c, "stream-create-failed")
		return nil, err
	}
	if withVideo {
		if _, err := s.AddStream(c, "video", true); err != nil {
			s.notifyError("Error occurred", "Error creating video stream")
			c.Media.Hangup(false)
			s.teardown(c, "stream-create-failed")
			return nil, err
		}
	}

	// The INVITE goes out from StreamInitialized once the engine is done
	// gathering candidates.
	return c, nil
}

// PhoneCall places an audio call to a phone number through the given
// SIP domain's gateway.
func (s *Session) PhoneCall(phoneNumber, domain string) (*call.Call, error) {
	if !validPhoneNumber(phoneNumber) {
		return nil, fmt.Errorf("invalid phone number %q", phoneNumber)
	}
	return s.InitiateCall(fmt.Sprintf("sip:%s@%s;user=phone", phoneNumber, domain), false)
}

func validPhoneNumber(num string) bool {
	if num == "" {
		return false
	}
	if num[0] == '+' {
		num = num[1:]
	}
	if num == "" {
		return false
	}
	for _, r := range num {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// TestCall places an audio call to the server's test bot, when one is
// configured.
func (s *Session) TestCall() (*call.Call, error) {
	if s.conf.TestCallBotURI == "" {
		return nil, fmt.Errorf("audio test service is not available")
	}
	return s.InitiateCall(s.conf.TestCallBotURI, false)
}

// InitiateDataSession starts an outbound call that will carry only a
// data stream, for overlays such as file transfer. The caller adds the
// stream and any extra INVITE body parts.
func (s *Session) InitiateDataSession(remoteURI string, ice sdp.ICEVersion) (*call.Call, error) {
	return s.newOutgoing(remoteURI, ice)
}

func (s *Session) newOutgoing(remoteURI string, ice sdp.ICEVersion) (*call.Call, error) {
	var remote sip.Uri
	if err := sip.ParseUri(remoteURI, &remote); err != nil {
		return nil, fmt.Errorf("invalid remote uri %q: %w", remoteURI, err)
	}
	dialog := wire.NewDialog(s.selfURI, remote)
	return s.newCall(dialog, remoteURI, true, ice)
}

// appendProxyFallback attaches the empty-audio alternative body that
// lets 2007-era proxies parse something out of a first-time INVITE.
func (s *Session) appendProxyFallback(c *call.Call) {
	if c.Dialog.CSeq != 0 || c.ICEVersion != sdp.ICERFC5245 ||
		c.RemoteURI == s.conf.TestCallBotURI || c.ExtraInvitePart != nil {
		return
	}
	ip := s.driver.NetworkIP()
	body := fmt.Sprintf(
		"o=- 0 0 IN IP4 %s\r\n"+
			"s=session\r\n"+
			"c=IN IP4 %s\r\n"+
			"m=audio 0 RTP/AVP\r\n",
		ip, ip)
	c.ExtraInviteType = "multipart/alternative"
	c.ExtraInvitePart = &wire.Part{
		ContentType: "application/sdp",
		ExtraHeaders: [][2]string{
			{"Content-Transfer-Encoding", "7bit"},
			{"Content-Disposition", "session; handling=optional; ms-proxy-2007fallback"},
		},
		Body: []byte(body),
	}
}

// sendInvite serialises the call's streams and sends an INVITE on the
// dialog, registering cb for the final response.
func (s *Session) sendInvite(c *call.Call, cb responseFunc) {
	_, span := Tracer.Start(context.Background(), "sip.invite",
		trace.WithAttributes(attribute.String("call_id", c.ID)))
	defer span.End()

	s.appendProxyFallback(c)

	sdpBody, err := s.marshalSDP(c)
	if err != nil {
		c.Log.Errorw("failed to serialize sdp", err)
		s.Error(c.ID, "Unable to describe local media")
		return
	}

	contentType := "application/sdp"
	body := sdpBody
	if c.ExtraInvitePart != nil {
		parts := []wire.Part{
			*c.ExtraInvitePart,
			{
				ContentType: "application/sdp",
				ExtraHeaders: [][2]string{
					{"Content-Transfer-Encoding", "7bit"},
					{"Content-Disposition", "session; handling=optional"},
				},
				Body: sdpBody,
			},
		}
		contentType, body = wire.BuildMultipart(c.ExtraInviteType, parts)
		c.ExtraInvitePart = nil
		c.ExtraInviteType = ""
	}

	req := c.Dialog.NewRequest(sip.INVITE)
	req.AppendHeader(sip.NewHeader("ms-keep-alive", "UAC;hop-hop=yes"))
	req.AppendHeader(&sip.ContactHeader{Address: s.selfURI})
	if s.conf.LineURI != "" {
		req.AppendHeader(sip.NewHeader("P-Preferred-Identity",
			fmt.Sprintf("<%s>, <%s>", s.conf.SelfURI, s.conf.LineURI)))
	}
	req.AppendHeader(sip.NewHeader("Content-Type", contentType))
	req.SetBody(body)

	c.OutgoingInvite = req
	if c.State == call.StateEstablished {
		c.State = call.StateReinviting
	} else if c.State == call.StateIdle {
		c.State = call.StateLocalOffering
	}

	s.mon.InviteReq(callDir(c))
	callID := c.ID
	err = s.tr.SendRequest(req, func(resp *sip.Response) {
		cur := s.reg.Get(callID)
		if cur != c {
			return
		}
		cb(c, resp)
	})
	if err != nil {
		c.Log.Errorw("failed to send INVITE", err)
		c.Media.Hangup(false)
		s.teardown(c, "transport-error")
	}
}

// sendAck acknowledges the final response of an outbound INVITE. The ACK
// reuses the INVITE's own cseq instead of drawing a new one from the
// dialog counter.
func (s *Session) sendAck(c *call.Call, resp *sip.Response) {
	invite := c.OutgoingInvite
	c.OutgoingInvite = nil
	if invite == nil {
		return
	}

	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}
	ack := sip.NewRequest(sip.ACK, requestURI)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params,
		})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	if err := s.tr.SendRequest(ack, nil); err != nil {
		c.Log.Errorw("failed to send ACK", err)
	}
}

// processInviteResponse handles the final response to the initial
// outbound INVITE of a call.
func (s *Session) processInviteResponse(c *call.Call, resp *sip.Response) {
	c.Dialog.RememberRemoteTag(resp)

	if int(resp.StatusCode) >= 400 {
		s.processInviteFailure(c, resp)
		return
	}

	msg, err := sdp.Unmarshal(resp.Body())
	if err != nil {
		c.Log.Errorw("peer answer has malformed sdp", err)
		s.sendAck(c, resp)
		c.Media.Hangup(false)
		s.teardown(c, "malformed-sdp")
		return
	}

	s.applyRemoteMessage(c, msg)
	s.sendAck(c, resp)
	// The call commits once the engine reports an established candidate
	// pair, which triggers the re-offer.
}

// processFinalAckResponse handles the response to the candidate-commit
// re-offer; the call becomes established here.
func (s *Session) processFinalAckResponse(c *call.Call, resp *sip.Response) {
	s.sendAck(c, resp)
	if int(resp.StatusCode) >= 300 {
		c.Log.Warnw("candidate commit rejected", nil, "status", int(resp.StatusCode))
		return
	}
	c.Media.Accept(false)
	c.State = call.StateEstablished
	c.Log.Infow("call established")
}

// processReinviteResponse handles the response to a hold/unhold
// re-INVITE.
func (s *Session) processReinviteResponse(c *call.Call, resp *sip.Response) {
	s.sendAck(c, resp)
	if c.State == call.StateReinviting {
		c.State = call.StateEstablished
	}
}

// maybeRetryWithICEVersion hangs up the call and retries it under the
// given ICE version. Only the very first INVITE of a call may trigger a
// retry.
func (s *Session) maybeRetryWithICEVersion(c *call.Call, ice sdp.ICEVersion) bool {
	invite := c.OutgoingInvite
	if c.ICEVersion == ice || invite == nil {
		return false
	}
	cseq := invite.CSeq()
	if cseq == nil || cseq.SeqNo != 1 {
		return false
	}

	remoteURI := c.RemoteURI
	withVideo := c.Stream("video") != nil

	c.Media.Hangup(false)
	s.teardown(c, "ice-version-retry")
	c.Log.Infow("retrying call under alternative ice version", "iceVersion", string(ice))
	s.mon.ICERetry(string(ice))

	if _, err := s.InitiateCallICE(remoteURI, ice, withVideo); err != nil {
		s.notifyError("Error occurred", "Unable to establish a call")
	}
	return true
}

// processInviteFailure maps a failure response onto a user-visible
// error, retrying under the alternative ICE version where the response
// identifies a dialect mismatch.
func (s *Session) processInviteFailure(c *call.Call, resp *sip.Response) {
	code := int(resp.StatusCode)
	s.mon.InviteError(strconv.Itoa(code))

	title := "Error occurred"
	detail := ""
	generic := false

	switch code {
	case 480:
		title = "User unavailable"
		if wire.WarningCode(resp) == 391 {
			detail = fmt.Sprintf("%s does not want to be disturbed", c.RemoteURI)
		} else {
			detail = fmt.Sprintf("User %s is not available", c.RemoteURI)
		}
	case 603, 605:
		title = "Call rejected"
		detail = fmt.Sprintf("User %s rejected call", c.RemoteURI)
	case 415:
		if resp.Reason == archivingProxyReason && s.maybeRetryWithICEVersion(c, sdp.ICEDraft6) {
			return
		}
		title = "Unsupported media type"
	case 488:
		// Lync 2010 reports the encryption mismatch through
		// ms-client-diagnostics 52017; older clients put it in the
		// response string.
		msDiag := resp.GetHeader("ms-client-diagnostics")
		if resp.Reason == encryptionMismatchReason ||
			(msDiag != nil && wire.DiagnosticsCode(resp, "ms-client-diagnostics") == 52017) {
			title = "Unable to establish a call"
			detail = "Encryption settings of peer are incompatible with ours."
			s.mon.EncryptionIncompatible()
			break
		}

		if wire.DiagnosticsCode(resp, "ms-diagnostics") == 7008 &&
			s.maybeRetryWithICEVersion(c, sdp.ICERFC5245) {
			return
		}
		generic = true
	default:
		generic = true
	}

	if generic {
		title = "Error occurred"
		detail = fmt.Sprintf("Unable to establish a call\n%d %s", code, resp.Reason)
		if reason := wire.DiagnosticsReason(resp); reason != "" {
			detail += "\n\n" + reason
		}
	}

	s.notifyError(title, detail)
	s.sendAck(c, resp)
	c.Media.Hangup(false)
	s.teardown(c, "rejected")
}
