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

// Package signaling implements the media call state machine: INVITE,
// response, ACK, CANCEL and BYE handling with SDP offer/answer bodies,
// ICE-version recovery, encryption-policy negotiation and hold/unhold.
//
// All entry points must be invoked from a single host event loop:
// inbound SIP messages, transaction response callbacks and media engine
// events for one Call-ID are assumed serialised, and callbacks must not
// re-enter the session synchronously for the same call.
package signaling

import (
	"crypto/rand"
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/sipe-go/mediacall/pkg/backend"
	"github.com/sipe-go/mediacall/pkg/call"
	"github.com/sipe-go/mediacall/pkg/config"
	"github.com/sipe-go/mediacall/pkg/errors"
	"github.com/sipe-go/mediacall/pkg/logging"
	"github.com/sipe-go/mediacall/pkg/sdp"
	"github.com/sipe-go/mediacall/pkg/stats"
	"github.com/sipe-go/mediacall/pkg/wire"
)

// Notifier surfaces user-visible call errors to the host UI layer.
type Notifier interface {
	NotifyError(title, detail string)
}

// RelayProvider supplies media relays and their credentials for
// candidate gathering. Implemented by relay.Client.
type RelayProvider interface {
	Relays() []backend.Relay
	RelayCredentials() (username, password string, ok bool)
}

// SessionParams collects the collaborators of a Session. Config,
// Transport and Driver are required; a nil Log becomes a no-op logger
// and the rest are optional.
type SessionParams struct {
	Config    *config.Config
	Log       logging.Logger
	Transport wire.Transport
	Driver    backend.Driver
	Notifier  Notifier
	Relays    RelayProvider
	Monitor   *stats.Monitor
}

// Session is the per-signed-in-account media call state: the call
// registry plus the configuration and host capabilities every entry
// point needs. It carries no hidden globals.
type Session struct {
	conf   *config.Config
	log    logging.Logger
	tr     wire.Transport
	driver backend.Driver
	notify Notifier
	relays RelayProvider
	mon    *stats.Monitor

	reg     *call.Registry
	selfURI sip.Uri
}

func NewSession(p SessionParams) (*Session, error) {
	if p.Config == nil {
		return nil, errors.ErrNoConfig
	}
	if p.Log == nil {
		p.Log = logging.NewNop()
	}
	s := &Session{
		conf:   p.Config,
		log:    p.Log,
		tr:     p.Transport,
		driver: p.Driver,
		notify: p.Notifier,
		relays: p.Relays,
		mon:    p.Monitor,
		reg:    call.NewRegistry(),
	}
	if err := sip.ParseUri(p.Config.SelfURI, &s.selfURI); err != nil {
		return nil, errors.ErrInvalidSelfURI(err)
	}
	return s, nil
}

// Registry exposes the session's call table.
func (s *Session) Registry() *call.Registry {
	return s.reg
}

// Config exposes the session configuration.
func (s *Session) Config() *config.Config {
	return s.conf
}

func (s *Session) notifyError(title, detail string) {
	if s.notify != nil {
		s.notify.NotifyError(title, detail)
	}
	s.log.Warnw("call error", nil, "title", title, "detail", detail)
}

// effectivePolicy resolves the configured encryption policy against the
// server-advertised default.
func (s *Session) effectivePolicy() sdp.EncryptionPolicy {
	return s.conf.EncryptionPolicy.Resolve(s.serverPolicy())
}

func (s *Session) serverPolicy() sdp.EncryptionPolicy {
	if s.conf.ServerEncryptionPolicy == sdp.EncryptionDefault {
		return sdp.EncryptionOptional
	}
	return s.conf.ServerEncryptionPolicy
}

// cname derives the RTCP cname from the account URI.
func (s *Session) cname() string {
	return strings.TrimPrefix(s.conf.SelfURI, "sip:")
}

// HandleRequest is the entry point for inbound SIP requests the host has
// parsed and associated with this session.
func (s *Session) HandleRequest(req *sip.Request) {
	switch req.Method {
	case sip.INVITE:
		s.handleInvite(req)
	case sip.ACK:
		s.handleAck(req)
	case sip.CANCEL:
		s.handleCancel(req)
	case sip.BYE:
		s.handleBye(req)
	case sip.INFO:
		s.handleInfo(req)
	default:
		s.log.Debugw("ignoring request", "method", req.Method)
	}
}

// newCall builds and registers a call record around a dialog.
func (s *Session) newCall(dialog *wire.Dialog, remoteURI string, initiator bool, ice sdp.ICEVersion) (*call.Call, error) {
	media, err := s.driver.NewMedia(dialog.CallID, remoteURI, initiator)
	if err != nil {
		return nil, err
	}
	media.SetCName(s.cname())

	c := &call.Call{
		ID:                   dialog.CallID,
		RemoteURI:            remoteURI,
		ICEVersion:           ice,
		Initiator:            initiator,
		EncryptionCompatible: true,
		State:                call.StateIdle,
		Dialog:               dialog,
		Media:                media,
		Log:                  s.log.WithValues("callID", dialog.CallID, "remote", remoteURI),
	}
	if err := s.reg.Add(c); err != nil {
		media.Hangup(true)
		return nil, err
	}
	s.mon.CallStarted(callDir(c))
	return c, nil
}

// AddStream allocates a stream on the call and asks the engine to gather
// candidates for it within the media type's port range.
func (s *Session) AddStream(c *call.Call, id string, initiator bool) (*call.Stream, error) {
	if c.Stream(id) != nil {
		return nil, errors.ErrStreamExists
	}
	mediaType, ok := call.MediaTypeOf(id)
	if !ok {
		return nil, errors.ErrUnknownMediaType(id)
	}

	ports := s.conf.Ports.ForMediaType(id)
	opts := backend.StreamOptions{
		StreamID:   id,
		MediaType:  mediaType.String(),
		ICEVersion: c.ICEVersion,
		Initiator:  initiator,
		PortMin:    ports.Min,
		PortMax:    ports.Max,
	}
	if s.relays != nil {
		if user, pass, ok := s.relays.RelayCredentials(); ok {
			opts.Relays = s.relays.Relays()
			opts.RelayUsername = user
			opts.RelayPassword = pass
		}
	}

	ms, err := c.Media.AddStream(opts)
	if err != nil {
		return nil, errors.ErrCreateStream(id, err)
	}

	st := &call.Stream{
		ID:        id,
		MediaType: mediaType,
		Media:     ms,
		Key:       newEncryptionKey(),
	}
	c.Streams = append(c.Streams, st)
	return st, nil
}

// newEncryptionKey draws a fresh 30-byte SRTP key from the system CSPRNG.
func newEncryptionKey() *sdp.EncryptionKey {
	k := &sdp.EncryptionKey{KeyID: 1}
	if _, err := rand.Read(k.Key[:]); err != nil {
		return nil
	}
	return k
}

// buildSDP serialises the call's current streams into an SDP message,
// appending the failed sections with port zero so the peer sees them
// declined.
func (s *Session) buildSDP(c *call.Call) *sdp.Message {
	policy := s.effectivePolicy()
	msg := &sdp.Message{ICEVersion: c.ICEVersion}

	for _, st := range c.Streams {
		sec := sdp.MediaSection{
			Name:   st.ID,
			IP:     s.driver.NetworkIP(),
			Port:   1, // overwritten from the chosen candidate
			Codecs: st.Media.LocalCodecs(),
		}

		cands := st.Media.ActiveLocalCandidates()
		if len(cands) == 0 {
			cands = st.Media.LocalCandidates()
		}
		sec.Candidates = sdp.NormalizeCandidates(cands)
		sec.RemoteCandidates = st.Media.ActiveRemoteCandidates()

		if st.Media.Held() {
			sec.Inactive = true
		}
		if st.Key != nil {
			sec.Key = st.Key
		}
		sec.EncryptionActive = st.EncryptionActive(c.EncryptionCompatible, policy)
		sec.Attributes = append(sec.Attributes, st.Attributes...)

		msg.MediaSections = append(msg.MediaSections, sec)
		if msg.OriginIP == "" {
			if ip, _, _ := sdp.SelectSectionAddress(sec.Candidates); ip != "" {
				msg.OriginIP = ip
			}
		}
	}

	msg.MediaSections = append(msg.MediaSections, c.FailedSections...)

	if msg.OriginIP == "" {
		msg.OriginIP = s.driver.NetworkIP()
	}
	return msg
}

func (s *Session) marshalSDP(c *call.Call) ([]byte, error) {
	return sdp.Marshal(s.buildSDP(c), s.conf.EncryptionPolicy, s.serverPolicy())
}

// teardown unregisters the call and records its end. Safe to call more
// than once.
func (s *Session) teardown(c *call.Call, reason string) {
	if !c.Terminate() {
		return
	}
	s.reg.Delete(c.ID)
	s.mon.CallEnded(callDir(c), reason, 0)
	for _, st := range c.Streams {
		if h, ok := st.Overlay.(call.EndHandler); ok {
			h.CallEnded(true)
		}
	}
	c.Log.Infow("call ended", "reason", reason)
}

func callDir(c *call.Call) stats.CallDir {
	if c.Initiator {
		return stats.Outbound
	}
	return stats.Inbound
}

// sendResponse hands a response to the transport, logging failures.
func (s *Session) sendResponse(resp *sip.Response) {
	if err := s.tr.SendResponse(resp); err != nil {
		s.log.Errorw("failed to send response", err, "status", resp.StatusCode)
	}
}

// respondTo replies to a request outside any established dialog.
func (s *Session) respondTo(req *sip.Request, code int, reason string) {
	s.sendResponse(sip.NewResponseFromRequest(req, code, reason, nil))
}

// Accept is the host event for the local user answering an inbound call.
func (s *Session) Accept(callID string) {
	c := s.reg.Get(callID)
	if c == nil {
		return
	}
	c.LocalAccepted = true
	c.Media.Accept(true)
	s.sendInviteResponseIfReady(c)
}

// Reject is the host event for the local user declining an inbound call.
func (s *Session) Reject(callID string) {
	c := s.reg.Get(callID)
	if c == nil || c.Invite == nil {
		return
	}
	s.sendResponse(c.Dialog.NewResponse(c.Invite, 603, "Decline", nil))
	c.Invite = nil
	c.Media.Reject(true)
	s.teardown(c, "declined")
}

// Hold toggles hold on every stream of the call and re-invites the peer
// with the new state. Already matching streams produce no wire traffic.
func (s *Session) Hold(callID string, held bool) {
	c := s.reg.Get(callID)
	if c == nil {
		return
	}
	changed := false
	for _, st := range c.Streams {
		if st.Media.Held() != held {
			st.Media.SetHeld(held)
			changed = true
		}
	}
	if !changed || c.State != call.StateEstablished {
		return
	}
	c.State = call.StateReinviting
	s.sendInvite(c, s.processReinviteResponse)
}

// HangUp ends the call locally, sending BYE once the peer's dialog tag
// is known.
func (s *Session) HangUp(callID string) {
	c := s.reg.Get(callID)
	if c == nil {
		return
	}
	c.State = call.StateTerminating
	if c.Dialog != nil && c.Dialog.RemoteTag != "" {
		bye := c.Dialog.NewRequest(sip.BYE)
		if err := s.tr.SendRequest(bye, nil); err != nil {
			c.Log.Errorw("failed to send BYE", err)
		}
	}
	c.Media.Hangup(true)
	s.teardown(c, "local-hangup")
}

// SignOut tears down every call on global sign-out: unanswered inbound
// calls get 480, everything else goes through HangUp (BYE only once the
// peer's dialog tag is known).
func (s *Session) SignOut() {
	for _, c := range s.reg.List() {
		if !c.Initiator && !c.LocalAccepted && c.Invite != nil {
			s.sendResponse(c.Dialog.NewResponse(c.Invite, 480, "Temporarily Unavailable", nil))
			c.Invite = nil
			c.Media.Hangup(false)
			s.teardown(c, "sign-out")
			continue
		}
		s.HangUp(c.ID)
	}
}

// Error is the host event for a fatal media engine failure on a call.
func (s *Session) Error(callID, message string) {
	c := s.reg.Get(callID)
	if c == nil {
		return
	}
	s.notifyError("Call with "+c.RemoteURI+" failed", message)
	if !c.Initiator && !c.LocalAccepted && c.Invite != nil {
		s.sendResponse(c.Dialog.NewResponse(c.Invite, 488, "Not Acceptable Here", nil))
		c.Invite = nil
	}
	c.Media.Hangup(c.Initiator || c.LocalAccepted)
	s.teardown(c, "media-error")
}

// StreamEnded is the host event for the engine finishing one stream.
func (s *Session) StreamEnded(callID, streamID string) {
	c := s.reg.Get(callID)
	if c == nil {
		return
	}
	c.RemoveStream(streamID)
	if len(c.Streams) == 0 {
		c.Media.Hangup(false)
		s.teardown(c, "streams-ended")
	}
}

// MediaEnded is the host event for the engine tearing down the call.
func (s *Session) MediaEnded(callID string) {
	c := s.reg.Get(callID)
	if c == nil {
		return
	}
	s.teardown(c, "media-ended")
}

// Readable is the host event for stream bytes being available; it is
// forwarded to the stream's overlay.
func (s *Session) Readable(callID, streamID string) {
	c := s.reg.Get(callID)
	if c == nil {
		return
	}
	st := c.Stream(streamID)
	if st == nil {
		return
	}
	if h, ok := st.Overlay.(call.ReadableHandler); ok {
		h.Readable()
	}
}

// StreamInitialized is the host event for a stream finishing local
// candidate gathering. Once the whole call is initialised the pending
// work proceeds: outbound calls send their INVITE, inbound calls apply
// the stored remote description and answer when ready.
func (s *Session) StreamInitialized(callID, streamID string) {
	c := s.reg.Get(callID)
	if c == nil || !c.Initialized() {
		return
	}
	if c.Initiator {
		if c.State == call.StateIdle {
			s.sendInvite(c, s.processInviteResponse)
		}
		return
	}
	if c.Remote != nil {
		msg := c.Remote
		c.Remote = nil
		if !s.applyRemoteMessage(c, msg) {
			c.Media.Hangup(false)
			s.teardown(c, "no-usable-media")
			return
		}
		s.sendInviteResponseIfReady(c)
	}
}

// CandidatePairEstablished is the host event for the engine finding a
// working candidate pair on a stream. The initiator commits the chosen
// candidates with a re-offer; overlays get notified either way.
func (s *Session) CandidatePairEstablished(callID, streamID string) {
	c := s.reg.Get(callID)
	if c == nil {
		return
	}
	if c.Initiator {
		s.sendInvite(c, s.processFinalAckResponse)
	}
	if st := c.Stream(streamID); st != nil {
		if h, ok := st.Overlay.(call.PairEstablishedHandler); ok {
			h.CandidatePairEstablished()
		}
	}
}
