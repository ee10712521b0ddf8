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

// Package filetransfer implements the Lync file transfer overlay: a
// media call carrying a single data stream, an XML control channel over
// in-dialog INFO requests, and a small frame protocol on the stream
// itself.
package filetransfer

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sipe-go/mediacall/pkg/call"
	"github.com/sipe-go/mediacall/pkg/logging"
	"github.com/sipe-go/mediacall/pkg/sdp"
	"github.com/sipe-go/mediacall/pkg/signaling"
	"github.com/sipe-go/mediacall/pkg/stats"
	"github.com/sipe-go/mediacall/pkg/wire"
)

// ManagerParams collects the collaborators of a Manager.
type ManagerParams struct {
	Session   *signaling.Session
	Transport wire.Transport
	Log       logging.Logger
	Monitor   *stats.Monitor

	// OnIncoming is invoked for every inbound transfer offer; the host
	// answers with Transfer.Accept or Transfer.Decline.
	OnIncoming func(t *Transfer)
}

// Manager routes SIP traffic for file transfer calls and owns the
// control-channel request id counter.
type Manager struct {
	sess *signaling.Session
	tr   wire.Transport
	log  logging.Logger
	mon  *stats.Monitor

	onIncoming func(t *Transfer)
	requestID  uint32
}

func NewManager(p ManagerParams) *Manager {
	if p.Log == nil {
		p.Log = logging.NewNop()
	}
	return &Manager{
		sess:       p.Session,
		tr:         p.Transport,
		log:        p.Log,
		mon:        p.Monitor,
		onIncoming: p.OnIncoming,
	}
}

func (m *Manager) nextRequestID() uint32 {
	m.requestID++
	return m.requestID
}

// HandleRequest routes an inbound SIP request: multipart INVITEs
// carrying a file publication are intercepted here, everything else goes
// to the signalling session.
func (m *Manager) HandleRequest(req *sip.Request) {
	if req.Method == sip.INVITE {
		if ct := req.GetHeader("Content-Type"); ct != nil &&
			strings.HasPrefix(ct.Value(), "multipart/") {
			if m.handleInvite(req, ct.Value()) {
				return
			}
		}
	}
	m.sess.HandleRequest(req)
}

// handleInvite processes an INVITE whose body may publish a file.
// Returns false when the body has no file transfer part, leaving the
// INVITE to the regular call path.
func (m *Manager) handleInvite(req *sip.Request, contentType string) bool {
	parts, err := wire.ParseMultipart(contentType, req.Body())
	if err != nil || parts == nil {
		return false
	}
	xmlPart := wire.FindPart(parts, ContentType)
	if xmlPart == nil {
		return false
	}
	sdpPart := wire.FindPart(parts, "application/sdp")

	var ctrl ftRequest
	if err := xml.Unmarshal(xmlPart.Body, &ctrl); err != nil ||
		ctrl.PublishFile == nil ||
		ctrl.PublishFile.FileInfo.Name == "" ||
		ctrl.PublishFile.FileInfo.Size == 0 ||
		sdpPart == nil {
		resp := sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil)
		if err := m.tr.SendResponse(resp); err != nil {
			m.log.Errorw("failed to refuse file transfer invite", err)
		}
		return true
	}

	c := m.sess.ProcessInviteCall(req, sdpPart.Body)
	if c == nil {
		return true
	}
	st := c.Stream("data")
	if st == nil {
		m.log.Warnw("file transfer invite without data stream", nil, "callID", c.ID)
		return true
	}

	t := &Transfer{
		m:         m,
		c:         c,
		st:        st,
		incoming:  true,
		requestID: ctrl.RequestID,
		fileID:    ctrl.PublishFile.FileInfo.ID,
		fileName:  ctrl.PublishFile.FileInfo.Name,
		fileSize:  ctrl.PublishFile.FileInfo.Size,
		log: m.log.WithValues("callID", c.ID,
			"file", ctrl.PublishFile.FileInfo.Name),
	}
	st.Overlay = t

	if m.onIncoming != nil {
		m.onIncoming(t)
	}
	return true
}

// SendFile starts an outbound transfer: a data-only call whose INVITE
// publishes the file alongside the SDP. Bytes are drawn from src once
// the peer requests the download.
func (m *Manager) SendFile(remoteURI, name string, size uint64, src io.Reader) (*Transfer, error) {
	c, err := m.sess.InitiateDataSession(remoteURI, sdp.ICERFC5245)
	if err != nil {
		return nil, err
	}
	st, err := m.sess.AddStream(c, "data", true)
	if err != nil {
		c.Media.Hangup(false)
		m.sess.MediaEnded(c.ID)
		return nil, err
	}
	st.AddAttribute("sendonly", "")
	st.AddAttribute("mid", "1")

	t := &Transfer{
		m:         m,
		c:         c,
		st:        st,
		requestID: m.nextRequestID(),
		fileID:    "{" + strings.ToUpper(uuid.NewString()) + "}",
		fileName:  name,
		fileSize:  size,
		src:       src,
		log:       m.log.WithValues("callID", c.ID, "file", name),
	}
	st.Overlay = t

	ctrl := newRequest(t.requestID)
	ctrl.PublishFile = &publishFile{FileInfo: fileInfo{
		ID:   t.fileID,
		Name: name,
		Size: size,
	}}
	body, err := xml.Marshal(ctrl)
	if err != nil {
		return nil, err
	}
	c.ExtraInviteType = "multipart/mixed"
	c.ExtraInvitePart = &wire.Part{
		ContentType: ContentType,
		ExtraHeaders: [][2]string{
			{"Content-Transfer-Encoding", "7bit"},
			{"Content-Disposition", "render; handling=optional"},
		},
		Body: body,
	}

	// The INVITE goes out once the data stream reports initialisation.
	return t, nil
}

func (m *Manager) sendControl(c *call.Call, v any) {
	body, err := xml.Marshal(v)
	if err != nil {
		m.log.Errorw("failed to marshal control message", err)
		return
	}
	req := c.Dialog.NewRequest(sip.INFO)
	req.AppendHeader(sip.NewHeader("Content-Type", ContentType))
	req.SetBody(body)
	if err := m.tr.SendRequest(req, nil); err != nil {
		m.log.Errorw("failed to send control message", err)
	}
}

// Transfer is one file transfer in either direction. It rides as the
// overlay of its call's data stream.
type Transfer struct {
	m        *Manager
	c        *call.Call
	st       *call.Stream
	log      logging.Logger
	incoming bool

	fileID   string
	fileName string
	fileSize uint64

	requestID uint32

	src io.Reader // outgoing payload source
	dst io.Writer // incoming payload sink

	dec       frameDecoder
	received  uint64
	cancelled bool
	done      bool

	// OnDone fires when the transfer completed; OnCancelled when either
	// side cancelled it.
	OnDone      func()
	OnCancelled func(local bool)
}

func (t *Transfer) OverlayKind() call.OverlayKind { return call.OverlayFileTransfer }

// Call exposes the underlying media call.
func (t *Transfer) Call() *call.Call { return t.c }

// FileName reports the published file name.
func (t *Transfer) FileName() string { return t.fileName }

// FileSize reports the published file size in bytes.
func (t *Transfer) FileSize() uint64 { return t.fileSize }

// Accept answers an inbound transfer, directing the file bytes to dst.
func (t *Transfer) Accept(dst io.Writer) {
	if !t.incoming {
		return
	}
	t.dst = dst
	t.m.sess.Accept(t.c.ID)
}

// Decline refuses an inbound transfer.
func (t *Transfer) Decline() {
	if !t.incoming {
		return
	}
	t.m.sess.Reject(t.c.ID)
}

// Cancel aborts the transfer locally. Incoming data is drained and
// discarded until the peer hangs up.
func (t *Transfer) Cancel() {
	if t.cancelled || t.done {
		return
	}
	t.cancelled = true

	ctrl := newRequest(t.requestID + 1)
	ctrl.CancelTransfer = &cancelTransfer{
		TransferID: t.requestID,
		FileInfo:   fileInfo{ID: t.fileID, Name: t.fileName},
	}
	t.m.sendControl(t.c, ctrl)

	if t.OnCancelled != nil {
		t.OnCancelled(true)
	}
}

// CandidatePairEstablished acknowledges the publication and requests the
// download once the receiver's data path is up.
func (t *Transfer) CandidatePairEstablished() {
	if !t.incoming || t.cancelled {
		return
	}
	t.m.sendControl(t.c, newResponse(t.requestID, codeSuccess, ""))

	t.requestID++
	ctrl := newRequest(t.requestID)
	ctrl.DownloadFile = &downloadFile{FileInfo: fileInfo{
		ID:   t.fileID,
		Name: t.fileName,
	}}
	t.m.sendControl(t.c, ctrl)
}

// HandleInfo processes a control message addressed to this transfer's
// dialog.
func (t *Transfer) HandleInfo(req *sip.Request) {
	msg, err := parseControl(req.Body())
	if err != nil {
		t.log.Warnw("unparseable control message", err)
		return
	}

	if t.incoming {
		if resp, ok := msg.(*ftResponse); ok {
			t.handleResponse(resp)
		}
		return
	}
	switch v := msg.(type) {
	case *ftRequest:
		t.handleRequest(v)
	case *ftNotify:
		t.handleNotify(v)
	}
}

func (t *Transfer) handleResponse(resp *ftResponse) {
	if resp.RequestID != t.requestID {
		return
	}
	switch resp.Code {
	case codeSuccess:
		// The sender hangs up; the BYE ends the call.
		t.done = true
		if t.OnDone != nil {
			t.OnDone()
		}
	case codeFailure:
		if resp.Reason == reasonRequestCancelled {
			t.cancelled = true
			if t.OnCancelled != nil {
				t.OnCancelled(false)
			}
		}
	}
}

func (t *Transfer) handleRequest(req *ftRequest) {
	switch {
	case req.DownloadFile != nil:
		t.requestID = req.RequestID
		t.m.sendControl(t.c, newResponse(t.requestID, codePending, ""))
		t.transmit()
	case req.CancelTransfer != nil:
		t.cancelled = true
		t.m.sendControl(t.c, newResponse(req.RequestID, codeFailure, reasonRequestCancelled))
		if t.OnCancelled != nil {
			t.OnCancelled(false)
		}
		t.m.sess.HangUp(t.c.ID)
	}
}

func (t *Transfer) handleNotify(n *ftNotify) {
	if n.Progress == nil || t.fileSize == 0 {
		return
	}
	if n.Progress.BytesReceived.To == t.fileSize-1 {
		t.m.sendControl(t.c, newResponse(t.requestID, codeSuccess, ""))
		t.done = true
		if t.OnDone != nil {
			t.OnDone()
		}
		t.m.sess.HangUp(t.c.ID)
	}
}

// transmit frames the whole file onto the data stream: a start frame
// naming the request, the payload in bounded chunks, then the end frame.
func (t *Transfer) transmit() {
	rid := []byte(strconv.FormatUint(uint64(t.requestID), 10))
	if err := writeFrame(t.st.Media, frameTypeStart, rid); err != nil {
		t.fail(err)
		return
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := t.src.Read(buf)
		if n > 0 {
			if werr := writeFrame(t.st.Media, frameTypeData, buf[:n]); werr != nil {
				t.fail(werr)
				return
			}
			t.m.mon.FileTransferBytes(stats.Outbound, n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.fail(err)
			return
		}
	}

	if err := writeFrame(t.st.Media, frameTypeEnd, rid); err != nil {
		t.fail(err)
	}
}

func (t *Transfer) fail(err error) {
	t.log.Errorw("file transfer failed", err)
	t.Cancel()
	t.m.sess.HangUp(t.c.ID)
}

// Readable drains incoming frames off the data stream. A cancelled
// transfer keeps consuming bytes but discards them.
func (t *Transfer) Readable() {
	for {
		ev, ok := t.dec.next(t.st.Media)
		if !ok {
			return
		}
		switch ev.Type {
		case frameTypeStart:
			if ev.Done {
				t.log.Debugw("transfer stream started", "requestID", string(ev.Control))
			}
		case frameTypeData:
			t.consume(ev.Data)
		case frameTypeEnd:
			if ev.Done {
				t.log.Debugw("transfer stream ended", "requestID", string(ev.Control))
			}
		}
	}
}

func (t *Transfer) consume(data []byte) {
	if t.cancelled || t.dst == nil || len(data) == 0 {
		return
	}
	if _, err := t.dst.Write(data); err != nil {
		t.fail(err)
		return
	}
	t.received += uint64(len(data))
	t.m.mon.FileTransferBytes(stats.Inbound, len(data))

	if t.received >= t.fileSize {
		t.sendProgress()
	}
}

// sendProgress notifies the sender that every byte arrived.
func (t *Transfer) sendProgress() {
	n := &ftNotify{
		Namespace: ftNamespace,
		NotifyID:  t.m.nextRequestID(),
		Progress: &fileTransferProgress{
			TransferID: t.requestID,
			BytesReceived: bytesReceived{
				From: 0,
				To:   t.fileSize - 1,
			},
		},
	}
	t.m.sendControl(t.c, n)
}

// CallEnded releases the transfer with its call.
func (t *Transfer) CallEnded(local bool) {
	if t.done || t.cancelled {
		return
	}
	if !local && t.OnCancelled != nil {
		t.cancelled = true
		t.OnCancelled(false)
	}
}
