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

package filetransfer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/require"

	"github.com/sipe-go/mediacall/pkg/backend"
	"github.com/sipe-go/mediacall/pkg/config"
	"github.com/sipe-go/mediacall/pkg/logging"
	"github.com/sipe-go/mediacall/pkg/sdp"
	"github.com/sipe-go/mediacall/pkg/signaling"
	"github.com/sipe-go/mediacall/pkg/wire"
)

type sentRequest struct {
	req *sip.Request
	cb  wire.ResponseFunc
}

type fakeTransport struct {
	requests  []sentRequest
	responses []*sip.Response
}

func (t *fakeTransport) SendRequest(req *sip.Request, cb wire.ResponseFunc) error {
	t.requests = append(t.requests, sentRequest{req: req, cb: cb})
	return nil
}

func (t *fakeTransport) SendResponse(resp *sip.Response) error {
	t.responses = append(t.responses, resp)
	return nil
}

func (t *fakeTransport) infoBodies() []string {
	var out []string
	for _, sr := range t.requests {
		if sr.req.Method == sip.INFO {
			out = append(out, string(sr.req.Body()))
		}
	}
	return out
}

type fakeStream struct {
	opts        backend.StreamOptions
	initialized bool
	held        bool

	rbuf bytes.Buffer
	wbuf bytes.Buffer
}

func (s *fakeStream) Initialized() bool { return s.initialized }

func (s *fakeStream) LocalCodecs() []sdp.Codec {
	return []sdp.Codec{{PayloadID: 0, Name: "x-data", ClockRate: 90000, MediaType: s.opts.MediaType}}
}

func (s *fakeStream) LocalCandidates() []sdp.Candidate {
	return []sdp.Candidate{{Foundation: "1", Component: sdp.ComponentRTP,
		Type: sdp.CandidateHost, Protocol: sdp.ProtoUDP, IP: "10.0.0.1", Port: 4000}}
}

func (s *fakeStream) ActiveLocalCandidates() []sdp.Candidate    { return nil }
func (s *fakeStream) ActiveRemoteCandidates() []sdp.Candidate   { return nil }
func (s *fakeStream) SetRemoteCodecs([]sdp.Codec) bool          { return true }
func (s *fakeStream) SetRemoteCandidates([]sdp.Candidate)       {}
func (s *fakeStream) SetEncryptionKeys(_, _ *sdp.EncryptionKey) {}
func (s *fakeStream) SetHeld(held bool)                         { s.held = held }
func (s *fakeStream) Held() bool                                { return s.held }
func (s *fakeStream) Read(p []byte) (int, error)                { return s.rbuf.Read(p) }
func (s *fakeStream) Write(p []byte) (int, error)               { return s.wbuf.Write(p) }
func (s *fakeStream) End()                                      {}

type fakeMedia struct {
	streams map[string]*fakeStream
	hungup  bool
}

func (m *fakeMedia) AddStream(opts backend.StreamOptions) (backend.Stream, error) {
	st := &fakeStream{opts: opts}
	m.streams[opts.StreamID] = st
	return st, nil
}

func (m *fakeMedia) SetCName(string) {}
func (m *fakeMedia) Accept(bool)     {}
func (m *fakeMedia) Reject(bool)     {}
func (m *fakeMedia) Hangup(bool)     { m.hungup = true }

type fakeDriver struct {
	medias []*fakeMedia
}

func (d *fakeDriver) NewMedia(_, _ string, _ bool) (backend.Media, error) {
	m := &fakeMedia{streams: make(map[string]*fakeStream)}
	d.medias = append(d.medias, m)
	return m, nil
}

func (d *fakeDriver) NetworkIP() string { return "10.0.0.1" }

func (d *fakeDriver) lastMedia(t *testing.T) *fakeMedia {
	require.NotEmpty(t, d.medias)
	return d.medias[len(d.medias)-1]
}

func newTestManager(t *testing.T) (*Manager, *signaling.Session, *fakeTransport, *fakeDriver) {
	conf, err := config.NewConfig("")
	require.NoError(t, err)
	conf.SelfURI = "sip:alice@example.com"

	tr := &fakeTransport{}
	drv := &fakeDriver{}
	sess, err := signaling.NewSession(signaling.SessionParams{
		Config:    conf,
		Log:       logging.NewNop(),
		Transport: tr,
		Driver:    drv,
	})
	require.NoError(t, err)

	mgr := NewManager(ManagerParams{
		Session:   sess,
		Transport: tr,
		Log:       logging.NewNop(),
	})
	return mgr, sess, tr, drv
}

const dataAnswerSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 10.0.0.2\r\n" +
	"s=session\r\n" +
	"c=IN IP4 10.0.0.2\r\n" +
	"t=0 0\r\n" +
	"m=data 5002 RTP/AVP 0\r\n" +
	"a=rtpmap:0 x-data/90000\r\n" +
	"a=candidate:1 1 UDP 100 10.0.0.2 5002 typ host\r\n"

func respond(t *testing.T, sr sentRequest, code int, reason string, body []byte) {
	resp := sip.NewResponseFromRequest(sr.req, code, reason, body)
	if to := resp.To(); to != nil {
		if _, ok := to.Params.Get("tag"); !ok {
			to.Params.Add("tag", "peer-tag")
		}
	}
	require.NotNil(t, sr.cb)
	sr.cb(resp)
}

func infoRequest(t *testing.T, callID string, body string) *sip.Request {
	var selfURI, fromURI sip.Uri
	require.NoError(t, sip.ParseUri("sip:alice@example.com", &selfURI))
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &fromURI))

	req := sip.NewRequest(sip.INFO, selfURI)
	fromParams := sip.NewParams()
	fromParams.Add("tag", "remote-tag")
	req.AppendHeader(&sip.FromHeader{Address: fromURI, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: selfURI, Params: sip.NewParams()})
	cid := sip.CallIDHeader(callID)
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 2, MethodName: sip.INFO})
	req.AppendHeader(sip.NewHeader("Content-Type", ContentType))
	req.SetBody([]byte(body))
	return req
}

func decodeFrames(t *testing.T, data []byte) (payload []byte, startID, endID string) {
	var dec frameDecoder
	var got bytes.Buffer
	src := bytes.NewReader(data)
	for {
		ev, ok := dec.next(src)
		if !ok {
			break
		}
		switch ev.Type {
		case frameTypeStart:
			if ev.Done {
				startID = string(ev.Control)
			}
		case frameTypeData:
			got.Write(ev.Data)
		case frameTypeEnd:
			if ev.Done {
				endID = string(ev.Control)
			}
		}
	}
	return got.Bytes(), startID, endID
}

func TestSendFileFullFlow(t *testing.T) {
	mgr, sess, tr, drv := newTestManager(t)

	fileData := bytes.Repeat([]byte{0x5A}, 2048)
	tf, err := mgr.SendFile("sip:bob@example.com", "x.bin", 2048, bytes.NewReader(fileData))
	require.NoError(t, err)

	var done bool
	tf.OnDone = func() { done = true }

	c := tf.Call()
	m := drv.lastMedia(t)
	st := m.streams["data"]
	require.NotNil(t, st)
	st.initialized = true
	sess.StreamInitialized(c.ID, "data")

	// The INVITE publishes the file next to the SDP.
	require.NotEmpty(t, tr.requests)
	invite := tr.requests[0]
	require.Equal(t, sip.INVITE, invite.req.Method)
	ct := invite.req.GetHeader("Content-Type")
	require.NotNil(t, ct)
	require.Contains(t, ct.Value(), "multipart/mixed")
	body := string(invite.req.Body())
	require.Contains(t, body, "<publishFile>")
	require.Contains(t, body, "<name>x.bin</name>")
	require.Contains(t, body, "<size>2048</size>")
	require.Contains(t, body, "m=data")
	require.Contains(t, body, "a=sendonly")

	respond(t, invite, 200, "OK", []byte(dataAnswerSDP))
	sess.CandidatePairEstablished(c.ID, "data")

	// The peer requests the download; the sender acknowledges pending
	// and pumps the file onto the stream.
	download := `<request xmlns="` + ftNamespace + `" requestId="2"><downloadFile><fileInfo><id>x</id><name>x.bin</name></fileInfo></downloadFile></request>`
	mgr.HandleRequest(infoRequest(t, c.ID, download))

	infos := tr.infoBodies()
	require.NotEmpty(t, infos)
	require.Contains(t, infos[len(infos)-1], `code="pending"`)
	require.Contains(t, infos[len(infos)-1], `requestId="2"`)

	payload, startID, endID := decodeFrames(t, st.wbuf.Bytes())
	require.Equal(t, fileData, payload)
	require.Equal(t, "2", startID)
	require.Equal(t, "2", endID)

	// The peer confirms the final byte; the sender answers success and
	// hangs up.
	notify := `<notify xmlns="` + ftNamespace + `" notifyId="7"><fileTransferProgress><transferId>2</transferId><bytesReceived><from>0</from><to>2047</to></bytesReceived></fileTransferProgress></notify>`
	mgr.HandleRequest(infoRequest(t, c.ID, notify))

	infos = tr.infoBodies()
	require.Contains(t, infos[len(infos)-1], `code="success"`)
	require.True(t, done)
	require.Equal(t, sip.BYE, tr.requests[len(tr.requests)-1].req.Method)
	require.Nil(t, sess.Registry().Get(c.ID))
	require.True(t, m.hungup)
}

func TestIncomingTransferFlow(t *testing.T) {
	mgr, sess, tr, drv := newTestManager(t)

	var incoming *Transfer
	mgr.onIncoming = func(tf *Transfer) { incoming = tf }

	publish := `<request xmlns="` + ftNamespace + `" requestId="1"><publishFile><fileInfo><id>{F00}</id><name>hello.txt</name><size>5</size></fileInfo></publishFile></request>`
	contentType, body := wire.BuildMultipart("multipart/mixed", []wire.Part{
		{ContentType: ContentType, Body: []byte(publish)},
		{ContentType: "application/sdp", Body: []byte(dataAnswerSDP)},
	})

	var selfURI, fromURI sip.Uri
	require.NoError(t, sip.ParseUri("sip:alice@example.com", &selfURI))
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &fromURI))
	req := sip.NewRequest(sip.INVITE, selfURI)
	fromParams := sip.NewParams()
	fromParams.Add("tag", "remote-tag")
	req.AppendHeader(&sip.FromHeader{Address: fromURI, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: selfURI, Params: sip.NewParams()})
	cid := sip.CallIDHeader("ft-call-1")
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(sip.NewHeader("Content-Type", contentType))
	req.SetBody(body)

	mgr.HandleRequest(req)

	require.NotNil(t, incoming)
	require.Equal(t, "hello.txt", incoming.FileName())
	require.EqualValues(t, 5, incoming.FileSize())

	c := sess.Registry().Get("ft-call-1")
	require.NotNil(t, c)
	require.EqualValues(t, 180, tr.responses[len(tr.responses)-1].StatusCode)

	m := drv.lastMedia(t)
	st := m.streams["data"]
	require.NotNil(t, st)
	st.initialized = true
	sess.StreamInitialized(c.ID, "data")

	var got bytes.Buffer
	incoming.Accept(&got)
	answer := tr.responses[len(tr.responses)-1]
	require.EqualValues(t, 200, answer.StatusCode)
	require.Contains(t, string(answer.Body()), "m=data")
	require.Contains(t, string(answer.Body()), "a=recvonly")

	// With the data path up, the receiver confirms the publication and
	// requests the download.
	sess.CandidatePairEstablished(c.ID, "data")
	infos := tr.infoBodies()
	require.Len(t, infos, 2)
	require.Contains(t, infos[0], `code="success"`)
	require.Contains(t, infos[0], `requestId="1"`)
	require.Contains(t, infos[1], "<downloadFile>")
	require.Contains(t, infos[1], `requestId="2"`)

	// File bytes arrive framed on the stream.
	require.NoError(t, writeFrame(&st.rbuf, frameTypeStart, []byte("2")))
	require.NoError(t, writeFrame(&st.rbuf, frameTypeData, []byte("hello")))
	require.NoError(t, writeFrame(&st.rbuf, frameTypeEnd, []byte("2")))
	sess.Readable(c.ID, "data")

	require.Equal(t, "hello", got.String())

	infos = tr.infoBodies()
	last := infos[len(infos)-1]
	require.Contains(t, last, "<fileTransferProgress>")
	require.Contains(t, last, "<to>4</to>")

	// The sender acknowledges; the call ends with its BYE.
	var done bool
	incoming.OnDone = func() { done = true }
	success := `<response xmlns="` + ftNamespace + `" requestId="2" code="success"/>`
	mgr.HandleRequest(infoRequest(t, c.ID, success))
	require.True(t, done)
}

func TestLocalCancelKeepsDraining(t *testing.T) {
	mgr, sess, tr, drv := newTestManager(t)

	var incoming *Transfer
	mgr.onIncoming = func(tf *Transfer) { incoming = tf }

	publish := `<request xmlns="` + ftNamespace + `" requestId="1"><publishFile><fileInfo><id>{F00}</id><name>big.bin</name><size>4096</size></fileInfo></publishFile></request>`
	contentType, body := wire.BuildMultipart("multipart/mixed", []wire.Part{
		{ContentType: ContentType, Body: []byte(publish)},
		{ContentType: "application/sdp", Body: []byte(dataAnswerSDP)},
	})
	var selfURI, fromURI sip.Uri
	require.NoError(t, sip.ParseUri("sip:alice@example.com", &selfURI))
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &fromURI))
	req := sip.NewRequest(sip.INVITE, selfURI)
	fromParams := sip.NewParams()
	fromParams.Add("tag", "remote-tag")
	req.AppendHeader(&sip.FromHeader{Address: fromURI, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: selfURI, Params: sip.NewParams()})
	cid := sip.CallIDHeader("ft-call-2")
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(sip.NewHeader("Content-Type", contentType))
	req.SetBody(body)
	mgr.HandleRequest(req)
	require.NotNil(t, incoming)

	c := sess.Registry().Get("ft-call-2")
	m := drv.lastMedia(t)
	st := m.streams["data"]
	st.initialized = true
	sess.StreamInitialized(c.ID, "data")

	var got bytes.Buffer
	incoming.Accept(&got)
	incoming.Cancel()

	infos := tr.infoBodies()
	require.Contains(t, infos[len(infos)-1], "<cancelTransfer>")

	// Data still arriving is consumed but discarded.
	require.NoError(t, writeFrame(&st.rbuf, frameTypeData, []byte("discarded")))
	sess.Readable(c.ID, "data")
	require.Zero(t, got.Len())
}

func TestPlainInviteFallsThroughToSession(t *testing.T) {
	mgr, sess, tr, _ := newTestManager(t)

	voiceSDP := strings.Replace(dataAnswerSDP, "m=data", "m=audio", 1)
	var selfURI, fromURI sip.Uri
	require.NoError(t, sip.ParseUri("sip:alice@example.com", &selfURI))
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &fromURI))
	req := sip.NewRequest(sip.INVITE, selfURI)
	fromParams := sip.NewParams()
	fromParams.Add("tag", "remote-tag")
	req.AppendHeader(&sip.FromHeader{Address: fromURI, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: selfURI, Params: sip.NewParams()})
	cid := sip.CallIDHeader("voice-1")
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.SetBody([]byte(voiceSDP))

	mgr.HandleRequest(req)

	require.NotNil(t, sess.Registry().Get("voice-1"))
	require.EqualValues(t, 180, tr.responses[len(tr.responses)-1].StatusCode)
}
