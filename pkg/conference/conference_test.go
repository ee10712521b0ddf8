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

package conference

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/require"

	"github.com/sipe-go/mediacall/pkg/backend"
	"github.com/sipe-go/mediacall/pkg/config"
	"github.com/sipe-go/mediacall/pkg/errors"
	"github.com/sipe-go/mediacall/pkg/logging"
	"github.com/sipe-go/mediacall/pkg/sdp"
	"github.com/sipe-go/mediacall/pkg/signaling"
	"github.com/sipe-go/mediacall/pkg/wire"
)

type nopTransport struct{}

func (nopTransport) SendRequest(*sip.Request, wire.ResponseFunc) error { return nil }
func (nopTransport) SendResponse(*sip.Response) error                  { return nil }

type nopDriver struct{}

func (nopDriver) NewMedia(_, _ string, _ bool) (backend.Media, error) { return nopMedia{}, nil }
func (nopDriver) NetworkIP() string                                   { return "10.0.0.1" }

type nopMedia struct{}

func (nopMedia) AddStream(backend.StreamOptions) (backend.Stream, error) { return &nopStream{}, nil }
func (nopMedia) SetCName(string)                                         {}
func (nopMedia) Accept(bool)                                             {}
func (nopMedia) Reject(bool)                                             {}
func (nopMedia) Hangup(bool)                                             {}

type nopStream struct {
	held bool
}

func (*nopStream) Initialized() bool                         { return false }
func (*nopStream) LocalCodecs() []sdp.Codec                  { return nil }
func (*nopStream) LocalCandidates() []sdp.Candidate          { return nil }
func (*nopStream) ActiveLocalCandidates() []sdp.Candidate    { return nil }
func (*nopStream) ActiveRemoteCandidates() []sdp.Candidate   { return nil }
func (*nopStream) SetRemoteCodecs([]sdp.Codec) bool          { return true }
func (*nopStream) SetRemoteCandidates([]sdp.Candidate)       {}
func (*nopStream) SetEncryptionKeys(_, _ *sdp.EncryptionKey) {}
func (s *nopStream) SetHeld(held bool)                       { s.held = held }
func (s *nopStream) Held() bool                              { return s.held }
func (*nopStream) Read([]byte) (int, error)                  { return 0, nil }
func (n *nopStream) Write(p []byte) (int, error)             { return len(p), nil }
func (*nopStream) End()                                      {}

func newSession(t *testing.T, lync2013 bool) *signaling.Session {
	conf, err := config.NewConfig("")
	require.NoError(t, err)
	conf.SelfURI = "sip:alice@example.com"
	conf.Lync2013 = lync2013

	sess, err := signaling.NewSession(signaling.SessionParams{
		Config:    conf,
		Log:       logging.NewNop(),
		Transport: nopTransport{},
		Driver:    nopDriver{},
	})
	require.NoError(t, err)
	return sess
}

func TestAVFocusURI(t *testing.T) {
	uri, ok := AVFocusURI("sip:org@example.com;gruu;opaque=app:conf:focus:id:abc")
	require.True(t, ok)
	require.Equal(t, "sip:org@example.com;gruu;opaque=app:conf:audio-video:id:abc", uri)

	_, ok = AVFocusURI("sip:bob@example.com")
	require.False(t, ok)
}

func TestICEVersionFollowsServerProfile(t *testing.T) {
	require.Equal(t, sdp.ICERFC5245, ICEVersionFor(true))
	require.Equal(t, sdp.ICEDraft6, ICEVersionFor(false))
}

func TestJoinLync2013(t *testing.T) {
	sess := newSession(t, true)

	c, err := Join(sess, "sip:org@example.com;gruu;opaque=app:conf:focus:id:abc", true)
	require.NoError(t, err)
	require.Equal(t, "sip:org@example.com;gruu;opaque=app:conf:audio-video:id:abc", c.RemoteURI)
	require.Equal(t, sdp.ICERFC5245, c.ICEVersion)
	require.NotNil(t, c.Stream("audio"))
	require.Nil(t, c.Stream("video"))
	require.True(t, c.IsConference())
}

func TestJoinLegacyServerUsesDraft6(t *testing.T) {
	sess := newSession(t, false)

	c, err := Join(sess, "sip:org@example.com;gruu;opaque=app:conf:focus:id:abc", true)
	require.NoError(t, err)
	require.Equal(t, sdp.ICEDraft6, c.ICEVersion)
}

func TestJoinRefusedWithoutAVSupport(t *testing.T) {
	sess := newSession(t, true)

	_, err := Join(sess, "sip:org@example.com;gruu;opaque=app:conf:focus:id:abc", false)
	require.ErrorIs(t, err, errors.ErrConferenceUnsupported)
	require.Equal(t, 0, sess.Registry().Len())
}
