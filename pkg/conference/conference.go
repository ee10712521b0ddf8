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

// Package conference joins audio-video conference calls: it derives the
// A/V focus URI from a chat session's focus URI and picks the ICE
// dialect the server profile requires.
package conference

import (
	"strings"

	"github.com/sipe-go/mediacall/pkg/call"
	"github.com/sipe-go/mediacall/pkg/errors"
	"github.com/sipe-go/mediacall/pkg/sdp"
	"github.com/sipe-go/mediacall/pkg/signaling"
)

const (
	focusPrefix = "app:conf:focus:"
	avPrefix    = "app:conf:audio-video:"
)

// AVFocusURI derives the audio-video focus URI from a conference focus
// URI. The second return is false when the id does not name a focus.
func AVFocusURI(focusURI string) (string, bool) {
	if !strings.Contains(focusURI, focusPrefix) {
		return "", false
	}
	return strings.Replace(focusURI, focusPrefix, avPrefix, 1), true
}

// ICEVersionFor picks the ICE dialect by server profile: Lync 2013
// conference servers speak the current dialect, everything older the
// legacy one.
func ICEVersionFor(lync2013 bool) sdp.ICEVersion {
	if lync2013 {
		return sdp.ICERFC5245
	}
	return sdp.ICEDraft6
}

// Join places the audio call to a conference's A/V focus.
// avSupported reflects whether the focus advertised an audio-video MCU;
// without it the join is refused before any SIP traffic.
func Join(sess *signaling.Session, focusURI string, avSupported bool) (*call.Call, error) {
	if !avSupported {
		return nil, errors.ErrConferenceUnsupported
	}
	avURI, ok := AVFocusURI(focusURI)
	if !ok {
		return nil, errors.ErrNotAConference(focusURI)
	}
	ice := ICEVersionFor(sess.Config().Lync2013)
	return sess.InitiateCallICE(avURI, ice, false)
}
