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

// Package errors holds the small error taxonomy used across mediacall:
// sentinel errors for config/registry problems, a SIP status error that
// carries the response code a call was rejected with, and a thin SDP-parse
// error wrapper so callers can tell "the peer sent garbage" apart from
// "we failed to build our own answer".
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConfig is returned when a session is started without a Config.
	ErrNoConfig = errors.New("mediacall: missing config")
	// ErrCallExists is returned when a Call-ID is already present in a Registry.
	ErrCallExists = errors.New("mediacall: call already registered")
	// ErrCallNotFound is returned when a Call-ID has no matching registry entry.
	ErrCallNotFound = errors.New("mediacall: call not found")
	// ErrStreamExists is returned when a stream id is already present on a call.
	ErrStreamExists = errors.New("mediacall: stream already exists")
	// ErrAudioCallActive is returned when a second call is attempted while an
	// existing call already has an audio stream.
	ErrAudioCallActive = errors.New("mediacall: an audio call is already active")
	// ErrNoCommonCodec is returned when the media engine rejects every codec
	// offered for a stream.
	ErrNoCommonCodec = errors.New("mediacall: no common codec")
	// ErrConferenceUnsupported is returned when a conference focus does not
	// advertise audio-video support.
	ErrConferenceUnsupported = errors.New("mediacall: conference calls are not supported on this server")
)

// ErrNotAConference flags a session id with no conference focus in it.
func ErrNotAConference(id string) error {
	return fmt.Errorf("mediacall: %q does not name a conference focus", id)
}

// ErrCouldNotParseConfig wraps a YAML decode failure from pkg/config.
func ErrCouldNotParseConfig(err error) error {
	return fmt.Errorf("mediacall: could not parse config: %w", err)
}

// ErrInvalidSelfURI wraps a failure to parse the account's own SIP URI.
func ErrInvalidSelfURI(err error) error {
	return fmt.Errorf("mediacall: invalid self uri: %w", err)
}

// ErrUnknownMediaType flags a stream id with no media type mapping.
func ErrUnknownMediaType(id string) error {
	return fmt.Errorf("mediacall: unknown media type for stream %q", id)
}

// ErrCreateStream wraps a media engine stream creation failure.
func ErrCreateStream(id string, err error) error {
	return fmt.Errorf("mediacall: could not create stream %q: %w", id, err)
}

// StatusError is a SIP final-response status this module sent, or that a
// peer sent to us, carrying a short user-facing title plus the longer
// detail/diagnostic text.
type StatusError struct {
	StatusCode int
	Reason     string
	Title      string
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("sip status %d %s: %s", e.StatusCode, e.Reason, e.Detail)
	}
	return fmt.Sprintf("sip status %d %s", e.StatusCode, e.Reason)
}

// SDPError wraps a failure to parse or apply an inbound SDP body.
type SDPError struct {
	Err error
}

func (e SDPError) Error() string { return "invalid sdp: " + e.Err.Error() }
func (e SDPError) Unwrap() error { return e.Err }

// EncryptionError marks a call as rejected for encryption-policy
// incompatibility.
type EncryptionError struct {
	// Inbound is true when we are the ones sending the 488, false when the
	// peer sent it to us.
	Inbound bool
}

func (e *EncryptionError) Error() string {
	return "encryption levels not compatible"
}
