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
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// limitedReader hands out at most chunk bytes per Read call, exercising
// the decoder against arbitrary segmentation.
type limitedReader struct {
	r     io.Reader
	chunk int
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if len(p) > l.chunk {
		p = p[:l.chunk]
	}
	n, err := l.r.Read(p)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func TestFrameRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 2048)

	var wire bytes.Buffer
	require.NoError(t, writeFrame(&wire, frameTypeStart, []byte("17")))
	require.NoError(t, writeFrame(&wire, frameTypeData, payload[:chunkSize]))
	require.NoError(t, writeFrame(&wire, frameTypeData, payload[chunkSize:]))
	require.NoError(t, writeFrame(&wire, frameTypeEnd, []byte("17")))

	for _, chunk := range []int{1, 3, 7, 512, 4096} {
		src := &limitedReader{r: bytes.NewReader(wire.Bytes()), chunk: chunk}
		var dec frameDecoder
		var got bytes.Buffer
		var startID, endID string

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

		require.Equal(t, payload, got.Bytes(), "chunk=%d", chunk)
		require.Equal(t, "17", startID, "chunk=%d", chunk)
		require.Equal(t, "17", endID, "chunk=%d", chunk)
	}
}

func TestFrameHeaderLength(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, writeFrame(&wire, frameTypeData, []byte("abc")))
	b := wire.Bytes()
	require.Equal(t, byte(0x00), b[0])
	require.Equal(t, byte(0x00), b[1])
	require.Equal(t, byte(0x03), b[2])
	require.Equal(t, []byte("abc"), b[3:])
}

func TestParseControlDistinguishesMessages(t *testing.T) {
	msg, err := parseControl([]byte(`<request xmlns="` + ftNamespace + `" requestId="3"><downloadFile><fileInfo><id>x</id><name>f</name></fileInfo></downloadFile></request>`))
	require.NoError(t, err)
	req, ok := msg.(*ftRequest)
	require.True(t, ok)
	require.EqualValues(t, 3, req.RequestID)
	require.NotNil(t, req.DownloadFile)
	require.Nil(t, req.PublishFile)

	msg, err = parseControl([]byte(`<response xmlns="` + ftNamespace + `" requestId="3" code="failure" reason="requestCancelled"/>`))
	require.NoError(t, err)
	resp, ok := msg.(*ftResponse)
	require.True(t, ok)
	require.Equal(t, codeFailure, resp.Code)
	require.Equal(t, reasonRequestCancelled, resp.Reason)

	msg, err = parseControl([]byte(`<notify xmlns="` + ftNamespace + `" notifyId="9"><fileTransferProgress><transferId>3</transferId><bytesReceived><from>0</from><to>2047</to></bytesReceived></fileTransferProgress></notify>`))
	require.NoError(t, err)
	n, ok := msg.(*ftNotify)
	require.True(t, ok)
	require.NotNil(t, n.Progress)
	require.EqualValues(t, 2047, n.Progress.BytesReceived.To)

	_, err = parseControl([]byte(`<bogus/>`))
	require.Error(t, err)
}
