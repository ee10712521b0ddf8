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
	"encoding/binary"
	"io"
)

// Frame layout on the data stream: one type byte, a big-endian 16-bit
// payload length, then the payload.
const (
	frameTypeData  byte = 0x00
	frameTypeStart byte = 0x01
	frameTypeEnd   byte = 0x02
)

// chunkSize bounds the payload of one data frame.
const chunkSize = 1024

func writeFrame(w io.Writer, typ byte, payload []byte) error {
	var hdr [3]byte
	hdr[0] = typ
	binary.BigEndian.PutUint16(hdr[1:], uint16(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// frameDecoder incrementally decodes frames from a stream that yields
// bytes in arbitrary pieces. Feed it via next; it reports one event per
// completed header or payload piece.
type frameDecoder struct {
	hdr    [3]byte
	hdrLen int

	frameType byte
	remaining int
	ctrl      []byte
}

// frameEvent is one decoded piece: either Data bytes of a data frame, or
// the complete control payload of a start/end frame.
type frameEvent struct {
	Type byte
	// Data is a piece of a data frame's payload, possibly partial.
	Data []byte
	// Control is the full payload of a start or end frame.
	Control []byte
	// Done marks the end of the current frame.
	Done bool
}

// next reads from r and produces the next event. A false second return
// means no more bytes are available right now.
func (d *frameDecoder) next(r io.Reader) (frameEvent, bool) {
	for d.remaining == 0 {
		n, _ := r.Read(d.hdr[d.hdrLen:])
		if n == 0 {
			return frameEvent{}, false
		}
		d.hdrLen += n
		if d.hdrLen < len(d.hdr) {
			continue
		}
		d.hdrLen = 0
		d.frameType = d.hdr[0]
		d.remaining = int(binary.BigEndian.Uint16(d.hdr[1:]))
		if d.remaining == 0 {
			return frameEvent{Type: d.frameType, Done: true}, true
		}
	}

	buf := make([]byte, min(d.remaining, 2*chunkSize))
	n, _ := r.Read(buf)
	if n == 0 {
		return frameEvent{}, false
	}
	d.remaining -= n

	if d.frameType == frameTypeData {
		return frameEvent{Type: frameTypeData, Data: buf[:n], Done: d.remaining == 0}, true
	}

	d.ctrl = append(d.ctrl, buf[:n]...)
	if d.remaining > 0 {
		return frameEvent{Type: d.frameType}, true
	}
	ctrl := d.ctrl
	d.ctrl = nil
	return frameEvent{Type: d.frameType, Control: ctrl, Done: true}, true
}
