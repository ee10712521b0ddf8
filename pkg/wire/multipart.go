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

package wire

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"
)

// MultipartBoundary is the fixed boundary Lync-family clients put on
// multipart INVITE bodies. Servers key on the surrounding content type,
// not the boundary value, so a constant matches deployed client
// behaviour.
const MultipartBoundary = "----=_NextPart_000_001E_01CB4397.0B5EB570"

// Part is one MIME part of a multipart SIP body.
type Part struct {
	ContentType string
	// ExtraHeaders are additional part headers such as
	// Content-Disposition, emitted in order.
	ExtraHeaders [][2]string
	Body         []byte
}

// BuildMultipart assembles parts into a multipart body using
// MultipartBoundary. The matching Content-Type header value is returned
// alongside the body.
func BuildMultipart(mediaType string, parts []Part) (contentType string, body []byte) {
	var buf bytes.Buffer
	for _, p := range parts {
		fmt.Fprintf(&buf, "--%s\r\n", MultipartBoundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", p.ContentType)
		for _, h := range p.ExtraHeaders {
			fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
		}
		buf.WriteString("\r\n")
		buf.Write(p.Body)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", MultipartBoundary)

	contentType = fmt.Sprintf("%s;boundary=%q", mediaType, MultipartBoundary)
	return contentType, buf.Bytes()
}

// ParseMultipart splits a multipart body according to the boundary in the
// given Content-Type value. Returns nil and no error when the content
// type is not multipart.
func ParseMultipart(contentType string, body []byte) ([]Part, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, nil
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("multipart body without boundary")
	}

	var parts []Part
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, Part{
			ContentType: p.Header.Get("Content-Type"),
			Body:        data,
		})
	}
	return parts, nil
}

// FindPart returns the first part whose content type has the given
// prefix, or nil.
func FindPart(parts []Part, contentTypePrefix string) *Part {
	for i := range parts {
		if strings.HasPrefix(parts[i].ContentType, contentTypePrefix) {
			return &parts[i]
		}
	}
	return nil
}
