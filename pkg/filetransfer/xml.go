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
	"encoding/xml"
	"fmt"
)

// ContentType identifies the file transfer control messages in INVITE
// parts and INFO bodies.
const ContentType = "application/ms-filetransfer+xml"

const ftNamespace = "http://schemas.microsoft.com/rtc/2009/05/filetransfer"

const (
	codeSuccess = "success"
	codePending = "pending"
	codeFailure = "failure"

	reasonRequestCancelled = "requestCancelled"
)

type fileInfo struct {
	ID   string `xml:"id"`
	Name string `xml:"name"`
	Size uint64 `xml:"size,omitempty"`
}

type publishFile struct {
	FileInfo fileInfo `xml:"fileInfo"`
}

type downloadFile struct {
	FileInfo fileInfo `xml:"fileInfo"`
}

type cancelTransfer struct {
	TransferID uint32   `xml:"transferId"`
	FileInfo   fileInfo `xml:"fileInfo"`
}

type ftRequest struct {
	XMLName   xml.Name `xml:"request"`
	Namespace string   `xml:"xmlns,attr"`
	RequestID uint32   `xml:"requestId,attr"`

	PublishFile    *publishFile    `xml:"publishFile"`
	DownloadFile   *downloadFile   `xml:"downloadFile"`
	CancelTransfer *cancelTransfer `xml:"cancelTransfer"`
}

type ftResponse struct {
	XMLName   xml.Name `xml:"response"`
	Namespace string   `xml:"xmlns,attr"`
	RequestID uint32   `xml:"requestId,attr"`
	Code      string   `xml:"code,attr"`
	Reason    string   `xml:"reason,attr,omitempty"`
}

type bytesReceived struct {
	From uint64 `xml:"from"`
	To   uint64 `xml:"to"`
}

type fileTransferProgress struct {
	TransferID    uint32        `xml:"transferId"`
	BytesReceived bytesReceived `xml:"bytesReceived"`
}

type ftNotify struct {
	XMLName   xml.Name `xml:"notify"`
	Namespace string   `xml:"xmlns,attr"`
	NotifyID  uint32   `xml:"notifyId,attr"`

	Progress *fileTransferProgress `xml:"fileTransferProgress"`
}

func newRequest(requestID uint32) *ftRequest {
	return &ftRequest{Namespace: ftNamespace, RequestID: requestID}
}

func newResponse(requestID uint32, code, reason string) *ftResponse {
	return &ftResponse{
		Namespace: ftNamespace,
		RequestID: requestID,
		Code:      code,
		Reason:    reason,
	}
}

// parseControl decodes a control message body into one of ftRequest,
// ftResponse or ftNotify.
func parseControl(body []byte) (any, error) {
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(body, &probe); err != nil {
		return nil, err
	}
	switch probe.XMLName.Local {
	case "request":
		v := &ftRequest{}
		return v, xml.Unmarshal(body, v)
	case "response":
		v := &ftResponse{}
		return v, xml.Unmarshal(body, v)
	case "notify":
		v := &ftNotify{}
		return v, xml.Unmarshal(body, v)
	}
	return nil, fmt.Errorf("unknown file transfer message %q", probe.XMLName.Local)
}
