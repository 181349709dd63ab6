package remote

import (
	"errors"

	"github.com/arloliu/go-msbridge/acquisition"
)

// FrameType identifies the purpose of a Frame.
type FrameType string

// Frames sent by the client.
const (
	FrameSubmit   FrameType = "submit"
	FrameLastScan FrameType = "last_scan"
	FrameState    FrameType = "state"
)

// Frames sent by the server. Result and error frames carry the ID of the request they answer;
// event frames carry no ID.
const (
	FrameHello          FrameType = "hello"
	FrameSubmitResult   FrameType = "submit_result"
	FrameLastScanResult FrameType = "last_scan_result"
	FrameStateResult    FrameType = "state_result"
	FrameScanArrived    FrameType = "scan_arrived"
	FrameReady          FrameType = "ready"
	FrameError          FrameType = "error"
)

// Error codes carried by error frames.
const (
	CodeInvalidRequest = "invalid_request"
	CodeBadFrame       = "bad_frame"
	CodeInternal       = "internal"
)

// Frame is the JSON message exchanged over the websocket.
type Frame struct {
	Type    FrameType `json:"type"`
	ID      uint32    `json:"id,omitempty"`
	Session string    `json:"session,omitempty"`

	Request *acquisition.CustomScanRequest     `json:"request,omitempty"`
	Result  *acquisition.SubmitResult          `json:"result,omitempty"`
	Scan    *acquisition.ResultScan            `json:"scan,omitempty"`
	State   string                             `json:"state,omitempty"`
	Params  []acquisition.ParameterDescription `json:"params,omitempty"`

	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// IsEvent reports whether the frame is an unsolicited instrument event.
func (f *Frame) IsEvent() bool {
	return f.Type == FrameScanArrived || f.Type == FrameReady
}

func errorFrame(id uint32, err error) *Frame {
	code := CodeInternal
	if errors.Is(err, acquisition.ErrInvalidRequest) {
		code = CodeInvalidRequest
	}

	return &Frame{Type: FrameError, ID: id, Code: code, Error: err.Error()}
}

// frameErr converts an error frame back into an error.
func frameErr(f *Frame) error {
	if f.Code == CodeInvalidRequest {
		return &remoteError{sentinel: acquisition.ErrInvalidRequest, msg: f.Error}
	}

	return &remoteError{sentinel: ErrRemote, msg: f.Error}
}

type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return "remote: " + e.msg }

func (e *remoteError) Unwrap() error { return e.sentinel }
