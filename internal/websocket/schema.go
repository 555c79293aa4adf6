package websocket

import (
	"github.com/stemsi/exstem-proctor/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSignal  Action = "signal"
	ActionCommand Action = "command"
	ActionCamera  Action = "camera"
	ActionPing    Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action" binding:"required,oneof=signal command camera ping"`
}

// SignalRequest forwards one browser signal. Fullscreen is meaningful for
// fullscreen_change, Hidden for visibility_change, Clipboard for clipboard.
type SignalRequest struct {
	Kind       string `json:"kind" binding:"required,oneof=fullscreen_change window_blur visibility_change clipboard"`
	Fullscreen bool   `json:"fullscreen"`
	Hidden     bool   `json:"hidden"`
	Clipboard  string `json:"clipboard" binding:"omitempty,oneof=copy cut paste"`
}

// CommandRequest is one student command.
type CommandRequest struct {
	Command    session.Action `json:"command" binding:"required,max=32"`
	QuestionID string         `json:"question_id" binding:"max=128"`
	OptionID   string         `json:"option_id" binding:"max=128"`
	Index      int            `json:"index" binding:"gte=0,lte=10000"`
	Note       string         `json:"note" binding:"max=500"`
}

// CameraReply answers a CameraRequest with the same RequestID. Error is
// "denied" or "unavailable" when OK is false. Frame is the JPEG bytes,
// base64 in JSON, for frame requests.
type CameraReply struct {
	RequestID string `json:"request_id" binding:"required,max=64"`
	OK        bool   `json:"ok"`
	Error     string `json:"error" binding:"omitempty,oneof=denied unavailable"`
	Frame     []byte `json:"frame"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSnapshot          Event = "snapshot"
	EventFullscreenRequest Event = "fullscreen_request"
	EventCameraRequest     Event = "camera_request"
	EventClipboardBlocked  Event = "clipboard_blocked"
	EventError             Event = "error"
	EventPong              Event = "pong"
)

// CameraOp names what a camera request asks the browser to do.
type CameraOp string

const (
	CameraOpen  CameraOp = "open"
	CameraFrame CameraOp = "frame"
	CameraClose CameraOp = "close"
)

type SnapshotResponse struct {
	Event Event            `json:"event"`
	Data  session.Snapshot `json:"data"`
}

type CameraRequest struct {
	Event     Event    `json:"event"`
	RequestID string   `json:"request_id"`
	Op        CameraOp `json:"op"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// NoticeResponse is an event without payload.
type NoticeResponse struct {
	Event Event `json:"event"`
}
