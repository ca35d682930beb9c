// Package ipc is the local control socket: one JSON request line in, one
// JSON response line out.
package ipc

// Local commands served by the daemon.
const (
	CommandStatus    = "status"
	CommandStart     = "start"
	CommandStop      = "stop"
	CommandCapture   = "capture"
	CommandClipboard = "clipboard"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}
