package notify

import "time"

// FrameType names what a pushed frame carries
type FrameType string

const (
	FrameConnected    FrameType = "connected"
	FramePing         FrameType = "ping"
	FrameNotification FrameType = "notification"
	FrameAlert        FrameType = "alert"
)

// Frame is one message pushed to an admin session
type Frame struct {
	Type      FrameType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
