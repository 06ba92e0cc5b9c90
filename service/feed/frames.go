package feed

import (
	"encoding/json"
	"fmt"

	"PPNotify/module/feed/model"
)

type FrameType string

const (
	FrameLogin           FrameType = "LOGIN"
	FrameFollow          FrameType = "FOLLOW"
	FrameSend            FrameType = "SEND"
	FrameNotification    FrameType = "NOTIFICATION"
	FrameSessionOpened   FrameType = "SESSION_OPENED"
	FrameSessionRejected FrameType = "SESSION_REJECTED"
)

// Frame is the JSON packet exchanged over the websocket in both directions.
type Frame struct {
	Type      FrameType `json:"type"`
	Seqn      uint32    `json:"seqn,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Author    string    `json:"author,omitempty"`
	ID        uint32    `json:"id"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	return f, nil
}

// ---- server replies ----

func BuildNotification(n model.Notification) *Frame {
	return &Frame{
		Type:      FrameNotification,
		Timestamp: n.Timestamp,
		Payload:   n.Body,
		Author:    n.Author,
		ID:        n.ID,
	}
}

func BuildSessionOpened(user, sessionID string) *Frame {
	return &Frame{Type: FrameSessionOpened, Author: user, Payload: sessionID}
}

func BuildSessionRejected(reason string) *Frame {
	return &Frame{Type: FrameSessionRejected, Payload: reason}
}
