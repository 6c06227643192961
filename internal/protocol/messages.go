// Package protocol defines the websocket wire messages for turn-based voice
// sessions. One client utterance in, one transcript/reply/audio group out.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTextTurn  MessageType = "client_text_turn"
	TypeClientAudioTurn MessageType = "client_audio_turn"
	TypeClientControl   MessageType = "client_control"
	TypeTranscript      MessageType = "transcript"
	TypeAgentReply      MessageType = "agent_reply"
	TypeAgentAudio      MessageType = "agent_audio"
	TypeSessionEvent    MessageType = "session_event"
	TypeErrorEvent      MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientTextTurn submits one typed utterance for the session.
type ClientTextTurn struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
	TSMs int64       `json:"ts_ms,omitempty"`
}

// ClientAudioTurn submits one complete recorded utterance. The audio is a
// whole clip, not a stream chunk; the server transcribes it as a unit.
type ClientAudioTurn struct {
	Type        MessageType `json:"type"`
	AudioBase64 string      `json:"audio_base64"`
	Filename    string      `json:"filename,omitempty"`
	TSMs        int64       `json:"ts_ms,omitempty"`
}

// ClientControl carries session lifecycle requests, currently only "end".
type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

// Transcript echoes the normalized text the server understood from an audio
// turn, before the reply arrives.
type Transcript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type AgentReply struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
	Text      string      `json:"text"`
}

type AgentAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type SessionEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Event     string      `json:"event"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound websocket frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTextTurn:
		var msg ClientTextTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid client_text_turn")
		}
		return msg, nil
	case TypeClientAudioTurn:
		var msg ClientAudioTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioBase64 == "" {
			return nil, errors.New("invalid client_audio_turn")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
