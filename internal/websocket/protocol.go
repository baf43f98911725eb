package websocket

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/lumenkb/voicebridge/domain/entities"
)

// MessageType defines the type of WebSocket control message
type MessageType string

// Client → server message types
const (
	MessageTypeStart   MessageType = "start"
	MessageTypeStop    MessageType = "stop"
	MessageTypeBargeIn MessageType = "barge_in"
	MessageTypeText    MessageType = "text"
)

// Server → client message types
const (
	MessageTypeState            MessageType = "state"
	MessageTypeASRPartial       MessageType = "asr_partial"
	MessageTypeASRFinal         MessageType = "asr_final"
	MessageTypeAgentTextPartial MessageType = "agent_text_partial"
	MessageTypeAgentTextFinal   MessageType = "agent_text_final"
	MessageTypeError            MessageType = "error"
	MessageTypeConfig           MessageType = "config"
	MessageTypeUIEffect         MessageType = "ui_effect"
	MessageTypeStateSync        MessageType = "state_sync"
)

// ClientMessage is the tagged union of inbound control messages. Binary
// frames carry audio and never appear here.
type ClientMessage struct {
	Type MessageType `json:"type"`

	// Text carries the query for "text" messages.
	Text string `json:"text,omitempty"`

	// SampleRate optionally declares the client's capture rate on "start".
	SampleRate int `json:"sampleRate,omitempty"`
}

// ParseClientMessage decodes an inbound control message. A missing or
// empty type field is an error; unknown type values are returned as-is so
// the caller can ignore them without treating version skew as a failure.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message missing type field")
	}
	return &msg, nil
}

// StateMessage announces a session state change.
type StateMessage struct {
	Type  MessageType           `json:"type"`
	State entities.SessionState `json:"state"`
}

// TranscriptMessage carries recognized speech, partial or final.
type TranscriptMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// AgentTextMessage carries the agent's response text. Partials are
// cumulative: each one contains the full text emitted so far.
type AgentTextMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// ErrorMessage surfaces a session-scoped failure.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ConfigMessage tells the client both audio rates after the handshake.
type ConfigMessage struct {
	Type            MessageType `json:"type"`
	TTSSampleRate   int         `json:"ttsSampleRate"`
	InputSampleRate int         `json:"inputSampleRate"`
}

// UIEffectMessage relays a tool's client-visible side effect.
type UIEffectMessage struct {
	Type   MessageType       `json:"type"`
	Effect entities.UIEffect `json:"effect"`
}

func NewStateMessage(state entities.SessionState) StateMessage {
	return StateMessage{Type: MessageTypeState, State: state}
}

func NewTranscriptMessage(text string, final bool) TranscriptMessage {
	msgType := MessageTypeASRPartial
	if final {
		msgType = MessageTypeASRFinal
	}
	return TranscriptMessage{Type: msgType, Text: text}
}

func NewAgentTextMessage(text string, final bool) AgentTextMessage {
	msgType := MessageTypeAgentTextPartial
	if final {
		msgType = MessageTypeAgentTextFinal
	}
	return AgentTextMessage{Type: msgType, Text: text}
}

func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: MessageTypeError, Message: message}
}

func NewConfigMessage(ttsRate, inputRate int) ConfigMessage {
	return ConfigMessage{Type: MessageTypeConfig, TTSSampleRate: ttsRate, InputSampleRate: inputRate}
}

func NewUIEffectMessage(effect entities.UIEffect) UIEffectMessage {
	return UIEffectMessage{Type: MessageTypeUIEffect, Effect: effect}
}

// StateSyncMessage relays provider-specific state emitted by the pipeline.
type StateSyncMessage struct {
	Type  MessageType    `json:"type"`
	State map[string]any `json:"state"`
}

func NewStateSyncMessage(state map[string]any) StateSyncMessage {
	return StateSyncMessage{Type: MessageTypeStateSync, State: state}
}

// EncodePCM16 converts normalized float32 samples to little-endian signed
// 16-bit PCM. Samples are clamped to [-1, 1] before scaling so that
// out-of-range pipeline output cannot wrap around.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 interprets a binary frame as little-endian signed 16-bit
// PCM samples. Frames must contain whole samples.
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm frame has odd length %d", len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}
