package websocket

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/lumenkb/voicebridge/domain/entities"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MessageType
		wantErr bool
	}{
		{"start", `{"type":"start"}`, MessageTypeStart, false},
		{"start with rate", `{"type":"start","sampleRate":44100}`, MessageTypeStart, false},
		{"stop", `{"type":"stop"}`, MessageTypeStop, false},
		{"barge in", `{"type":"barge_in"}`, MessageTypeBargeIn, false},
		{"text", `{"type":"text","text":"What is the SLA?"}`, MessageTypeText, false},
		{"unknown type passes through", `{"type":"vendor_extension"}`, MessageType("vendor_extension"), false},
		{"invalid json", `{not json}`, "", true},
		{"missing type", `{"text":"hello"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Error("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.Type != tt.want {
				t.Errorf("expected type %q, got %q", tt.want, msg.Type)
			}
		})
	}
}

func TestParseClientMessage_Fields(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"start","sampleRate":48000}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.SampleRate != 48000 {
		t.Errorf("expected sampleRate 48000, got %d", msg.SampleRate)
	}

	msg, err = ParseClientMessage([]byte(`{"type":"text","text":"hello"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Text != "hello" {
		t.Errorf("expected text %q, got %q", "hello", msg.Text)
	}
}

func TestServerMessageEncoding(t *testing.T) {
	roundTrip := func(t *testing.T, v interface{}) map[string]interface{} {
		t.Helper()
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		var out map[string]interface{}
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		return out
	}

	t.Run("state", func(t *testing.T) {
		out := roundTrip(t, NewStateMessage(entities.SessionStateListening))
		if out["type"] != "state" || out["state"] != "listening" {
			t.Errorf("unexpected encoding: %v", out)
		}
	})

	t.Run("transcript partial and final", func(t *testing.T) {
		out := roundTrip(t, NewTranscriptMessage("hel", false))
		if out["type"] != "asr_partial" {
			t.Errorf("expected asr_partial, got %v", out["type"])
		}
		out = roundTrip(t, NewTranscriptMessage("hello", true))
		if out["type"] != "asr_final" || out["text"] != "hello" {
			t.Errorf("unexpected encoding: %v", out)
		}
	})

	t.Run("agent text partial and final", func(t *testing.T) {
		out := roundTrip(t, NewAgentTextMessage("The SLA is", false))
		if out["type"] != "agent_text_partial" {
			t.Errorf("expected agent_text_partial, got %v", out["type"])
		}
		out = roundTrip(t, NewAgentTextMessage("The SLA is 99.9%.", true))
		if out["type"] != "agent_text_final" {
			t.Errorf("expected agent_text_final, got %v", out["type"])
		}
	})

	t.Run("config carries both rates", func(t *testing.T) {
		out := roundTrip(t, NewConfigMessage(24000, 16000))
		if out["ttsSampleRate"] != float64(24000) || out["inputSampleRate"] != float64(16000) {
			t.Errorf("unexpected encoding: %v", out)
		}
	})

	t.Run("error", func(t *testing.T) {
		out := roundTrip(t, NewErrorMessage("pipeline failed"))
		if out["type"] != "error" || out["message"] != "pipeline failed" {
			t.Errorf("unexpected encoding: %v", out)
		}
	})

	t.Run("ui effect", func(t *testing.T) {
		out := roundTrip(t, NewUIEffectMessage(entities.UIEffect{
			Kind:   entities.UIEffectOpenDocument,
			Target: "doc-1",
		}))
		if out["type"] != "ui_effect" {
			t.Errorf("expected ui_effect, got %v", out["type"])
		}
	})
}

func TestEncodePCM16(t *testing.T) {
	t.Run("scaling and rounding", func(t *testing.T) {
		data := EncodePCM16([]float32{0, 0.5, -0.5, 1, -1})
		samples, err := DecodePCM16(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		want := []int16{0, 16384, -16384, 32767, -32767}
		for i, w := range want {
			if samples[i] != w {
				t.Errorf("sample %d: expected %d, got %d", i, w, samples[i])
			}
		}
	})

	t.Run("clamps out of range input", func(t *testing.T) {
		data := EncodePCM16([]float32{2.5, -3.0})
		samples, err := DecodePCM16(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if samples[0] != 32767 || samples[1] != -32767 {
			t.Errorf("expected clamped samples, got %v", samples)
		}
	})

	t.Run("rounds to nearest", func(t *testing.T) {
		// 0.00005 * 32767 = 1.63835, rounds to 2
		data := EncodePCM16([]float32{0.00005})
		samples, _ := DecodePCM16(data)
		expected := int16(math.Round(0.00005 * 32767))
		if samples[0] != expected {
			t.Errorf("expected %d, got %d", expected, samples[0])
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if data := EncodePCM16(nil); len(data) != 0 {
			t.Errorf("expected empty output, got %d bytes", len(data))
		}
	})
}

func TestDecodePCM16(t *testing.T) {
	t.Run("little endian", func(t *testing.T) {
		samples, err := DecodePCM16([]byte{0x01, 0x00, 0xFF, 0x7F, 0x00, 0x80})
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		want := []int16{1, 32767, -32768}
		for i, w := range want {
			if samples[i] != w {
				t.Errorf("sample %d: expected %d, got %d", i, w, samples[i])
			}
		}
	})

	t.Run("odd length rejected", func(t *testing.T) {
		if _, err := DecodePCM16([]byte{0x01, 0x00, 0xFF}); err == nil {
			t.Error("expected error for odd-length frame")
		}
	})
}
