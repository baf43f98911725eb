package tts

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/lumenkb/voicebridge/domain/repositories"
)

// MockSynthesizer is a placeholder synthesizer used when no ElevenLabs key
// is configured. It produces a quiet sine tone sized to the text so the
// speaking path stays exercisable end to end.
type MockSynthesizer struct {
	sampleRate int
	logger     *zap.Logger
}

var _ repositories.SpeechSynthesizer = (*MockSynthesizer)(nil)

// NewMockSynthesizer creates a mock producing PCM16 at 24000 Hz.
func NewMockSynthesizer(logger *zap.Logger) *MockSynthesizer {
	return &MockSynthesizer{sampleRate: 24000, logger: logger}
}

func (m *MockSynthesizer) SampleRate() int {
	return m.sampleRate
}

// Synthesize produces roughly 50ms of tone per word.
func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	m.logger.Info("Mock synthesis", zap.Int("chars", len(text)))

	words := 1 + len(text)/6
	samples := words * m.sampleRate / 20
	audio := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(3000 * math.Sin(2*math.Pi*440*float64(i)/float64(m.sampleRate)))
		audio[i*2] = byte(v)
		audio[i*2+1] = byte(v >> 8)
	}
	return audio, nil
}

// SynthesizeStream chunks the synthesized tone into ~100ms frames.
func (m *MockSynthesizer) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	audio, err := m.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 10)
	go func() {
		defer close(out)
		frame := m.sampleRate / 10 * 2
		for start := 0; start < len(audio); start += frame {
			end := start + frame
			if end > len(audio) {
				end = len(audio)
			}
			select {
			case out <- audio[start:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
