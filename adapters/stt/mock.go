package stt

import (
	"context"

	"go.uber.org/zap"

	"github.com/lumenkb/voicebridge/domain/repositories"
)

// MockRecognizer is a placeholder recognizer used when no Google Cloud
// credentials are configured. It transcribes by sample count, which is
// enough to exercise the full voice path end to end.
type MockRecognizer struct {
	logger *zap.Logger
}

var _ repositories.SpeechRecognizer = (*MockRecognizer)(nil)

// NewMockRecognizer creates a mock recognizer.
func NewMockRecognizer(logger *zap.Logger) *MockRecognizer {
	return &MockRecognizer{logger: logger}
}

// OpenStream creates a new mock recognition session.
func (m *MockRecognizer) OpenStream(ctx context.Context, config repositories.AudioConfig) (repositories.RecognitionStream, error) {
	m.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("language", config.Language))
	return &mockStream{logger: m.logger}, nil
}

type mockStream struct {
	logger  *zap.Logger
	samples int
}

func (m *mockStream) Send(samples []int16) error {
	m.samples += len(samples)
	return nil
}

func (m *mockStream) Close() (string, error) {
	m.logger.Info("Ending mock transcription stream", zap.Int("samples", m.samples))

	// Scale the canned transcript with the capture length.
	switch {
	case m.samples == 0:
		return "", nil
	case m.samples > 48000:
		return "Can you summarize the latest quarterly report for me?", nil
	case m.samples > 16000:
		return "Search my documents for the quarterly report.", nil
	default:
		return "Hello.", nil
	}
}
