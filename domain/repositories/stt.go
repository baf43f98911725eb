package repositories

import "context"

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// SpeechRecognizer abstracts streaming speech recognition services.
type SpeechRecognizer interface {
	// OpenStream initializes a streaming recognition session.
	OpenStream(ctx context.Context, config AudioConfig) (RecognitionStream, error)
}

// RecognitionStream is one in-flight streaming recognition.
type RecognitionStream interface {
	// Send feeds one chunk of PCM16 samples to the recognizer.
	Send(samples []int16) error
	// Close signals end of audio and returns the final transcript.
	// An empty transcript with a nil error means no speech was detected.
	Close() (string, error)
}
