package repositories

import "context"

// SpeechSynthesizer abstracts text-to-speech services.
type SpeechSynthesizer interface {
	// Synthesize converts text to audio, returning the complete buffer.
	// Text longer than the provider's per-request budget is split and
	// the decoded audio concatenated in order.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// SynthesizeStream converts text to audio incrementally. Chunks are
	// delivered in arrival order; the channel closes when synthesis
	// completes or the context is cancelled.
	SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error)

	// SampleRate reports the sample rate of the produced PCM audio.
	SampleRate() int
}
