// Package audio buffers inbound raw audio and normalizes it to the sample
// rate required by the agent pipeline.
package audio

import (
	"errors"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/lumenkb/voicebridge/domain/repositories"
)

// DefaultBuffer is the bounded capacity of the chunk channel between the
// transport reader and the pipeline consumer.
const DefaultBuffer = 64

// ErrStreamEnded is returned by Push after End has been called.
var ErrStreamEnded = errors.New("audio: stream ended")

// Manager accepts raw PCM16 chunks at the client's native rate, resamples
// them to the pipeline's required rate, and exposes them as a finite,
// single-consumer stream. End signals that no further chunks will arrive;
// the consumer observes completion after draining buffered chunks.
type Manager struct {
	requiredRate int
	out          chan repositories.AudioChunk
	logger       *zap.Logger

	mu    sync.Mutex
	ended bool
}

// NewManager creates a manager producing chunks at requiredRate.
func NewManager(requiredRate, buffer int, logger *zap.Logger) *Manager {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Manager{
		requiredRate: requiredRate,
		out:          make(chan repositories.AudioChunk, buffer),
		logger:       logger,
	}
}

// Push accepts one chunk in arrival order, resamples it, and buffers it for
// the consumer. Push blocks when the buffer is full, which applies
// backpressure to the transport reader.
func (m *Manager) Push(samples []int16, sampleRate int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return ErrStreamEnded
	}
	if len(samples) == 0 {
		return nil
	}

	resampled := Resample(samples, sampleRate, m.requiredRate)
	m.out <- repositories.AudioChunk{Samples: resampled, SampleRate: m.requiredRate}
	return nil
}

// Stream returns the lazy chunk sequence. Single consumer only.
func (m *Manager) Stream() <-chan repositories.AudioChunk {
	return m.out
}

// End signals that no further chunks will arrive. Safe to call more than
// once; Push calls after End fail with ErrStreamEnded.
func (m *Manager) End() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true
	close(m.out)
}

// Resample decimates samples from inRate to outRate by keeping every Nth
// sample, N = round(inRate/outRate). This is an intentionally cheap, lossy
// downsample (no anti-aliasing filter) chosen for latency over fidelity.
// Non-integer ratios round to the nearest integer stride.
func Resample(samples []int16, inRate, outRate int) []int16 {
	stride := 1
	if outRate > 0 && inRate > outRate {
		stride = int(math.Round(float64(inRate) / float64(outRate)))
	}
	if stride <= 1 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	out := make([]int16, 0, (len(samples)+stride-1)/stride)
	for i := 0; i < len(samples); i += stride {
		out = append(out, samples[i])
	}
	return out
}
