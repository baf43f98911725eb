package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumenkb/voicebridge/domain/repositories"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"   // Rachel voice
	defaultOutputFormat = "pcm_24000"              // PCM format for real-time applications
	defaultModelID      = "eleven_multilingual_v2" // Default model ID
	defaultStability    = 0.5                      // Default voice stability
	defaultClarity      = 0.75                     // Default voice clarity/similarity_boost

	// defaultCharBudget is the per-request character limit; longer text is
	// split at sentence boundaries and synthesized as multiple requests.
	defaultCharBudget = 2400

	// Retry policy for 429/5xx responses: baseDelay doubles per attempt,
	// up to maxRetries retries (maxRetries+1 total attempts).
	defaultMaxRetries = 3
	defaultRetryDelay = 250 * time.Millisecond
)

// RetriesDisabled configures synthesis to fail on the first retryable error
// instead of backing off. The zero value of MaxRetries means "use default".
const RetriesDisabled = -1

// ElevenLabsConfig holds configuration for the ElevenLabs synthesizer.
// Required fields:
// - APIKey: Your ElevenLabs API key
// Optional fields fall back to the defaults above.
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	OutputFormat string
	CharBudget   int
	MaxRetries   int
	RetryDelay   time.Duration
	Stability    float64
	Clarity      float64
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}
	if config.Stability != 0 && (config.Stability < 0 || config.Stability > 1) {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}
	if config.Clarity != 0 && (config.Clarity < 0 || config.Clarity > 1) {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}
	if config.CharBudget < 0 {
		return fmt.Errorf("char budget must be positive, got %d", config.CharBudget)
	}
	if config.MaxRetries < RetriesDisabled {
		return fmt.Errorf("max retries must be RetriesDisabled or non-negative, got %d", config.MaxRetries)
	}
	return nil
}

// NewElevenLabsConfigFromEnv creates an ElevenLabsConfig from environment
// variables.
func NewElevenLabsConfigFromEnv() ElevenLabsConfig {
	config := ElevenLabsConfig{
		APIKey:       os.Getenv("ELEVEN_LABS_API_KEY"),
		APIBaseURL:   os.Getenv("ELEVEN_LABS_API_BASE_URL"),
		VoiceID:      os.Getenv("ELEVEN_LABS_VOICE_ID"),
		ModelID:      os.Getenv("ELEVEN_LABS_MODEL_ID"),
		OutputFormat: os.Getenv("ELEVEN_LABS_OUTPUT_FORMAT"),
	}

	if budgetStr := os.Getenv("ELEVEN_LABS_CHAR_BUDGET"); budgetStr != "" {
		if budget, err := strconv.Atoi(budgetStr); err == nil && budget > 0 {
			config.CharBudget = budget
		}
	}
	if stabilityStr := os.Getenv("ELEVEN_LABS_STABILITY"); stabilityStr != "" {
		if stability, err := strconv.ParseFloat(stabilityStr, 64); err == nil && stability >= 0 && stability <= 1 {
			config.Stability = stability
		}
	}
	if clarityStr := os.Getenv("ELEVEN_LABS_CLARITY"); clarityStr != "" {
		if clarity, err := strconv.ParseFloat(clarityStr, 64); err == nil && clarity >= 0 && clarity <= 1 {
			config.Clarity = clarity
		}
	}

	return config
}

// ElevenLabsTTS implements SpeechSynthesizer using the ElevenLabs API.
type ElevenLabsTTS struct {
	apiKey       string
	apiBaseURL   string
	voiceID      string
	modelID      string
	outputFormat string
	charBudget   int
	maxRetries   int
	retryDelay   time.Duration
	stability    float64
	clarity      float64
	client       *http.Client
	logger       *zap.Logger
}

// Ensure ElevenLabsTTS implements the SpeechSynthesizer interface
var _ repositories.SpeechSynthesizer = (*ElevenLabsTTS)(nil)

// elevenLabsVoiceSettings represents voice settings for the ElevenLabs API
type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// elevenLabsRequest represents the request payload for the ElevenLabs API
type elevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	VoiceSettings          elevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

// streamRecord is one newline-delimited JSON record of the streaming
// endpoint; only the audio payload is consumed.
type streamRecord struct {
	AudioBase64 string `json:"audio_base64"`
}

// NewElevenLabsTTS creates a new ElevenLabs synthesizer instance.
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	voiceID := config.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	modelID := config.ModelID
	if modelID == "" {
		modelID = defaultModelID
	}
	outputFormat := config.OutputFormat
	if outputFormat == "" {
		outputFormat = defaultOutputFormat
	}
	charBudget := config.CharBudget
	if charBudget == 0 {
		charBudget = defaultCharBudget
	}
	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	} else if maxRetries == RetriesDisabled {
		maxRetries = 0
	}
	retryDelay := config.RetryDelay
	if retryDelay == 0 {
		retryDelay = defaultRetryDelay
	}
	stability := config.Stability
	if stability == 0 {
		stability = defaultStability
	}
	clarity := config.Clarity
	if clarity == 0 {
		clarity = defaultClarity
	}

	return &ElevenLabsTTS{
		apiKey:       config.APIKey,
		apiBaseURL:   apiBaseURL,
		voiceID:      voiceID,
		modelID:      modelID,
		outputFormat: outputFormat,
		charBudget:   charBudget,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
		stability:    stability,
		clarity:      clarity,
		client:       &http.Client{Timeout: 60 * time.Second},
		logger:       logger,
	}, nil
}

// SampleRate reports the PCM sample rate of the configured output format.
func (e *ElevenLabsTTS) SampleRate() int {
	parts := strings.Split(e.outputFormat, "_")
	if len(parts) >= 2 {
		if rate, err := strconv.Atoi(parts[1]); err == nil {
			return rate
		}
	}
	return 24000
}

// Synthesize converts text to audio, returning the complete buffer. Text
// longer than the per-request character budget is split at sentence
// boundaries and the decoded audio is concatenated in request order.
func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	chunks := SplitText(text, e.charBudget)
	e.logger.Debug("Synthesizing text",
		zap.Int("chars", len(text)),
		zap.Int("requests", len(chunks)))

	var audio []byte
	for i, chunk := range chunks {
		part, err := e.synthesizeChunk(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("synthesis request %d/%d: %w", i+1, len(chunks), err)
		}
		audio = append(audio, part...)
	}
	return audio, nil
}

// SynthesizeStream converts text to audio incrementally. The streaming
// endpoint returns newline-delimited JSON records; each record yields one
// audio chunk on the returned channel in arrival order.
func (e *ElevenLabsTTS) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	chunks := SplitText(text, e.charBudget)

	// Open the first request synchronously so that terminal failures
	// (including an exhausted retry budget) surface to the caller.
	first, err := e.doWithRetry(ctx, e.streamURL(), chunks[0])
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 10)
	go func() {
		defer close(out)
		if err := e.decodeStream(ctx, first.Body, out); err != nil {
			first.Body.Close()
			e.logger.Error("Streaming synthesis failed",
				zap.Int("request", 1),
				zap.Int("requests", len(chunks)),
				zap.Error(err))
			return
		}
		first.Body.Close()

		for i, chunk := range chunks[1:] {
			if err := e.streamChunk(ctx, chunk, out); err != nil {
				e.logger.Error("Streaming synthesis failed",
					zap.Int("request", i+2),
					zap.Int("requests", len(chunks)),
					zap.Error(err))
				return
			}
		}
	}()

	return out, nil
}

// synthesizeChunk performs one bounded-retry request for a single chunk.
func (e *ElevenLabsTTS) synthesizeChunk(ctx context.Context, text string) ([]byte, error) {
	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s&enable_logging=false",
		e.apiBaseURL, e.voiceID, e.outputFormat)

	resp, err := e.doWithRetry(ctx, url, text)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return audio, nil
}

func (e *ElevenLabsTTS) streamURL() string {
	return fmt.Sprintf("%s/text-to-speech/%s/stream/with-timestamps?output_format=%s&enable_logging=false",
		e.apiBaseURL, e.voiceID, e.outputFormat)
}

// streamChunk performs one streaming request and decodes its records.
func (e *ElevenLabsTTS) streamChunk(ctx context.Context, text string, out chan<- []byte) error {
	resp, err := e.doWithRetry(ctx, e.streamURL(), text)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return e.decodeStream(ctx, resp.Body, out)
}

// decodeStream decodes newline-delimited JSON records onto out. A read may
// end mid-record; partial lines are buffered across reads and the remaining
// buffer content is flushed once the stream completes.
func (e *ElevenLabsTTS) decodeStream(ctx context.Context, body io.Reader, out chan<- []byte) error {
	var dec streamDecoder
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range dec.Feed(buf[:n]) {
				if err := e.emitRecord(ctx, line, out); err != nil {
					return err
				}
			}
		}
		if readErr == io.EOF {
			if rest := dec.Flush(); len(rest) > 0 {
				if err := e.emitRecord(ctx, rest, out); err != nil {
					return err
				}
			}
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to read stream: %w", readErr)
		}
	}
}

// emitRecord decodes one JSON record and delivers its audio chunk.
func (e *ElevenLabsTTS) emitRecord(ctx context.Context, line []byte, out chan<- []byte) error {
	var record streamRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to decode stream record: %w", err)
	}
	if record.AudioBase64 == "" {
		return nil
	}
	audio, err := base64.StdEncoding.DecodeString(record.AudioBase64)
	if err != nil {
		return fmt.Errorf("failed to decode audio payload: %w", err)
	}

	select {
	case out <- audio:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// doWithRetry posts the synthesis request, retrying only retryable
// responses (429 and 5xx) with exponential backoff. Any other failure
// status is terminal and returned immediately; exhausting the retry budget
// returns the last retryable error.
func (e *ElevenLabsTTS) doWithRetry(ctx context.Context, url, text string) (*http.Response, error) {
	requestBody, err := json.Marshal(elevenLabsRequest{
		Text:                   text,
		ModelID:                e.modelID,
		ApplyTextNormalization: "auto",
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       e.stability,
			SimilarityBoost: e.clarity,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.retryDelay * (1 << (attempt - 1))
			e.logger.Warn("Retrying synthesis request",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP request: %w", err)
		}
		acceptHeader := "audio/mpeg"
		if strings.HasPrefix(e.outputFormat, "pcm") {
			acceptHeader = "audio/pcm"
		}
		req.Header.Set("Accept", acceptHeader)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("xi-api-key", e.apiKey)

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to execute HTTP request: %w", err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
	}

	return nil, lastErr
}

// streamDecoder splits a byte stream into newline-delimited records,
// buffering partial lines across read boundaries.
type streamDecoder struct {
	buf []byte
}

// Feed appends data and returns every completed (non-empty) line.
func (d *streamDecoder) Feed(data []byte) [][]byte {
	d.buf = append(d.buf, data...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return lines
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			lines = append(lines, trimmed)
		}
	}
}

// Flush returns any remaining buffered content as a final record.
func (d *streamDecoder) Flush() []byte {
	rest := bytes.TrimSpace(d.buf)
	d.buf = nil
	if len(rest) == 0 {
		return nil
	}
	return rest
}
