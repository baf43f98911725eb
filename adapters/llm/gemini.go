package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/lumenkb/voicebridge/domain/entities"
	"github.com/lumenkb/voicebridge/domain/repositories"
)

const (
	defaultModel       = "gemini-2.0-flash"
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048

	defaultSystemPrompt = "You are a voice assistant for a document workspace. " +
		"Answer from the user's documents where possible, using the available tools " +
		"to search, read and open them. Keep answers short enough to speak aloud."
)

// GeminiConfig holds configuration for the Gemini pipeline.
// Required fields:
// - APIKey: Your Google AI API key
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int
	SystemPrompt    string
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}
	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}
	if config.MaxOutputTokens < 0 {
		return fmt.Errorf("max output tokens must be positive, got %d", config.MaxOutputTokens)
	}
	return nil
}

// NewGeminiConfigFromEnv creates a GeminiConfig from environment variables.
func NewGeminiConfigFromEnv() GeminiConfig {
	return GeminiConfig{
		APIKey:       os.Getenv("GEMINI_API_KEY"),
		Model:        os.Getenv("GEMINI_MODEL"),
		SystemPrompt: os.Getenv("GEMINI_SYSTEM_PROMPT"),
	}
}

// ToolCatalog advertises the executable tools to the reasoning stage.
type ToolCatalog interface {
	Declarations() []repositories.ToolDeclaration
}

// GeminiPipeline is the bundled AgentPipeline: Google streaming recognition
// for the audio path, Gemini with function calling for reasoning, and the
// configured synthesizer for spoken replies. Tool calls pause the reasoning
// loop until the bridge feeds the result back.
type GeminiPipeline struct {
	client       *genai.Client
	model        string
	temperature  float32
	maxTokens    int
	systemPrompt string

	recognizer repositories.SpeechRecognizer
	synth      repositories.SpeechSynthesizer
	catalog    ToolCatalog

	logger *zap.Logger
}

var _ repositories.AgentPipeline = (*GeminiPipeline)(nil)

// NewGeminiPipeline creates the pipeline. The recognizer is required for
// audio input; the synthesizer may be nil, which disables spoken replies.
func NewGeminiPipeline(
	config GeminiConfig,
	recognizer repositories.SpeechRecognizer,
	synth repositories.SpeechSynthesizer,
	catalog ToolCatalog,
	logger *zap.Logger,
) (*GeminiPipeline, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultModel
	}
	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := config.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	systemPrompt := config.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	return &GeminiPipeline{
		client:       client,
		model:        model,
		temperature:  temperature,
		maxTokens:    maxTokens,
		systemPrompt: systemPrompt,
		recognizer:   recognizer,
		synth:        synth,
		catalog:      catalog,
		logger:       logger,
	}, nil
}

// Run starts one execution. The returned handle's event channel closes when
// the execution finishes, which is also the join point after Cancel.
func (p *GeminiPipeline) Run(ctx context.Context, input repositories.PipelineInput, sess repositories.SessionContext) (repositories.PipelineExecution, error) {
	if input.Kind == repositories.InputAudio && p.recognizer == nil {
		return nil, fmt.Errorf("audio input requires a speech recognizer")
	}

	exec := newGeminiExecution()
	go p.run(ctx, exec, input, sess)
	return exec, nil
}

func (p *GeminiPipeline) run(ctx context.Context, exec *geminiExecution, input repositories.PipelineInput, sess repositories.SessionContext) {
	defer close(exec.events)

	query := input.Text
	if input.Kind == repositories.InputAudio {
		transcript, err := p.transcribe(ctx, input.Audio)
		if err != nil {
			exec.emit(ctx, repositories.PipelineEvent{Kind: repositories.EventError, Err: err})
			return
		}
		if strings.TrimSpace(transcript) == "" {
			exec.emit(ctx, repositories.PipelineEvent{
				Kind: repositories.EventError,
				Err:  fmt.Errorf("no speech detected"),
			})
			return
		}
		query = transcript
		if !exec.emit(ctx, repositories.PipelineEvent{
			Kind:  repositories.EventTranscript,
			Text:  transcript,
			Final: true,
		}) {
			return
		}
	}

	reply, err := p.reason(ctx, exec, query, sess)
	if err != nil {
		exec.emit(ctx, repositories.PipelineEvent{Kind: repositories.EventError, Err: err})
		return
	}
	if !exec.emit(ctx, repositories.PipelineEvent{Kind: repositories.EventTextFinal, Text: reply}) {
		return
	}

	if p.synth != nil && reply != "" && input.Kind == repositories.InputAudio {
		p.speak(ctx, exec, reply)
	}
}

// transcribe drains the capture through the streaming recognizer.
func (p *GeminiPipeline) transcribe(ctx context.Context, chunks <-chan repositories.AudioChunk) (string, error) {
	var stream repositories.RecognitionStream
	for chunk := range chunks {
		if stream == nil {
			var err error
			stream, err = p.recognizer.OpenStream(ctx, repositories.AudioConfig{
				SampleRate: chunk.SampleRate,
				Encoding:   "LINEAR16",
			})
			if err != nil {
				// Unblock the transport before reporting.
				for range chunks {
				}
				return "", fmt.Errorf("failed to open recognition stream: %w", err)
			}
		}
		if err := stream.Send(chunk.Samples); err != nil {
			for range chunks {
			}
			stream.Close()
			return "", fmt.Errorf("failed to stream audio: %w", err)
		}
	}
	if stream == nil {
		return "", nil
	}
	return stream.Close()
}

// reason runs the Gemini conversation loop: streamed deltas go out as
// events, and each function call blocks until the tool result comes back.
func (p *GeminiPipeline) reason(ctx context.Context, exec *geminiExecution, query string, sess repositories.SessionContext) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(p.temperature),
		MaxOutputTokens: int32(p.maxTokens),
		Tools:           p.genaiTools(),
	}

	contents := []*genai.Content{
		genai.NewContentFromText(p.systemPrompt, genai.RoleUser),
		genai.NewContentFromText(query, genai.RoleUser),
	}

	var full strings.Builder
	for {
		var (
			calls      []*genai.FunctionCall
			modelParts []*genai.Part
		)

		for response, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			if err != nil {
				return "", fmt.Errorf("generation failed: %w", err)
			}
			if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
				continue
			}
			for _, part := range response.Candidates[0].Content.Parts {
				if part.Text != "" {
					full.WriteString(part.Text)
					if !exec.emit(ctx, repositories.PipelineEvent{
						Kind: repositories.EventTextDelta,
						Text: part.Text,
					}) {
						return full.String(), nil
					}
				}
				if part.FunctionCall != nil {
					calls = append(calls, part.FunctionCall)
				}
				modelParts = append(modelParts, part)
			}
		}

		if len(calls) == 0 {
			return full.String(), nil
		}

		contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: modelParts})
		for _, call := range calls {
			result, err := p.mediateToolCall(ctx, exec, call, sess)
			if err != nil {
				return "", err
			}
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     call.Name,
						Response: toolResponsePayload(result),
					},
				}},
			})
		}
	}
}

// mediateToolCall emits the call as an event and blocks until the bridge
// submits the gateway's result.
func (p *GeminiPipeline) mediateToolCall(ctx context.Context, exec *geminiExecution, call *genai.FunctionCall, sess repositories.SessionContext) (entities.ToolResult, error) {
	toolCall := entities.ToolCall{
		ID:        uuid.NewString(),
		Name:      call.Name,
		Arguments: call.Args,
	}
	p.logger.Info("Pipeline requests tool",
		zap.String("tool", toolCall.Name),
		zap.String("callID", toolCall.ID),
		zap.String("sessionID", sess.SessionID))

	if !exec.emit(ctx, repositories.PipelineEvent{Kind: repositories.EventToolCall, Call: toolCall}) {
		return entities.ToolResult{}, fmt.Errorf("execution cancelled awaiting tool result")
	}

	select {
	case result := <-exec.results:
		return result, nil
	case <-exec.done:
		return entities.ToolResult{}, fmt.Errorf("execution cancelled awaiting tool result")
	case <-ctx.Done():
		return entities.ToolResult{}, ctx.Err()
	}
}

// speak synthesizes the reply and emits it as normalized float32 chunks.
func (p *GeminiPipeline) speak(ctx context.Context, exec *geminiExecution, text string) {
	stream, err := p.synth.SynthesizeStream(ctx, text)
	if err != nil {
		p.logger.Error("Speech synthesis failed", zap.Error(err))
		exec.emit(ctx, repositories.PipelineEvent{
			Kind: repositories.EventError,
			Err:  fmt.Errorf("speech synthesis failed: %w", err),
		})
		return
	}

	for chunk := range stream {
		samples := pcm16ToFloat32(chunk)
		if len(samples) == 0 {
			continue
		}
		if !exec.emit(ctx, repositories.PipelineEvent{Kind: repositories.EventAudio, Samples: samples}) {
			return
		}
	}
}

func (p *GeminiPipeline) genaiTools() []*genai.Tool {
	if p.catalog == nil {
		return nil
	}
	decls := p.catalog.Declarations()
	if len(decls) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, decl := range decls {
		properties := make(map[string]*genai.Schema, len(decl.Params))
		var required []string
		for _, param := range decl.Params {
			properties[param.Name] = &genai.Schema{
				Type:        schemaType(param.Type),
				Description: param.Description,
			}
			if param.Required {
				required = append(required, param.Name)
			}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func schemaType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func toolResponsePayload(result entities.ToolResult) map[string]any {
	if !result.Success {
		return map[string]any{"error": result.Error}
	}
	return map[string]any{"result": result.Payload}
}

func pcm16ToFloat32(data []byte) []float32 {
	samples := make([]float32, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		v := int16(uint16(data[i]) | uint16(data[i+1])<<8)
		samples = append(samples, float32(v)/32767)
	}
	return samples
}

// geminiExecution is the handle for one in-flight run.
type geminiExecution struct {
	events  chan repositories.PipelineEvent
	results chan entities.ToolResult
	done    chan struct{}
	once    sync.Once
}

var _ repositories.PipelineExecution = (*geminiExecution)(nil)

func newGeminiExecution() *geminiExecution {
	return &geminiExecution{
		events:  make(chan repositories.PipelineEvent, 16),
		results: make(chan entities.ToolResult, 1),
		done:    make(chan struct{}),
	}
}

func (e *geminiExecution) Events() <-chan repositories.PipelineEvent {
	return e.events
}

func (e *geminiExecution) SubmitToolResult(ctx context.Context, result entities.ToolResult) error {
	select {
	case e.results <- result:
		return nil
	case <-e.done:
		return fmt.Errorf("execution cancelled")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *geminiExecution) Cancel() {
	e.once.Do(func() { close(e.done) })
}

// emit delivers one event; false means the execution was cancelled and the
// producer should wind down.
func (e *geminiExecution) emit(ctx context.Context, event repositories.PipelineEvent) bool {
	select {
	case e.events <- event:
		return true
	case <-e.done:
		return false
	case <-ctx.Done():
		return false
	}
}
