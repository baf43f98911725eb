package repositories

import (
	"context"

	"github.com/lumenkb/voicebridge/domain/entities"
)

// SessionContext carries the identity of the session on whose behalf a
// pipeline execution or tool call runs.
type SessionContext struct {
	SessionID  string
	UserID     string
	Role       entities.Role
	Privileged bool
}

// AudioChunk is a fixed-width sequence of signed 16-bit samples at a
// declared sample rate. Transient; never persisted.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
}

// InputKind discriminates the pipeline input variants.
type InputKind int

const (
	// InputAudio feeds the pipeline a finite stream of audio chunks.
	InputAudio InputKind = iota
	// InputText feeds the pipeline a single text query.
	InputText
)

// PipelineInput is a tagged union: exactly one of Audio or Text is set,
// according to Kind.
type PipelineInput struct {
	Kind  InputKind
	Audio <-chan AudioChunk
	Text  string
}

// AudioInput wraps a chunk stream as pipeline input.
func AudioInput(chunks <-chan AudioChunk) PipelineInput {
	return PipelineInput{Kind: InputAudio, Audio: chunks}
}

// TextInput wraps a text query as pipeline input.
func TextInput(text string) PipelineInput {
	return PipelineInput{Kind: InputText, Text: text}
}

// EventKind discriminates the closed set of pipeline output events.
type EventKind int

const (
	// EventTranscript carries recognized user speech. Final marks the
	// last transcript of the interaction.
	EventTranscript EventKind = iota
	// EventTextDelta carries one increment of the agent's text response.
	EventTextDelta
	// EventTextFinal carries the agent's complete text response.
	EventTextFinal
	// EventAudio carries synthesized output audio as 32-bit float
	// samples in [-1, 1].
	EventAudio
	// EventToolCall requests execution of a named server-side action.
	// The execution blocks until SubmitToolResult is called.
	EventToolCall
	// EventStateSync carries provider-specific state for the client.
	EventStateSync
	// EventError reports a failure scoped to the current interaction.
	EventError
)

// PipelineEvent is one element of a pipeline execution's output sequence.
// The populated fields depend on Kind.
type PipelineEvent struct {
	Kind    EventKind
	Text    string
	Final   bool
	Samples []float32
	Call    entities.ToolCall
	State   map[string]any
	Err     error
}

// PipelineExecution is a handle on one in-flight pipeline run.
//
// Events yields the execution's output sequence lazily; the channel closes
// when the execution completes, which is also the join point after Cancel.
// Output arriving after Cancel must be discarded by the consumer.
type PipelineExecution interface {
	Events() <-chan PipelineEvent

	// SubmitToolResult feeds a tool result back into the execution,
	// unblocking the reasoning stage.
	SubmitToolResult(ctx context.Context, result entities.ToolResult) error

	// Cancel stops the execution. It does not guarantee any in-flight
	// remote call is aborted; it guarantees the event channel closes.
	Cancel()
}

// AgentPipeline is the conversational engine behind the session bridge:
// speech recognition, reasoning with tool use, and speech synthesis.
// Implementations live in adapters; the bridge depends only on this contract.
type AgentPipeline interface {
	Run(ctx context.Context, input PipelineInput, sess SessionContext) (PipelineExecution, error)
}

// ToolGateway executes tool calls on behalf of a session. Implementations
// must enforce role checks, convert internal failures into structured
// results rather than propagating them, and attach any UI side effect.
type ToolGateway interface {
	Execute(ctx context.Context, call entities.ToolCall, sess SessionContext) entities.ToolResult
}

// ToolParam describes one named parameter of a tool.
type ToolParam struct {
	Name        string
	Type        string // "string", "integer", "number" or "boolean"
	Description string
	Required    bool
}

// ToolDeclaration advertises a tool to the reasoning stage.
type ToolDeclaration struct {
	Name        string
	Description string
	AdminOnly   bool
	Params      []ToolParam
}
