package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lumenkb/voicebridge/domain/entities"
	"github.com/lumenkb/voicebridge/domain/repositories"
)

// ScriptInput is what a script sees after the input has been fully
// consumed: the text query, or every audio chunk the capture produced.
type ScriptInput struct {
	Session repositories.SessionContext
	Text    string
	Chunks  []repositories.AudioChunk
}

// ScriptFunc maps one consumed input to the event sequence the execution
// should play back.
type ScriptFunc func(in ScriptInput) []repositories.PipelineEvent

// ScriptedPipeline is a placeholder AgentPipeline that replays scripted
// events. It stands in when no Gemini credentials are configured and backs
// the bridge tests.
type ScriptedPipeline struct {
	script ScriptFunc
	logger *zap.Logger
}

var _ repositories.AgentPipeline = (*ScriptedPipeline)(nil)

// NewScriptedPipeline creates a pipeline replaying the given script; a nil
// script falls back to DefaultScript.
func NewScriptedPipeline(script ScriptFunc, logger *zap.Logger) *ScriptedPipeline {
	if script == nil {
		script = DefaultScript
	}
	return &ScriptedPipeline{script: script, logger: logger}
}

// DefaultScript produces a canned but plausible conversation: audio input
// with no samples reports the benign no-speech condition; anything else
// gets an echoing reply.
func DefaultScript(in ScriptInput) []repositories.PipelineEvent {
	if in.Text == "" && len(in.Chunks) == 0 {
		return []repositories.PipelineEvent{
			{Kind: repositories.EventError, Err: errors.New("no speech detected")},
		}
	}

	query := in.Text
	events := []repositories.PipelineEvent{}
	if query == "" {
		query = "(spoken query)"
		events = append(events, repositories.PipelineEvent{
			Kind:  repositories.EventTranscript,
			Text:  query,
			Final: true,
		})
	}
	reply := fmt.Sprintf("You asked: %s. I can search your workspace documents for an answer once a pipeline is configured.", query)
	events = append(events,
		repositories.PipelineEvent{Kind: repositories.EventTextDelta, Text: reply},
		repositories.PipelineEvent{Kind: repositories.EventTextFinal, Text: reply},
	)
	return events
}

// Run consumes the input, then plays the script. Audio input is drained to
// completion first so that samples buffered before a stop are honored.
func (p *ScriptedPipeline) Run(ctx context.Context, input repositories.PipelineInput, sess repositories.SessionContext) (repositories.PipelineExecution, error) {
	exec := newScriptedExecution()

	go func() {
		in := ScriptInput{Session: sess, Text: input.Text}
		if input.Kind == repositories.InputAudio {
			for chunk := range input.Audio {
				in.Chunks = append(in.Chunks, chunk)
			}
		}
		exec.play(ctx, p.script(in))
	}()

	return exec, nil
}

// scriptedExecution plays a fixed event sequence, pausing at tool calls
// until a result is fed back.
type scriptedExecution struct {
	events  chan repositories.PipelineEvent
	results chan entities.ToolResult
	done    chan struct{}
	once    sync.Once
}

var _ repositories.PipelineExecution = (*scriptedExecution)(nil)

func newScriptedExecution() *scriptedExecution {
	return &scriptedExecution{
		events:  make(chan repositories.PipelineEvent, 16),
		results: make(chan entities.ToolResult),
		done:    make(chan struct{}),
	}
}

func (e *scriptedExecution) Events() <-chan repositories.PipelineEvent {
	return e.events
}

func (e *scriptedExecution) SubmitToolResult(ctx context.Context, result entities.ToolResult) error {
	select {
	case e.results <- result:
		return nil
	case <-e.done:
		return errors.New("execution cancelled")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *scriptedExecution) Cancel() {
	e.once.Do(func() { close(e.done) })
}

func (e *scriptedExecution) play(ctx context.Context, script []repositories.PipelineEvent) {
	defer close(e.events)
	for _, event := range script {
		select {
		case e.events <- event:
		case <-e.done:
			return
		case <-ctx.Done():
			return
		}
		if event.Kind == repositories.EventToolCall {
			select {
			case <-e.results:
			case <-e.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}
