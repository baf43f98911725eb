package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumenkb/voicebridge/domain/entities"
	"github.com/lumenkb/voicebridge/domain/repositories"
	"github.com/lumenkb/voicebridge/internal/audio"
)

// benignErrors are recognition-stage conditions that are logged but never
// surfaced to the client.
var benignErrors = []string{
	"no speech detected",
	"no audio received",
}

func isBenignError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, benign := range benignErrors {
		if strings.Contains(msg, benign) {
			return true
		}
	}
	return false
}

// handshake drives the session from disconnected to idle and announces the
// audio configuration to the client.
func (c *Client) handshake() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.session.TransitionTo(entities.SessionStateConnecting); err != nil {
		c.logger.Error("Handshake failed", zap.Error(err))
		return
	}
	if err := c.session.TransitionTo(entities.SessionStateIdle); err != nil {
		c.logger.Error("Handshake failed", zap.Error(err))
		return
	}

	c.sendControl(NewConfigMessage(c.hub.config.TTSSampleRate, c.hub.config.InputSampleRate))
	c.sendControl(NewStateMessage(entities.SessionStateIdle))
	c.notifyIdle()
}

// processMessage routes one inbound control message. Malformed and unknown
// messages are ignored to tolerate minor client/server version skew.
func (c *Client) processMessage(message []byte) {
	msg, err := ParseClientMessage(message)
	if err != nil {
		c.logger.Debug("Ignoring malformed message", zap.Error(err))
		return
	}

	switch msg.Type {
	case MessageTypeStart:
		c.handleStart(msg)
	case MessageTypeStop:
		c.handleStop()
	case MessageTypeBargeIn:
		c.handleBargeIn()
	case MessageTypeText:
		c.handleText(msg)
	default:
		c.logger.Debug("Ignoring unknown message type", zap.String("type", string(msg.Type)))
	}
}

// processBinaryFrame feeds one PCM16 frame into the active capture. Frames
// arriving outside a capture are dropped. Push applies backpressure: a full
// buffer blocks the read pump rather than dropping samples.
func (c *Client) processBinaryFrame(data []byte) {
	samples, err := DecodePCM16(data)
	if err != nil {
		c.logger.Debug("Dropping malformed audio frame", zap.Error(err))
		return
	}

	c.mutex.Lock()
	capture := c.capture
	rate := c.captureRate
	listening := c.session.State == entities.SessionStateListening
	c.mutex.Unlock()

	if capture == nil || !listening {
		c.logger.Debug("Dropping audio frame outside capture")
		return
	}

	if err := capture.Push(samples, rate); err != nil {
		c.logger.Debug("Audio frame rejected", zap.Error(err))
	}
}

// handleStart begins an audio capture interaction: a fresh audio manager is
// created and a background pipeline execution consumes its stream.
func (c *Client) handleStart(msg *ClientMessage) {
	ctx, cancel := c.executionContext()

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		cancel()
		return
	}
	if err := c.session.TransitionTo(entities.SessionStateListening); err != nil {
		state := c.session.State
		c.mutex.Unlock()
		cancel()
		c.logger.Warn("Capture start refused", zap.String("state", string(state)))
		return
	}

	rate := msg.SampleRate
	if rate <= 0 {
		rate = c.hub.config.DefaultCaptureRate
	}
	c.captureRate = rate
	c.capture = audio.NewManager(c.hub.config.InputSampleRate, c.hub.config.AudioBuffer, c.logger)
	stream := c.capture.Stream()
	gen := c.generation
	sess := c.sessionContext()
	c.sendControl(NewStateMessage(entities.SessionStateListening))
	c.mutex.Unlock()

	c.logger.Info("Audio capture started",
		zap.Int("captureRate", rate),
		zap.Int("pipelineRate", c.hub.config.InputSampleRate))

	exec, err := c.hub.pipeline.Run(ctx, repositories.AudioInput(stream), sess)
	if err != nil {
		cancel()
		c.mutex.Lock()
		if c.generation == gen && c.capture != nil {
			c.capture.End()
			c.capture = nil
		}
		c.mutex.Unlock()
		c.failInteraction(gen, err)
		return
	}

	c.mutex.Lock()
	if c.generation != gen || c.closed {
		c.mutex.Unlock()
		cancel()
		exec.Cancel()
		return
	}
	c.exec = exec
	c.mutex.Unlock()

	go func() {
		defer cancel()
		c.consumeEvents(ctx, exec, gen)
		c.finishInteraction(exec, gen)
	}()
}

// handleStop ends the audio input sequence. The in-flight execution keeps
// draining buffered chunks; completion is observed when its event channel
// closes.
func (c *Client) handleStop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.session.State != entities.SessionStateListening {
		c.logger.Warn("Capture stop refused", zap.String("state", string(c.session.State)))
		return
	}
	if c.capture != nil {
		c.capture.End()
		c.capture = nil
	}
	if err := c.session.TransitionTo(entities.SessionStateProcessing); err != nil {
		c.logger.Error("Capture stop transition failed", zap.Error(err))
		return
	}
	c.sendControl(NewStateMessage(entities.SessionStateProcessing))
}

// handleText enqueues a text interaction. Tasks run strictly one at a time
// in arrival order; the queue starts the next one when the prior completes.
func (c *Client) handleText(msg *ClientMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.session.RecordTurn("user", text)
	c.sendControl(NewTranscriptMessage(text, true))
	c.mutex.Unlock()

	c.queue.Enqueue(context.Background(), "text interaction", func(context.Context) error {
		return c.runTextInteraction(text)
	})
}

// runTextInteraction executes one queued text task to completion. The state
// machine belongs to the voice track while a capture or its execution is in
// flight, so a text task that arrives mid-capture waits for the session to
// return to idle instead of stealing the listening→processing edge.
func (c *Client) runTextInteraction(text string) error {
	c.mutex.Lock()
	for !c.closed && c.session.State != entities.SessionStateIdle {
		c.idleCond().Wait()
	}
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	if err := c.session.TransitionTo(entities.SessionStateProcessing); err != nil {
		state := c.session.State
		c.mutex.Unlock()
		c.logger.Warn("Text interaction refused", zap.String("state", string(state)))
		return nil
	}
	gen := c.generation
	sess := c.sessionContext()
	c.sendControl(NewStateMessage(entities.SessionStateProcessing))
	c.mutex.Unlock()

	ctx, cancel := c.executionContext()
	defer cancel()

	exec, err := c.hub.pipeline.Run(ctx, repositories.TextInput(text), sess)
	if err != nil {
		c.failInteraction(gen, err)
		return err
	}

	c.mutex.Lock()
	if c.generation != gen || c.closed {
		c.mutex.Unlock()
		exec.Cancel()
		return nil
	}
	c.textExec = exec
	c.mutex.Unlock()

	c.consumeEvents(ctx, exec, gen)
	c.finishInteraction(exec, gen)
	return nil
}

// handleBargeIn interrupts whatever the session is doing: the audio input
// sequence is terminated, in-flight executions are told to halt, and any
// output still arriving from them is discarded via the generation counter.
func (c *Client) handleBargeIn() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.generation++
	if c.capture != nil {
		c.capture.End()
		c.capture = nil
	}
	if c.exec != nil {
		c.exec.Cancel()
		c.exec = nil
	}
	if c.textExec != nil {
		c.textExec.Cancel()
		c.textExec = nil
	}
	c.session.TruncateTranscript()

	switch c.session.State {
	case entities.SessionStateIdle, entities.SessionStateDisconnected, entities.SessionStateConnecting:
		// Nothing to interrupt.
	default:
		c.toIdle()
		c.sendControl(NewStateMessage(entities.SessionStateIdle))
		c.notifyIdle()
	}

	c.logger.Info("Barge-in", zap.Uint64("generation", c.generation))
}

// consumeEvents drains one execution's output sequence, translating each
// event into wire messages. Events from a superseded generation are
// discarded; the channel is still drained so the execution can complete.
func (c *Client) consumeEvents(ctx context.Context, exec repositories.PipelineExecution, gen uint64) {
	for event := range exec.Events() {
		c.mutex.Lock()
		if c.generation != gen || c.closed {
			c.mutex.Unlock()
			continue
		}

		switch event.Kind {
		case repositories.EventTranscript:
			c.sendControl(NewTranscriptMessage(event.Text, event.Final))
			if event.Final {
				c.session.RecordTurn("user", event.Text)
			}
			c.mutex.Unlock()

		case repositories.EventTextDelta:
			cumulative := c.session.AppendDelta(event.Text)
			c.sendControl(NewAgentTextMessage(cumulative, false))
			c.mutex.Unlock()

		case repositories.EventTextFinal:
			c.session.SetFinalText(event.Text)
			c.mutex.Unlock()

		case repositories.EventAudio:
			switch c.session.State {
			case entities.SessionStateProcessing:
				if err := c.session.TransitionTo(entities.SessionStateSpeaking); err == nil {
					c.sendControl(NewStateMessage(entities.SessionStateSpeaking))
				}
				c.sendBinary(EncodePCM16(event.Samples))
			case entities.SessionStateSpeaking:
				c.sendBinary(EncodePCM16(event.Samples))
			default:
				c.logger.Debug("Dropping audio event outside response",
					zap.String("state", string(c.session.State)))
			}
			c.mutex.Unlock()

		case repositories.EventToolCall:
			c.handleToolCall(ctx, exec, gen, event.Call)

		case repositories.EventStateSync:
			c.sendControl(NewStateSyncMessage(event.State))
			c.mutex.Unlock()

		case repositories.EventError:
			if isBenignError(event.Err) {
				c.logger.Debug("Benign pipeline condition", zap.Error(event.Err))
				c.mutex.Unlock()
				continue
			}
			c.logger.Error("Pipeline error", zap.Error(event.Err))
			c.sendControl(NewErrorMessage(event.Err.Error()))
			c.session.TruncateTranscript()
			c.session.TransitionTo(entities.SessionStateError)
			c.toIdle()
			c.sendControl(NewStateMessage(entities.SessionStateIdle))
			c.notifyIdle()
			c.mutex.Unlock()

		default:
			c.mutex.Unlock()
		}
	}
}

// handleToolCall mediates one tool invocation: the gateway runs outside the
// session lock (tools can be slow), the result is fed back into the
// execution, and the client is told about any UI side effect. Called with
// the session lock held; releases it before returning.
func (c *Client) handleToolCall(ctx context.Context, exec repositories.PipelineExecution, gen uint64, call entities.ToolCall) {
	if err := c.session.TransitionTo(entities.SessionStateExecuting); err == nil {
		c.sendControl(NewStateMessage(entities.SessionStateExecuting))
	}
	sess := c.sessionContext()
	c.mutex.Unlock()

	c.logger.Info("Tool call",
		zap.String("tool", call.Name),
		zap.String("callID", call.ID))

	result := c.hub.tools.Execute(ctx, call, sess)
	if err := exec.SubmitToolResult(ctx, result); err != nil {
		c.logger.Error("Failed to submit tool result",
			zap.String("callID", call.ID),
			zap.Error(err))
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.generation != gen || c.closed {
		return
	}
	if result.Effect != nil {
		c.sendControl(NewUIEffectMessage(*result.Effect))
	}
	if c.session.State == entities.SessionStateExecuting {
		if err := c.session.TransitionTo(entities.SessionStateProcessing); err == nil {
			c.sendControl(NewStateMessage(entities.SessionStateProcessing))
		}
	}
}

// finishInteraction runs at the execution's join point, after its event
// channel closes: the accumulated response is flushed as one final message
// and the session returns to idle.
func (c *Client) finishInteraction(exec repositories.PipelineExecution, gen uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.exec == exec {
		c.exec = nil
		if c.capture != nil {
			c.capture.End()
			c.capture = nil
		}
	}
	if c.textExec == exec {
		c.textExec = nil
	}
	if c.generation != gen || c.closed {
		return
	}

	if text := c.session.FlushTranscript(); text != "" {
		c.sendControl(NewAgentTextMessage(text, true))
		c.session.RecordTurn("agent", text)
	}
	if c.session.State != entities.SessionStateIdle {
		c.toIdle()
		c.sendControl(NewStateMessage(entities.SessionStateIdle))
	}
	c.notifyIdle()
}

// failInteraction surfaces a failed pipeline start and resets to idle.
func (c *Client) failInteraction(gen uint64, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.generation != gen || c.closed {
		return
	}
	c.logger.Error("Pipeline execution failed", zap.Error(err))
	c.sendControl(NewErrorMessage(err.Error()))
	c.session.TruncateTranscript()
	c.session.TransitionTo(entities.SessionStateError)
	c.toIdle()
	c.sendControl(NewStateMessage(entities.SessionStateIdle))
	c.notifyIdle()
}

// cleanup tears the session down on disconnect. The transcript archive is
// best-effort and never blocks teardown.
func (c *Client) cleanup() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	c.generation++
	if c.capture != nil {
		c.capture.End()
		c.capture = nil
	}
	if c.exec != nil {
		c.exec.Cancel()
		c.exec = nil
	}
	if c.textExec != nil {
		c.textExec.Cancel()
		c.textExec = nil
	}
	c.session.TransitionTo(entities.SessionStateDisconnected)
	c.notifyIdle()
	turns := c.session.Turns
	transcript := &repositories.SessionTranscript{
		SessionID: c.session.ID,
		UserID:    c.session.UserID,
		StartedAt: c.session.CreatedAt,
		EndedAt:   time.Now(),
		Turns:     turns,
	}
	c.mutex.Unlock()

	c.logger.Info("Session cleaned up", zap.Int("turns", len(turns)))

	if c.hub.archive == nil || len(turns) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.hub.archive.Archive(ctx, transcript); err != nil {
			c.logger.Error("Failed to archive session transcript", zap.Error(err))
		}
	}()
}

// idleCond returns the wait condition for deferred text tasks. Caller holds
// the session lock.
func (c *Client) idleCond() *sync.Cond {
	if c.idleWait == nil {
		c.idleWait = sync.NewCond(&c.mutex)
	}
	return c.idleWait
}

// notifyIdle wakes deferred text tasks after the session returns to idle or
// closes. Caller holds the session lock.
func (c *Client) notifyIdle() {
	if c.idleWait != nil {
		c.idleWait.Broadcast()
	}
}

// toIdle walks the session back to idle along legal edges. Caller holds the
// session lock.
func (c *Client) toIdle() {
	for c.session.State != entities.SessionStateIdle {
		next := entities.SessionStateIdle
		if c.session.State == entities.SessionStateExecuting {
			next = entities.SessionStateProcessing
		}
		if err := c.session.TransitionTo(next); err != nil {
			return
		}
	}
}

// executionContext builds the context for one pipeline execution, bounded
// by the configured timeout when one is set.
func (c *Client) executionContext() (context.Context, context.CancelFunc) {
	if t := c.hub.config.PipelineTimeout; t > 0 {
		return context.WithTimeout(context.Background(), t)
	}
	return context.WithCancel(context.Background())
}

func (c *Client) sessionContext() repositories.SessionContext {
	return repositories.SessionContext{
		SessionID:  c.session.ID,
		UserID:     c.session.UserID,
		Role:       c.session.Role,
		Privileged: c.session.Privileged,
	}
}

// sendControl queues one JSON control message without blocking; a full send
// buffer drops the message and logs.
func (c *Client) sendControl(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Send buffer full, dropping control message")
	}
}

// sendBinary queues one audio frame without blocking.
func (c *Client) sendBinary(payload []byte) {
	select {
	case c.send <- WriteData{Type: websocket.BinaryMessage, Payload: payload}:
	default:
		c.logger.Warn("Send buffer full, dropping audio frame")
	}
}
