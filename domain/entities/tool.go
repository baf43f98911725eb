package entities

// ToolCall is a structured request, originating from the reasoning stage of
// the agent pipeline, to invoke a named server-side action with arguments.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult carries the outcome of a tool invocation. Results are merged
// back into the pipeline execution and forwarded to the client so that
// client-side state stays consistent with server-side actions.
type ToolResult struct {
	CallID  string    `json:"call_id"`
	Success bool      `json:"success"`
	Payload string    `json:"payload,omitempty"`
	Error   string    `json:"error,omitempty"`
	Effect  *UIEffect `json:"effect,omitempty"`
}

// FailureResult builds a failed ToolResult with a descriptive error.
func FailureResult(callID, message string) ToolResult {
	return ToolResult{CallID: callID, Success: false, Error: message}
}

// UIEffectKind discriminates the UI side-effect variants a tool may request.
type UIEffectKind string

const (
	UIEffectNavigate     UIEffectKind = "navigate"
	UIEffectOpenDocument UIEffectKind = "open_document"
	UIEffectHighlight    UIEffectKind = "highlight"
	UIEffectToggleFlag   UIEffectKind = "toggle_flag"
	UIEffectNotice       UIEffectKind = "notice"
)

// UIEffect describes a client-visible side effect of a tool invocation.
// The populated fields depend on Kind: navigate and open_document use
// Target, highlight adds Start/End, toggle_flag uses Flag/Value, and
// notice uses Message.
type UIEffect struct {
	Kind    UIEffectKind `json:"kind"`
	Target  string       `json:"target,omitempty"`
	Start   int          `json:"start,omitempty"`
	End     int          `json:"end,omitempty"`
	Flag    string       `json:"flag,omitempty"`
	Value   bool         `json:"value,omitempty"`
	Message string       `json:"message,omitempty"`
}
