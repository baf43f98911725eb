package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lumenkb/voicebridge/domain/entities"
	"github.com/lumenkb/voicebridge/domain/repositories"
)

// ToolFunc executes one tool invocation and returns a payload for the
// reasoning stage plus an optional client-visible side effect.
type ToolFunc func(ctx context.Context, args map[string]any, sess repositories.SessionContext) (string, *entities.UIEffect, error)

// Tool couples a declaration with its implementation.
type Tool struct {
	Declaration repositories.ToolDeclaration
	Run         ToolFunc
}

// ToolGateway executes named tools on behalf of sessions. Admin-gated tools
// are refused for unprivileged callers before the implementation runs, and
// every failure mode, panics included, becomes a structured failure result
// rather than aborting the surrounding interaction.
type ToolGateway struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *zap.Logger
}

var _ repositories.ToolGateway = (*ToolGateway)(nil)

// NewToolGateway creates an empty gateway.
func NewToolGateway(logger *zap.Logger) *ToolGateway {
	return &ToolGateway{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool. Names must be unique.
func (g *ToolGateway) Register(tool Tool) error {
	if tool.Declaration.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Run == nil {
		return fmt.Errorf("tool %s has no implementation", tool.Declaration.Name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.tools[tool.Declaration.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Declaration.Name)
	}
	g.tools[tool.Declaration.Name] = tool
	return nil
}

// Declarations lists every registered tool for advertising to the
// reasoning stage.
func (g *ToolGateway) Declarations() []repositories.ToolDeclaration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	decls := make([]repositories.ToolDeclaration, 0, len(g.tools))
	for _, tool := range g.tools {
		decls = append(decls, tool.Declaration)
	}
	return decls
}

// Execute runs one tool call. The result always carries the call's ID so
// it can be correlated when echoed back into the pipeline execution.
func (g *ToolGateway) Execute(ctx context.Context, call entities.ToolCall, sess repositories.SessionContext) (result entities.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Tool panicked",
				zap.String("tool", call.Name),
				zap.String("callID", call.ID),
				zap.Any("panic", r))
			result = entities.FailureResult(call.ID, fmt.Sprintf("tool %s failed internally", call.Name))
		}
	}()

	g.mu.RLock()
	tool, ok := g.tools[call.Name]
	g.mu.RUnlock()
	if !ok {
		return entities.FailureResult(call.ID, fmt.Sprintf("unknown tool: %s", call.Name))
	}

	if tool.Declaration.AdminOnly && !isAdmin(sess) {
		g.logger.Warn("Tool refused, admin only",
			zap.String("tool", call.Name),
			zap.String("userID", sess.UserID),
			zap.String("role", string(sess.Role)))
		return entities.FailureResult(call.ID, fmt.Sprintf("tool %s requires admin access", call.Name))
	}

	payload, effect, err := tool.Run(ctx, call.Arguments, sess)
	if err != nil {
		g.logger.Warn("Tool failed",
			zap.String("tool", call.Name),
			zap.String("callID", call.ID),
			zap.Error(err))
		return entities.FailureResult(call.ID, err.Error())
	}

	return entities.ToolResult{
		CallID:  call.ID,
		Success: true,
		Payload: payload,
		Effect:  effect,
	}
}

func isAdmin(sess repositories.SessionContext) bool {
	return sess.Role == entities.RoleAdmin || sess.Privileged
}

// RegisterDocumentTools wires the built-in document tools over a store.
func RegisterDocumentTools(g *ToolGateway, store repositories.DocumentStore) error {
	tools := []Tool{
		{
			Declaration: repositories.ToolDeclaration{
				Name:        "search_documents",
				Description: "Search the workspace knowledge base and return matching documents with snippets.",
				Params: []repositories.ToolParam{
					{Name: "query", Type: "string", Description: "Search query", Required: true},
					{Name: "limit", Type: "integer", Description: "Maximum number of results, default 5"},
				},
			},
			Run: func(ctx context.Context, args map[string]any, sess repositories.SessionContext) (string, *entities.UIEffect, error) {
				query, err := stringArg(args, "query")
				if err != nil {
					return "", nil, err
				}
				limit := intArg(args, "limit", 5)
				hits, err := store.Search(ctx, query, limit)
				if err != nil {
					return "", nil, fmt.Errorf("search failed: %w", err)
				}
				payload, err := json.Marshal(hits)
				if err != nil {
					return "", nil, err
				}
				return string(payload), nil, nil
			},
		},
		{
			Declaration: repositories.ToolDeclaration{
				Name:        "read_document",
				Description: "Read the full content of a document by its ID.",
				Params: []repositories.ToolParam{
					{Name: "document_id", Type: "string", Description: "Document ID", Required: true},
				},
			},
			Run: func(ctx context.Context, args map[string]any, sess repositories.SessionContext) (string, *entities.UIEffect, error) {
				id, err := stringArg(args, "document_id")
				if err != nil {
					return "", nil, err
				}
				doc, err := store.Get(ctx, id)
				if err != nil {
					return "", nil, fmt.Errorf("read failed: %w", err)
				}
				payload, err := json.Marshal(doc)
				if err != nil {
					return "", nil, err
				}
				return string(payload), nil, nil
			},
		},
		{
			Declaration: repositories.ToolDeclaration{
				Name:        "open_document",
				Description: "Open a document in the user's dashboard view.",
				Params: []repositories.ToolParam{
					{Name: "document_id", Type: "string", Description: "Document ID", Required: true},
				},
			},
			Run: func(ctx context.Context, args map[string]any, sess repositories.SessionContext) (string, *entities.UIEffect, error) {
				id, err := stringArg(args, "document_id")
				if err != nil {
					return "", nil, err
				}
				doc, err := store.Get(ctx, id)
				if err != nil {
					return "", nil, fmt.Errorf("open failed: %w", err)
				}
				effect := &entities.UIEffect{Kind: entities.UIEffectOpenDocument, Target: doc.ID}
				return fmt.Sprintf("opened %q", doc.Title), effect, nil
			},
		},
		{
			Declaration: repositories.ToolDeclaration{
				Name:        "flag_document",
				Description: "Set or clear a named flag on a document. Admin only.",
				AdminOnly:   true,
				Params: []repositories.ToolParam{
					{Name: "document_id", Type: "string", Description: "Document ID", Required: true},
					{Name: "flag", Type: "string", Description: "Flag name", Required: true},
					{Name: "value", Type: "boolean", Description: "Flag value", Required: true},
				},
			},
			Run: func(ctx context.Context, args map[string]any, sess repositories.SessionContext) (string, *entities.UIEffect, error) {
				id, err := stringArg(args, "document_id")
				if err != nil {
					return "", nil, err
				}
				flag, err := stringArg(args, "flag")
				if err != nil {
					return "", nil, err
				}
				value := boolArg(args, "value")
				if err := store.SetFlag(ctx, id, flag, value); err != nil {
					return "", nil, fmt.Errorf("flag update failed: %w", err)
				}
				effect := &entities.UIEffect{
					Kind:   entities.UIEffectToggleFlag,
					Target: id,
					Flag:   flag,
					Value:  value,
				}
				return fmt.Sprintf("flag %s set to %t", flag, value), effect, nil
			},
		},
		{
			Declaration: repositories.ToolDeclaration{
				Name:        "notify_user",
				Description: "Show a short notice in the user's dashboard.",
				Params: []repositories.ToolParam{
					{Name: "message", Type: "string", Description: "Notice text", Required: true},
				},
			},
			Run: func(ctx context.Context, args map[string]any, sess repositories.SessionContext) (string, *entities.UIEffect, error) {
				message, err := stringArg(args, "message")
				if err != nil {
					return "", nil, err
				}
				effect := &entities.UIEffect{Kind: entities.UIEffectNotice, Message: message}
				return "notice shown", effect, nil
			},
		},
	}

	for _, tool := range tools {
		if err := g.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("argument %s is required", name)
	}
	return v, nil
}

// intArg tolerates the float64 that JSON decoding produces for numbers.
func intArg(args map[string]any, name string, fallback int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func boolArg(args map[string]any, name string) bool {
	v, _ := args[name].(bool)
	return v
}
