package usecase

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/lumenkb/voicebridge/adapters/documents"
	"github.com/lumenkb/voicebridge/domain/entities"
	"github.com/lumenkb/voicebridge/domain/repositories"
)

func memberSession() repositories.SessionContext {
	return repositories.SessionContext{
		SessionID: "sess-1",
		UserID:    "user-1",
		Role:      entities.RoleMember,
	}
}

func adminSession() repositories.SessionContext {
	return repositories.SessionContext{
		SessionID:  "sess-2",
		UserID:     "user-2",
		Role:       entities.RoleAdmin,
		Privileged: true,
	}
}

func newDocumentGateway(t *testing.T) (*ToolGateway, *documents.MemoryStore) {
	t.Helper()
	store := documents.NewMemoryStore(
		repositories.Document{ID: "doc-1", Title: "Q3 Report", Content: "Revenue grew 12% in Q3. The SLA held at 99.9%."},
		repositories.Document{ID: "doc-2", Title: "Onboarding Guide", Content: "Welcome to the team. Start with the handbook."},
	)
	gateway := NewToolGateway(zaptest.NewLogger(t))
	if err := RegisterDocumentTools(gateway, store); err != nil {
		t.Fatalf("failed to register document tools: %v", err)
	}
	return gateway, store
}

func TestToolGateway_Register(t *testing.T) {
	gateway := NewToolGateway(zaptest.NewLogger(t))

	tool := Tool{
		Declaration: repositories.ToolDeclaration{Name: "noop"},
		Run: func(ctx context.Context, args map[string]any, sess repositories.SessionContext) (string, *entities.UIEffect, error) {
			return "", nil, nil
		},
	}
	if err := gateway.Register(tool); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := gateway.Register(tool); err == nil {
		t.Error("expected error on duplicate registration")
	}
	if err := gateway.Register(Tool{Declaration: repositories.ToolDeclaration{Name: "broken"}}); err == nil {
		t.Error("expected error for tool without implementation")
	}
	if len(gateway.Declarations()) != 1 {
		t.Errorf("expected 1 declaration, got %d", len(gateway.Declarations()))
	}
}

func TestToolGateway_UnknownTool(t *testing.T) {
	gateway, _ := newDocumentGateway(t)

	result := gateway.Execute(context.Background(), entities.ToolCall{
		ID:   "call-1",
		Name: "delete_everything",
	}, memberSession())

	if result.Success {
		t.Error("expected failure for unknown tool")
	}
	if result.CallID != "call-1" {
		t.Errorf("expected call ID echoed, got %q", result.CallID)
	}
	if !strings.Contains(result.Error, "unknown tool") {
		t.Errorf("unexpected error: %q", result.Error)
	}
}

func TestToolGateway_AdminGating(t *testing.T) {
	gateway, store := newDocumentGateway(t)
	call := entities.ToolCall{
		ID:   "call-flag",
		Name: "flag_document",
		Arguments: map[string]any{
			"document_id": "doc-1",
			"flag":        "reviewed",
			"value":       true,
		},
	}

	t.Run("member refused", func(t *testing.T) {
		result := gateway.Execute(context.Background(), call, memberSession())
		if result.Success {
			t.Fatal("expected failure for non-admin caller")
		}
		if !strings.Contains(result.Error, "admin") {
			t.Errorf("unexpected error: %q", result.Error)
		}
		if result.Effect != nil {
			t.Error("refused call must not carry a UI effect")
		}

		// No side effect must have happened.
		doc, err := store.Get(context.Background(), "doc-1")
		if err != nil {
			t.Fatal(err)
		}
		if doc.Flags["reviewed"] {
			t.Error("flag must not be set by a refused call")
		}
	})

	t.Run("admin allowed", func(t *testing.T) {
		result := gateway.Execute(context.Background(), call, adminSession())
		if !result.Success {
			t.Fatalf("expected success, got %q", result.Error)
		}
		if result.Effect == nil || result.Effect.Kind != entities.UIEffectToggleFlag {
			t.Errorf("expected toggle_flag effect, got %+v", result.Effect)
		}

		doc, err := store.Get(context.Background(), "doc-1")
		if err != nil {
			t.Fatal(err)
		}
		if !doc.Flags["reviewed"] {
			t.Error("flag should be set after an admin call")
		}
	})
}

func TestToolGateway_PanicBecomesFailureResult(t *testing.T) {
	gateway := NewToolGateway(zaptest.NewLogger(t))
	err := gateway.Register(Tool{
		Declaration: repositories.ToolDeclaration{Name: "explode"},
		Run: func(ctx context.Context, args map[string]any, sess repositories.SessionContext) (string, *entities.UIEffect, error) {
			panic("boom")
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	result := gateway.Execute(context.Background(), entities.ToolCall{ID: "call-2", Name: "explode"}, memberSession())
	if result.Success {
		t.Error("expected failure result from panicking tool")
	}
	if result.CallID != "call-2" {
		t.Errorf("expected call ID echoed, got %q", result.CallID)
	}
}

func TestToolGateway_SearchDocuments(t *testing.T) {
	gateway, _ := newDocumentGateway(t)

	result := gateway.Execute(context.Background(), entities.ToolCall{
		ID:        "call-3",
		Name:      "search_documents",
		Arguments: map[string]any{"query": "SLA", "limit": float64(3)},
	}, memberSession())

	if !result.Success {
		t.Fatalf("search failed: %q", result.Error)
	}
	if !strings.Contains(result.Payload, "doc-1") || !strings.Contains(result.Payload, "Q3 Report") {
		t.Errorf("expected hit for doc-1, got %q", result.Payload)
	}
	if strings.Contains(result.Payload, "doc-2") {
		t.Errorf("unexpected hit for doc-2: %q", result.Payload)
	}
	if result.Effect != nil {
		t.Error("search must not carry a UI effect")
	}
}

func TestToolGateway_SearchRequiresQuery(t *testing.T) {
	gateway, _ := newDocumentGateway(t)

	result := gateway.Execute(context.Background(), entities.ToolCall{
		ID:        "call-4",
		Name:      "search_documents",
		Arguments: map[string]any{},
	}, memberSession())

	if result.Success {
		t.Error("expected failure for missing query")
	}
	if !strings.Contains(result.Error, "query") {
		t.Errorf("unexpected error: %q", result.Error)
	}
}

func TestToolGateway_OpenDocumentEffect(t *testing.T) {
	gateway, _ := newDocumentGateway(t)

	result := gateway.Execute(context.Background(), entities.ToolCall{
		ID:        "call-5",
		Name:      "open_document",
		Arguments: map[string]any{"document_id": "doc-2"},
	}, memberSession())

	if !result.Success {
		t.Fatalf("open failed: %q", result.Error)
	}
	if result.Effect == nil || result.Effect.Kind != entities.UIEffectOpenDocument || result.Effect.Target != "doc-2" {
		t.Errorf("unexpected effect: %+v", result.Effect)
	}
}

func TestToolGateway_ReadDocumentMissing(t *testing.T) {
	gateway, _ := newDocumentGateway(t)

	result := gateway.Execute(context.Background(), entities.ToolCall{
		ID:        "call-6",
		Name:      "read_document",
		Arguments: map[string]any{"document_id": "doc-404"},
	}, memberSession())

	if result.Success {
		t.Error("expected failure for missing document")
	}
	if !strings.Contains(result.Error, "not found") {
		t.Errorf("unexpected error: %q", result.Error)
	}
}

func TestToolGateway_NotifyUser(t *testing.T) {
	gateway, _ := newDocumentGateway(t)

	result := gateway.Execute(context.Background(), entities.ToolCall{
		ID:        "call-7",
		Name:      "notify_user",
		Arguments: map[string]any{"message": "Export finished"},
	}, memberSession())

	if !result.Success {
		t.Fatalf("notify failed: %q", result.Error)
	}
	if result.Effect == nil || result.Effect.Kind != entities.UIEffectNotice || result.Effect.Message != "Export finished" {
		t.Errorf("unexpected effect: %+v", result.Effect)
	}
}
