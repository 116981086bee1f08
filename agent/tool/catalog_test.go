package tool

import (
	"context"
	"fmt"
	"strings"
	"testing"

	statex "github.com/tanpawarit/deskmesh/agent/state"
)

func TestRegisterCatalogUnknownNamespace(t *testing.T) {
	t.Parallel()

	if err := RegisterCatalog(NewRegistry(), "nope", nil); err == nil {
		t.Fatal("unknown namespace should fail")
	}
}

func TestRegisterCatalogAllNamespaces(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	for ns := range catalogs {
		if err := RegisterCatalog(reg, ns, nil); err != nil {
			t.Fatalf("register %s: %v", ns, err)
		}
	}

	for ns, entries := range catalogs {
		ds := reg.ListByNamespace(ns)
		if len(ds) != len(entries) {
			t.Fatalf("%s: registered %d tools, want %d", ns, len(ds), len(entries))
		}
	}
}

func TestCatalogFallbackAnswersUnavailable(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := RegisterCatalog(reg, NamespaceServiceNow, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	iv := NewInvoker(reg)

	msg := iv.Invoke(context.Background(), statex.ToolCall{
		ID:   "c1",
		Name: "servicenow.create_ticket",
		Args: map[string]any{"title": "vpn down", "priority": "High"},
	})
	if !msg.IsError {
		t.Fatal("unbacked tool should return an error payload")
	}
	if !strings.Contains(msg.Content, "unavailable") {
		t.Fatalf("payload = %q", msg.Content)
	}
}

func TestCatalogBackendOverridesFallback(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	backend := Backend{
		"create_ticket": func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"ticket_id": "INC-7", "title": fmt.Sprint(args["title"])}, nil
		},
	}
	if err := RegisterCatalog(reg, NamespaceServiceNow, backend); err != nil {
		t.Fatalf("register: %v", err)
	}
	iv := NewInvoker(reg)

	msg := iv.Invoke(context.Background(), statex.ToolCall{
		ID:   "c1",
		Name: "servicenow.create_ticket",
		Args: map[string]any{"title": "vpn down", "priority": "High"},
	})
	if msg.IsError {
		t.Fatalf("backed tool failed: %s", msg.Content)
	}
	if !strings.Contains(msg.Content, "INC-7") {
		t.Fatalf("payload = %q", msg.Content)
	}

	// Tools without a backend entry keep the fallback.
	msg = iv.Invoke(context.Background(), statex.ToolCall{ID: "c2", Name: "servicenow.get_ticket", Args: map[string]any{"ticket_id": "INC-7"}})
	if !msg.IsError {
		t.Fatal("partially wired namespace should still fall back")
	}
}
