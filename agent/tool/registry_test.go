package tool

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/deskmesh/agent/contract"
)

func noopHandler(ctx context.Context, args map[string]any) (any, error) {
	return "ok", nil
}

func TestRegisterAndLookup(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	err := reg.Register("servicenow", Descriptor{
		Name:        "create_ticket",
		Description: "create",
		Params:      map[string]contractx.Param{"title": {Type: contractx.ParamString, Required: true}},
		Handler:     noopHandler,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	d, ok := reg.Lookup("servicenow.create_ticket")
	if !ok {
		t.Fatal("registered tool not found")
	}
	if d.FullName() != "servicenow.create_ticket" {
		t.Fatalf("full name = %q", d.FullName())
	}
	if d.Namespace() != "servicenow" {
		t.Fatalf("namespace = %q", d.Namespace())
	}

	if _, ok := reg.Lookup("servicenow.nope"); ok {
		t.Fatal("lookup of unknown tool succeeded")
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()

	if err := reg.Register("", Descriptor{Name: "x", Handler: noopHandler}); !errors.Is(err, ErrEmptyNamespace) {
		t.Fatalf("expected ErrEmptyNamespace, got %v", err)
	}
	if err := reg.Register("ns", Descriptor{Handler: noopHandler}); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if err := reg.Register("ns", Descriptor{Name: "x"}); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected ErrNilHandler, got %v", err)
	}

	if err := reg.Register("ns", Descriptor{Name: "x", Handler: noopHandler}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("ns", Descriptor{Name: "x", Handler: noopHandler}); !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestSchemasForUnionsNamespaces(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.MustRegister("intune",
		Descriptor{Name: "list_devices", Handler: noopHandler},
		Descriptor{Name: "wipe_device", Handler: noopHandler},
	)
	reg.MustRegister("memory",
		Descriptor{Name: "save_preference", Handler: noopHandler},
	)

	schemas := reg.SchemasFor("intune", "memory")
	if len(schemas) != 3 {
		t.Fatalf("schema count = %d, want 3", len(schemas))
	}
	// Registration order within a namespace is preserved.
	if schemas[0].Name != "intune.list_devices" || schemas[1].Name != "intune.wipe_device" {
		t.Fatalf("unexpected intune order: %q, %q", schemas[0].Name, schemas[1].Name)
	}
	if schemas[2].Name != "memory.save_preference" {
		t.Fatalf("unexpected shared tool: %q", schemas[2].Name)
	}
}
