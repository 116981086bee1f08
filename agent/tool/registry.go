package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	contractx "github.com/tanpawarit/deskmesh/agent/contract"
)

var (
	ErrEmptyNamespace = errors.New("tool namespace is empty")
	ErrEmptyName      = errors.New("tool name is empty")
	ErrNilHandler     = errors.New("tool handler is nil")
	ErrDuplicateTool  = errors.New("tool already registered")
)

// Handler executes one tool call. A returned error becomes an error payload
// in the tool result message; it is never retried at this layer.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Descriptor declares one callable tool within a namespace. The full name
// seen by the model is "<namespace>.<name>".
type Descriptor struct {
	Name        string
	Description string
	Params      map[string]contractx.Param
	Handler     Handler

	namespace string
}

// FullName returns the namespace-prefixed, globally unique tool name.
func (d Descriptor) FullName() string {
	return d.namespace + "." + d.Name
}

func (d Descriptor) Namespace() string {
	return d.namespace
}

// Schema derives the model-facing schema for the descriptor.
func (d Descriptor) Schema() contractx.ToolSchema {
	return contractx.ToolSchema{
		Name:        d.FullName(),
		Description: d.Description,
		Params:      d.Params,
	}
}

// Registry maps namespaces to tool descriptors. It is explicitly
// constructed and passed by reference; registration happens at startup,
// reads afterwards need no synchronization but the registry stays safe for
// concurrent use regardless.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Descriptor
	byNS   map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Descriptor),
		byNS:   make(map[string][]string),
	}
}

func (r *Registry) Register(namespace string, d Descriptor) error {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return ErrEmptyNamespace
	}
	if strings.TrimSpace(d.Name) == "" {
		return ErrEmptyName
	}
	if d.Handler == nil {
		return ErrNilHandler
	}
	d.namespace = namespace

	r.mu.Lock()
	defer r.mu.Unlock()

	full := d.FullName()
	if _, ok := r.byName[full]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, full)
	}
	r.byName[full] = d
	r.byNS[namespace] = append(r.byNS[namespace], full)
	return nil
}

// MustRegister panics on registration failure. Startup-time convenience.
func (r *Registry) MustRegister(namespace string, ds ...Descriptor) {
	for _, d := range ds {
		if err := r.Register(namespace, d); err != nil {
			panic(err)
		}
	}
}

// Lookup resolves a full tool name.
func (r *Registry) Lookup(fullName string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[fullName]
	return d, ok
}

// ListByNamespace returns the descriptors of one namespace in registration
// order.
func (r *Registry) ListByNamespace(namespace string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byNS[namespace]
	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		out = append(out, r.byName[n])
	}
	return out
}

// Namespaces returns all registered namespaces, sorted.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byNS))
	for ns := range r.byNS {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// SchemasFor builds the model-facing schema list for a worker: its own
// namespace's tools plus the shared namespaces (typically "memory").
func (r *Registry) SchemasFor(namespaces ...string) []contractx.ToolSchema {
	var out []contractx.ToolSchema
	for _, ns := range namespaces {
		for _, d := range r.ListByNamespace(ns) {
			out = append(out, d.Schema())
		}
	}
	return out
}
