package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/deskmesh/agent/contract"
)

// MemoryNamespace is the shared namespace every worker gets in addition to
// its own domain tools.
const MemoryNamespace = "memory"

// MemoryBank is the cross-cutting long-term memory behind the shared memory
// tools: user preferences, per-thread conversation context, and a searchable
// note history. Constructed explicitly and injected, one per process.
type MemoryBank struct {
	mu      sync.RWMutex
	prefs   map[string]map[string]string
	context map[string]map[string]string
	notes   []memoryNote
}

type memoryNote struct {
	ThreadID string    `json:"thread_id"`
	Text     string    `json:"text"`
	SavedAt  time.Time `json:"saved_at"`
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		prefs:   make(map[string]map[string]string),
		context: make(map[string]map[string]string),
	}
}

func (b *MemoryBank) SavePreference(user, key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prefs[user] == nil {
		b.prefs[user] = make(map[string]string)
	}
	b.prefs[user][key] = value
}

func (b *MemoryBank) Preferences(user string) map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.prefs[user]))
	for k, v := range b.prefs[user] {
		out[k] = v
	}
	return out
}

func (b *MemoryBank) SaveContext(threadID, key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.context[threadID] == nil {
		b.context[threadID] = make(map[string]string)
	}
	b.context[threadID][key] = value
	b.notes = append(b.notes, memoryNote{ThreadID: threadID, Text: key + ": " + value, SavedAt: time.Now().UTC()})
}

func (b *MemoryBank) Context(threadID string) map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.context[threadID]))
	for k, v := range b.context[threadID] {
		out[k] = v
	}
	return out
}

func (b *MemoryBank) SearchHistory(query string, limit int) []string {
	if limit <= 0 {
		limit = 5
	}
	query = strings.ToLower(strings.TrimSpace(query))

	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for i := len(b.notes) - 1; i >= 0 && len(out) < limit; i-- {
		if query == "" || strings.Contains(strings.ToLower(b.notes[i].Text), query) {
			out = append(out, b.notes[i].Text)
		}
	}
	return out
}

// MemoryTools builds the shared memory tool set over a bank. Register the
// result under MemoryNamespace.
func MemoryTools(bank *MemoryBank) []Descriptor {
	return []Descriptor{
		{
			Name:        "save_preference",
			Description: "Save a user preference, e.g. preferred ticket priority or notification style.",
			Params: map[string]contractx.Param{
				"user_email": {Type: contractx.ParamString, Description: "User the preference belongs to", Required: true},
				"key":        {Type: contractx.ParamString, Description: "Preference name", Required: true},
				"value":      {Type: contractx.ParamString, Description: "Preference value", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				user, err := stringArg(args, "user_email")
				if err != nil {
					return nil, err
				}
				key, err := stringArg(args, "key")
				if err != nil {
					return nil, err
				}
				value, err := stringArg(args, "value")
				if err != nil {
					return nil, err
				}
				bank.SavePreference(user, key, value)
				return map[string]any{"saved": true, "key": key}, nil
			},
		},
		{
			Name:        "get_preferences",
			Description: "Retrieve all saved preferences for a user.",
			Params: map[string]contractx.Param{
				"user_email": {Type: contractx.ParamString, Description: "User to look up", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				user, err := stringArg(args, "user_email")
				if err != nil {
					return nil, err
				}
				return bank.Preferences(user), nil
			},
		},
		{
			Name:        "save_context",
			Description: "Save important conversation context, e.g. active ticket ids or the issue being worked on.",
			Params: map[string]contractx.Param{
				"thread_id": {Type: contractx.ParamString, Description: "Conversation thread", Required: true},
				"key":       {Type: contractx.ParamString, Description: "Context name", Required: true},
				"value":     {Type: contractx.ParamString, Description: "Context value", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				thread, err := stringArg(args, "thread_id")
				if err != nil {
					return nil, err
				}
				key, err := stringArg(args, "key")
				if err != nil {
					return nil, err
				}
				value, err := stringArg(args, "value")
				if err != nil {
					return nil, err
				}
				bank.SaveContext(thread, key, value)
				return map[string]any{"saved": true, "key": key}, nil
			},
		},
		{
			Name:        "get_context",
			Description: "Retrieve saved conversation context for a thread.",
			Params: map[string]contractx.Param{
				"thread_id": {Type: contractx.ParamString, Description: "Conversation thread", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				thread, err := stringArg(args, "thread_id")
				if err != nil {
					return nil, err
				}
				return bank.Context(thread), nil
			},
		},
		{
			Name:        "search_history",
			Description: "Search saved context notes across past conversations.",
			Params: map[string]contractx.Param{
				"query": {Type: contractx.ParamString, Description: "Search text", Required: true},
				"limit": {Type: contractx.ParamInteger, Description: "Maximum results, default 5"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				query, err := stringArg(args, "query")
				if err != nil {
					return nil, err
				}
				limit := 0
				if v, ok := args["limit"].(float64); ok {
					limit = int(v)
				}
				return bank.SearchHistory(query, limit), nil
			},
		},
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}
