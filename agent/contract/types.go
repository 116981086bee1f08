package contract

import (
	statex "github.com/tanpawarit/deskmesh/agent/state"
)

// ParamType mirrors the JSON-schema primitive types accepted in tool
// parameter declarations.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
)

type Param struct {
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
}

// ToolSchema is the model-facing description of one callable tool.
type ToolSchema struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Params      map[string]Param `json:"params,omitempty"`
}

// ModelReply is the outcome of one model call: terminal text, or one or
// more tool calls to execute before calling the model again.
type ModelReply struct {
	Text      string
	ToolCalls []statex.ToolCall
}

func (r ModelReply) WantsTools() bool {
	return len(r.ToolCalls) > 0
}

// EventType enumerates the intermediate events streamed to a turn consumer.
type EventType string

const (
	EventToken         EventType = "token"
	EventToolInvoked   EventType = "tool_invoked"
	EventToolCompleted EventType = "tool_completed"
	EventFinal         EventType = "final"
	EventError         EventType = "error"
)

// Event is one entry in the append-only stream of a running turn. The
// stream terminates on an EventFinal.
type Event struct {
	Type   EventType      `json:"type"`
	Agent  string         `json:"agent,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result,omitempty"`
	Text   string         `json:"text,omitempty"`
}

// EmitFunc receives intermediate events. A nil EmitFunc is always legal.
type EmitFunc func(Event)

func (f EmitFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// TurnInput is one inbound user turn.
type TurnInput struct {
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
	Workflow string `json:"workflow,omitempty"`
}
