package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Finish is the terminal routing label. A conversation turn ends when the
// supervisor sets Next to Finish.
const Finish = "FINISH"

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

var (
	ErrInvalidThread = errors.New("thread id is empty")
	ErrEmptyMessage  = errors.New("message content is empty")
)

// ToolCall is a model-issued request to invoke a named tool. ID correlates
// the eventual tool result back to this request.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is one entry in a conversation history. Role discriminates the
// variants: user text, agent text (optionally carrying tool calls), or a
// tool result correlated to a prior call.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// Agent names the worker that produced an agent message.
	Agent string `json:"agent,omitempty"`

	// ToolCalls is set only on agent messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set only on tool result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	// IsError marks a tool result that carries an error payload instead of
	// a structured value.
	IsError bool `json:"is_error,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero"`
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, CreatedAt: time.Now().UTC()}
}

func AgentMessage(agent, text string) Message {
	return Message{Role: RoleAgent, Agent: agent, Content: text, CreatedAt: time.Now().UTC()}
}

func AgentToolCallMessage(agent string, calls []ToolCall) Message {
	return Message{Role: RoleAgent, Agent: agent, ToolCalls: calls, CreatedAt: time.Now().UTC()}
}

func ToolResultMessage(callID, toolName, payload string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, ToolName: toolName, Content: payload, CreatedAt: time.Now().UTC()}
}

func ToolErrorMessage(callID, toolName, errText string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, ToolName: toolName, Content: errText, IsError: true, CreatedAt: time.Now().UTC()}
}

// IsTerminalAgent reports whether the message is an agent message with text
// and no pending tool calls.
func (m Message) IsTerminalAgent() bool {
	return m.Role == RoleAgent && len(m.ToolCalls) == 0 && strings.TrimSpace(m.Content) != ""
}

// State is the conversation state threaded through every graph node.
// Messages only ever grow by append; Next, Workflow, and Outputs keys are
// last-write-wins.
type State struct {
	ThreadID string         `json:"thread_id"`
	Messages []Message      `json:"messages"`
	Next     string         `json:"next,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Workflow string         `json:"workflow,omitempty"`
}

func New(threadID string) (*State, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, ErrInvalidThread
	}
	return &State{ThreadID: threadID}, nil
}

// Partial is a node's contribution to the shared state. Messages are
// appended; the remaining fields replace the prior value only when set.
type Partial struct {
	Messages []Message      `json:"messages,omitempty"`
	Next     *string        `json:"next,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Workflow *string        `json:"workflow,omitempty"`
}

func NextPartial(label string) Partial {
	return Partial{Next: &label}
}

// Apply merges a partial update into the state. This is the single merge
// rule of the whole engine: messages concatenate, everything else replaces.
func (s *State) Apply(p Partial) {
	s.Messages = append(s.Messages, p.Messages...)
	if p.Next != nil {
		s.Next = *p.Next
	}
	if p.Workflow != nil {
		s.Workflow = *p.Workflow
	}
	if len(p.Outputs) > 0 {
		if s.Outputs == nil {
			s.Outputs = make(map[string]any, len(p.Outputs))
		}
		for k, v := range p.Outputs {
			s.Outputs[k] = v
		}
	}
}

// LastMessage returns the most recent message, or nil on empty history.
func (s *State) LastMessage() *Message {
	if s == nil || len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// Clone returns a deep-enough copy for checkpointing: the message slice and
// outputs map are copied, message contents are immutable by convention.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{
		ThreadID: s.ThreadID,
		Next:     s.Next,
		Workflow: s.Workflow,
	}
	if len(s.Messages) > 0 {
		out.Messages = append(make([]Message, 0, len(s.Messages)), s.Messages...)
	}
	if len(s.Outputs) > 0 {
		out.Outputs = make(map[string]any, len(s.Outputs))
		for k, v := range s.Outputs {
			out.Outputs[k] = v
		}
	}
	return out
}

// Validate checks the structural invariants that must hold for any state
// loaded from a checkpoint: tool results must correlate to a tool call in
// the nearest preceding agent message.
func (s *State) Validate() error {
	if strings.TrimSpace(s.ThreadID) == "" {
		return ErrInvalidThread
	}
	pending := map[string]struct{}{}
	for i, m := range s.Messages {
		switch m.Role {
		case RoleAgent:
			pending = make(map[string]struct{}, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				pending[tc.ID] = struct{}{}
			}
		case RoleTool:
			if _, ok := pending[m.ToolCallID]; !ok {
				return fmt.Errorf("message %d: tool result id=%q has no matching tool call", i, m.ToolCallID)
			}
			delete(pending, m.ToolCallID)
		}
	}
	return nil
}
