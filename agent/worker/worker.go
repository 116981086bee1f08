// Package worker implements the single parameterized domain agent. Every
// worker is the same machine: a fixed system prompt, a fixed tool set, and
// a bounded loop between the model and the tool invoker.
package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/deskmesh/agent/contract"
	statex "github.com/tanpawarit/deskmesh/agent/state"
	toolx "github.com/tanpawarit/deskmesh/agent/tool"
)

// DefaultMaxIterations caps the tool-call sub-loop. Exceeding it is a
// recoverable failure: the worker reports it in a terminal message instead
// of looping forever.
const DefaultMaxIterations = 10

const (
	fallbackText = "I could not complete that request right now. Please try again."
	capText      = "I had to stop before finishing: the request needed more tool steps than allowed in one turn. Partial progress is noted above."
)

// Config parameterizes one worker.
type Config struct {
	// Name is both the routing label and the agent tag on produced
	// messages.
	Name string

	SystemPrompt string

	// ToolNamespace selects the worker's domain tools; SharedNamespaces
	// (typically the memory tools) are unioned in.
	ToolNamespace    string
	SharedNamespaces []string

	// MaxIterations defaults to DefaultMaxIterations when <= 0.
	MaxIterations int
}

// Agent is one domain worker. It runs the model↔tool sub-loop, streaming
// each appended message through the caller's sink so the engine checkpoints
// after every sub-loop iteration, not only at the end.
type Agent struct {
	cfg     Config
	gw      contractx.ModelGateway
	invoker *toolx.Invoker
	schemas []contractx.ToolSchema
	log     zerolog.Logger
}

var _ contractx.Worker = (*Agent)(nil)

func New(cfg Config, gw contractx.ModelGateway, reg *toolx.Registry, invoker *toolx.Invoker) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: worker name is required", contractx.ErrValidation)
	}
	if gw == nil {
		return nil, fmt.Errorf("%w: model gateway is required", contractx.ErrValidation)
	}
	if reg == nil || invoker == nil {
		return nil, fmt.Errorf("%w: tool registry and invoker are required", contractx.ErrValidation)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}

	namespaces := append([]string{cfg.ToolNamespace}, cfg.SharedNamespaces...)
	return &Agent{
		cfg:     cfg,
		gw:      gw,
		invoker: invoker,
		schemas: reg.SchemasFor(namespaces...),
		log:     log.With().Str("component", "worker").Str("worker", cfg.Name).Logger(),
	}, nil
}

func (a *Agent) Name() string {
	return a.cfg.Name
}

// Run executes the tool-call sub-loop until the model yields terminal text
// or the iteration cap is hit. Exactly one terminal agent message reaches
// the sink in every outcome. Tool failures are not retried here; the error
// payload goes back to the model, which decides what to do next.
func (a *Agent) Run(
	ctx context.Context,
	st *statex.State,
	sink func(statex.Partial) error,
	emit contractx.EmitFunc,
) error {
	history := append([]statex.Message(nil), st.Messages...)

	push := func(msgs ...statex.Message) error {
		history = append(history, msgs...)
		if sink == nil {
			return nil
		}
		return sink(statex.Partial{Messages: msgs})
	}

	for i := 0; i < a.cfg.MaxIterations; i++ {
		reply, err := a.gw.Complete(ctx, a.cfg.SystemPrompt, history, a.schemas)
		if err != nil {
			// Model failures never strand the conversation without a
			// terminal message.
			a.log.Warn().Str("thread", st.ThreadID).Err(err).Msg("model call failed, synthesizing terminal reply")
			return push(statex.AgentMessage(a.cfg.Name, fallbackText))
		}

		if !reply.WantsTools() {
			emit.Emit(contractx.Event{Type: contractx.EventToken, Agent: a.cfg.Name, Text: reply.Text})
			return push(statex.AgentMessage(a.cfg.Name, reply.Text))
		}

		call := statex.AgentToolCallMessage(a.cfg.Name, reply.ToolCalls)
		if err := push(call); err != nil {
			return err
		}

		for _, tc := range reply.ToolCalls {
			emit.Emit(contractx.Event{Type: contractx.EventToolInvoked, Agent: a.cfg.Name, Tool: tc.Name, Args: tc.Args})
		}

		results := a.invoker.InvokeAll(ctx, reply.ToolCalls)
		if err := verifyCorrelation(reply.ToolCalls, results); err != nil {
			return err
		}
		for _, r := range results {
			emit.Emit(contractx.Event{Type: contractx.EventToolCompleted, Agent: a.cfg.Name, Tool: r.ToolName, Result: r.Content})
		}
		if err := push(results...); err != nil {
			return err
		}
	}

	a.log.Warn().Str("thread", st.ThreadID).Int("cap", a.cfg.MaxIterations).Msg("tool sub-loop hit iteration cap")
	return push(statex.AgentMessage(a.cfg.Name, capText))
}

// verifyCorrelation enforces the sub-loop invariant: each result's id must
// match the call at the same position. A mismatch means a broken invoker
// integration and fails fast.
func verifyCorrelation(calls []statex.ToolCall, results []statex.Message) error {
	if len(calls) != len(results) {
		return fmt.Errorf("%w: %d tool calls produced %d results", contractx.ErrProtocol, len(calls), len(results))
	}
	for i, r := range results {
		if r.Role != statex.RoleTool || r.ToolCallID != calls[i].ID {
			return fmt.Errorf("%w: result %d correlates to %q, want %q", contractx.ErrProtocol, i, r.ToolCallID, calls[i].ID)
		}
	}
	return nil
}
