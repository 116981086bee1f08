package contract

import (
	"context"

	statex "github.com/tanpawarit/deskmesh/agent/state"
)

// ModelGateway wraps a single language-model call. Implementations are
// network-bound and non-deterministic; everything above this interface
// treats the model as an opaque function.
type ModelGateway interface {
	// Complete sends the system prompt, history, and tool schemas and
	// returns either terminal text or tool calls.
	Complete(ctx context.Context, system string, msgs []statex.Message, tools []ToolSchema) (ModelReply, error)

	// DecodeChoice forces the model to pick exactly one of options.
	// Implementations must constrain decoding (JSON-schema enum); callers
	// still validate the result against the option set.
	DecodeChoice(ctx context.Context, system string, msgs []statex.Message, options []string) (string, error)
}

// Router selects the next worker label, or state.Finish. Route never fails:
// any internal error resolves to Finish.
type Router interface {
	Route(ctx context.Context, st *statex.State) string
}

// Worker runs one domain agent's tool-call sub-loop. Every message the
// worker appends flows through sink as a partial update, so the caller can
// merge and checkpoint after each sub-loop iteration. A sink error aborts
// the run.
type Worker interface {
	Name() string
	Run(ctx context.Context, st *statex.State, sink func(statex.Partial) error, emit EmitFunc) error
}
