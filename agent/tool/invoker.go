package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	statex "github.com/tanpawarit/deskmesh/agent/state"
)

// Invoker resolves tool calls against a registry and executes them. Tools
// are not assumed idempotent, so a failed call is surfaced as an error
// payload for the model to react to, never retried here.
type Invoker struct {
	reg     *Registry
	log     zerolog.Logger
	counter prometheus.Counter
}

type InvokerOption func(*Invoker)

func WithInvocationCounter(c prometheus.Counter) InvokerOption {
	return func(iv *Invoker) {
		iv.counter = c
	}
}

func WithLogger(l zerolog.Logger) InvokerOption {
	return func(iv *Invoker) {
		iv.log = l
	}
}

func NewInvoker(reg *Registry, opts ...InvokerOption) *Invoker {
	iv := &Invoker{
		reg: reg,
		log: log.With().Str("component", "tool.invoker").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(iv)
		}
	}
	return iv
}

// Invoke executes one tool call and returns the correlated result message.
func (iv *Invoker) Invoke(ctx context.Context, call statex.ToolCall) statex.Message {
	if iv.counter != nil {
		iv.counter.Inc()
	}

	d, ok := iv.reg.Lookup(call.Name)
	if !ok {
		iv.log.Warn().Str("tool", call.Name).Msg("tool call for unregistered tool")
		return statex.ToolErrorMessage(call.ID, call.Name, fmt.Sprintf("tool %q is not available", call.Name))
	}

	result, err := d.Handler(ctx, call.Args)
	if err != nil {
		iv.log.Debug().Str("tool", call.Name).Err(err).Msg("tool invocation failed")
		return statex.ToolErrorMessage(call.ID, call.Name, err.Error())
	}

	payload, err := encodeResult(result)
	if err != nil {
		return statex.ToolErrorMessage(call.ID, call.Name, fmt.Sprintf("encode result: %v", err))
	}
	return statex.ToolResultMessage(call.ID, call.Name, payload)
}

// InvokeAll dispatches the calls of one model turn concurrently, waits for
// all of them, and returns results in request order. All calls complete (or
// fail) before the caller proceeds to the next model call.
func (iv *Invoker) InvokeAll(ctx context.Context, calls []statex.ToolCall) []statex.Message {
	if len(calls) == 0 {
		return nil
	}
	if len(calls) == 1 {
		return []statex.Message{iv.Invoke(ctx, calls[0])}
	}

	results := make([]statex.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call statex.ToolCall) {
			defer wg.Done()
			results[i] = iv.Invoke(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func encodeResult(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "null", nil
	case string:
		return t, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
