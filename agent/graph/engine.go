// Package graph drives the supervisor/worker star topology: the supervisor
// picks a worker, the worker runs its tool sub-loop, every node's partial
// update merges into shared state, and a checkpoint lands after each merge.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/deskmesh/agent/checkpoint"
	contractx "github.com/tanpawarit/deskmesh/agent/contract"
	statex "github.com/tanpawarit/deskmesh/agent/state"
)

// apologyAgent tags the synthesized terminal message when a turn ends with
// no worker having answered.
const apologyAgent = "Supervisor"

const apologyText = "I'm sorry, I couldn't handle that request. Please try rephrasing or try again later."

const defaultSaveAttempts = 3

// Engine owns the node/edge topology. All control returns through the
// supervisor; no worker transitions directly to another worker, so the
// routing decision is always re-evaluated against the latest state.
type Engine struct {
	router    contractx.Router
	workers   map[string]contractx.Worker
	store     checkpoint.Store
	namespace string

	// turnLimit caps supervisor invocations per inbound user turn.
	turnLimit    int
	saveAttempts int
	metrics      *Metrics
	log          zerolog.Logger
}

type Option func(*Engine)

// WithTurnLimit overrides the default cap of len(workers)+2 supervisor
// invocations per turn.
func WithTurnLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.turnLimit = n
		}
	}
}

func WithNamespace(ns string) Option {
	return func(e *Engine) {
		if trimmed := strings.TrimSpace(ns); trimmed != "" {
			e.namespace = trimmed
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(router contractx.Router, workers []contractx.Worker, store checkpoint.Store, opts ...Option) (*Engine, error) {
	if router == nil {
		return nil, fmt.Errorf("%w: router is required", contractx.ErrValidation)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: checkpoint store is required", contractx.ErrValidation)
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("%w: at least one worker is required", contractx.ErrValidation)
	}

	byName := make(map[string]contractx.Worker, len(workers))
	for _, w := range workers {
		name := strings.TrimSpace(w.Name())
		if name == "" || name == statex.Finish {
			return nil, fmt.Errorf("%w: invalid worker name %q", contractx.ErrValidation, name)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate worker %q", contractx.ErrValidation, name)
		}
		byName[name] = w
	}

	e := &Engine{
		router:       router,
		workers:      byName,
		store:        store,
		namespace:    checkpoint.DefaultNamespace,
		turnLimit:    len(workers) + 2,
		saveAttempts: defaultSaveAttempts,
		log:          log.With().Str("component", "graph.engine").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// session tracks one thread's in-flight state and step counter between
// node executions.
type session struct {
	st   *statex.State
	step int
}

// Run processes one inbound user turn to completion: load or create state,
// append the user message, then alternate supervisor and workers until
// FINISH or the turn limit. The returned state is the final merged state;
// a checkpoint exists for every executed node.
func (e *Engine) Run(ctx context.Context, in contractx.TurnInput, emit contractx.EmitFunc) (*statex.State, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return nil, statex.ErrInvalidThread
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%w: turn text is empty", contractx.ErrValidation)
	}
	if e.metrics != nil {
		e.metrics.Turns.Inc()
	}

	sess, err := e.loadOrCreate(ctx, threadID)
	if err != nil {
		return nil, err
	}

	input := statex.Partial{Messages: []statex.Message{statex.UserMessage(in.Text)}}
	if wf := strings.TrimSpace(in.Workflow); wf != "" {
		input.Workflow = &wf
	}
	if err := e.merge(ctx, sess, input); err != nil {
		return sess.st, err
	}

	if err := e.drive(ctx, sess, emit, ""); err != nil {
		return sess.st, err
	}
	return sess.st, nil
}

// Step drives exactly one supervisor→worker→merge cycle for a thread that
// already has persisted state, then yields.
func (e *Engine) Step(ctx context.Context, threadID string) (*statex.State, error) {
	sess, err := e.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if _, err := e.cycle(ctx, sess, nil); err != nil {
		return sess.st, err
	}
	return sess.st, nil
}

// Resume continues an interrupted thread from its latest checkpoint. If the
// checkpoint recorded a pending worker, that worker re-runs against the
// exact persisted history; tool results already recorded are part of that
// history, so completed calls are not repeated.
func (e *Engine) Resume(ctx context.Context, threadID string, emit contractx.EmitFunc) (*statex.State, error) {
	sess, err := e.load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	pending := ""
	if sess.st.Next != "" && sess.st.Next != statex.Finish {
		pending = sess.st.Next
	}
	if err := e.drive(ctx, sess, emit, pending); err != nil {
		return sess.st, err
	}
	return sess.st, nil
}

// Terminate closes a thread without purging its history.
func (e *Engine) Terminate(ctx context.Context, threadID string) error {
	return e.store.Terminate(ctx, threadID)
}

// drive loops supervisor cycles until FINISH or the turn limit, starting
// with pendingWorker when a resume landed mid-dispatch.
func (e *Engine) drive(ctx context.Context, sess *session, emit contractx.EmitFunc, pendingWorker string) error {
	if pendingWorker != "" {
		if _, ok := e.workers[pendingWorker]; ok {
			if err := e.dispatch(ctx, sess, pendingWorker, emit); err != nil {
				return err
			}
		} else {
			e.log.Warn().Str("thread", sess.st.ThreadID).Str("label", pendingWorker).Msg("pending worker missing from topology, rerouting")
		}
	}

	for turn := 0; turn < e.turnLimit; turn++ {
		// Cancellation is cooperative: checked between steps, never
		// mid-tool, so side effects complete and the last checkpoint
		// stays resumable.
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := e.cycle(ctx, sess, emit)
		if err != nil {
			return err
		}
		if done {
			return e.finalize(ctx, sess, emit)
		}
	}

	e.log.Warn().Str("thread", sess.st.ThreadID).Int("limit", e.turnLimit).Msg("turn limit reached")
	return e.finalize(ctx, sess, emit)
}

// cycle executes one supervisor decision and, unless terminal, the chosen
// worker. Returns done=true on FINISH.
func (e *Engine) cycle(ctx context.Context, sess *session, emit contractx.EmitFunc) (bool, error) {
	label := e.router.Route(ctx, sess.st)
	if _, ok := e.workers[label]; !ok && label != statex.Finish {
		// The supervisor guards its own label set, so this only fires
		// when topology and router disagree. Fail closed.
		e.log.Error().Str("thread", sess.st.ThreadID).Str("label", label).Msg("routing label has no worker node")
		label = statex.Finish
	}
	if err := e.merge(ctx, sess, statex.NextPartial(label)); err != nil {
		return false, err
	}
	if label == statex.Finish {
		return true, nil
	}
	return false, e.dispatch(ctx, sess, label, emit)
}

func (e *Engine) dispatch(ctx context.Context, sess *session, label string, emit contractx.EmitFunc) error {
	w, ok := e.workers[label]
	if !ok {
		return fmt.Errorf("%w: no worker for label %q", contractx.ErrValidation, label)
	}
	sink := func(p statex.Partial) error {
		return e.merge(ctx, sess, p)
	}
	return w.Run(ctx, sess.st, sink, emit)
}

// finalize guarantees the turn ends with a terminal agent message, then
// emits the final event.
func (e *Engine) finalize(ctx context.Context, sess *session, emit contractx.EmitFunc) error {
	last := sess.st.LastMessage()
	if last == nil || !last.IsTerminalAgent() {
		p := statex.Partial{Messages: []statex.Message{statex.AgentMessage(apologyAgent, apologyText)}}
		if err := e.merge(ctx, sess, p); err != nil {
			return err
		}
		last = sess.st.LastMessage()
	}
	emit.Emit(contractx.Event{Type: contractx.EventFinal, Agent: last.Agent, Text: last.Content})
	return nil
}

// merge applies one node's partial update and checkpoints the result.
// This is the only place state mutates and the only place checkpoints are
// written during a run.
func (e *Engine) merge(ctx context.Context, sess *session, p statex.Partial) error {
	sess.st.Apply(p)
	sess.step++
	if e.metrics != nil {
		e.metrics.Steps.Inc()
	}
	return e.save(ctx, sess)
}

// save persists with bounded retry. A step whose checkpoint cannot persist
// must not be silently passed: replay after a crash would diverge.
func (e *Engine) save(ctx context.Context, sess *session) error {
	var lastErr error
	for attempt := 1; attempt <= e.saveAttempts; attempt++ {
		_, err := e.store.Save(ctx, sess.st.ThreadID, e.namespace, sess.st, sess.step)
		if err == nil {
			if e.metrics != nil {
				e.metrics.CheckpointWrites.Inc()
			}
			return nil
		}
		lastErr = err
		e.log.Warn().Str("thread", sess.st.ThreadID).Int("attempt", attempt).Err(err).Msg("checkpoint write failed")
	}
	return fmt.Errorf("%w: step %d: %v", contractx.ErrCheckpoint, sess.step, lastErr)
}

func (e *Engine) loadOrCreate(ctx context.Context, threadID string) (*session, error) {
	sess, err := e.load(ctx, threadID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, err
	}
	st, err := statex.New(threadID)
	if err != nil {
		return nil, err
	}
	return &session{st: st}, nil
}

func (e *Engine) load(ctx context.Context, threadID string) (*session, error) {
	terminated, err := e.store.Terminated(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("check thread status: %w", err)
	}
	if terminated {
		return nil, fmt.Errorf("%w: %s", contractx.ErrThreadTerminated, threadID)
	}

	st, step, err := e.store.LoadLatest(ctx, threadID, e.namespace)
	if err != nil {
		return nil, err
	}
	return &session{st: st, step: step}, nil
}
