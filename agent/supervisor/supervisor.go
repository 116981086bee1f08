// Package supervisor owns the single routing decision of the graph: which
// worker acts next, or whether the turn is finished.
package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/deskmesh/agent/contract"
	statex "github.com/tanpawarit/deskmesh/agent/state"
)

// historyWindow bounds how much conversation the routing call sees. The
// decision only ever depends on recent turns.
const historyWindow = 20

// Supervisor routes a conversation to one of a statically enumerated set of
// worker labels via a schema-constrained model call. It never returns a
// label outside that set: any failure, malformed output, or unknown label
// resolves to state.Finish.
type Supervisor struct {
	gw      contractx.ModelGateway
	prompt  string
	labels  []string
	allowed map[string]struct{}
	log     zerolog.Logger
}

var _ contractx.Router = (*Supervisor)(nil)

func New(gw contractx.ModelGateway, prompt string, workerLabels []string) (*Supervisor, error) {
	if gw == nil {
		return nil, fmt.Errorf("%w: model gateway is required", contractx.ErrValidation)
	}
	if len(workerLabels) == 0 {
		return nil, fmt.Errorf("%w: at least one worker label is required", contractx.ErrValidation)
	}

	labels := make([]string, 0, len(workerLabels)+1)
	allowed := make(map[string]struct{}, len(workerLabels)+1)
	for _, l := range workerLabels {
		l = strings.TrimSpace(l)
		if l == "" || l == statex.Finish {
			return nil, fmt.Errorf("%w: invalid worker label %q", contractx.ErrValidation, l)
		}
		if _, dup := allowed[l]; dup {
			return nil, fmt.Errorf("%w: duplicate worker label %q", contractx.ErrValidation, l)
		}
		labels = append(labels, l)
		allowed[l] = struct{}{}
	}
	labels = append(labels, statex.Finish)
	allowed[statex.Finish] = struct{}{}

	return &Supervisor{
		gw:      gw,
		prompt:  strings.TrimSpace(prompt),
		labels:  labels,
		allowed: allowed,
		log:     log.With().Str("component", "supervisor").Logger(),
	}, nil
}

// Labels returns the full routing label set including the terminal label.
func (s *Supervisor) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Route picks the next label for the given state. Fail-closed: a model
// error or an out-of-set answer routes to Finish rather than retrying,
// since retrying a conversation that cannot progress loops forever.
func (s *Supervisor) Route(ctx context.Context, st *statex.State) string {
	msgs := st.Messages
	if len(msgs) > historyWindow {
		msgs = msgs[len(msgs)-historyWindow:]
	}

	choice, err := s.gw.DecodeChoice(ctx, s.prompt, msgs, s.labels)
	if err != nil {
		s.log.Warn().Str("thread", st.ThreadID).Err(err).Msg("routing decision failed, finishing turn")
		return statex.Finish
	}
	if _, ok := s.allowed[choice]; !ok {
		s.log.Warn().Str("thread", st.ThreadID).Str("label", choice).Msg("routing label outside enumerated set, finishing turn")
		return statex.Finish
	}
	return choice
}
