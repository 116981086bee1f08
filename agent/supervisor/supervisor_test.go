package supervisor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	contractx "github.com/tanpawarit/deskmesh/agent/contract"
	statex "github.com/tanpawarit/deskmesh/agent/state"
)

type fakeGateway struct {
	choice      string
	choiceErr   error
	seenOptions []string
	seenMsgs    int
	calls       int
}

func (f *fakeGateway) Complete(ctx context.Context, system string, msgs []statex.Message, tools []contractx.ToolSchema) (contractx.ModelReply, error) {
	return contractx.ModelReply{}, errors.New("not used")
}

func (f *fakeGateway) DecodeChoice(ctx context.Context, system string, msgs []statex.Message, options []string) (string, error) {
	f.calls++
	f.seenOptions = append([]string(nil), options...)
	f.seenMsgs = len(msgs)
	if f.choiceErr != nil {
		return "", f.choiceErr
	}
	return f.choice, nil
}

func routeState(t *testing.T, text string) *statex.State {
	t.Helper()
	st, err := statex.New("t1")
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	st.Apply(statex.Partial{Messages: []statex.Message{statex.UserMessage(text)}})
	return st
}

func TestNewValidatesLabels(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	if _, err := New(nil, "p", []string{"A"}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("nil gateway accepted: %v", err)
	}
	if _, err := New(gw, "p", nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("empty labels accepted: %v", err)
	}
	if _, err := New(gw, "p", []string{"A", "A"}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("duplicate labels accepted: %v", err)
	}
	if _, err := New(gw, "p", []string{statex.Finish}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("FINISH as worker label accepted: %v", err)
	}
}

func TestLabelsIncludeTerminal(t *testing.T) {
	t.Parallel()

	s, err := New(&fakeGateway{}, "p", []string{"ServiceNow", "Intune"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	labels := s.Labels()
	if len(labels) != 3 {
		t.Fatalf("label count = %d, want 3", len(labels))
	}
	if labels[len(labels)-1] != statex.Finish {
		t.Fatalf("terminal label missing: %v", labels)
	}
}

func TestRouteReturnsModelChoice(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{choice: "Intune"}
	s, err := New(gw, "p", []string{"ServiceNow", "Intune"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got := s.Route(context.Background(), routeState(t, "wipe my laptop"))
	if got != "Intune" {
		t.Fatalf("route = %q, want Intune", got)
	}
	if len(gw.seenOptions) != 3 {
		t.Fatalf("options passed to model = %v", gw.seenOptions)
	}
}

func TestRouteFailsClosedOnModelError(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{choiceErr: fmt.Errorf("%w: upstream 500", contractx.ErrModelInvoke)}
	s, err := New(gw, "p", []string{"ServiceNow"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if got := s.Route(context.Background(), routeState(t, "hello")); got != statex.Finish {
		t.Fatalf("route = %q, want %q", got, statex.Finish)
	}
	if gw.calls != 1 {
		t.Fatalf("model called %d times, want 1 (no retry)", gw.calls)
	}
}

func TestRouteFailsClosedOnUnknownLabel(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{choice: "Billing"}
	s, err := New(gw, "p", []string{"ServiceNow"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if got := s.Route(context.Background(), routeState(t, "hello")); got != statex.Finish {
		t.Fatalf("route = %q, want %q", got, statex.Finish)
	}
}

func TestRouteTrimsHistoryWindow(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{choice: "ServiceNow"}
	s, err := New(gw, "p", []string{"ServiceNow"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	st := routeState(t, "first")
	for i := 0; i < 40; i++ {
		st.Apply(statex.Partial{Messages: []statex.Message{statex.AgentMessage("ServiceNow", fmt.Sprintf("reply %d", i))}})
	}

	s.Route(context.Background(), st)
	if gw.seenMsgs != historyWindow {
		t.Fatalf("messages sent = %d, want %d", gw.seenMsgs, historyWindow)
	}
}
