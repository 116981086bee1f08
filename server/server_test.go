package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanpawarit/deskmesh/agent/checkpoint"
	contractx "github.com/tanpawarit/deskmesh/agent/contract"
	statex "github.com/tanpawarit/deskmesh/agent/state"
)

type fakeEngine struct {
	runErr     error
	lastInput  contractx.TurnInput
	terminated []string
	events     []contractx.Event
}

func (f *fakeEngine) Run(ctx context.Context, in contractx.TurnInput, emit contractx.EmitFunc) (*statex.State, error) {
	f.lastInput = in
	if f.runErr != nil {
		return nil, f.runErr
	}
	for _, ev := range f.events {
		emit.Emit(ev)
	}
	st, _ := statex.New(in.ThreadID)
	return st, nil
}

func (f *fakeEngine) Resume(ctx context.Context, threadID string, emit contractx.EmitFunc) (*statex.State, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	for _, ev := range f.events {
		emit.Emit(ev)
	}
	st, _ := statex.New(threadID)
	return st, nil
}

func (f *fakeEngine) Terminate(ctx context.Context, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return checkpoint.ErrInvalidThread
	}
	f.terminated = append(f.terminated, threadID)
	return nil
}

type fakeLoader struct {
	st   *statex.State
	step int
	err  error
}

func (f *fakeLoader) LoadLatest(ctx context.Context, threadID, namespace string) (*statex.State, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.st, f.step, nil
}

func newTestHandler(t *testing.T, eng *fakeEngine, loader *fakeLoader) http.Handler {
	t.Helper()
	return New(eng, loader, WithGatherer(prometheus.NewRegistry())).Handler()
}

func TestTurnStreamsEvents(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{events: []contractx.Event{
		{Type: contractx.EventToolInvoked, Agent: "ServiceNow", Tool: "servicenow.create_ticket"},
		{Type: contractx.EventFinal, Agent: "ServiceNow", Text: "created INC-1"},
	}}
	h := newTestHandler(t, eng, &fakeLoader{})

	req := httptest.NewRequest(http.MethodPost, "/threads/t1/turns", strings.NewReader(`{"text":"vpn down"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "event: tool_invoked") {
		t.Fatalf("tool event missing from stream:\n%s", body)
	}
	if !strings.Contains(body, "event: final") || !strings.Contains(body, "created INC-1") {
		t.Fatalf("final event missing from stream:\n%s", body)
	}
	if eng.lastInput.ThreadID != "t1" || eng.lastInput.Text != "vpn down" {
		t.Fatalf("input not forwarded: %+v", eng.lastInput)
	}
}

func TestTurnRejectsBadBody(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, &fakeEngine{}, &fakeLoader{})

	req := httptest.NewRequest(http.MethodPost, "/threads/t1/turns", strings.NewReader(`not json`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/threads/t1/turns", strings.NewReader(`{"text":"  "}`))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("blank text status = %d, want 400", rr.Code)
	}
}

func TestTurnTerminatedThreadStreamsError(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{runErr: fmt.Errorf("%w: t1", contractx.ErrThreadTerminated)}
	h := newTestHandler(t, eng, &fakeLoader{})

	req := httptest.NewRequest(http.MethodPost, "/threads/t1/turns", strings.NewReader(`{"text":"hi"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	body := rr.Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, "thread is terminated") {
		t.Fatalf("error event missing:\n%s", body)
	}
}

func TestResumeStreams(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{events: []contractx.Event{{Type: contractx.EventFinal, Text: "resumed"}}}
	h := newTestHandler(t, eng, &fakeLoader{})

	req := httptest.NewRequest(http.MethodPost, "/threads/t1/resume", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !strings.Contains(rr.Body.String(), "resumed") {
		t.Fatalf("resume stream missing final event:\n%s", rr.Body.String())
	}
}

func TestTerminate(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h := newTestHandler(t, eng, &fakeLoader{})

	req := httptest.NewRequest(http.MethodPost, "/threads/t1/terminate", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if len(eng.terminated) != 1 || eng.terminated[0] != "t1" {
		t.Fatalf("terminate not forwarded: %v", eng.terminated)
	}
}

func TestStateEndpoint(t *testing.T) {
	t.Parallel()

	st, _ := statex.New("t1")
	st.Apply(statex.Partial{Messages: []statex.Message{statex.UserMessage("hello")}})
	h := newTestHandler(t, &fakeEngine{}, &fakeLoader{st: st, step: 3})

	req := httptest.NewRequest(http.MethodGet, "/threads/t1/state", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"step":3`) {
		t.Fatalf("step missing from body: %s", rr.Body.String())
	}
}

func TestStateNotFound(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, &fakeEngine{}, &fakeLoader{err: checkpoint.ErrNotFound})

	req := httptest.NewRequest(http.MethodGet, "/threads/ghost/state", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, &fakeEngine{}, &fakeLoader{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
}
