package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	statex "github.com/tanpawarit/deskmesh/agent/state"
)

type fakeAdmin struct {
	st         *statex.State
	step       int
	loadErr    error
	terminated []string
}

func (f *fakeAdmin) LoadLatest(ctx context.Context, threadID, namespace string) (*statex.State, int, error) {
	if f.loadErr != nil {
		return nil, 0, f.loadErr
	}
	return f.st, f.step, nil
}

func (f *fakeAdmin) Terminate(ctx context.Context, threadID string) error {
	f.terminated = append(f.terminated, threadID)
	return nil
}

func newWorkflowInvoker(t *testing.T, admin *fakeAdmin) *Invoker {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(NamespaceWorkflow, WorkflowTools(admin, "agent")...)
	return NewInvoker(reg)
}

func TestWorkflowReplaySummarizesState(t *testing.T) {
	t.Parallel()

	st, _ := statex.New("t1")
	st.Apply(statex.Partial{Messages: []statex.Message{statex.UserMessage("hi")}})
	st.Apply(statex.NextPartial("Intune"))

	iv := newWorkflowInvoker(t, &fakeAdmin{st: st, step: 4})
	msg := iv.Invoke(context.Background(), statex.ToolCall{
		ID: "c1", Name: "workflow.replay", Args: map[string]any{"thread_id": "t1"},
	})
	if msg.IsError {
		t.Fatalf("replay failed: %s", msg.Content)
	}
	for _, want := range []string{`"step":4`, `"next":"Intune"`, `"messages":1`} {
		if !strings.Contains(msg.Content, want) {
			t.Fatalf("payload missing %s: %q", want, msg.Content)
		}
	}
}

func TestWorkflowResumeReportsPending(t *testing.T) {
	t.Parallel()

	st, _ := statex.New("t1")
	st.Apply(statex.NextPartial(statex.Finish))

	iv := newWorkflowInvoker(t, &fakeAdmin{st: st, step: 9})
	msg := iv.Invoke(context.Background(), statex.ToolCall{
		ID: "c1", Name: "workflow.resume", Args: map[string]any{"thread_id": "t1"},
	})
	if msg.IsError {
		t.Fatalf("resume failed: %s", msg.Content)
	}
	if !strings.Contains(msg.Content, `"pending":false`) {
		t.Fatalf("finished thread reported pending: %q", msg.Content)
	}
}

func TestWorkflowTerminate(t *testing.T) {
	t.Parallel()

	admin := &fakeAdmin{}
	iv := newWorkflowInvoker(t, admin)
	msg := iv.Invoke(context.Background(), statex.ToolCall{
		ID: "c1", Name: "workflow.terminate", Args: map[string]any{"thread_id": "t1"},
	})
	if msg.IsError {
		t.Fatalf("terminate failed: %s", msg.Content)
	}
	if len(admin.terminated) != 1 || admin.terminated[0] != "t1" {
		t.Fatalf("terminate not forwarded: %v", admin.terminated)
	}
}

func TestWorkflowLoadErrorSurfaces(t *testing.T) {
	t.Parallel()

	iv := newWorkflowInvoker(t, &fakeAdmin{loadErr: errors.New("not found")})
	msg := iv.Invoke(context.Background(), statex.ToolCall{
		ID: "c1", Name: "workflow.replay", Args: map[string]any{"thread_id": "t1"},
	})
	if !msg.IsError {
		t.Fatal("load error should surface as error payload")
	}
}
