package tool

import (
	"context"

	contractx "github.com/tanpawarit/deskmesh/agent/contract"
	statex "github.com/tanpawarit/deskmesh/agent/state"
)

// WorkflowAdmin is the slice of the checkpoint layer the workflow tools
// need. Satisfied by checkpoint.Store implementations.
type WorkflowAdmin interface {
	LoadLatest(ctx context.Context, threadID, namespace string) (*statex.State, int, error)
	Terminate(ctx context.Context, threadID string) error
}

// WorkflowTools exposes workflow replay/termination over the checkpoint
// store. Register the result under NamespaceWorkflow.
func WorkflowTools(admin WorkflowAdmin, namespace string) []Descriptor {
	return []Descriptor{
		{
			Name:        "replay",
			Description: "Summarize the latest persisted state of a workflow thread.",
			Params: map[string]contractx.Param{
				"thread_id": {Type: contractx.ParamString, Description: "Thread to inspect", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				thread, err := stringArg(args, "thread_id")
				if err != nil {
					return nil, err
				}
				st, step, err := admin.LoadLatest(ctx, thread, namespace)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"thread_id": thread,
					"step":      step,
					"messages":  len(st.Messages),
					"next":      st.Next,
					"workflow":  st.Workflow,
				}, nil
			},
		},
		{
			Name:        "terminate",
			Description: "Close a workflow thread. History is kept for audit; the thread accepts no further turns.",
			Params: map[string]contractx.Param{
				"thread_id": {Type: contractx.ParamString, Description: "Thread to close", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				thread, err := stringArg(args, "thread_id")
				if err != nil {
					return nil, err
				}
				if err := admin.Terminate(ctx, thread); err != nil {
					return nil, err
				}
				return map[string]any{"terminated": true, "thread_id": thread}, nil
			},
		},
		{
			Name:        "resume",
			Description: "Check whether an interrupted workflow thread can be resumed from its last checkpoint.",
			Params: map[string]contractx.Param{
				"thread_id": {Type: contractx.ParamString, Description: "Thread to resume", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				thread, err := stringArg(args, "thread_id")
				if err != nil {
					return nil, err
				}
				st, step, err := admin.LoadLatest(ctx, thread, namespace)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"resumable": true,
					"thread_id": thread,
					"step":      step,
					"pending":   st.Next != "" && st.Next != statex.Finish,
				}, nil
			},
		},
	}
}
