package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's counters. Construct once per process with the
// server's registry and share the tool counter with the invoker.
type Metrics struct {
	Turns            prometheus.Counter
	Steps            prometheus.Counter
	CheckpointWrites prometheus.Counter
	ToolInvocations  prometheus.Counter
	ModelCalls       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Turns: factory.NewCounter(prometheus.CounterOpts{
			Name: "deskmesh_turns_total",
			Help: "Inbound user turns processed.",
		}),
		Steps: factory.NewCounter(prometheus.CounterOpts{
			Name: "deskmesh_graph_steps_total",
			Help: "Graph node executions merged into conversation state.",
		}),
		CheckpointWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "deskmesh_checkpoint_writes_total",
			Help: "Checkpoints persisted.",
		}),
		ToolInvocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "deskmesh_tool_invocations_total",
			Help: "Tool calls dispatched by workers.",
		}),
		ModelCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "deskmesh_model_calls_total",
			Help: "Chat completion requests issued to the model backend.",
		}),
	}
}
