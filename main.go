package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/deskmesh/agent/checkpoint"
	contractx "github.com/tanpawarit/deskmesh/agent/contract"
	"github.com/tanpawarit/deskmesh/agent/graph"
	"github.com/tanpawarit/deskmesh/agent/llm"
	"github.com/tanpawarit/deskmesh/agent/prompt"
	"github.com/tanpawarit/deskmesh/agent/supervisor"
	"github.com/tanpawarit/deskmesh/agent/tool"
	"github.com/tanpawarit/deskmesh/agent/worker"
	configx "github.com/tanpawarit/deskmesh/pkg/config"
	logx "github.com/tanpawarit/deskmesh/pkg/logger"
	"github.com/tanpawarit/deskmesh/server"
)

type AppConfig struct {
	// CheckpointStore selects the persistence backend: memory, redis, or
	// postgres.
	CheckpointStore string `envconfig:"CHECKPOINT_STORE" default:"memory"`
}

func main() {
	logCfg := configx.MustNew[logx.Config]("LOG")
	logx.Init(*logCfg)

	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llm.Config]("LLM")
	srvCfg := configx.MustNew[server.Config]("SERVER")

	metricsReg := prometheus.NewRegistry()
	metrics := graph.NewMetrics(metricsReg)

	gateway, err := llm.New(*llmCfg, llm.WithCallCounter(metrics.ModelCalls))
	if err != nil {
		log.Fatal().Err(err).Msg("initialize model gateway")
	}

	store, err := buildStore(appCfg.CheckpointStore)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize checkpoint store")
	}

	registry := tool.NewRegistry()
	bank := tool.NewMemoryBank()
	registry.MustRegister(tool.MemoryNamespace, tool.MemoryTools(bank)...)
	registry.MustRegister(tool.NamespaceWorkflow, tool.WorkflowTools(store, checkpoint.DefaultNamespace)...)
	for _, ns := range []string{
		tool.NamespaceServiceNow,
		tool.NamespaceIntune,
		tool.NamespaceM365,
		tool.NamespaceOutlook,
		tool.NamespaceAccess,
		tool.NamespaceKnowledge,
	} {
		// Backends are wired per deployment; nil backends answer with
		// "unavailable" payloads so the surface stays consistent.
		if err := tool.RegisterCatalog(registry, ns, nil); err != nil {
			log.Fatal().Err(err).Str("namespace", ns).Msg("register tool catalog")
		}
	}

	invoker := tool.NewInvoker(registry,
		tool.WithInvocationCounter(metrics.ToolInvocations),
	)

	prompts := prompt.LoadPromptSet()
	workerSpecs := []worker.Config{
		{Name: "ServiceNow", SystemPrompt: prompts.ServiceNow, ToolNamespace: tool.NamespaceServiceNow, SharedNamespaces: []string{tool.MemoryNamespace}},
		{Name: "Intune", SystemPrompt: prompts.Intune, ToolNamespace: tool.NamespaceIntune, SharedNamespaces: []string{tool.MemoryNamespace}},
		{Name: "M365", SystemPrompt: prompts.M365, ToolNamespace: tool.NamespaceM365, SharedNamespaces: []string{tool.MemoryNamespace}},
		{Name: "Outlook", SystemPrompt: prompts.Outlook, ToolNamespace: tool.NamespaceOutlook, SharedNamespaces: []string{tool.MemoryNamespace}},
		{Name: "Access", SystemPrompt: prompts.Access, ToolNamespace: tool.NamespaceAccess, SharedNamespaces: []string{tool.MemoryNamespace}},
		{Name: "Workflow", SystemPrompt: prompts.Workflow, ToolNamespace: tool.NamespaceWorkflow, SharedNamespaces: []string{tool.MemoryNamespace}},
		{Name: "Knowledge", SystemPrompt: prompts.Knowledge, ToolNamespace: tool.NamespaceKnowledge},
	}

	workers := make([]contractx.Worker, 0, len(workerSpecs))
	labels := make([]string, 0, len(workerSpecs))
	for _, spec := range workerSpecs {
		w, err := worker.New(spec, gateway, registry, invoker)
		if err != nil {
			log.Fatal().Err(err).Str("worker", spec.Name).Msg("build worker")
		}
		workers = append(workers, w)
		labels = append(labels, spec.Name)
	}

	router, err := supervisor.New(gateway, prompts.Supervisor, labels)
	if err != nil {
		log.Fatal().Err(err).Msg("build supervisor")
	}

	engine, err := graph.New(router, workers, store, graph.WithMetrics(metrics))
	if err != nil {
		log.Fatal().Err(err).Msg("build graph engine")
	}

	srv := server.New(engine, store, server.WithGatherer(metricsReg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Listen(ctx, *srvCfg); err != nil {
		log.Fatal().Err(err).Msg("http listener stopped")
	}
	log.Info().Msg("shutdown complete")
}

func buildStore(kind string) (checkpoint.Store, error) {
	switch kind {
	case "memory", "":
		return checkpoint.NewMemoryStore(), nil
	case "redis":
		redisCfg := configx.MustNew[checkpoint.RedisConfig]("REDIS")
		return checkpoint.NewRedisStore(*redisCfg), nil
	case "postgres":
		pgCfg := configx.MustNew[checkpoint.PostgresConfig]("POSTGRES")
		db, err := checkpoint.NewPostgresDB(*pgCfg)
		if err != nil {
			return nil, err
		}
		store := checkpoint.NewBunStore(db)
		if err := store.Init(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint store %q", kind)
	}
}
