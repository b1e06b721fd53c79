package cmd

import (
	"log/slog"
	"time"

	"github.com/zosmed/engine/pkg/eventbus"
	"github.com/zosmed/engine/pkg/instagram"
	"github.com/zosmed/engine/pkg/metrics"
	"github.com/zosmed/engine/pkg/persistence"
	"github.com/zosmed/engine/pkg/safety"
	"github.com/zosmed/engine/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

type RuntimeConfig struct {
	InstagramAPIURL string
	SendTimeout     time.Duration
	// Publisher receives execution.finished events when set.
	Publisher eventbus.EventPublisher
	Tracer    trace.Tracer
	Client    instagram.Client
}

// Runtime is the execution stack shared by the binaries.
type Runtime struct {
	Engine     *safety.Engine
	Executor   *workflow.Executor
	Dispatcher *workflow.Dispatcher
	Metrics    *metrics.Metrics
}

func NewRuntime(store persistence.Persistence, counterStore Counters, logger *slog.Logger, config RuntimeConfig) *Runtime {
	m := metrics.New()
	engine := safety.NewEngine(counterStore, logger, safety.WithMetrics(m))

	client := config.Client
	if client == nil {
		client = instagram.NewGraphClient(config.InstagramAPIURL, logger)
	}

	opts := []workflow.Option{
		workflow.WithMetrics(m),
		workflow.WithSendTimeout(config.SendTimeout),
	}

	if config.Publisher != nil {
		opts = append(opts, workflow.WithPublisher(config.Publisher))
	}

	if config.Tracer != nil {
		opts = append(opts, workflow.WithTracer(config.Tracer))
	}

	executor := workflow.NewExecutor(store, store, engine, client, logger, opts...)

	return &Runtime{
		Engine:     engine,
		Executor:   executor,
		Dispatcher: workflow.NewDispatcher(store, counterStore, executor, logger),
		Metrics:    m,
	}
}
