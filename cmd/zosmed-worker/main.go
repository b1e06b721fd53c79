package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"github.com/zosmed/engine/pkg/cmd"
	"github.com/zosmed/engine/pkg/housekeeping"
	"github.com/zosmed/engine/pkg/log"
	"github.com/zosmed/engine/pkg/otelhelper"
	"github.com/zosmed/engine/pkg/workflow"
)

const (
	defaultMetricsPort = 9092
	shutdownTimeout    = 30 * time.Second
)

func main() {
	cmd := &cli.Command{
		Name:                  "zosmed-worker",
		EnableShellCompletion: true,
		Usage:                 "Run Instagram automations for received trigger events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (in-memory when empty)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for safety counters and deduplication (in-memory when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   cmd.EventBusKafka,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "instagram-api-url",
				Usage:   "Base URL of the Instagram Graph API",
				Sources: cli.EnvVars("INSTAGRAM_API_URL"),
			},
			&cli.DurationFlag{
				Name:    "send-timeout",
				Usage:   "Timeout of a single Instagram API call",
				Value:   workflow.DefaultSendTimeout,
				Sources: cli.EnvVars("SEND_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "housekeeping-cron",
				Usage:   "Cron spec of the housekeeping job",
				Value:   housekeeping.DefaultSchedule,
				Sources: cli.EnvVars("HOUSEKEEPING_CRON"),
			},
			&cli.DurationFlag{
				Name:    "execution-retention",
				Usage:   "How long execution records are kept",
				Value:   housekeeping.DefaultRetention,
				Sources: cli.EnvVars("EXECUTION_RETENTION"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port serving /metrics and health probes",
				Value:   defaultMetricsPort,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP (configured by OTEL_EXPORTER_OTLP_*)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("zosmed-worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing Zosmed worker")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	counterStore, sweeper, err := cmd.NewCounterStore(ctx, logger, command.String("redis-url"))
	if err != nil {
		return fmt.Errorf("failed to open counter store: %w", err)
	}

	if closer, ok := counterStore.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close counter store", "error", err)
			}
		}()
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "zosmed-worker", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	config := cmd.RuntimeConfig{
		InstagramAPIURL: command.String("instagram-api-url"),
		SendTimeout:     command.Duration("send-timeout"),
		Publisher:       eventBus,
	}

	if command.Bool("tracing") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, "zosmed-worker")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()

		config.Tracer = tracer
	}

	runtime := cmd.NewRuntime(persistence, counterStore, logger, config)

	opts := []housekeeping.Option{
		housekeeping.WithPruner(persistence, command.Duration("execution-retention")),
		housekeeping.WithUsageReport(persistence, runtime.Engine),
	}

	if sweeper != nil {
		opts = append(opts, housekeeping.WithSweeper(sweeper))
	}

	scheduler, err := housekeeping.NewScheduler(command.String("housekeeping-cron"), logger, opts...)
	if err != nil {
		return err
	}

	worker := NewWorker(workerID, runtime.Dispatcher, eventBus, scheduler, logger)
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	app := fiber.New()
	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(runtime.Metrics.Handler()))

	go func() {
		if err := app.Listen(":" + strconv.Itoa(command.Int("metrics-port"))); err != nil {
			logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.ErrorContext(ctx, "Failed to stop metrics server", "error", err)
	}

	return worker.Stop(shutdownCtx)
}
