package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"github.com/zosmed/engine/pkg/cmd"
	"github.com/zosmed/engine/pkg/housekeeping"
	"github.com/zosmed/engine/pkg/log"
	"github.com/zosmed/engine/pkg/monitoring"
	"github.com/zosmed/engine/pkg/web"
	"github.com/zosmed/engine/pkg/webhook"
	"github.com/zosmed/engine/pkg/workflow"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

func main() {
	cmd := &cli.Command{
		Name:                  "zosmed-api",
		Usage:                 "Receive Instagram webhooks and serve automation monitoring",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
			&cli.BoolFlag{
				Name:    "dispatch-inline",
				Usage:   "Run automations inside the API process instead of publishing to workers",
				Sources: cli.EnvVars("DISPATCH_INLINE"),
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
				Name:    "verify-token",
				Usage:   "Token expected by the webhook subscription handshake",
				Sources: cli.EnvVars("INSTAGRAM_VERIFY_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "app-secret",
				Usage:   "App secret used to verify webhook signatures",
				Sources: cli.EnvVars("INSTAGRAM_APP_SECRET"),
			},
			&cli.StringFlag{
				Name:    "housekeeping-cron",
				Usage:   "Cron spec of the housekeeping job for in-memory stores",
				Value:   housekeeping.DefaultSchedule,
				Sources: cli.EnvVars("HOUSEKEEPING_CRON"),
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

	logger := log.WithModule("zosmed-api")
	logger.InfoContext(ctx, "Initializing Zosmed API")

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

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "zosmed-api", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	runtime := cmd.NewRuntime(persistence, counterStore, logger, cmd.RuntimeConfig{
		InstagramAPIURL: command.String("instagram-api-url"),
		SendTimeout:     command.Duration("send-timeout"),
		Publisher:       eventBus,
	})

	intake := web.PublishIntake(eventBus)
	if command.Bool("dispatch-inline") {
		intake = web.DispatchIntake(runtime.Dispatcher)
	}

	feed := monitoring.NewFeed(logger)
	if err := feed.Register(eventBus); err != nil {
		return err
	}

	if err := eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	if sweeper != nil {
		scheduler, err := housekeeping.NewScheduler(command.String("housekeeping-cron"), logger, housekeeping.WithSweeper(sweeper))
		if err != nil {
			return err
		}

		if err := scheduler.Start(ctx); err != nil {
			return err
		}

		defer func() {
			if err := scheduler.Stop(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to stop housekeeping", "error", err)
			}
		}()
	}

	normalizer, err := webhook.NewNormalizer(logger)
	if err != nil {
		return err
	}

	handlers := web.NewAPIHandlers(web.Dependencies{
		Normalizer:  normalizer,
		Intake:      intake,
		Aggregator:  monitoring.NewAggregator(persistence, persistence, runtime.Engine, logger),
		Feed:        feed,
		Health:      persistence,
		VerifyToken: command.String("verify-token"),
		AppSecret:   command.String("app-secret"),
	}, logger)

	api := NewAPI(logger, handlers, runtime.Metrics.Handler())
	app := api.App()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "Failed to stop API server", "error", err)
		}
	}()

	if err := api.Start(app, command.Int("port")); err != nil {
		logger.ErrorContext(ctx, "API server stopped", "error", err)

		return err
	}

	return nil
}
