// Package main provides the CLI entry point for fxalert.
// It parses configuration, wires the feed, broadcaster, alert engine and delivery pipeline,
// serves the HTTP API and shuts everything down in dependency order.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"fxalert/internal/broadcast"
	"fxalert/internal/bus"
	"fxalert/internal/config"
	"fxalert/internal/database"
	"fxalert/internal/delivery"
	"fxalert/internal/delivery/retry"
	"fxalert/internal/delivery/webhook"
	"fxalert/internal/engine"
	"fxalert/internal/feed"
	"fxalert/internal/feed/paper"
	"fxalert/internal/feed/terminal"
	"fxalert/internal/handlers"
	"fxalert/internal/metrics"
	"fxalert/internal/queue"
	"fxalert/internal/router"
	"fxalert/internal/shared"
	"fxalert/internal/streamer"
	"fxalert/internal/supervisor"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	// Set up structured logging
	// Allow DEBUG level via environment variable for troubleshooting
	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "DEBUG") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("Starting fxalert",
		"http_port", cfg.HTTPPort,
		"instance", cfg.InstanceName,
		"feed", cfg.Feed,
		"postgres_dsn", shared.MaskDSN(cfg.PostgresDSN),
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"eval_interval", cfg.EvalInterval,
		"deactivate_once", cfg.DeactivateOnce,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	// Initialize database connection
	slog.Info("Connecting to PostgreSQL database")
	db, err := database.NewDB(cfg.PostgresDSN)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		slog.Info("Tip: Ensure Postgres is running and -postgres-dsn points at it")
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("Failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.Info("Successfully connected to PostgreSQL database")

	// Redis carries the shared bus and the metrics. Without it this instance runs alone.
	var (
		redisClient *redis.Client
		sharedBus   bus.Bus
	)
	redisClient, err = shared.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Warn("Redis unavailable, running single-instance with an in-process bus", "error", err)
		slog.Info("Tip: Ensure Redis is running at -redis-addr to share broadcasts across instances")
		sharedBus = bus.NewMemory(0)
	} else {
		defer redisClient.Close()
		sharedBus = bus.NewRedis(redisClient)
		slog.Info("Successfully connected to Redis", "addr", cfg.RedisAddr)
	}

	collector := metrics.NewCollector(cfg.InstanceName, redisClient)
	collector.SetReportInterval(cfg.MetricsInterval)
	collector.Start(ctx)
	defer collector.Stop()

	hub := broadcast.New(sharedBus, broadcast.DefaultSendTimeout, collector)

	// Price feed and its supervisor
	sup := supervisor.New(newSource(cfg), supervisor.Config{
		MaxRetries:        cfg.ConnectMaxRetries,
		BaseDelay:         cfg.ConnectBaseDelay,
		MaxDelay:          cfg.ConnectMaxDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, hub, collector)
	if err := sup.Initialize(ctx); err != nil {
		slog.Error("Failed to connect to price feed", "feed", cfg.Feed, "error", err)
		os.Exit(1)
	}

	// Background fan-out: bus relay and price streamer
	var background sync.WaitGroup
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	relay := broadcast.NewRelay(hub, sharedBus, broadcast.RelayConfig{
		Channel:      cfg.BusChannel,
		PollInterval: cfg.RelayPollInterval,
	}, collector)
	prices := streamer.New(sup, hub, streamer.Config{
		Symbols:  cfg.Symbols(),
		Interval: cfg.StreamInterval,
		Channel:  cfg.BusChannel,
	})
	background.Add(2)
	go func() {
		defer background.Done()
		relay.Run(bgCtx)
	}()
	go func() {
		defer background.Done()
		prices.Run(bgCtx)
	}()

	// Delivery pipeline
	pool := delivery.NewPool(webhook.NewSender(cfg.WebhookTimeout), delivery.Config{
		Workers:   cfg.DeliveryWorkers,
		QueueSize: cfg.DeliveryQueueSize,
		Retry: retry.Config{
			MaxAttempts:    cfg.DeliveryAttempts,
			InitialBackoff: cfg.DeliveryBaseBackoff,
			MaxBackoff:     time.Minute,
			BackoffFactor:  2.0,
		},
	}, collector)
	// Workers outlive the signal so Stop can drain queued notifications.
	pool.Start(context.Background())

	var (
		enqueuer      engine.Enqueuer = pool
		kafkaProducer *queue.Producer
		kafkaConsumer *queue.Consumer
		consumerDone  chan struct{}
	)
	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	if cfg.KafkaBrokers != "" {
		queue.EnsureTopic(cfg.KafkaBrokers, cfg.KafkaTopic, 3)

		kafkaProducer, err = queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.DeliveryQueueSize)
		if err != nil {
			slog.Error("Failed to create Kafka producer", "error", err)
			slog.Info("Tip: Ensure Kafka is reachable at -kafka-brokers, or leave it empty for the in-process queue")
			os.Exit(1)
		}
		kafkaConsumer, err = queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, pool)
		if err != nil {
			slog.Error("Failed to create Kafka consumer", "error", err)
			os.Exit(1)
		}
		enqueuer = kafkaProducer

		consumerDone = make(chan struct{})
		go func() {
			defer close(consumerDone)
			if err := kafkaConsumer.Run(consumerCtx); err != nil {
				slog.Error("Kafka consumer failed", "error", err)
			}
		}()
		slog.Info("Delivery queue backed by Kafka", "topic", cfg.KafkaTopic, "group_id", cfg.KafkaGroupID)
	} else {
		slog.Info("Delivery queue kept in process")
	}

	alerts := engine.New(db, sup, enqueuer, engine.Config{
		Interval:         cfg.EvalInterval,
		DeactivateOnce:   cfg.DeactivateOnce,
		DeliveryAttempts: cfg.DeliveryAttempts,
	}, collector)
	alerts.Start(ctx)

	// HTTP API
	opts := []handlers.Option{handlers.WithMetrics(collector, nil)}
	if redisClient != nil {
		opts = []handlers.Option{
			handlers.WithRedis(handlers.PingerFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			})),
			handlers.WithMetrics(collector, metrics.NewReader(redisClient)),
		}
	}
	server := router.NewServer(cfg.HTTPPort, handlers.NewHandlers(sup, hub, opts...), collector)

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-serverErrChan:
		slog.Error("HTTP server error", "error", err)
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error shutting down server", "error", err)
	}

	if err := alerts.Stop(shutdownCtx); err != nil {
		slog.Error("Error stopping alert engine", "error", err)
	}

	bgCancel()
	background.Wait()

	if err := sup.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error shutting down feed supervisor", "error", err)
	}

	// Flush handed-off jobs to Kafka, stop pulling new ones, then let the pool finish what it
	// holds while the reader is still open to commit their offsets.
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(shutdownCtx); err != nil {
			slog.Error("Error closing Kafka producer", "error", err)
		}
		consumerCancel()
		<-consumerDone
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		slog.Error("Error stopping delivery pool", "error", err)
	}
	if kafkaConsumer != nil {
		kafkaConsumer.Close()
	}

	if m, ok := sharedBus.(*bus.Memory); ok {
		m.Close()
	}

	slog.Info("fxalert stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// newSource builds the configured price feed.
func newSource(cfg *config.Config) feed.Source {
	if cfg.Feed == config.FeedPaper {
		slog.Info("Using paper feed (simulated prices)", "symbols", cfg.Symbols())
		return paper.New(paper.Config{Symbols: cfg.Symbols(), Seed: time.Now().UnixNano()})
	}
	slog.Info("Using trading terminal feed", "url", cfg.TerminalURL, "login", cfg.TerminalLogin, "server", cfg.TerminalServer)
	return terminal.New(terminal.Config{
		BaseURL:  cfg.TerminalURL,
		Login:    cfg.TerminalLogin,
		Password: cfg.TerminalPassword,
		Server:   cfg.TerminalServer,
	})
}
