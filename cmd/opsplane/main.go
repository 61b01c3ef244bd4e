// Package main implements the entry point for the opsplane operation
// pipeline engine. Opsplane tracks long-running lifecycle operations against
// provisioned resources, consumes worker status updates in per-resource
// sessions and drives multi-step pipelines to completion.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/opsplane/opsplane/config"
	"github.com/opsplane/opsplane/consumer"
	"github.com/opsplane/opsplane/engine"
	"github.com/opsplane/opsplane/metric"
	"github.com/opsplane/opsplane/model"
	"github.com/opsplane/opsplane/natsclient"
	"github.com/opsplane/opsplane/pkg/cache"
	"github.com/opsplane/opsplane/queue"
	"github.com/opsplane/opsplane/session"
	"github.com/opsplane/opsplane/store"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "opsplane"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting opsplane (operation pipeline engine)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"consumers", cfg.Consumer.Count)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsRegistry := metric.NewRegistry()

	natsClient, err := connectNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := natsClient.Close(closeCtx); err != nil {
			slog.Warn("NATS close", "error", err)
		}
	}()

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Addr, metricsRegistry, natsClient.IsHealthy)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Stop(stopCtx)
		}()
	}

	supervisor, err := buildPipeline(ctx, cfg, natsClient, metricsRegistry, logger)
	if err != nil {
		return err
	}

	supervisor.Run(ctx)
	slog.Info("Shutdown complete")
	return nil
}

// connectNATS creates and connects the broker client.
func connectNATS(ctx context.Context, cfg config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(&slogNATSLogger{logger: logger}),
		natsclient.WithClientName(cfg.NATS.ClientName),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}

// buildPipeline provisions streams and buckets and wires the stores, engine
// and consumer pool together.
func buildPipeline(
	ctx context.Context,
	cfg config.Config,
	client *natsclient.Client,
	registry *metric.Registry,
	logger *slog.Logger,
) (*consumer.Supervisor, error) {
	statusStream, err := client.CreateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Streams.StatusStream,
		Subjects:  []string{cfg.Streams.StatusSubjectPrefix + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create status stream: %w", err)
	}

	if _, err := client.CreateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Streams.DeployStream,
		Subjects:  []string{cfg.Streams.DeploySubjectPrefix + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}); err != nil {
		return nil, fmt.Errorf("create deploy stream: %w", err)
	}

	buckets, err := createBuckets(ctx, cfg, client)
	if err != nil {
		return nil, err
	}

	operations := store.NewOperations(client.NewKVStore(buckets.operations), logger)
	resources := store.NewResources(client.NewKVStore(buckets.resources), logger)
	templateCache := cache.NewTTL[*model.Template](ctx,
		cfg.Consumer.TemplateCacheTTL.Std(), time.Minute,
		cache.WithMetrics[*model.Template](registry.Registerer(), "opsplane_template_cache"))
	templates := store.NewTemplates(client.NewKVStore(buckets.templates), templateCache, logger)

	publisher := queue.NewPublisher(client, cfg.Streams.DeploySubjectPrefix, logger)
	dispatcher := engine.NewDispatcher(resources, templates, publisher, logger)
	eng := engine.New(operations, resources, dispatcher, logger,
		engine.WithMetrics(registry.Metrics))

	hostname, _ := os.Hostname()
	broker := session.NewBroker(statusStream, client.NewKVStore(buckets.sessions), session.BrokerConfig{
		SubjectPrefix:   cfg.Streams.StatusSubjectPrefix,
		Owner:           fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		RenewInterval:   cfg.Consumer.RenewInterval.Std(),
		MaxLockDuration: cfg.Consumer.MaxLockDuration.Std(),
	}, registry.Metrics, logger)

	supervisor := consumer.NewSupervisor(cfg.Consumer.Count, func(name string) *consumer.Consumer {
		return consumer.New(name, consumer.BrokerSource(broker), eng,
			cfg.Consumer.AcquireWait.Std(), registry.Metrics, logger)
	}, registry.Metrics, logger)

	return supervisor, nil
}

type kvBuckets struct {
	operations jetstream.KeyValue
	resources  jetstream.KeyValue
	templates  jetstream.KeyValue
	sessions   jetstream.KeyValue
}

// createBuckets provisions the KV buckets. The sessions bucket carries a TTL
// so leases from crashed consumers expire on their own.
func createBuckets(ctx context.Context, cfg config.Config, client *natsclient.Client) (*kvBuckets, error) {
	var b kvBuckets
	var err error

	if b.operations, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.Streams.OperationsBucket,
	}); err != nil {
		return nil, fmt.Errorf("create operations bucket: %w", err)
	}
	if b.resources, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.Streams.ResourcesBucket,
	}); err != nil {
		return nil, fmt.Errorf("create resources bucket: %w", err)
	}
	if b.templates, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.Streams.TemplatesBucket,
	}); err != nil {
		return nil, fmt.Errorf("create templates bucket: %w", err)
	}
	if b.sessions, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.Streams.SessionsBucket,
		TTL:    4 * cfg.Consumer.RenewInterval.Std(),
	}); err != nil {
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}

	return &b, nil
}

// slogNATSLogger adapts slog to the natsclient Logger interface.
type slogNATSLogger struct {
	logger *slog.Logger
}

func (l *slogNATSLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *slogNATSLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l *slogNATSLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}
