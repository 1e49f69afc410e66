// Package main is the entry point for the W.A.R.N response daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/srihari-976/W.A.R.N/internal/archive"
	"github.com/srihari-976/W.A.R.N/internal/assets"
	"github.com/srihari-976/W.A.R.N/internal/bridge"
	"github.com/srihari-976/W.A.R.N/internal/config"
	"github.com/srihari-976/W.A.R.N/internal/console"
	"github.com/srihari-976/W.A.R.N/internal/console/feed"
	"github.com/srihari-976/W.A.R.N/internal/dispatch"
	errs "github.com/srihari-976/W.A.R.N/internal/errors"
	"github.com/srihari-976/W.A.R.N/internal/events"
	"github.com/srihari-976/W.A.R.N/internal/intake"
	"github.com/srihari-976/W.A.R.N/internal/notify"
	"github.com/srihari-976/W.A.R.N/internal/orchestrator"
	"github.com/srihari-976/W.A.R.N/internal/response"
	"github.com/srihari-976/W.A.R.N/internal/risk"
	"github.com/srihari-976/W.A.R.N/internal/store"
	"github.com/srihari-976/W.A.R.N/internal/workflow"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		configPath  string
		runConsole  bool
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&showVersion, "v", false, "Show version and exit (shorthand)")
	flag.StringVar(&configPath, "config", "", "Config file path (default WARN_CONFIG_PATH or configs/warn.yaml)")
	flag.BoolVar(&runConsole, "console", false, "Start the terminal dashboard in-process")
	flag.Parse()

	if showVersion {
		fmt.Printf("warn-respond %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	errs.SetProductionMode(cfg.Production)

	logger.Info("configuration loaded",
		"queue_capacity", cfg.Engine.QueueCapacity,
		"history_cap", cfg.Engine.HistoryCap,
		"fallback_action", cfg.Engine.FallbackAction,
		"kafka_intake", cfg.Intake.Kafka.Enabled,
		"dtls_intake", cfg.Intake.DTLS.Enabled,
		"events", cfg.Events.Enabled,
		"store", cfg.Store.Enabled,
		"archive", cfg.Archive.ClickHouse.Enabled,
		"production", cfg.Production,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Asset directory
	var dir assets.Directory
	if cfg.Assets.Enabled {
		dir, err = assets.NewRedisDirectory(assets.RedisConfig{
			Addr:        cfg.Assets.Addr,
			Password:    cfg.Assets.Password,
			DB:          cfg.Assets.DB,
			KeyPrefix:   cfg.Assets.KeyPrefix,
			DialTimeout: cfg.Assets.DialTimeout,
		})
		if err != nil {
			logger.Error("failed to connect to redis asset directory", "error", err)
			os.Exit(1)
		}
		logger.Info("asset directory connected", "addr", cfg.Assets.Addr)
	} else {
		dir = assets.NewMemoryDirectory()
	}

	// Agent command dispatch over NATS
	var agentDispatcher *dispatch.Dispatcher
	if cfg.Dispatch.Enabled {
		conn, err := dispatch.Connect(dispatch.Config{
			URL:           cfg.Dispatch.URL,
			SubjectPrefix: cfg.Dispatch.SubjectPrefix,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		agentDispatcher = dispatch.NewDispatcher(conn, cfg.Dispatch.SubjectPrefix, logger)
		logger.Info("agent dispatch connected", "url", cfg.Dispatch.URL)
	}

	// Notification channels
	channels := buildNotifyChannels(cfg.Notify, logger)
	notifyDispatcher := notify.NewDispatcher(notify.DefaultDeliveryConfig(), channels, logger)
	notifier := notify.NewNotifier(notifyDispatcher, logger)

	// Action registry with the built-in action set
	registry := response.NewRegistry(cfg.Engine.DefaultTimeout, logger)
	eff := response.Effectors{Notifier: notifier}
	if agentDispatcher != nil {
		eff.Dispatcher = agentDispatcher
	}
	registered := response.RegisterDefaults(registry, eff, logger)
	logger.Info("built-in actions registered", "count", registered)

	// Response engine
	svc := response.NewService(response.ServiceConfig{
		QueueCapacity: cfg.Engine.QueueCapacity,
		HistoryCap:    cfg.Engine.HistoryCap,
	}, registry, logger)

	// Lifecycle event publisher
	var publisher *events.Publisher
	if cfg.Events.Enabled {
		publisher, err = events.NewPublisher(events.Config{
			Brokers:    cfg.Events.Brokers,
			Topic:      cfg.Events.Topic,
			MaxRetries: cfg.Events.MaxRetries,
			RetryDelay: cfg.Events.RetryDelay,
		}, logger)
		if err != nil {
			logger.Error("failed to start event publisher", "error", err)
			os.Exit(1)
		}
		svc.OnSubmit(publisher.SubmitHook())
		svc.OnCompletion(publisher.CompletionHook())
	}

	// Durable response store
	var responseStore *store.Store
	if cfg.Store.Enabled {
		responseStore, err = store.Open(cfg.Store.Path, logger)
		if err != nil {
			logger.Error("failed to open response store", "error", err, "path", cfg.Store.Path)
			os.Exit(1)
		}
		svc.OnSubmit(responseStore.SubmitHook())
		svc.OnCompletion(responseStore.CompletionHook())
	}

	// The S3 client serves both the archive exporter and workflow s3 steps.
	var s3Client *archive.S3Client
	if cfg.Archive.S3.Enabled {
		s3Client, err = archive.NewS3Client(ctx, archive.S3Config{
			Bucket:          cfg.Archive.S3.Bucket,
			Region:          cfg.Archive.S3.Region,
			Prefix:          cfg.Archive.S3.Prefix,
			Endpoint:        cfg.Archive.S3.Endpoint,
			AccessKeyID:     cfg.Archive.S3.AccessKeyID,
			SecretAccessKey: cfg.Archive.S3.SecretAccessKey,
			UsePathStyle:    cfg.Archive.S3.UsePathStyle,
		}, logger)
		if err != nil {
			logger.Error("failed to build s3 client", "error", err)
			os.Exit(1)
		}
	}

	// Long-term outcome archive
	var archiver *archive.Archiver
	if cfg.Archive.ClickHouse.Enabled {
		var exporter archive.ObjectPutter
		if s3Client != nil {
			exporter = s3Client
		}
		archiver, err = archive.New(archive.Config{
			Hosts:           cfg.Archive.ClickHouse.Hosts,
			Database:        cfg.Archive.ClickHouse.Database,
			Table:           cfg.Archive.ClickHouse.Table,
			Username:        cfg.Archive.ClickHouse.Username,
			Password:        cfg.Archive.ClickHouse.Password,
			RetentionDays:   cfg.Archive.ClickHouse.RetentionDays,
			MaxOpenConns:    cfg.Archive.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.Archive.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.Archive.ClickHouse.ConnMaxLifetime,
			TLSEnabled:      cfg.Archive.ClickHouse.TLSEnabled,
			DialTimeout:     cfg.Archive.ClickHouse.DialTimeout,
			BatchSize:       cfg.Archive.Batch.BatchSize,
			FlushInterval:   cfg.Archive.Batch.FlushInterval,
			MaxRetries:      cfg.Archive.Batch.MaxRetries,
			RetryDelay:      cfg.Archive.Batch.RetryDelay,
		}, exporter, logger)
		if err != nil {
			logger.Error("failed to start archiver", "error", err)
			os.Exit(1)
		}
		svc.OnCompletion(archiver.CompletionHook())
	}

	// Workflow engine
	engine := workflow.NewEngine(logger)
	engine.RegisterExecutor(workflow.NewHTTPExecutor(cfg.Workflows.HTTPTimeout))
	if cfg.Workflows.SSH.Host != "" {
		sshExec, err := workflow.NewSSHExecutor(workflow.SSHConfig{
			Host:           cfg.Workflows.SSH.Host,
			Port:           cfg.Workflows.SSH.Port,
			User:           cfg.Workflows.SSH.User,
			KeyFile:        cfg.Workflows.SSH.KeyFile,
			KnownHostsFile: cfg.Workflows.SSH.KnownHostsFile,
			Timeout:        cfg.Workflows.SSH.Timeout,
		})
		if err != nil {
			logger.Error("failed to build ssh executor", "error", err)
			os.Exit(1)
		}
		engine.RegisterExecutor(sshExec)
	}
	if s3Client != nil {
		s3Exec, err := workflow.NewS3Executor(s3Client)
		if err != nil {
			logger.Error("failed to build s3 executor", "error", err)
			os.Exit(1)
		}
		engine.RegisterExecutor(s3Exec)
	}

	scheduler := workflow.NewScheduler(engine, logger)
	if cfg.Workflows.Dir != "" {
		defs, err := workflow.LoadDir(cfg.Workflows.Dir)
		if err != nil {
			logger.Error("failed to load workflows", "error", err, "dir", cfg.Workflows.Dir)
			os.Exit(1)
		}
		for _, def := range defs {
			if err := engine.Register(def); err != nil {
				logger.Error("failed to register workflow", "error", err, "workflow", def.Name)
				os.Exit(1)
			}
		}
		if _, err := scheduler.Add(defs); err != nil {
			logger.Error("failed to schedule workflows", "error", err)
			os.Exit(1)
		}
		logger.Info("workflows loaded", "count", len(defs), "dir", cfg.Workflows.Dir)
	}

	// Rule table and orchestrator
	var table *orchestrator.RuleTable
	if cfg.Rules.Path != "" {
		table, err = orchestrator.LoadRuleTable(cfg.Rules.Path)
		if err != nil {
			logger.Error("failed to load rule table", "error", err, "path", cfg.Rules.Path)
			os.Exit(1)
		}
	} else {
		table = orchestrator.DefaultRuleTable()
	}
	orch := orchestrator.New(table, svc, dir, cfg.Engine.FallbackAction, logger)

	var watcher *orchestrator.Watcher
	if cfg.Rules.Watch && cfg.Rules.Path != "" {
		watcher = orchestrator.NewWatcher(cfg.Rules.Path, orch, logger)
	}

	// Alert bridge and intake
	br := bridge.New(orch, risk.NewWeightedScorer(), logger)

	var kafkaIntake *intake.KafkaConsumer
	if cfg.Intake.Kafka.Enabled {
		kafkaIntake, err = intake.NewKafkaConsumer(intake.KafkaConfig{
			Brokers:  cfg.Intake.Kafka.Brokers,
			Topic:    cfg.Intake.Kafka.Topic,
			GroupID:  cfg.Intake.Kafka.GroupID,
			MinBytes: cfg.Intake.Kafka.MinBytes,
			MaxBytes: cfg.Intake.Kafka.MaxBytes,
			MaxWait:  cfg.Intake.Kafka.MaxWait,
		}, br, logger)
		if err != nil {
			logger.Error("failed to build kafka intake", "error", err)
			os.Exit(1)
		}
	}

	var dtlsIntake *intake.DTLSListener
	if cfg.Intake.DTLS.Enabled {
		dtlsIntake, err = intake.NewDTLSListener(intake.DTLSConfig{
			Address:           cfg.Intake.DTLS.Address,
			CertFile:          cfg.Intake.DTLS.CertFile,
			KeyFile:           cfg.Intake.DTLS.KeyFile,
			CAFile:            cfg.Intake.DTLS.CAFile,
			RequireClientCert: cfg.Intake.DTLS.RequireClientCert,
			AllowInsecure:     cfg.Intake.DTLS.AllowInsecure,
			Workers:           cfg.Intake.DTLS.Workers,
			MaxMessageSize:    cfg.Intake.DTLS.MaxMessageSize,
			ConnectionTimeout: cfg.Intake.DTLS.ConnectionTimeout,
			IdleTimeout:       cfg.Intake.DTLS.IdleTimeout,
		}, br, logger)
		if err != nil {
			logger.Error("failed to build dtls intake", "error", err)
			os.Exit(1)
		}
	}

	// Start everything: engine first, intake last so hooks never miss traffic.
	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start response engine", "error", err)
		os.Exit(1)
	}

	if watcher != nil {
		if err := watcher.Start(); err != nil {
			logger.Error("failed to start rule watcher", "error", err)
			os.Exit(1)
		}
	}

	scheduler.Start()

	if kafkaIntake != nil {
		if err := kafkaIntake.Start(ctx); err != nil {
			logger.Error("failed to start kafka intake", "error", err)
			os.Exit(1)
		}
	}
	if dtlsIntake != nil {
		if err := dtlsIntake.Start(ctx); err != nil {
			logger.Error("failed to start dtls intake", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("response daemon started", "version", version)

	if runConsole {
		src := feed.NewSource(svc, svc.Registry(), buildIntegrations(
			kafkaIntake, dtlsIntake, publisher, responseStore, archiver,
			s3Client, agentDispatcher, notifyDispatcher, engine, br,
		))
		if err := console.Run(src); err != nil {
			logger.Error("console exited with error", "error", err)
		}
		logger.Info("console closed, shutting down")
	} else {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	// Graceful shutdown: stop intake, then the engine, then drain the sinks.
	if kafkaIntake != nil {
		if err := kafkaIntake.Stop(); err != nil {
			logger.Error("kafka intake stop error", "error", err)
		}
	}
	if dtlsIntake != nil {
		dtlsIntake.Stop()
	}
	if watcher != nil {
		watcher.Stop()
	}
	scheduler.Stop()
	cancel()

	svc.Stop()

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("event publisher close error", "error", err)
		}
	}
	if archiver != nil {
		if err := archiver.Close(); err != nil {
			logger.Error("archiver close error", "error", err)
		}
	}
	if responseStore != nil {
		if err := responseStore.Close(); err != nil {
			logger.Error("response store close error", "error", err)
		}
	}

	notifyDispatcher.Stop()
	if agentDispatcher != nil {
		agentDispatcher.Close()
	}
	if err := dir.Close(); err != nil {
		logger.Error("asset directory close error", "error", err)
	}

	stats := svc.Stats()
	logger.Info("shutdown complete",
		"submitted", stats["submitted"],
		"completed", stats["completed"],
		"failed", stats["failed"],
		"timeouts", stats["timeouts"],
		"cancelled", stats["cancelled"],
		"queue_dropped", stats["queue_dropped"],
	)
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// buildNotifyChannels assembles the configured notification channels.
func buildNotifyChannels(cfg config.NotifyConfig, logger *slog.Logger) []notify.Channel {
	var channels []notify.Channel
	if cfg.Webhook.Enabled {
		channels = append(channels, notify.NewWebhookChannel("webhook", cfg.Webhook.URL, nil, cfg.Webhook.Timeout))
	}
	if cfg.Slack.Enabled {
		channels = append(channels, notify.NewSlackChannel(cfg.Slack.WebhookURL, cfg.Slack.Channel))
	}
	if cfg.Email.Enabled {
		channels = append(channels, notify.NewEmailChannel(
			cfg.Email.SMTPHost, cfg.Email.SMTPPort,
			cfg.Email.Username, cfg.Email.Password,
			cfg.Email.From, cfg.Email.To))
	}
	if cfg.Log {
		channels = append(channels, notify.NewLogChannel(logger))
	}
	return channels
}

// buildIntegrations lists every optional subsystem for the console, wired or
// not, so the dashboard shows what is configured off.
func buildIntegrations(
	kafkaIntake *intake.KafkaConsumer,
	dtlsIntake *intake.DTLSListener,
	publisher *events.Publisher,
	responseStore *store.Store,
	archiver *archive.Archiver,
	s3Client *archive.S3Client,
	agentDispatcher *dispatch.Dispatcher,
	notifyDispatcher *notify.Dispatcher,
	engine *workflow.Engine,
	br *bridge.Bridge,
) []feed.Integration {
	ints := []feed.Integration{
		{Name: "bridge", Stats: br.Stats},
		{Name: "workflows", Stats: engine.Stats},
		{Name: "notify", Stats: notifyDispatcher.Stats},
	}

	add := func(name string, stats func() map[string]interface{}) {
		ints = append(ints, feed.Integration{Name: name, Stats: stats})
	}

	if kafkaIntake != nil {
		add("kafka_intake", kafkaIntake.Stats)
	} else {
		add("kafka_intake", nil)
	}
	if dtlsIntake != nil {
		add("dtls_intake", dtlsIntake.Stats)
	} else {
		add("dtls_intake", nil)
	}
	if publisher != nil {
		add("events", publisher.Stats)
	} else {
		add("events", nil)
	}
	if responseStore != nil {
		add("store", responseStore.Stats)
	} else {
		add("store", nil)
	}
	if archiver != nil {
		add("archive", archiver.Stats)
	} else {
		add("archive", nil)
	}
	if s3Client != nil {
		add("s3_export", s3Client.Stats)
	} else {
		add("s3_export", nil)
	}
	if agentDispatcher != nil {
		add("dispatch", agentDispatcher.Stats)
	} else {
		add("dispatch", nil)
	}

	return ints
}
