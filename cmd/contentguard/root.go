package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sydlexius/contentguard/internal/backup"
	"github.com/sydlexius/contentguard/internal/cache"
	"github.com/sydlexius/contentguard/internal/config"
	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/database"
	"github.com/sydlexius/contentguard/internal/encryption"
	"github.com/sydlexius/contentguard/internal/event"
	"github.com/sydlexius/contentguard/internal/filesystem"
	"github.com/sydlexius/contentguard/internal/infringement"
	"github.com/sydlexius/contentguard/internal/logging"
	"github.com/sydlexius/contentguard/internal/maintenance"
	"github.com/sydlexius/contentguard/internal/metrics"
	"github.com/sydlexius/contentguard/internal/notify"
	"github.com/sydlexius/contentguard/internal/scan"
	"github.com/sydlexius/contentguard/internal/settings"
	"github.com/sydlexius/contentguard/internal/source"
	"github.com/sydlexius/contentguard/internal/source/messaging"
	"github.com/sydlexius/contentguard/internal/source/torrent"
	"github.com/sydlexius/contentguard/internal/source/websearch"
	"github.com/sydlexius/contentguard/internal/subscription"
	"github.com/sydlexius/contentguard/internal/version"
)

type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "contentguard",
		Short:         "Find unauthorized copies of protected content",
		Version:       version.Version + " (" + version.Commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", defaultConfigPath(),
		"path to the YAML config file (env CG_CONFIG_PATH)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env",
		"dotenv file loaded before the environment is read")

	root.AddCommand(
		newServeCmd(flags),
		newScanCmd(flags),
		newCacheCmd(flags),
		newSecretsCmd(flags),
		newContentCmd(flags),
		newPlanCmd(flags),
		newBackupCmd(flags),
	)
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("CG_CONFIG_PATH"); p != "" {
		return p
	}
	return "/data/config.yaml"
}

// app holds the services shared by every command.
type app struct {
	cfg           *config.Config
	logManager    *logging.Manager
	logger        *slog.Logger
	db            *sql.DB
	metrics       *metrics.Metrics
	settings      *settings.Service
	contents      *content.Service
	infringements *infringement.Service
	plans         *subscription.Service
	jobs          *scan.JobService
	cache         *cache.Cache
	maintenance   *maintenance.Service
	backups       *backup.Service

	telegram *messaging.TelegramClient
}

// openApp loads configuration, sets up logging and opens the migrated
// database.
func openApp(flags *globalFlags) (*app, error) {
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(cfg.Logging)
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		_ = logManager.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		_ = logManager.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("database ready", slog.String("path", cfg.Database.Path))

	encKey, err := resolveEncryptionKey(cfg, logger)
	if err != nil {
		_ = db.Close()
		_ = logManager.Close()
		return nil, fmt.Errorf("resolving encryption key: %w", err)
	}
	encryptor, _, err := encryption.NewEncryptor(encKey)
	if err != nil {
		_ = db.Close()
		_ = logManager.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	m := metrics.New()
	resultCache := cache.New(db, m, logger)
	backups := backup.NewService(db, backup.Options{
		Dir:    cfg.Backup.ResolvedDir(cfg.Database.Path),
		Keep:   cfg.Backup.Keep,
		MaxAge: cfg.Backup.MaxAge,
	}, logger)
	return &app{
		cfg:           cfg,
		logManager:    logManager,
		logger:        logger,
		db:            db,
		metrics:       m,
		settings:      settings.NewService(db, encryptor),
		contents:      content.NewService(db, resultCache),
		infringements: infringement.NewService(db),
		plans:         subscription.NewService(db),
		jobs:          scan.NewJobService(db),
		cache:         resultCache,
		maintenance:   maintenance.NewService(db, cfg.Database.Path, logger),
		backups:       backups,
	}, nil
}

func (a *app) Close() {
	if a.telegram != nil {
		if err := a.telegram.Close(); err != nil {
			a.logger.Warn("closing messaging client", slog.String("error", err.Error()))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("closing database", slog.String("error", err.Error()))
	}
	_ = a.logManager.Close()
}

// newOrchestrator registers the source adapters and builds the scan
// orchestrator. events may be nil.
func (a *app) newOrchestrator(ctx context.Context, events event.Publisher) (*scan.Orchestrator, error) {
	limiters := source.NewRateLimiterMap()
	registry := source.NewRegistry()

	registry.Register(websearch.New(websearch.Config{
		APIKey:   a.cfg.WebSearch.APIKey,
		EngineID: a.cfg.WebSearch.EngineID,
		BaseURL:  a.cfg.WebSearch.BaseURL,
	}, a.settings, a.cache, limiters, a.logger))

	searcher, err := a.messagingSearcher(ctx)
	if err != nil {
		return nil, err
	}
	registry.Register(messaging.New(searcher, limiters, a.logger))

	registry.Register(torrent.New(a.cfg.Torrent.Sites, a.cfg.Torrent.SiteTimeout, limiters, a.logger))

	return scan.NewOrchestrator(scan.OrchestratorDeps{
		Registry:      registry,
		Contents:      a.contents,
		Plans:         a.plans,
		Infringements: a.infringements,
		Jobs:          a.jobs,
		Events:        events,
		Metrics:       a.metrics,
		Logger:        a.logger,
	}), nil
}

// messagingSearcher returns the MTProto client when credentials are present
// in the config or the settings store, and nil otherwise.
func (a *app) messagingSearcher(ctx context.Context) (messaging.Searcher, error) {
	cfg := messaging.TelegramConfig{
		AppID:   a.cfg.Messaging.AppID,
		AppHash: a.cfg.Messaging.AppHash,
		Session: a.cfg.Messaging.Session,
	}
	var err error
	if cfg.AppID == 0 {
		var raw string
		if raw, err = a.settings.Lookup(ctx, settings.KeyMessagingAppID); err != nil {
			return nil, fmt.Errorf("reading messaging app id: %w", err)
		}
		if raw != "" {
			if cfg.AppID, err = strconv.Atoi(strings.TrimSpace(raw)); err != nil {
				return nil, fmt.Errorf("stored %s is not a number: %w", settings.KeyMessagingAppID, err)
			}
		}
	}
	if cfg.AppHash == "" {
		if cfg.AppHash, err = a.settings.Lookup(ctx, settings.KeyMessagingAppHash); err != nil {
			return nil, fmt.Errorf("reading messaging app hash: %w", err)
		}
	}
	if cfg.Session == "" {
		if cfg.Session, err = a.settings.Lookup(ctx, settings.KeyMessagingSession); err != nil {
			return nil, fmt.Errorf("reading messaging session: %w", err)
		}
	}
	if cfg.AppID == 0 || cfg.AppHash == "" || cfg.Session == "" {
		a.logger.Info("messaging credentials not configured, messaging source disabled")
		return nil, nil
	}
	a.telegram = messaging.NewTelegramClient(cfg, a.logger)
	return a.telegram, nil
}

// startEvents creates the event bus with the configured sinks attached and
// starts dispatching. The returned function stops the bus, waits for queued
// events to be delivered and closes the sinks.
func (a *app) startEvents() (*event.Bus, func(), error) {
	bus := event.NewBus(a.logger, 256)
	var closers []func() error

	if a.cfg.Kafka.Enabled() {
		w, err := notify.NewKafkaWriter(notify.KafkaConfig{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.Topic,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating kafka writer: %w", err)
		}
		sink := notify.NewKafkaSink(w, a.logger)
		notify.Attach(bus, sink)
		closers = append(closers, sink.Close)
		a.logger.Info("kafka event sink enabled",
			slog.String("brokers", strings.Join(a.cfg.Kafka.Brokers, ",")),
			slog.String("topic", a.cfg.Kafka.Topic))
	}
	if len(a.cfg.Webhooks) > 0 {
		sink := notify.NewWebhookSink(a.cfg.Webhooks, a.logger)
		notify.Attach(bus, sink)
		closers = append(closers, sink.Close)
		a.logger.Info("webhook event sink enabled", slog.Int("endpoints", len(a.cfg.Webhooks)))
	}

	drained := make(chan struct{})
	go func() {
		bus.Start()
		close(drained)
	}()

	stop := func() {
		bus.Stop()
		<-drained
		for _, c := range closers {
			if err := c(); err != nil {
				a.logger.Warn("closing event sink", slog.String("error", err.Error()))
			}
		}
	}
	return bus, stop, nil
}

// resolveEncryptionKey determines the encryption key to use.
// Priority: CG_ENCRYPTION_KEY / config > encryption.key next to the database > generate new.
func resolveEncryptionKey(cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.Encryption.Key != "" {
		return cfg.Encryption.Key, nil
	}

	dataDir := filepath.Dir(cfg.Database.Path)
	keyFile := filepath.Join(dataDir, "encryption.key")

	data, err := os.ReadFile(keyFile) //nolint:gosec // G304: path derived from trusted config
	if err == nil {
		key := strings.TrimSpace(string(data))
		if key != "" {
			logger.Debug("loaded encryption key from file", slog.String("path", keyFile))
			return key, nil
		}
	}

	_, key, err := encryption.NewEncryptor("")
	if err != nil {
		return "", fmt.Errorf("generating encryption key: %w", err)
	}

	err = filesystem.CreateFileAtomic(keyFile, []byte(key+"\n"), 0o600)
	switch {
	case errors.Is(err, filesystem.ErrExists):
		// Another process generated a key first; use it.
		data, err := os.ReadFile(keyFile) //nolint:gosec // G304: path derived from trusted config
		if err != nil {
			return "", fmt.Errorf("reading encryption key: %w", err)
		}
		if existing := strings.TrimSpace(string(data)); existing != "" {
			return existing, nil
		}
		return "", fmt.Errorf("encryption key file %s is empty", keyFile)
	case err != nil:
		logger.Warn("could not save encryption key to file",
			slog.String("path", keyFile), slog.Any("error", err))
	default:
		logger.Warn("generated new encryption key -- back up this file",
			slog.String("path", keyFile))
	}
	return key, nil
}
