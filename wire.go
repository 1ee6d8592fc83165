package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	gcs "cloud.google.com/go/storage"

	"zendesk-prioritizer/background"
	"zendesk-prioritizer/config"
	"zendesk-prioritizer/events"
	"zendesk-prioritizer/launch"
	"zendesk-prioritizer/model"
	"zendesk-prioritizer/notify"
	"zendesk-prioritizer/poll"
	"zendesk-prioritizer/refresh"
	"zendesk-prioritizer/settings"
	"zendesk-prioritizer/storage"
	"zendesk-prioritizer/zendesk"
)

type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *storage.Store
	settings   *settings.Manager
	model      *model.Model
	hub        *events.Hub
	zendesk    *zendesk.Client
	scheduler  *poll.Scheduler
	dispatcher *background.Dispatcher
}

func newLogger(cfg config.Log, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format %q: want json or text", cfg.Format)
	}
}

func openBackend(ctx context.Context, cfg config.Storage, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		logger.Info("Using local storage", "path", cfg.Path)
		return storage.NewLocal(cfg.Path, logger)
	case config.BackendGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		logger.Info("Using Cloud Storage", "bucket", cfg.Bucket)
		return storage.NewGCS(client, cfg.Bucket, logger), nil
	case config.BackendSQLite:
		logger.Info("Using SQLite storage", "path", cfg.SQLitePath)
		return storage.NewSQLite(cfg.SQLitePath, logger)
	case config.BackendMemory:
		logger.Warn("Using in-memory storage, nothing will persist")
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newNotifier(ctx context.Context, cfg config.Notify, logger *slog.Logger) (notify.Notifier, error) {
	var out notify.Multi
	for _, p := range cfg.Provider {
		switch p {
		case config.ProviderLog:
			out = append(out, notify.NewLog(logger))
		case config.ProviderDesktop:
			out = append(out, notify.NewDesktop(logger))
		case config.ProviderBrevo:
			if cfg.BrevoAPIKey == "" || cfg.From == "" {
				return nil, errors.New("notify.brevo_api_key and notify.from are required for brevo")
			}
			provider := notify.NewBrevoProvider(cfg.BrevoAPIKey, cfg.From, cfg.FromName, logger)
			out = append(out, notify.NewSender(provider, cfg.To, logger))
		case config.ProviderGmail:
			svc, err := notify.NewGmailService(ctx, cfg.GmailCredentials)
			if err != nil {
				return nil, err
			}
			out = append(out, notify.NewSender(notify.NewGmailProvider(svc, logger), cfg.To, logger))
		default:
			return nil, fmt.Errorf("unknown notification provider %q", p)
		}
	}

	switch len(out) {
	case 0:
		return notify.NewLog(logger), nil
	case 1:
		return out[0], nil
	default:
		return out, nil
	}
}

// wireApp builds every component from configuration. Stored state is loaded
// lazily by the dispatcher.
func wireApp(ctx context.Context, configFile string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(nil, configFile)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	backend, err := openBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	store := storage.New(backend, logger)

	notifier, err := newNotifier(ctx, cfg.Notify, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure notifications: %w", err)
	}

	opener, err := launch.NewOpener(cfg.Launch.Mode, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client := zendesk.New(&http.Client{Timeout: cfg.RequestTimeout()}, zendesk.Config{
		BaseURL:  cfg.Zendesk.BaseURL,
		Email:    cfg.Zendesk.Email,
		APIToken: cfg.Zendesk.APIToken,
	}, logger)

	manager := settings.NewManager(store, cfg.SettingsDefaults(), logger)
	m := model.New(store, logger)
	hub := events.NewHub(logger)
	monitor := poll.New(client, store, notifier, manager, logger)
	scheduler := poll.NewScheduler(monitor, logger)

	dispatcher := background.New(background.Deps{
		Settings:  manager,
		Model:     m,
		Zendesk:   client,
		Refresher: refresh.New(client, manager, m, hub, logger),
		Poller:    monitor,
		Scheduler: scheduler,
		Launcher:  launch.New(opener, logger),
		Notifier:  notifier,
		Hub:       hub,
		Logger:    logger,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		settings:   manager,
		model:      m,
		hub:        hub,
		zendesk:    client,
		scheduler:  scheduler,
		dispatcher: dispatcher,
	}, nil
}

func (a *app) Close() error {
	a.scheduler.Stop()
	return a.store.Close()
}
