package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/n0madic/go-turnkit/internal/auth"
	"github.com/n0madic/go-turnkit/internal/chatcontext"
	"github.com/n0madic/go-turnkit/internal/compat"
	"github.com/n0madic/go-turnkit/internal/config"
	"github.com/n0madic/go-turnkit/internal/evidence"
	"github.com/n0madic/go-turnkit/internal/history"
	"github.com/n0madic/go-turnkit/internal/orchestrator"
	"github.com/n0madic/go-turnkit/internal/pending"
	"github.com/n0madic/go-turnkit/internal/session"
	"github.com/n0madic/go-turnkit/internal/telemetry"
	"github.com/n0madic/go-turnkit/internal/turnlock"
	"github.com/n0madic/go-turnkit/internal/upstream"
)

// app holds the wired engine shared by the run and serve commands.
type app struct {
	ctx      context.Context
	loader   *config.Loader
	creds    *auth.Credentials
	client   *upstream.Client
	cache    *compat.Cache
	orch     *orchestrator.Orchestrator
	history  *history.Store
	registry *prometheus.Registry

	closers []func()
}

func newApp(ctx context.Context, path string, exec orchestrator.ToolExecutor) (*app, error) {
	loader := config.NewLoader(path, slog.Default())
	if err := loader.Load(); err != nil {
		return nil, err
	}
	cfg := loader.Config()
	slog.SetDefault(newLogger(cfg.Log))

	a := &app{ctx: context.WithoutCancel(ctx), loader: loader, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := telemetry.MultiSink{
		telemetry.LogSink{Logger: slog.Default()},
		telemetry.MetricsSink{Metrics: telemetry.NewMetrics(a.registry)},
	}

	a.creds = newCredentials(a.ctx, cfg.Remote)
	a.client = upstream.NewClient(a.creds, upstream.Options{
		BaseURL:      cfg.Remote.BaseURL,
		Streaming:    cfg.Remote.Streaming,
		PollInterval: cfg.Remote.PollInterval,
		PollTimeout:  cfg.Remote.PollTimeout,
		Debug:        cfg.Remote.Debug,
		Sink:         sink,
	})
	a.cache = compat.NewCache(cfg.Compat.MaxModels, cfg.Compat.TTL, slog.Default())
	a.cache.SetEnabled(cfg.Compat.Enabled)
	a.creds.OnChange(func(reason string) { a.cache.Reset(reason) })
	negotiator := compat.NewNegotiator(a.client, a.cache, sink, cfg.Compat.MaxRetries)

	gate, err := evidence.NewGate(ctx, evidence.Config{
		MinSources:     cfg.Evidence.MinSources,
		MaxSources:     cfg.Evidence.MaxSources,
		MaxAttachments: cfg.Evidence.MaxAttachments,
	})
	if err != nil {
		return nil, fmt.Errorf("evidence gate: %w", err)
	}

	db, pend, err := a.openStorage(cfg.Storage)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.history, err = history.NewStore(db)
	if err != nil {
		a.Close()
		return nil, err
	}
	builder := chatcontext.NewBuilder(a.history, chatcontext.Extractive{}, chatcontext.Limits{
		RecentTurns:   cfg.Context.RecentTurns,
		TurnCharLimit: cfg.Context.TurnCharLimit,
		SummaryChunk:  cfg.Context.SummaryChunk,
		SummaryLimit:  cfg.Context.SummaryLimit,
		DigestLimit:   cfg.Context.DigestLimit,
		ManifestLimit: cfg.Context.ManifestLimit,
	})

	settings, err := settingsFor(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orch, err = orchestrator.New(settings, orchestrator.Deps{
		Caller:    negotiator,
		Compactor: a.client,
		Tools:     exec,
		Gate:      gate,
		Context:   builder,
		Pending:   pend,
		Locker:    a.openLocker(ctx, cfg.Storage),
		Keys:      session.NewKeys(0),
		Sink:      sink,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	loader.OnReload(a.reload)
	return a, nil
}

// reload applies a changed configuration to the running engine.
func (a *app) reload(_, cur *config.Config) {
	applyCredentials(a.ctx, a.creds, cur.Remote)
	a.cache.SetLimits(cur.Compat.MaxModels, cur.Compat.TTL)
	a.cache.SetEnabled(cur.Compat.Enabled)
	settings, err := settingsFor(cur)
	if err != nil {
		slog.Error("config.reload_settings_failed", "error", err)
		return
	}
	a.orch.SetSettings(settings)
	slog.Info("config.applied", "model", settings.Model, "tools", len(settings.Tools))
}

func (a *app) openStorage(cfg config.StorageConfig) (*sql.DB, pending.Store, error) {
	if cfg.DBPath == "" {
		db, err := history.Open(":memory:")
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		mem := pending.NewMemoryStore(cfg.PendingTTL, 0)
		a.closers = append(a.closers, mem.Close)
		return db, mem, nil
	}

	db, err := history.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, func() { db.Close() })
	store, err := pending.NewSQLiteStore(db, cfg.PendingTTL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("storage.opened", "path", cfg.DBPath)
	return db, store, nil
}

func (a *app) openLocker(ctx context.Context, cfg config.StorageConfig) turnlock.Locker {
	if cfg.RedisAddr == "" {
		return turnlock.NewLocal()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, func() { rdb.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("turnlock.redis_unreachable", "addr", cfg.RedisAddr, "error", err)
	} else {
		slog.Info("turnlock.redis_connected", "addr", cfg.RedisAddr)
	}
	return turnlock.NewRedis(rdb, cfg.LockTTL)
}

// Close releases storage and lock connections in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newCredentials(ctx context.Context, cfg config.RemoteConfig) *auth.Credentials {
	if usesClientCredentials(cfg) {
		slog.Info("auth.client_credentials", "token_url", cfg.TokenURL, "client_id", cfg.ClientID)
		return auth.NewClientCredentials(ctx, cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scopes)
	}
	return auth.NewStatic(cfg.APIKey)
}

// applyCredentials installs the credential described by cfg. Change hooks fire
// only when the credential actually differs.
func applyCredentials(ctx context.Context, creds *auth.Credentials, cfg config.RemoteConfig) {
	if usesClientCredentials(cfg) {
		creds.ReplaceSource(auth.ClientCredentialsSource(ctx, cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scopes))
		return
	}
	creds.Replace(cfg.APIKey)
}

func usesClientCredentials(cfg config.RemoteConfig) bool {
	return cfg.TokenURL != "" && cfg.ClientID != ""
}

func settingsFor(cfg *config.Config) (orchestrator.Settings, error) {
	s := orchestrator.SettingsFromConfig(cfg)
	if strings.TrimSpace(s.Instructions) == "" {
		s.Instructions = strings.TrimSpace(defaultInstructions)
	}
	if cfg.Turn.ToolsFile != "" {
		tools, err := config.LoadTools(cfg.Turn.ToolsFile)
		if err != nil {
			return s, err
		}
		s.Tools = tools
	}
	return s, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func readManifest(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("manifest %s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}
