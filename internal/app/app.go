// Package app assembles the engine, lesson catalog, session service and
// completion recording from a LocalConfig. The daemon, the MCP server and
// the CLI all start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/felixgeelhaar/pythonquest/internal/config"
	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/felixgeelhaar/pythonquest/internal/engine"
	"github.com/felixgeelhaar/pythonquest/internal/lesson"
	"github.com/felixgeelhaar/pythonquest/internal/llm"
	"github.com/felixgeelhaar/pythonquest/internal/progress"
	"github.com/felixgeelhaar/pythonquest/internal/queue"
	"github.com/felixgeelhaar/pythonquest/internal/runner"
	"github.com/felixgeelhaar/pythonquest/internal/session"
	"github.com/felixgeelhaar/pythonquest/internal/storage/postgres"
	"github.com/felixgeelhaar/pythonquest/internal/storage/sqlite"
	"github.com/felixgeelhaar/pythonquest/internal/tutor"
)

// App holds the wired components
type App struct {
	Config      *config.LocalConfig
	Dir         string
	Catalog     *lesson.Catalog
	LLM         *llm.Registry
	Tutor       *tutor.Tutor
	Interpreter runner.Interpreter
	Engine      *engine.Engine
	Store       progress.Recorder // where completions are kept
	Recorder    progress.Recorder // Store plus mirrors and publishers
	Sessions    *session.Service

	conn    *queue.Connection
	logger  *slog.Logger
	closers []func() error
}

// Option configures New
type Option func(*options)

type options struct {
	logger       *slog.Logger
	gradingDelay bool
	transports   bool
}

// WithLogger sets the logger handed to every component
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithGradingDelay applies the configured cosmetic grading delay
func WithGradingDelay() Option {
	return func(o *options) { o.gradingDelay = true }
}

// WithTransports connects the remote progress API, RabbitMQ and Kafka when
// configured. One-shot commands leave them off.
func WithTransports() Option {
	return func(o *options) { o.transports = true }
}

// New wires every component described by cfg. Directories are created
// under the config directory as needed. Call Close when done.
func New(ctx context.Context, cfg *config.LocalConfig, opts ...Option) (*App, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	dir, err := config.EnsureDir()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Dir: dir, logger: o.logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	reward := domain.Reward{XP: cfg.Rewards.DefaultXP, Gems: cfg.Rewards.DefaultGems}

	if a.Catalog, err = loadCatalog(dir, cfg.Lessons.Dirs, reward); err != nil {
		return nil, err
	}

	a.LLM = llm.NewRegistry()
	setupLLMProviders(cfg.LLM, a.LLM, o.logger)
	a.Tutor = tutor.NewFromRegistry(a.LLM, tutor.WithLogger(o.logger))

	a.Interpreter, err = setupInterpreter(ctx, cfg.Runner)
	switch {
	case errors.Is(err, domain.ErrInterpreterUnavailable):
		// Catalog and progress commands still work; runs report the error
		o.logger.Warn("no python interpreter available", "backend", cfg.Runner.Backend, "python", cfg.Runner.PythonPath)
	case err != nil:
		return nil, err
	}
	if c, isCloser := a.Interpreter.(interface{ Close() error }); isCloser {
		a.closers = append(a.closers, c.Close)
	}

	engineOpts := []engine.Option{engine.WithLogger(o.logger), engine.WithDefaultReward(reward)}
	if o.gradingDelay {
		engineOpts = append(engineOpts, engine.WithGradingDelay(cfg.Daemon.GradingDelay()))
	}
	a.Engine = engine.New(a.Interpreter, a.Tutor, engineOpts...)

	sessions, err := a.setupStorage(ctx, dir)
	if err != nil {
		return nil, err
	}

	a.Recorder = a.Store
	if o.transports {
		if a.Recorder, err = a.setupFanout(cfg); err != nil {
			return nil, err
		}
	}

	a.Sessions = session.NewService(sessions, a.Engine, a.Catalog,
		session.WithCompletionHandler(session.RecordCompletions(a.Recorder)),
		session.WithDefaultUser(cfg.Progress.UserID),
		session.WithLogger(o.logger),
	)

	ok = true
	return a, nil
}

// StartConsumer records completion events arriving over RabbitMQ into the
// local store. It is a no-op unless a RabbitMQ connection is configured
// and consumption is enabled.
func (a *App) StartConsumer(ctx context.Context) error {
	if a.conn == nil || !a.Config.Queue.Consume {
		return nil
	}
	consumer := queue.NewConsumer(a.conn, a.Store, queue.ConsumerConfig{
		Workers: a.Config.Queue.Workers,
		Logger:  a.logger,
	})
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start completion consumer: %w", err)
	}
	a.closers = append(a.closers, func() error {
		consumer.Stop()
		return nil
	})
	return nil
}

// Close releases every component in reverse order of creation
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadCatalog(dir string, extra []string, reward domain.Reward) (*lesson.Catalog, error) {
	catalog, err := lesson.Builtin(lesson.WithDefaultReward(reward))
	if err != nil {
		return nil, err
	}
	dirs := append([]string{filepath.Join(dir, "lessons")}, extra...)
	for _, d := range dirs {
		if err := catalog.LoadDir(d); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// setupLLMProviders registers every enabled provider that can be reached.
// Providers without credentials are skipped so the tutor falls back to its
// disabled message.
func setupLLMProviders(cfg config.LLMConfig, registry *llm.Registry, logger *slog.Logger) {
	// Registration order decides the "auto" default
	for _, name := range []string{"gemini", "claude", "ollama"} {
		pc, ok := cfg.Providers[name]
		if !ok || !pc.Enabled {
			continue
		}

		var provider llm.Provider
		switch name {
		case "gemini":
			if pc.APIKey == "" {
				logger.Debug("gemini provider enabled but no API key set")
				continue
			}
			provider = llm.NewGeminiProvider(llm.GeminiConfig{APIKey: pc.APIKey, BaseURL: pc.URL, Model: pc.Model})
		case "claude":
			if pc.APIKey == "" {
				logger.Debug("claude provider enabled but no API key set")
				continue
			}
			provider = llm.NewClaudeProvider(llm.ClaudeConfig{APIKey: pc.APIKey, BaseURL: pc.URL, Model: pc.Model})
		case "ollama":
			provider = llm.NewOllamaProvider(llm.OllamaConfig{BaseURL: pc.URL, Model: pc.Model})
		}

		registry.Register(name, llm.NewResilientProvider(provider, llm.DefaultResilientConfig()))
		logger.Info("registered LLM provider", "name", name, "model", pc.Model)
	}

	if err := registry.SetDefault(cfg.DefaultProvider); err != nil {
		logger.Warn("default LLM provider not registered, using first available",
			"provider", cfg.DefaultProvider, "error", err)
	}
}

func setupInterpreter(ctx context.Context, cfg config.RunnerConfig) (runner.Interpreter, error) {
	rc := runner.DefaultConfig()
	rc.Backend = cfg.Backend
	rc.Timeout = cfg.Timeout()
	if cfg.PythonPath != "" {
		rc.PythonPath = cfg.PythonPath
	}
	if cfg.Docker.Image != "" {
		rc.Image = cfg.Docker.Image
	}
	if cfg.Docker.MemoryMB > 0 {
		rc.MemoryMB = cfg.Docker.MemoryMB
	}
	if cfg.Docker.CPULimit > 0 {
		rc.CPULimit = cfg.Docker.CPULimit
	}
	rc.NetworkOff = cfg.Docker.NetworkOff
	rc.AllowHostFallback = cfg.AllowHostFallback

	interp, err := runner.NewDefaultRegistry(rc).Select(ctx, rc.Backend)
	if err != nil {
		return nil, fmt.Errorf("select interpreter: %w", err)
	}
	return interp, nil
}

// setupStorage opens the completion store and returns the matching
// session store. The sqlite database holds both; other stores keep
// sessions as JSON files.
func (a *App) setupStorage(ctx context.Context, dir string) (session.SessionStore, error) {
	cfg := a.Config.Progress

	switch cfg.Store {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(dir, "data", "pythonquest.db")
		}
		db, err := sqlite.OpenAndMigrate(ctx, path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.Store = sqlite.NewCompletionStore(db)
		return sqlite.NewSessionStore(db), nil

	case "postgres":
		if err := postgres.Migrate(ctx, cfg.DatabaseURL, a.logger); err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		a.Store = postgres.NewCompletionStore(pool)

	default:
		a.Store = progress.NewMemoryRecorder()
	}

	sessions, err := session.NewStore(filepath.Join(dir, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	return sessions, nil
}

func (a *App) setupFanout(cfg *config.LocalConfig) (progress.Recorder, error) {
	opts := []progress.FanoutOption{progress.WithFanoutLogger(a.logger)}

	if cfg.Progress.RemoteURL != "" {
		opts = append(opts, progress.WithMirror(progress.NewClient(progress.ClientConfig{
			BaseURL: cfg.Progress.RemoteURL,
			Token:   cfg.Progress.RemoteToken,
		})))
		a.logger.Info("mirroring completions to progress API", "url", cfg.Progress.RemoteURL)
	}

	if cfg.Queue.RabbitMQURL != "" {
		conn, err := queue.NewConnection(cfg.Queue.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		a.conn = conn
		// Close is idempotent, so the producer closing it first is fine
		a.closers = append(a.closers, conn.Close)
		opts = append(opts, progress.WithPublisher(queue.NewProducer(conn, "pythonquestd")))
	}

	if len(cfg.Queue.Kafka.Brokers) > 0 {
		kp, err := queue.NewKafkaPublisher(queue.KafkaConfig{
			Brokers: cfg.Queue.Kafka.Brokers,
			Topic:   cfg.Queue.Kafka.Topic,
			Source:  "pythonquestd",
		})
		if err != nil {
			return nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		opts = append(opts, progress.WithPublisher(kp))
	}

	fanout := progress.NewFanout(a.Store, opts...)
	a.closers = append(a.closers, fanout.Close)
	return fanout, nil
}
