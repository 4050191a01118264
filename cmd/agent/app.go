package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"codegen-agent/internal/adapter/llm"
	"codegen-agent/internal/adapter/store"
	"codegen-agent/internal/adapter/tool"
	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
	"codegen-agent/internal/security"
	"codegen-agent/internal/usecase"
	"codegen-agent/internal/usecase/eventbus"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	bus      *eventbus.Bus
	store    domain.SessionStore
	sessions *usecase.SessionManager
	tools    *tool.Registry
	service  *usecase.Service
	reaper   *usecase.SessionReaper
	model    string
}

// buildTools creates the sandboxed tool registry.
func buildTools(cfg *config.Config, log *slog.Logger) (*tool.Registry, *security.Sandbox, error) {
	root := cfg.Tools.Workspace
	if root == "" {
		root = "."
	}
	sandbox, err := security.NewSandbox(root)
	if err != nil {
		return nil, nil, fmt.Errorf("sandbox: %w", err)
	}

	var regLogger *slog.Logger
	if cfg.Tools.Schema.Validate {
		regLogger = log
	}
	reg := tool.NewRegistry(regLogger)

	var limiter *tool.WriteLimiter
	if rl := cfg.Tools.RateLimit; rl.WritesPerSecond > 0 {
		limiter = tool.NewWriteLimiter(rl.WritesPerSecond, rl.Burst)
	}
	err = tool.RegisterDefaults(reg, tool.Deps{
		Sandbox:   sandbox,
		OutputDir: cfg.Tools.OutputDir,
		Limiter:   limiter,
		Logger:    log,
	})
	if err != nil {
		return nil, nil, err
	}
	return reg, sandbox, nil
}

// buildApp wires config into a ready Service. Close must be called.
func buildApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	reg, sandbox, err := buildTools(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}

	_, provider, err := llm.Build(cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	st, err := store.New(cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}

	bus := eventbus.New(log)
	sessions := usecase.NewSessionManager(st, log)

	var classifier *usecase.ErrorClassifier
	if cfg.Agent.Retry {
		classifier = usecase.NewErrorClassifier()
	}
	model := defaultModel(cfg)
	agent := usecase.NewAgent(usecase.AgentDeps{
		LLM:             provider,
		Tools:           reg,
		Recovery:        usecase.NewRecoveryPolicy(sandbox.Root()),
		Logger:          log,
		SystemPrompt:    cfg.Agent.SystemPrompt,
		Model:           model,
		MaxTokens:       cfg.Agent.MaxTokens,
		Temperature:     cfg.Agent.Temperature,
		MaxToolTurns:    cfg.Agent.MaxToolTurns,
		ModelTimeout:    cfg.Agent.ModelTimeout,
		Stream:          cfg.Agent.Stream,
		Bus:             bus,
		ErrorClassifier: classifier,
	})

	svc := usecase.NewService(usecase.ServiceDeps{
		Agent:    agent,
		Sessions: sessions,
		Tokens:   usecase.NewTokenCounter(),
		Bus:      bus,
		Logger:   log,
	})

	a := &app{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    st,
		sessions: sessions,
		tools:    reg,
		service:  svc,
		model:    model,
	}

	if cfg.Sessions.TTL > 0 {
		a.reaper, err = usecase.NewSessionReaper(sessions, cfg.Sessions.TTL, cfg.Sessions.ReapSchedule, log)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// start launches background jobs bound to ctx.
func (a *app) start(ctx context.Context) {
	if a.reaper != nil {
		a.reaper.Start(ctx)
	}
}

// Close stops background jobs and releases the session store.
func (a *app) Close() error {
	var errs []error
	if a.reaper != nil {
		a.reaper.Stop()
	}
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session store: %w", err))
	}
	return errors.Join(errs...)
}

func defaultModel(cfg *config.Config) string {
	for _, p := range cfg.LLM.Providers {
		if p.Name == cfg.LLM.DefaultProvider {
			return p.Model
		}
	}
	return ""
}

// outputDirDisplay is the output directory as users see it in help text.
func outputDirDisplay(cfg *config.Config) string {
	dir := cfg.Tools.OutputDir
	if dir == "" {
		dir = tool.DefaultOutputDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return "./" + filepath.ToSlash(dir) + "/"
}
