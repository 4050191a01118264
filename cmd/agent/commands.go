package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"codegen-agent/internal/adapter/cli"
	"codegen-agent/internal/adapter/gateway"
	"codegen-agent/internal/adapter/mcpserver"
	"codegen-agent/internal/adapter/store"
	"codegen-agent/internal/infra/config"
	"codegen-agent/internal/infra/logger"
	"codegen-agent/internal/infra/tracer"
	"codegen-agent/internal/usecase"
)

const defaultChatLog = "codegen.log"

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path")
	return fs, cfgPath
}

// configPath resolves --config, then CODEGEN_CONFIG, then ./config.yaml.
func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("CODEGEN_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func loadConfig(flagValue string) (*config.Config, error) {
	return config.Load(configPath(flagValue))
}

// setupObservability builds the logger and tracer. The returned func
// flushes both.
func setupObservability(ctx context.Context, cfg *config.Config) (*slog.Logger, func(), error) {
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("tracer: %w", err)
	}
	return log, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
		closeLog()
	}, nil
}

func runChat(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("chat")
	plain := fs.Bool("plain", false, "line-based prompt without the terminal UI")
	sessionID := fs.String("session", "", "resume a stored session")
	logFile := fs.String("log-file", defaultChatLog, "log destination when logger.output is stderr")
	logLevel := fs.String("log-level", "", "override logger.level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	// Logs on stderr would interleave with the prompt.
	if cfg.Logger.Output == "" || cfg.Logger.Output == "stderr" || cfg.Logger.Output == "stdout" {
		cfg.Logger.Output = *logFile
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}

	log, flush, err := setupObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer flush()

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	a.start(ctx)

	if !cfg.APIKeyConfigured() {
		fmt.Fprintln(stdout, "Warning: no API key configured for provider "+cfg.LLM.DefaultProvider+"; set ANTHROPIC_API_KEY")
	}
	log.Info("chat starting", "provider", cfg.LLM.DefaultProvider, "model", a.model,
		"tools", len(a.tools.List()), "sessions", cfg.Sessions.Backend)

	deps := cli.Deps{
		Service:   a.service,
		Tools:     a.tools,
		SessionID: *sessionID,
		ModelName: a.model,
		OutputDir: outputDirDisplay(cfg),
		Logger:    log,
	}
	if *plain || !isTerminal(stdin) {
		return cli.RunPlain(ctx, deps, stdin, stdout)
	}
	return cli.Run(ctx, deps)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func runServe(ctx context.Context, args []string) error {
	fs, cfgPath := newFlagSet("serve")
	addr := fs.String("addr", "", "listen address")
	mdns := fs.Bool("mdns", false, "advertise the gateway over mDNS")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	cfg.Gateway.Enabled = true
	if *addr != "" {
		cfg.Gateway.Addr = *addr
	}
	if *mdns {
		cfg.Gateway.MDNS.Enabled = true
	}

	log, flush, err := setupObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer flush()

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	a.start(ctx)

	if !cfg.APIKeyConfigured() {
		log.Warn("no API key configured; /health reports api_key_configured=false",
			"provider", cfg.LLM.DefaultProvider)
	}

	srv := gateway.NewServer(cfg.Gateway, gateway.Deps{
		Service:          a.service,
		Tools:            a.tools,
		Events:           a.bus,
		Bus:              a.bus,
		Auth:             gateway.NewAuthenticator(cfg.Gateway.Auth),
		APIKeyConfigured: cfg.APIKeyConfigured(),
		Version:          version,
		Logger:           log,
	})
	log.Info("codegen-agent serving", "version", version, "model", a.model,
		"tools", len(a.tools.List()), "sessions", cfg.Sessions.Backend)
	return srv.Start(ctx)
}

func runMCP(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("mcp")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	if cfg.Logger.Output == "stdout" {
		cfg.Logger.Output = "stderr"
	}

	log, flush, err := setupObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer flush()

	reg, _, err := buildTools(cfg, log)
	if err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	return mcpserver.New("codegen-agent", version, reg, log).ServeStdio(ctx, stdin, stdout)
}

func runSessions(ctx context.Context, args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("sessions")
	asJSON := fs.Bool("json", false, "print the list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: codegen-agent sessions <list|delete ID>")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	st, err := store.New(cfg.Sessions)
	if err != nil {
		return err
	}
	defer st.Close()
	sm := usecase.NewSessionManager(st, log)

	switch rest[0] {
	case "list":
		list, err := sm.List(ctx)
		if err != nil {
			return err
		}
		if *asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		if len(list) == 0 {
			fmt.Fprintln(stdout, "No sessions.")
			return nil
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tMESSAGES\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", s.ID, s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()

	case "delete":
		if len(rest) != 2 {
			return fmt.Errorf("usage: codegen-agent sessions delete ID")
		}
		if err := sm.Delete(ctx, rest[1]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Session %s deleted\n", rest[1])
		return nil

	default:
		return fmt.Errorf("unknown sessions command: %s (want: list, delete)", rest[0])
	}
}

// runEncryptSecret prints the enc: form of a secret for config files. The
// passphrase comes from CODEGEN_MASTER_KEY.
func runDiscover(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 3*time.Second, "browse duration")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	peers, err := gateway.Discover(ctx, *timeout)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if peers == nil {
			peers = []gateway.Peer{}
		}
		return enc.Encode(peers)
	}
	if len(peers) == 0 {
		fmt.Fprintln(stdout, "No gateways found.")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tADDRESS\tVERSION\tAUTH")
	for _, p := range peers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", p.Instance, p.Addr, p.Version, p.Auth)
	}
	return tw.Flush()
}

func runEncryptSecret(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("encrypt-secret", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	passphrase := os.Getenv("CODEGEN_MASTER_KEY")
	if passphrase == "" {
		return fmt.Errorf("CODEGEN_MASTER_KEY must be set")
	}

	var secret string
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(stdout, "Secret: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stdout)
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		secret = string(b)
	} else {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read secret: %w", err)
		}
		secret = strings.TrimRight(line, "\r\n")
	}
	if secret == "" {
		return fmt.Errorf("empty secret")
	}

	enc, err := config.EncryptValue(secret, passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, enc)
	return nil
}
