package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"codegen-agent/internal/adapter/llm"
	"codegen-agent/internal/adapter/store"
	"codegen-agent/internal/adapter/tool"
	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
	"codegen-agent/internal/security"
)

// CheckStatus is the outcome of one doctor check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional
}

// Check is a named setup check. cfg is nil when the config failed to load.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

var skippedNoConfig = CheckResult{Status: StatusFail, Message: "skipped, config not loaded"}

func runDoctor(ctx context.Context, args []string, stdout io.Writer) error {
	fs, cfgFlag := newFlagSet("doctor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := configPath(*cfgFlag)
	cfg, cfgErr := config.Load(path)
	return runChecks(ctx, stdout, cfg, doctorChecks(path, cfgErr))
}

func doctorChecks(path string, cfgErr error) []Check {
	return []Check{
		{Name: "Config file", Fn: checkConfigFile(path, cfgErr)},
		{Name: "LLM API key", Fn: checkAPIKey},
		{Name: "LLM providers", Fn: checkProviders},
		{Name: "Tools", Fn: checkTools},
		{Name: "Session store", Fn: checkSessionStore},
		{Name: "Output directory", Fn: checkOutputDir},
	}
}

// runChecks prints one line per check and a summary. Any FAIL is an error.
func runChecks(ctx context.Context, w io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(w, "codegen-agent doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	counts := map[CheckStatus]int{}
	for _, c := range checks {
		res := c.Fn(ctx, cfg)
		res.Name = c.Name
		counts[res.Status]++

		fmt.Fprintf(w, "  [%s] %s: %s\n", res.Status, res.Name, res.Message)
		if res.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", res.Fix)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n",
		counts[StatusPass], counts[StatusWarn], counts[StatusFail])

	switch {
	case counts[StatusFail] > 0:
		fmt.Fprintln(w, "\nFix the FAIL issues above before generating code.")
		return fmt.Errorf("%d check(s) failed", counts[StatusFail])
	case counts[StatusWarn] > 0:
		fmt.Fprintln(w, "\ncodegen-agent should work, but consider addressing the warnings.")
	default:
		fmt.Fprintln(w, "\nAll checks passed! Run: codegen-agent chat")
	}
	return nil
}

func checkConfigFile(path string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check " + path + " syntax and the CODEGEN_* environment overrides",
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("no config file at %s, using defaults", path)}
		}
		return CheckResult{Status: StatusPass, Message: "config loaded from " + path}
	}
}

// checkAPIKey requires a key for every anthropic provider. Bedrock
// providers authenticate with the AWS credential chain.
func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return skippedNoConfig
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add a provider under llm.providers",
		}
	}

	var ready, missing []string
	for _, p := range cfg.LLM.Providers {
		if p.APIKey != "" || p.Type == "bedrock" {
			ready = append(ready, p.Name)
		} else {
			missing = append(missing, p.Name)
		}
	}
	fix := "Set ANTHROPIC_API_KEY or CODEGEN_LLM_PROVIDER_<NAME>_API_KEY"
	switch {
	case len(ready) == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: "no API key for providers: " + strings.Join(missing, ", "),
			Fix:     fix,
		}
	case len(missing) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("keys set for [%s]; missing for [%s]", strings.Join(ready, ", "), strings.Join(missing, ", ")),
			Fix:     fix,
		}
	}
	return CheckResult{Status: StatusPass, Message: "credentials configured for: " + strings.Join(ready, ", ")}
}

func checkProviders(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return skippedNoConfig
	}
	reg, _, err := llm.Build(cfg.LLM, slog.New(slog.DiscardHandler))
	if err != nil {
		res := CheckResult{Status: StatusFail, Message: err.Error()}
		if errors.Is(err, domain.ErrProviderNotFound) {
			res.Fix = "Use an available provider type, or build with -tags bedrock for bedrock"
		}
		return res
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("default %s (model %s); registered: %s", cfg.LLM.DefaultProvider, defaultModel(cfg), strings.Join(reg.List(), ", ")),
	}
}

func checkTools(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return skippedNoConfig
	}
	reg, sandbox, err := buildTools(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Point tools.workspace at an existing directory",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d tools registered, workspace %s", len(reg.Tools()), sandbox.Root()),
	}
}

func checkSessionStore(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return skippedNoConfig
	}
	backend := cfg.Sessions.Backend
	if backend == "" {
		backend = "sqlite"
	}
	st, err := store.New(cfg.Sessions)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s store cannot be opened: %v", backend, err),
			Fix:     "Check sessions.path and its permissions",
		}
	}
	defer st.Close()

	list, err := st.List(ctx)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("%s store cannot be read: %v", backend, err)}
	}
	if backend == "memory" {
		return CheckResult{Status: StatusWarn, Message: "memory backend, sessions are lost on exit"}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s store ready (%d sessions)", backend, len(list))}
}

// checkOutputDir probes the output directory for writes, or the workspace
// when the output directory does not exist yet.
func checkOutputDir(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return skippedNoConfig
	}
	root := cfg.Tools.Workspace
	if root == "" {
		root = "."
	}
	sandbox, err := security.NewSandbox(root)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	outDir := cfg.Tools.OutputDir
	if outDir == "" {
		outDir = tool.DefaultOutputDir
	}
	dir, err := sandbox.Resolve(outDir)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("output directory %s: %v", outDir, err),
			Fix:     "Set tools.output_dir to a path inside the workspace",
		}
	}

	probeDir, note := dir, ""
	if info, err := os.Stat(dir); err != nil {
		probeDir, note = sandbox.Root(), ", created on first write"
	} else if !info.IsDir() {
		return CheckResult{Status: StatusFail, Message: dir + " exists but is not a directory"}
	}

	f, err := os.CreateTemp(probeDir, ".doctor-check-*")
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not writable: %v", probeDir, err),
			Fix:     "Fix permissions on " + probeDir,
		}
	}
	f.Close()
	os.Remove(f.Name())
	return CheckResult{Status: StatusPass, Message: filepath.Clean(dir) + " writable" + note}
}
