package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
//
// Missing API keys are not an error: the process still starts so that
// health checks can report the key as unconfigured.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateTools(cfg, ve)
	validateSessions(cfg, ve)
	validateGateway(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.MaxToolTurns <= 0 {
		ve.Add("agent.max_tool_turns must be > 0")
	}
	if cfg.Agent.ModelTimeout <= 0 {
		ve.Add("agent.model_timeout must be > 0")
	}
	if cfg.Agent.MaxTokens < 0 {
		ve.Add("agent.max_tokens must be >= 0")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 1 {
		ve.Add("agent.temperature must be within [0, 1]")
	}
}

var validProviderTypes = map[string]bool{
	"anthropic": true,
	"bedrock":   true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: anthropic, bedrock)", i, p.Type)
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider (or set AWS_REGION)", i, p.Name)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Failover.Enabled {
		for _, fb := range cfg.LLM.Failover.Fallbacks {
			if !seen[fb] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
			}
			if fb == cfg.LLM.DefaultProvider {
				ve.Add("llm.failover.fallbacks: %q is the default provider", fb)
			}
		}
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	if cfg.Tools.OutputDir == "" {
		ve.Add("tools.output_dir must not be empty")
	}
	if cfg.Tools.RateLimit.WritesPerSecond < 0 {
		ve.Add("tools.rate_limit.writes_per_second must be >= 0")
	}
	if cfg.Tools.RateLimit.WritesPerSecond > 0 && cfg.Tools.RateLimit.Burst <= 0 {
		ve.Add("tools.rate_limit.burst must be > 0 when writes are limited")
	}
}

var validSessionBackends = map[string]bool{
	"sqlite": true,
	"file":   true,
	"memory": true,
}

func validateSessions(cfg *Config, ve *ValidationError) {
	s := cfg.Sessions
	if !validSessionBackends[s.Backend] {
		ve.Add("sessions.backend %q is invalid (want: sqlite, file, memory)", s.Backend)
	}
	if s.Backend != "memory" && s.Path == "" {
		ve.Add("sessions.path is required for the %s backend", s.Backend)
	}
	if s.TTL < 0 {
		ve.Add("sessions.ttl must be >= 0")
	}
	if s.TTL > 0 && s.ReapSchedule == "" {
		ve.Add("sessions.reap_schedule is required when sessions.ttl is set")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty for static auth")
		}
		for i, t := range cfg.Gateway.Auth.Tokens {
			if t.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q is invalid (want: static or empty)", cfg.Gateway.Auth.Type)
	}
	if rl := cfg.Gateway.RateLimit; rl.Enabled && (rl.RequestsPerSecond <= 0 || rl.Burst <= 0) {
		ve.Add("gateway.rate_limit requires requests_per_second > 0 and burst > 0")
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}
