package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	LLM      LLMConfig      `yaml:"llm"`
	Tools    ToolsConfig    `yaml:"tools"`
	Sessions SessionsConfig `yaml:"sessions"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
	Includes []string       `yaml:"includes,omitempty"`
}

// AgentConfig holds controller settings.
type AgentConfig struct {
	MaxToolTurns int           `yaml:"max_tool_turns"`
	ModelTimeout time.Duration `yaml:"model_timeout"`
	SystemPrompt string        `yaml:"system_prompt"` // empty = built-in code generator prompt
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	Stream       bool          `yaml:"stream"`
	Retry        bool          `yaml:"retry"` // retry rate-limited and 5xx model calls
}

// FailoverConfig holds model failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "anthropic" or "bedrock"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// ToolsConfig holds file and code tool settings.
type ToolsConfig struct {
	Workspace string        `yaml:"workspace"`  // sandbox root; empty = working directory
	OutputDir string        `yaml:"output_dir"` // relative to workspace
	RateLimit ToolRateLimit `yaml:"rate_limit"`
	Schema    SchemaConfig  `yaml:"schema"`
}

// ToolRateLimit bounds filesystem writes issued by tools.
type ToolRateLimit struct {
	WritesPerSecond float64 `yaml:"writes_per_second"` // 0 = unlimited
	Burst           int     `yaml:"burst"`
}

// SchemaConfig toggles argument validation in the tool registry.
type SchemaConfig struct {
	Validate bool `yaml:"validate"`
}

// SessionsConfig holds session persistence settings.
type SessionsConfig struct {
	Backend      string        `yaml:"backend"` // "sqlite", "file" or "memory"
	Path         string        `yaml:"path"`    // database file or directory
	TTL          time.Duration `yaml:"ttl"`     // 0 = sessions never expire
	ReapSchedule string        `yaml:"reap_schedule"`
}

// GatewayConfig holds HTTP and websocket front end settings.
type GatewayConfig struct {
	Enabled        bool            `yaml:"enabled"`
	Addr           string          `yaml:"addr"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MDNS           MDNSConfig      `yaml:"mdns"`
}

// MDNSConfig controls LAN advertisement of the gateway. It only takes
// effect in binaries built with the mdns tag.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"` // defaults to the host name
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig holds per-client request limits for the gateway.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// DefaultCheckpointDB is the default SQLite session database.
const DefaultCheckpointDB = "code_generator_checkpoints.db"

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxToolTurns: 25,
			ModelTimeout: 120 * time.Second,
			MaxTokens:    4096,
			Temperature:  0,
			Retry:        true,
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
			Providers: []ProviderConfig{{
				Name:  "anthropic",
				Type:  "anthropic",
				Model: "claude-3-5-sonnet-20241022",
			}},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Tools: ToolsConfig{
			OutputDir: "generated_code",
			Schema:    SchemaConfig{Validate: true},
		},
		Sessions: SessionsConfig{
			Backend:      "sqlite",
			Path:         DefaultCheckpointDB,
			ReapSchedule: "@every 10m",
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Addr:    ":8000",
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 2,
				Burst:             10,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return finish(cfg)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if includes := cfg.Includes; len(includes) > 0 {
		cfg.Includes = nil
		if err := newOverlay(cfg, absPath).apply(filepath.Dir(absPath), includes, 0); err != nil {
			return nil, err
		}
		// Second pass so the main file takes precedence over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CODEGEN_MASTER_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps CODEGEN_* env vars, and the conventional
// ANTHROPIC_API_KEY, OUTPUT_DIR and PORT, onto config fields.
func ApplyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	if v := os.Getenv("CODEGEN_AGENT_MAX_TOOL_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxToolTurns = n
		}
	}
	dur("CODEGEN_AGENT_MODEL_TIMEOUT", &cfg.Agent.ModelTimeout)
	boolean("CODEGEN_AGENT_STREAM", &cfg.Agent.Stream)

	str("CODEGEN_LLM_PROVIDER", &cfg.LLM.DefaultProvider)
	str("CODEGEN_LLM_MODEL", &providerFor(cfg, cfg.LLM.DefaultProvider).Model)

	str("OUTPUT_DIR", &cfg.Tools.OutputDir)
	str("CODEGEN_OUTPUT_DIR", &cfg.Tools.OutputDir)
	str("CODEGEN_WORKSPACE", &cfg.Tools.Workspace)

	str("CODEGEN_SESSIONS_BACKEND", &cfg.Sessions.Backend)
	str("CODEGEN_SESSIONS_PATH", &cfg.Sessions.Path)
	dur("CODEGEN_SESSIONS_TTL", &cfg.Sessions.TTL)

	if v := os.Getenv("PORT"); v != "" {
		cfg.Gateway.Addr = ":" + v
	}
	str("CODEGEN_GATEWAY_ADDR", &cfg.Gateway.Addr)
	boolean("CODEGEN_GATEWAY_ENABLED", &cfg.Gateway.Enabled)
	boolean("CODEGEN_GATEWAY_MDNS", &cfg.Gateway.MDNS.Enabled)
	if v := os.Getenv("CODEGEN_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{Token: v, Name: "env"})
	}
	if v := os.Getenv("CODEGEN_GATEWAY_ALLOWED_ORIGINS"); v != "" {
		cfg.Gateway.AllowedOrigins = splitAndTrim(v, ",")
	}

	str("CODEGEN_LOGGER_LEVEL", &cfg.Logger.Level)
	str("CODEGEN_LOGGER_FORMAT", &cfg.Logger.Format)
	str("CODEGEN_LOGGER_OUTPUT", &cfg.Logger.Output)
	boolean("CODEGEN_TRACER_ENABLED", &cfg.Tracer.Enabled)
	str("CODEGEN_TRACER_EXPORTER", &cfg.Tracer.Exporter)

	// Per-provider keys: CODEGEN_LLM_PROVIDER_<NAME>_API_KEY, then the
	// conventional variable for anthropic providers without a key.
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		envName := "CODEGEN_LLM_PROVIDER_" + strings.ToUpper(strings.ReplaceAll(p.Name, "-", "_")) + "_API_KEY"
		str(envName, &p.APIKey)
		if p.APIKey == "" && p.Type == "anthropic" {
			p.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if p.Region == "" && p.Type == "bedrock" {
			p.Region = os.Getenv("AWS_REGION")
		}
	}
}

// providerFor returns the named provider, or a throwaway value when no
// provider has that name.
func providerFor(cfg *Config, name string) *ProviderConfig {
	for i := range cfg.LLM.Providers {
		if cfg.LLM.Providers[i].Name == name {
			return &cfg.LLM.Providers[i]
		}
	}
	return &ProviderConfig{}
}

// Provider returns the configuration of the named provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// APIKeyConfigured reports whether the default provider has credentials.
// Bedrock relies on the AWS credential chain and always counts as configured.
func (c *Config) APIKeyConfigured() bool {
	p, ok := c.Provider(c.LLM.DefaultProvider)
	if !ok {
		return false
	}
	return p.Type == "bedrock" || p.APIKey != ""
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
