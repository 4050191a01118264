package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks the variables a developer machine commonly sets so tests
// see only what they configure themselves.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ANTHROPIC_API_KEY", "AWS_REGION", "OUTPUT_DIR", "PORT", "CODEGEN_MASTER_KEY"} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Agent.MaxToolTurns != 25 {
		t.Errorf("MaxToolTurns = %d, want 25", cfg.Agent.MaxToolTurns)
	}
	if cfg.Agent.ModelTimeout != 120*time.Second {
		t.Errorf("ModelTimeout = %v, want 120s", cfg.Agent.ModelTimeout)
	}
	if cfg.Tools.OutputDir != "generated_code" {
		t.Errorf("OutputDir = %q", cfg.Tools.OutputDir)
	}
	if cfg.Sessions.Path != DefaultCheckpointDB {
		t.Errorf("Sessions.Path = %q", cfg.Sessions.Path)
	}
	if cfg.Gateway.Addr != ":8000" {
		t.Errorf("Gateway.Addr = %q", cfg.Gateway.Addr)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Errorf("DefaultProvider = %q", cfg.LLM.DefaultProvider)
	}
	if cfg.APIKeyConfigured() {
		t.Error("no key was configured")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, t.TempDir(), "config.yaml", `
agent:
  max_tool_turns: 10
  model_timeout: 45s
  stream: true
llm:
  default_provider: "main"
  providers:
    - name: "main"
      type: "anthropic"
      model: "claude-3-5-haiku-latest"
      api_key: "sk-test"
tools:
  workspace: "/srv/work"
  output_dir: "out"
sessions:
  backend: "file"
  path: "sessions"
  ttl: 24h
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxToolTurns != 10 || cfg.Agent.ModelTimeout != 45*time.Second || !cfg.Agent.Stream {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	p, ok := cfg.Provider("main")
	if !ok || p.APIKey != "sk-test" || p.Model != "claude-3-5-haiku-latest" {
		t.Errorf("provider = %+v, ok = %v", p, ok)
	}
	if !cfg.APIKeyConfigured() {
		t.Error("APIKeyConfigured should be true")
	}
	if cfg.Tools.Workspace != "/srv/work" || cfg.Tools.OutputDir != "out" {
		t.Errorf("Tools = %+v", cfg.Tools)
	}
	if cfg.Sessions.Backend != "file" || cfg.Sessions.TTL != 24*time.Hour {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}
	// Untouched sections keep their defaults.
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want default", cfg.Logger.Level)
	}
}

func TestLoadInvalid(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, t.TempDir(), "config.yaml", `
agent:
  max_tool_turns: 0
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "max_tool_turns") {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, t.TempDir(), "config.yaml", "agent:\n  max_tool_turns: 3\n")
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Errorf("expected permissions error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODEGEN_AGENT_MAX_TOOL_TURNS", "7")
	t.Setenv("CODEGEN_AGENT_MODEL_TIMEOUT", "30s")
	t.Setenv("CODEGEN_LLM_MODEL", "claude-3-opus-latest")
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	t.Setenv("OUTPUT_DIR", "build")
	t.Setenv("PORT", "9090")
	t.Setenv("CODEGEN_GATEWAY_TOKEN", "secret")
	t.Setenv("CODEGEN_GATEWAY_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("CODEGEN_LOGGER_LEVEL", "debug")
	t.Setenv("CODEGEN_AGENT_STREAM", "not-a-bool")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Agent.MaxToolTurns != 7 {
		t.Errorf("MaxToolTurns = %d, want 7", cfg.Agent.MaxToolTurns)
	}
	if cfg.Agent.ModelTimeout != 30*time.Second {
		t.Errorf("ModelTimeout = %v, want 30s", cfg.Agent.ModelTimeout)
	}
	if cfg.Agent.Stream {
		t.Error("unparseable bool should leave Stream unchanged")
	}
	p, _ := cfg.Provider("anthropic")
	if p.Model != "claude-3-opus-latest" || p.APIKey != "sk-env" {
		t.Errorf("provider = %+v", p)
	}
	if cfg.Tools.OutputDir != "build" {
		t.Errorf("OutputDir = %q, want build", cfg.Tools.OutputDir)
	}
	if cfg.Gateway.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Gateway.Addr)
	}
	if cfg.Gateway.Auth.Type != "static" || len(cfg.Gateway.Auth.Tokens) != 1 || cfg.Gateway.Auth.Tokens[0].Token != "secret" {
		t.Errorf("Auth = %+v", cfg.Gateway.Auth)
	}
	if got := cfg.Gateway.AllowedOrigins; len(got) != 2 || got[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", got)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
}

func TestEnvProviderKeyTakesPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-generic")
	t.Setenv("CODEGEN_LLM_PROVIDER_ANTHROPIC_API_KEY", "sk-specific")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	p, _ := cfg.Provider("anthropic")
	if p.APIKey != "sk-specific" {
		t.Errorf("APIKey = %q, want sk-specific", p.APIKey)
	}
}

func TestEncryptDecryptValue(t *testing.T) {
	enc, err := EncryptValue("sk-ant-123", "hunter2")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if !strings.HasPrefix(enc, "enc:") {
		t.Fatalf("ciphertext %q lacks enc: prefix", enc)
	}
	if strings.Contains(enc, "sk-ant-123") {
		t.Fatal("ciphertext contains plaintext")
	}

	again, err := EncryptValue("sk-ant-123", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if again == enc {
		t.Error("two encryptions should differ (random salt and nonce)")
	}

	plain, err := DecryptValue(enc, "hunter2")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if plain != "sk-ant-123" {
		t.Errorf("plain = %q", plain)
	}

	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Error("wrong passphrase should fail")
	}
	if _, err := DecryptValue("enc:!!notbase64", "hunter2"); err == nil {
		t.Error("malformed ciphertext should fail")
	}
	if _, err := DecryptValue("enc:AAAA", "hunter2"); err == nil {
		t.Error("truncated ciphertext should fail")
	}
}

func TestLoadDecryptsSecrets(t *testing.T) {
	clearEnv(t)
	enc, err := EncryptValue("sk-secret", "master")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfigFile(t, t.TempDir(), "config.yaml", `
llm:
  default_provider: "anthropic"
  providers:
    - name: "anthropic"
      type: "anthropic"
      model: "claude-3-5-sonnet-20241022"
      api_key: "`+enc+`"
`)

	t.Setenv("CODEGEN_MASTER_KEY", "master")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p, _ := cfg.Provider("anthropic"); p.APIKey != "sk-secret" {
		t.Errorf("APIKey = %q, want decrypted value", p.APIKey)
	}

	t.Setenv("CODEGEN_MASTER_KEY", "wrong")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "decrypt secrets") {
		t.Errorf("expected decrypt error, got %v", err)
	}
}

func TestAPIKeyConfigured(t *testing.T) {
	cfg := Defaults()
	if cfg.APIKeyConfigured() {
		t.Error("default config has no key")
	}
	cfg.LLM.Providers[0].APIKey = "sk"
	if !cfg.APIKeyConfigured() {
		t.Error("key set on default provider")
	}

	cfg.LLM.Providers = append(cfg.LLM.Providers, ProviderConfig{Name: "aws", Type: "bedrock", Model: "m", Region: "us-east-1"})
	cfg.LLM.DefaultProvider = "aws"
	if !cfg.APIKeyConfigured() {
		t.Error("bedrock uses the AWS credential chain")
	}

	cfg.LLM.DefaultProvider = "missing"
	if cfg.APIKeyConfigured() {
		t.Error("unknown provider has no key")
	}
}
