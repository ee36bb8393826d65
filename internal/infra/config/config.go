package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt primes the model as a Pokédex assistant that prefers
// tool lookups over recalled facts.
const DefaultSystemPrompt = `You are a helpful Pokédex AI assistant with access to real-time Pokémon data. You can:

1. Look up detailed information about any Pokémon using the get_pokemon_info tool
2. Analyze Pokémon teams for strategic insights using the analyze_pokemon_team tool

When users ask about specific Pokémon, always use the get_pokemon_info tool to get accurate, up-to-date information. When they ask about team composition or strategy, use the analyze_pokemon_team tool.

Be enthusiastic about Pokémon and provide helpful, detailed responses. If users ask general questions about Pokémon without needing specific data, you can answer from your knowledge, but always prefer using tools when specific Pokémon information is requested.`

// Default model used when a provider does not name one.
const DefaultModel = "claude-3-5-sonnet-20241022"

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig `yaml:"server"`
	LLM      LLMConfig    `yaml:"llm"`
	Relay    RelayConfig  `yaml:"relay"`
	Tools    ToolsConfig  `yaml:"tools"`
	Client   ClientConfig `yaml:"client"`
	Logger   LoggerConfig `yaml:"logger"`
	Tracer   TracerConfig `yaml:"tracer"`
	Includes []string     `yaml:"includes,omitempty"`
}

// ServerConfig holds the inbound HTTP settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	RateLimit       float64       `yaml:"rate_limit"` // requests per second per client IP; 0 disables
	RateBurst       int           `yaml:"rate_burst"`
	TrustedProxies  []string      `yaml:"trusted_proxies,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LLMConfig holds model source settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Fallbacks       []string             `yaml:"fallbacks,omitempty"` // tried in order when opening the default fails
	Providers       []ProviderConfig     `yaml:"providers"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for model providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single model provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// RelayConfig holds the per-request relay settings.
type RelayConfig struct {
	SystemPrompt        string        `yaml:"system_prompt"`
	Model               string        `yaml:"model"` // overrides the provider model when set
	MaxTokens           int           `yaml:"max_tokens"`
	PaceDelay           time.Duration `yaml:"pace_delay"`
	ToolTimeout         time.Duration `yaml:"tool_timeout"`
	UpstreamOpenTimeout time.Duration `yaml:"upstream_open_timeout"`
	UpstreamIdleTimeout time.Duration `yaml:"upstream_idle_timeout"`
}

// ToolsConfig holds tool settings.
type ToolsConfig struct {
	PokeAPI PokeAPIConfig `yaml:"pokeapi"`
	Cache   CacheConfig   `yaml:"cache"`
}

// PokeAPIConfig holds the PokeAPI client settings.
type PokeAPIConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	RequestsPerSec float64              `yaml:"requests_per_sec"` // 0 disables the outbound limiter
	Burst          int                  `yaml:"burst"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CacheConfig holds PokeAPI response cache settings.
type CacheConfig struct {
	Backend       string        `yaml:"backend"` // "memory", "sqlite" or "none"
	Path          string        `yaml:"path"`
	TTL           time.Duration `yaml:"ttl"`
	PruneSchedule string        `yaml:"prune_schedule"` // cron expression or duration; empty disables
}

// ClientConfig holds settings for the interactive chat client.
type ClientConfig struct {
	ServerURL string        `yaml:"server_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// defaultDataDir returns the persistent data directory under $HOME/.pokedexai/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".pokedexai", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":3000",
			MaxBodyBytes:    1 << 20,
			RateLimit:       5,
			RateBurst:       10,
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Relay: RelayConfig{
			SystemPrompt:        DefaultSystemPrompt,
			MaxTokens:           1000,
			PaceDelay:           30 * time.Millisecond,
			ToolTimeout:         20 * time.Second,
			UpstreamOpenTimeout: 30 * time.Second,
			UpstreamIdleTimeout: 60 * time.Second,
		},
		Tools: ToolsConfig{
			PokeAPI: PokeAPIConfig{
				BaseURL:        "https://pokeapi.co/api/v2",
				Timeout:        10 * time.Second,
				RequestsPerSec: 10,
				Burst:          10,
				CircuitBreaker: CircuitBreakerConfig{
					Enabled:     true,
					MaxFailures: 5,
					Timeout:     30 * time.Second,
					Interval:    60 * time.Second,
				},
			},
			Cache: CacheConfig{
				Backend:       "memory",
				Path:          filepath.Join(defaultDataDir(), "pokeapi-cache.db"),
				TTL:           24 * time.Hour,
				PruneSchedule: "@every 1h",
			},
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:3000",
			Timeout:   5 * time.Minute,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			SampleRatio: 1,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
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

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

// finish applies env overrides, decrypts secrets and validates.
func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("POKEDEXAI_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps POKEDEXAI_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POKEDEXAI_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("POKEDEXAI_SERVER_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = splitAndTrim(v, ",")
	}
	if v := os.Getenv("POKEDEXAI_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("POKEDEXAI_RELAY_MODEL"); v != "" {
		cfg.Relay.Model = v
	}
	if v := os.Getenv("POKEDEXAI_RELAY_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Relay.MaxTokens = n
		}
	}
	if v := os.Getenv("POKEDEXAI_RELAY_PACE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Relay.PaceDelay = d
		}
	}
	if v := os.Getenv("POKEDEXAI_RELAY_TOOL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Relay.ToolTimeout = d
		}
	}
	if v := os.Getenv("POKEDEXAI_TOOLS_POKEAPI_BASE_URL"); v != "" {
		cfg.Tools.PokeAPI.BaseURL = v
	}
	if v := os.Getenv("POKEDEXAI_TOOLS_CACHE_BACKEND"); v != "" {
		cfg.Tools.Cache.Backend = v
	}
	if v := os.Getenv("POKEDEXAI_TOOLS_CACHE_PATH"); v != "" {
		cfg.Tools.Cache.Path = v
	}
	if v := os.Getenv("POKEDEXAI_CLIENT_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("POKEDEXAI_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("POKEDEXAI_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("POKEDEXAI_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("POKEDEXAI_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	// Per-provider API key overrides: POKEDEXAI_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		envKey := fmt.Sprintf("POKEDEXAI_LLM_PROVIDER_%s_API_KEY",
			strings.ToUpper(strings.ReplaceAll(cfg.LLM.Providers[i].Name, "-", "_")))
		if v := os.Getenv(envKey); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}

	// ANTHROPIC_API_KEY fills the first anthropic provider without a key, or
	// declares one when none is configured at all.
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		found := false
		for i := range cfg.LLM.Providers {
			if cfg.LLM.Providers[i].Type != "anthropic" {
				continue
			}
			found = true
			if cfg.LLM.Providers[i].APIKey == "" {
				cfg.LLM.Providers[i].APIKey = v
			}
			break
		}
		if !found && len(cfg.LLM.Providers) == 0 {
			cfg.LLM.Providers = append(cfg.LLM.Providers, ProviderConfig{
				Name:   "anthropic",
				Type:   "anthropic",
				APIKey: v,
				Model:  DefaultModel,
			})
		}
	}
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

// decryptSecrets finds "enc:..." values in provider API keys and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		key := cfg.LLM.Providers[i].APIKey
		if !strings.HasPrefix(key, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
		}
		cfg.LLM.Providers[i].APIKey = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
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
