package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
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
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateLLM(cfg, ve)
	validateRelay(cfg, ve)
	validateTools(cfg, ve)
	validateClient(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is not a valid host:port", cfg.Server.Addr)
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	if cfg.Server.RateLimit < 0 {
		ve.Add("server.rate_limit must be >= 0")
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst <= 0 {
		ve.Add("server.rate_burst must be > 0 when rate_limit is set")
	}
	for i, p := range cfg.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			ve.Add("server.trusted_proxies[%d] %q is not an IP or CIDR", i, p)
		}
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

	if len(cfg.LLM.Providers) == 0 {
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
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
		if p.APIKey == "" && p.Type == "anthropic" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via POKEDEXAI_LLM_PROVIDER_%s_API_KEY or ANTHROPIC_API_KEY)",
				i, p.Name, strings.ToUpper(p.Name))
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				ve.Add("llm.providers[%d] (%s): base_url %q is not an absolute URL", i, p.Name, p.BaseURL)
			}
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	for i, name := range cfg.LLM.Fallbacks {
		switch {
		case !seen[name]:
			ve.Add("llm.fallbacks[%d] %q does not match any configured provider", i, name)
		case name == cfg.LLM.DefaultProvider:
			ve.Add("llm.fallbacks[%d] %q duplicates the default provider", i, name)
		}
	}
}

func validateRelay(cfg *Config, ve *ValidationError) {
	r := cfg.Relay
	if strings.TrimSpace(r.SystemPrompt) == "" {
		ve.Add("relay.system_prompt must not be empty")
	}
	if r.MaxTokens <= 0 {
		ve.Add("relay.max_tokens must be > 0")
	}
	if r.PaceDelay < 0 {
		ve.Add("relay.pace_delay must be >= 0")
	}
	if r.PaceDelay > time.Second {
		ve.Add("relay.pace_delay %s is longer than 1s", r.PaceDelay)
	}
	if r.ToolTimeout <= 0 {
		ve.Add("relay.tool_timeout must be > 0")
	}
	if r.UpstreamOpenTimeout <= 0 {
		ve.Add("relay.upstream_open_timeout must be > 0")
	}
	if r.UpstreamIdleTimeout <= 0 {
		ve.Add("relay.upstream_idle_timeout must be > 0")
	}
}

var validCacheBackends = map[string]bool{
	"memory": true,
	"sqlite": true,
	"none":   true,
}

func validateTools(cfg *Config, ve *ValidationError) {
	p := cfg.Tools.PokeAPI
	if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("tools.pokeapi.base_url %q is not an absolute URL", p.BaseURL)
	}
	if p.Timeout <= 0 {
		ve.Add("tools.pokeapi.timeout must be > 0")
	}
	if p.RequestsPerSec < 0 {
		ve.Add("tools.pokeapi.requests_per_sec must be >= 0")
	}
	if p.RequestsPerSec > 0 && p.Burst <= 0 {
		ve.Add("tools.pokeapi.burst must be > 0 when requests_per_sec is set")
	}

	c := cfg.Tools.Cache
	if !validCacheBackends[c.Backend] {
		ve.Add("tools.cache.backend %q is invalid (want: memory, sqlite, none)", c.Backend)
	}
	if c.Backend == "sqlite" && c.Path == "" {
		ve.Add("tools.cache.path is required for the sqlite backend")
	}
	if c.Backend != "none" && c.TTL <= 0 {
		ve.Add("tools.cache.ttl must be > 0")
	}
	if c.Backend != "none" && c.PruneSchedule != "" {
		if err := validateSchedule(c.PruneSchedule); err != nil {
			ve.Add("tools.cache.prune_schedule %q: %v", c.PruneSchedule, err)
		}
	}
}

// validateSchedule accepts a cron expression (with descriptors) or a Go duration.
func validateSchedule(spec string) error {
	if _, err := time.ParseDuration(spec); err == nil {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(spec)
	return err
}

func validateClient(cfg *Config, ve *ValidationError) {
	if u, err := url.Parse(cfg.Client.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("client.server_url %q is not an absolute URL", cfg.Client.ServerURL)
	}
	if cfg.Client.Timeout < 0 {
		ve.Add("client.timeout must be >= 0")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}

var validLogFormats = map[string]bool{"text": true, "json": true, "console": true, "": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: text, json, console)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be within [0, 1]")
	}
}
