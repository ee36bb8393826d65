package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pokedex-ai/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	flags := parseFlags(os.Args[2:])

	// Some checks work without a loaded config.
	cfg, cfgErr := config.Load(flags.ConfigPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(flags.ConfigPath, cfgErr)},
		{Name: "LLM API key", Fn: checkLLMAPIKey},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "PokeAPI", Fn: checkPokeAPI},
		{Name: "Response cache", Fn: checkCacheBackend},
		{Name: "Server address", Fn: checkServerAddr},
	}
	return reportChecks(os.Stdout, cfg, checks)
}

func reportChecks(out io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(out, "pokedex doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(out, "\nFix the FAIL issues above before running 'pokedex serve'.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(out, "\npokedex should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(out, "\nAll checks passed! Gotta catch 'em all.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config loaded. The file itself is
// optional: defaults and environment variables are enough to run.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the POKEDEXAI_* environment variables",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkLLMAPIKey verifies at least one LLM provider has credentials.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check, config not loaded",
		}
	}

	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Set ANTHROPIC_API_KEY or add a provider under llm.providers",
		}
	}

	var withKey, withoutKey []string
	for _, p := range cfg.LLM.Providers {
		// Bedrock authenticates through the AWS credential chain.
		if p.APIKey != "" || p.Type == "bedrock" {
			withKey = append(withKey, p.Name)
		} else {
			withoutKey = append(withoutKey, p.Name)
		}
	}

	if len(withKey) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API keys found for providers: %s", strings.Join(withoutKey, ", ")),
			Fix:     "Set API keys via environment variables (e.g., POKEDEXAI_LLM_PROVIDER_ANTHROPIC_API_KEY)",
		}
	}

	if len(withoutKey) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("keys configured for [%s]; missing for [%s]", strings.Join(withKey, ", "), strings.Join(withoutKey, ", ")),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("API keys configured for: %s", strings.Join(withKey, ", ")),
	}
}

// checkLLMConnectivity tests if the default provider's endpoint is reachable.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check, config not loaded",
		}
	}

	var provider *config.ProviderConfig
	for i := range cfg.LLM.Providers {
		if cfg.LLM.Providers[i].Name == cfg.LLM.DefaultProvider {
			provider = &cfg.LLM.Providers[i]
			break
		}
	}
	if provider == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q not found in config", cfg.LLM.DefaultProvider),
		}
	}

	if provider.APIKey == "" && provider.Type != "bedrock" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "skipped, no API key for default provider",
		}
	}

	endpoint := providerEndpoint(provider)
	if endpoint == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no known endpoint for provider type %q, skipping connectivity test", provider.Type),
		}
	}

	latency, err := probe(endpoint, 10*time.Second)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your internet connection and firewall settings",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", provider.Name, latency.Milliseconds()),
	}
}

// providerEndpoint returns a URL that answers without credentials.
func providerEndpoint(p *config.ProviderConfig) string {
	switch p.Type {
	case "anthropic", "":
		if p.BaseURL != "" {
			return strings.TrimRight(p.BaseURL, "/")
		}
		return "https://api.anthropic.com/"
	case "bedrock":
		region := p.Region
		if region == "" {
			region = "us-east-1"
		}
		return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/", region)
	default:
		if p.BaseURL != "" {
			return strings.TrimRight(p.BaseURL, "/")
		}
		return ""
	}
}

// checkPokeAPI fetches a known Pokémon from the configured PokeAPI.
func checkPokeAPI(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "cannot check, config not loaded",
		}
	}

	endpoint := strings.TrimRight(cfg.Tools.PokeAPI.BaseURL, "/") + "/pokemon/pikachu"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("bad PokeAPI base URL: %v", err),
			Fix:     "Check tools.pokeapi.base_url",
		}
	}
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your internet connection or tools.pokeapi.base_url",
		}
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s answered %d", endpoint, resp.StatusCode),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("PokeAPI reachable (latency: %dms)", time.Since(start).Milliseconds()),
	}
}

// checkCacheBackend verifies the sqlite cache directory is writable.
func checkCacheBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check, config not loaded",
		}
	}

	cc := cfg.Tools.Cache
	switch cc.Backend {
	case "memory", "":
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("in-memory cache (ttl %s)", cc.TTL)}
	case "none":
		return CheckResult{Status: StatusWarn, Message: "PokeAPI responses are not cached"}
	case "sqlite":
	default:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("unknown cache backend %q", cc.Backend),
			Fix:     "Use memory, sqlite or none for tools.cache.backend",
		}
	}

	dir := filepath.Dir(cc.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot create cache dir %s: %v", dir, err),
			Fix:     "Check permissions or set tools.cache.path",
		}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cache dir %s is not writable: %v", dir, err),
			Fix:     "Check permissions or set tools.cache.path",
		}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("sqlite cache at %s", cc.Path)}
}

// checkServerAddr verifies the server can bind its listen address.
func checkServerAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check, config not loaded",
		}
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Server.Addr, err),
			Fix:     "Stop the process using the port or set POKEDEXAI_SERVER_ADDR",
		}
	}
	ln.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s is free", cfg.Server.Addr)}
}

func probe(endpoint string, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return time.Since(start), nil
}
