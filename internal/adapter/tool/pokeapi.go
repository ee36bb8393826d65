package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
	"pokedex-ai/internal/infra/tracer"
)

// maxPokeAPIBody caps how much of a PokeAPI response is read.
const maxPokeAPIBody = 4 << 20

// NamedResource is PokeAPI's {name, url} reference.
type NamedResource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Pokemon is the subset of /pokemon/{name} the tools use.
type Pokemon struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Height int    `json:"height"` // decimetres
	Weight int    `json:"weight"` // hectograms
	Types  []struct {
		Slot int           `json:"slot"`
		Type NamedResource `json:"type"`
	} `json:"types"`
	Abilities []struct {
		Ability NamedResource `json:"ability"`
	} `json:"abilities"`
	Stats []struct {
		BaseStat int           `json:"base_stat"`
		Stat     NamedResource `json:"stat"`
	} `json:"stats"`
	Species NamedResource `json:"species"`
}

// TypeNames returns the Pokémon's types in slot order.
func (p *Pokemon) TypeNames() []string {
	out := make([]string, 0, len(p.Types))
	for _, t := range p.Types {
		out = append(out, t.Type.Name)
	}
	return out
}

// Species is the subset of /pokemon-species/{id} the tools use.
type Species struct {
	FlavorTextEntries []struct {
		FlavorText string        `json:"flavor_text"`
		Language   NamedResource `json:"language"`
	} `json:"flavor_text_entries"`
}

// StatusError is returned for non-2xx PokeAPI responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimit
	case e.StatusCode >= 500:
		return domain.ErrProviderError
	default:
		return domain.ErrInvalidInput
	}
}

// PokeAPIClient fetches PokeAPI resources through a response cache, an
// outbound rate limiter and a circuit breaker.
type PokeAPIClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	cache   Cache
	logger  *slog.Logger
}

// NewPokeAPIClient builds a client from config. A nil cache disables caching.
func NewPokeAPIClient(cfg config.PokeAPIConfig, cache Cache, logger *slog.Logger) *PokeAPIClient {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &PokeAPIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		cache:   cache,
		logger:  logger,
	}
	if cfg.RequestsPerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}
	if cfg.CircuitBreaker.Enabled {
		c.breaker = newPokeAPIBreaker(cfg.CircuitBreaker, logger)
	}
	return c
}

func newPokeAPIBreaker(cfg config.CircuitBreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "pokeapi",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A 404 is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
	})
}

// Pokemon fetches a Pokémon by name or national dex number.
func (c *PokeAPIClient) Pokemon(ctx context.Context, nameOrID string) (*Pokemon, error) {
	key := strings.ToLower(strings.TrimSpace(nameOrID))
	if key == "" {
		return nil, &StatusError{URL: c.baseURL + "/pokemon/", StatusCode: http.StatusNotFound}
	}
	var p Pokemon
	if err := c.getJSON(ctx, c.baseURL+"/pokemon/"+url.PathEscape(key), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Species fetches the species resource at the absolute URL PokeAPI returned.
func (c *PokeAPIClient) Species(ctx context.Context, speciesURL string) (*Species, error) {
	if speciesURL == "" {
		return nil, fmt.Errorf("%w: pokemon has no species url", domain.ErrInvalidInput)
	}
	var s Species
	if err := c.getJSON(ctx, speciesURL, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *PokeAPIClient) getJSON(ctx context.Context, rawURL string, v any) error {
	ctx, span := tracer.StartSpan(ctx, "pokeapi.get",
		trace.WithAttributes(tracer.StringAttr("http.url", rawURL)),
	)
	defer span.End()

	body, hit := c.cache.Get(ctx, rawURL)
	span.SetAttributes(tracer.BoolAttr("cache.hit", hit))
	if !hit {
		var err error
		body, err = c.fetch(ctx, rawURL)
		if err != nil {
			tracer.RecordError(span, err)
			return err
		}
		c.cache.Set(ctx, rawURL, body)
	}

	if err := json.Unmarshal(body, v); err != nil {
		err = fmt.Errorf("decode %s: %w", rawURL, err)
		tracer.RecordError(span, err)
		return err
	}
	tracer.SetOK(span)
	return nil
}

func (c *PokeAPIClient) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pokeapi rate limiter: %w", err)
		}
	}
	if c.breaker == nil {
		return c.do(ctx, rawURL)
	}
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, rawURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: pokeapi: %v", domain.ErrProviderError, err)
	}
	return body, err
}

func (c *PokeAPIClient) do(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPokeAPIBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("pokeapi fetched", "url", rawURL, "bytes", len(body))
	return body, nil
}

// BreakerState reports the circuit breaker state, or "disabled".
func (c *PokeAPIClient) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}
