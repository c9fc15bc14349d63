// internal/agent/agent.go
// Package agent provides the translation and summarization engines feeds
// are processed with.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"feedtranslator/internal/metrics"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported target language")
	ErrEmptyResponse       = errors.New("empty response from agent")
	ErrUnknownAgent        = errors.New("unknown agent")
)

// TextType tells a translator which prompt to use.
type TextType string

const (
	TextTitle   TextType = "title"
	TextContent TextType = "content"
)

// Result is the output of one agent call and what it cost.
type Result struct {
	Text       string
	Tokens     int
	Characters int
}

// Translator translates text into a target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string, textType TextType, opts ...Option) (Result, error)
}

// Summarizer condenses text. MinSize and MaxSize are the chunk bounds, in
// tokens, the agent works best with; MaxTokens is its context budget.
type Summarizer interface {
	Summarize(ctx context.Context, text, targetLanguage string, maxTokens int) (Result, error)
	MinSize() int
	MaxSize() int
	MaxTokens() int
}

type callOptions struct {
	extraPrompt string
}

// Option adjusts a single Translate call.
type Option func(*callOptions)

// WithPrompt appends a feed-specific instruction to the system prompt.
func WithPrompt(extra string) Option {
	return func(o *callOptions) { o.extraPrompt = extra }
}

func applyOptions(opts []Option) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// guard bundles the rate limiter and circuit breaker every remote agent
// sends its requests through.
type guard struct {
	name    string
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[Result]
	logger  zerolog.Logger
}

func newGuard(name string, rpm int, logger zerolog.Logger) *guard {
	g := &guard{name: name, logger: logger}
	if rpm > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	g.cb = gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		// Opens at a 60% failure rate over at least 10 requests
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= 0.6 {
				logger.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", ratio*100).Msg("Opening circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	return g
}

// do waits for the rate limiter, then runs fn under the circuit breaker.
func (g *guard) do(ctx context.Context, fn func() (Result, error)) (Result, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	res, err := g.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.AgentRequestsTotal.WithLabelValues(g.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.AgentRequestsTotal.WithLabelValues(g.name, "rejected").Inc()
		g.logger.Warn().Err(err).Msg("Request rejected by circuit breaker")
	default:
		metrics.AgentRequestsTotal.WithLabelValues(g.name, "failure").Inc()
	}
	return res, err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func newAPIClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}

// statusError reads a bounded part of a failed response body into the error.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(body))
}
