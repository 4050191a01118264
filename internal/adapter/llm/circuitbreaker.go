package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
)

const (
	defaultCBMaxFailures uint32 = 5
	defaultCBTimeout            = 30 * time.Second
	defaultCBInterval           = 60 * time.Second
)

// CircuitBreakerProvider fails fast with ErrProviderUnavailable once the
// wrapped provider has failed MaxFailures times in a row. After Timeout a
// single probe call is let through.
//
// Only provider faults count: cancellations, rejected credentials and
// oversized prompts leave the breaker closed.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
}

// NewCircuitBreakerProvider wraps inner. Zero settings take defaults.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return !isProviderFault(err)
		},
	})
	return &CircuitBreakerProvider{inner: inner, breaker: cb}
}

// Chat implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	return resp, nil
}

// ChatStream implements domain.StreamingLLMProvider. The breaker guards
// opening the stream; errors that arrive later on the channel do not count.
func (p *CircuitBreakerProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	sp, ok := p.inner.(domain.StreamingLLMProvider)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support streaming", p.inner.Name())
	}

	var ch <-chan domain.StreamDelta
	_, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		var streamErr error
		ch, streamErr = sp.ChatStream(ctx, req)
		return nil, streamErr
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	return ch, nil
}

func (p *CircuitBreakerProvider) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewDomainError("CircuitBreaker."+p.inner.Name(), domain.ErrProviderUnavailable, err.Error())
	}
	return err
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State returns the breaker state for health reporting.
func (p *CircuitBreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}

var (
	_ domain.LLMProvider          = (*CircuitBreakerProvider)(nil)
	_ domain.StreamingLLMProvider = (*CircuitBreakerProvider)(nil)
)
