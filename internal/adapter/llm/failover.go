package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"codegen-agent/internal/domain"
)

var (
	_ domain.LLMProvider          = (*FailoverProvider)(nil)
	_ domain.StreamingLLMProvider = (*FailoverProvider)(nil)
)

// FailoverProvider tries the primary provider, then each fallback in order.
// Cancellation and context-overflow errors are returned immediately since
// another provider would fail the same way.
type FailoverProvider struct {
	providers []domain.LLMProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain.
func NewFailoverProvider(primary domain.LLMProvider, fallbacks []domain.LLMProvider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		providers: append([]domain.LLMProvider{primary}, fallbacks...),
		logger:    logger,
	}
}

func terminal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, domain.ErrContextOverflow)
}

// Chat implements domain.LLMProvider.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var errs []error
	for i, p := range f.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover succeeded", "provider", p.Name())
			}
			return resp, nil
		}
		if terminal(ctx, err) {
			return nil, err
		}
		f.logger.Warn("llm provider failed", "provider", p.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, allFailed(errs)
}

// ChatStream implements domain.StreamingLLMProvider. Providers without
// streaming support are skipped.
func (f *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	var errs []error
	for i, p := range f.providers {
		sp, ok := p.(domain.StreamingLLMProvider)
		if !ok {
			continue
		}
		ch, err := sp.ChatStream(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("streaming failover succeeded", "provider", p.Name())
			}
			return ch, nil
		}
		if terminal(ctx, err) {
			return nil, err
		}
		f.logger.Warn("streaming llm provider failed", "provider", p.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no streaming-capable providers", domain.ErrProviderError)
	}
	return nil, allFailed(errs)
}

// allFailed joins every provider error; errors.Is still finds the
// underlying sentinels.
func allFailed(errs []error) error {
	return fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

// Name returns the chain's provider names joined with "+".
func (f *FailoverProvider) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}
