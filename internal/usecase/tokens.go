package usecase

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"codegen-agent/internal/domain"
)

// perMessageOverhead approximates the role and framing tokens of a message.
const perMessageOverhead = 4

// TokenCounter estimates token counts for session info and size warnings.
// It uses the cl100k_base encoding; when the encoding cannot be loaded
// (its BPE file is fetched on first use) it falls back to four bytes per
// token.
type TokenCounter struct {
	once sync.Once
	load func() (*tiktoken.Tiktoken, error)
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter that loads the encoding lazily.
func NewTokenCounter() *TokenCounter {
	return newTokenCounter(func() (*tiktoken.Tiktoken, error) {
		return tiktoken.GetEncoding("cl100k_base")
	})
}

func newTokenCounter(load func() (*tiktoken.Tiktoken, error)) *TokenCounter {
	return &TokenCounter{load: load}
}

// Count returns the estimated token count of text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		if enc, err := c.load(); err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return approxTokens(text)
	}
	return len(c.enc.EncodeOrdinary(text))
}

// CountMessages estimates the tokens a history costs when sent to a model.
func (c *TokenCounter) CountMessages(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead + c.Count(m.Content)
		for _, tc := range m.ToolCalls {
			total += c.Count(tc.Name) + c.Count(string(tc.Arguments))
		}
	}
	return total
}

func approxTokens(text string) int {
	n := len(text) / 4
	if n == 0 && utf8.RuneCountInString(text) > 0 {
		return 1
	}
	return n
}
