// internal/agent/testagent.go
package agent

import (
	"context"
	"time"
	"unicode/utf8"

	"feedtranslator/internal/config"
)

const (
	DefaultTestText      = "@@Translated Text@@"
	defaultTestMaxTokens = 50000
)

// TestAgent answers every call with a fixed text. It lets a deployment be
// exercised end to end without a paid engine.
type TestAgent struct {
	text      string
	interval  time.Duration
	maxTokens int
}

func NewTestAgent(cfg config.AgentConfig) *TestAgent {
	a := &TestAgent{
		text:      cfg.TranslatedText,
		interval:  time.Duration(cfg.RequestIntervalSeconds) * time.Second,
		maxTokens: cfg.MaxTokens,
	}
	if a.text == "" {
		a.text = DefaultTestText
	}
	if a.maxTokens <= 0 {
		a.maxTokens = defaultTestMaxTokens
	}
	return a
}

func (a *TestAgent) MaxTokens() int { return a.maxTokens }
func (a *TestAgent) MinSize() int   { return a.maxTokens * 7 / 10 }
func (a *TestAgent) MaxSize() int   { return a.maxTokens * 9 / 10 }

func (a *TestAgent) Translate(ctx context.Context, text, targetLanguage string, textType TextType, opts ...Option) (Result, error) {
	if err := a.wait(ctx); err != nil {
		return Result{}, err
	}
	return Result{Text: a.text, Tokens: 10, Characters: utf8.RuneCountInString(text)}, nil
}

func (a *TestAgent) Summarize(ctx context.Context, text, targetLanguage string, maxTokens int) (Result, error) {
	if err := a.wait(ctx); err != nil {
		return Result{}, err
	}
	return Result{Text: a.text, Tokens: 10, Characters: utf8.RuneCountInString(text)}, nil
}

func (a *TestAgent) wait(ctx context.Context) error {
	if a.interval <= 0 {
		return nil
	}
	t := time.NewTimer(a.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
