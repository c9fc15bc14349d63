// internal/agent/openai.go
package agent

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"feedtranslator/internal/config"
	"feedtranslator/internal/content"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAITokens  = 16000

	// Tokens kept free for the reply when sizing the input.
	promptTokenBuffer = 100
	minSplitTokens    = 500

	DefaultTitlePrompt   = "Translate only the text from the following into {target_language}, only returns translations."
	DefaultContentPrompt = "Translate only the text from the following HTML into {target_language}. Keep every HTML tag and attribute unchanged, do not translate elements marked translate=\"no\", and only return the translated HTML."
	DefaultSummaryPrompt = "Summarize the following text in {target_language}. Keep the key facts, names and numbers. Only return the summary."
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// OpenAIAgent talks to any OpenAI-compatible chat completions endpoint.
type OpenAIAgent struct {
	cfg    config.AgentConfig
	client *http.Client
	guard  *guard
	logger zerolog.Logger
}

func NewOpenAIAgent(cfg config.AgentConfig, logger zerolog.Logger) *OpenAIAgent {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultOpenAITokens
	}
	if cfg.TitlePrompt == "" {
		cfg.TitlePrompt = DefaultTitlePrompt
	}
	if cfg.ContentPrompt == "" {
		cfg.ContentPrompt = DefaultContentPrompt
	}
	if cfg.SummaryPrompt == "" {
		cfg.SummaryPrompt = DefaultSummaryPrompt
	}
	logger = logger.With().Str("component", "agent").Str("agent", cfg.ID).Logger()
	return &OpenAIAgent{
		cfg:    cfg,
		client: newAPIClient(),
		guard:  newGuard(cfg.ID, cfg.RateLimitRPM, logger),
		logger: logger,
	}
}

func (a *OpenAIAgent) MaxTokens() int { return a.cfg.MaxTokens }
func (a *OpenAIAgent) MinSize() int   { return a.cfg.MaxTokens * 7 / 10 }
func (a *OpenAIAgent) MaxSize() int   { return a.cfg.MaxTokens * 9 / 10 }

func (a *OpenAIAgent) Translate(ctx context.Context, text, targetLanguage string, textType TextType, opts ...Option) (Result, error) {
	o := applyOptions(opts)
	prompt := a.cfg.ContentPrompt
	if textType == TextTitle {
		prompt = a.cfg.TitlePrompt
	}
	prompt = strings.ReplaceAll(prompt, "{target_language}", targetLanguage)
	if o.extraPrompt != "" {
		prompt += "\n\n" + o.extraPrompt
	}
	a.logger.Debug().Str("target_language", targetLanguage).Str("text_type", string(textType)).Msg("Translate")
	return a.completions(ctx, text, prompt, 0, 0)
}

// Summarize uses maxTokens as the reply budget. Zero means the agent default.
func (a *OpenAIAgent) Summarize(ctx context.Context, text, targetLanguage string, maxTokens int) (Result, error) {
	prompt := strings.ReplaceAll(a.cfg.SummaryPrompt, "{target_language}", targetLanguage)
	a.logger.Debug().Str("target_language", targetLanguage).Msg("Summarize")
	return a.completions(ctx, text, prompt, 0, maxTokens)
}

// completions sends text with systemPrompt. Input larger than the usable
// budget is split and the pieces are sent one by one.
func (a *OpenAIAgent) completions(ctx context.Context, text, systemPrompt string, depth, replyTokens int) (Result, error) {
	budget := a.cfg.MaxTokens - content.TokenCount(systemPrompt) - promptTokenBuffer
	if tokens := content.TokenCount(text); budget > 0 && tokens > budget && depth == 0 {
		a.logger.Info().Int("tokens", tokens).Int("budget", budget).Msg("Text too large, chunking")

		minChunk := minSplitTokens
		if minChunk > budget {
			minChunk = budget
		}
		chunks := content.AdaptiveChunking(text, tokens/budget+1, minChunk, budget, ".")

		var total Result
		parts := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			res, err := a.completions(ctx, chunk, systemPrompt, depth+1, replyTokens)
			if err != nil {
				return Result{}, err
			}
			parts = append(parts, res.Text)
			total.Tokens += res.Tokens
		}
		total.Text = strings.Join(parts, " ")
		return total, nil
	}

	return a.guard.do(ctx, func() (Result, error) {
		return a.chat(ctx, chatRequest{
			Model: a.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: text},
			},
			Temperature: a.cfg.Temperature,
			TopP:        a.cfg.TopP,
			MaxTokens:   replyTokens,
		})
	})
}

func (a *OpenAIAgent) chat(ctx context.Context, reqBody chatRequest) (Result, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(a.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, statusError(resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if chatResp.Error != nil {
		return Result{}, fmt.Errorf("api error: %s (%s)", chatResp.Error.Message, chatResp.Error.Type)
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return Result{}, ErrEmptyResponse
	}

	res := Result{Text: chatResp.Choices[0].Message.Content}
	if chatResp.Usage != nil {
		res.Tokens = chatResp.Usage.TotalTokens
	}
	return res, nil
}
