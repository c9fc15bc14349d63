// internal/agent/deepl.go
package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"feedtranslator/internal/config"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	deeplFreeURL = "https://api-free.deepl.com"
	deeplProURL  = "https://api.deepl.com"
)

var deeplLanguageCodes = map[string]string{
	"English":            "EN-US",
	"Chinese Simplified": "ZH",
	"Russian":            "RU",
	"Japanese":           "JA",
	"Korean":             "KO",
	"Czech":              "CS",
	"Danish":             "DA",
	"German":             "DE",
	"Spanish":            "ES",
	"French":             "FR",
	"Indonesian":         "ID",
	"Italian":            "IT",
	"Hungarian":          "HU",
	"Norwegian Bokmål":   "NB",
	"Dutch":              "NL",
	"Polish":             "PL",
	"Portuguese":         "PT-PT",
	"Swedish":            "SV",
	"Turkish":            "TR",
}

type deeplResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
	Message string `json:"message,omitempty"`
}

// DeepLAgent translates through the DeepL REST API. It is billed by
// characters, so Result.Tokens is always zero.
type DeepLAgent struct {
	cfg    config.AgentConfig
	client *http.Client
	guard  *guard
	logger zerolog.Logger
}

func NewDeepLAgent(cfg config.AgentConfig, logger zerolog.Logger) *DeepLAgent {
	if cfg.BaseURL == "" {
		cfg.BaseURL = deeplProURL
		// Free-tier keys end in ":fx"
		if strings.HasSuffix(cfg.APIKey, ":fx") {
			cfg.BaseURL = deeplFreeURL
		}
	}
	logger = logger.With().Str("component", "agent").Str("agent", cfg.ID).Logger()
	return &DeepLAgent{
		cfg:    cfg,
		client: newAPIClient(),
		guard:  newGuard(cfg.ID, cfg.RateLimitRPM, logger),
		logger: logger,
	}
}

func (a *DeepLAgent) Translate(ctx context.Context, text, targetLanguage string, textType TextType, opts ...Option) (Result, error) {
	code, ok := deeplLanguageCodes[targetLanguage]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, targetLanguage)
	}

	return a.guard.do(ctx, func() (Result, error) {
		form := url.Values{}
		form.Set("text", text)
		form.Set("target_lang", code)
		form.Set("tag_handling", "html")
		form.Set("preserve_formatting", "1")
		form.Set("split_sentences", "nonewlines")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(a.cfg.BaseURL, "/")+"/v2/translate", strings.NewReader(form.Encode()))
		if err != nil {
			return Result{}, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "DeepL-Auth-Key "+a.cfg.APIKey)

		resp, err := a.client.Do(req)
		if err != nil {
			return Result{}, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return Result{}, statusError(resp)
		}

		var out deeplResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return Result{}, fmt.Errorf("decode response: %w", err)
		}
		if len(out.Translations) == 0 {
			return Result{}, ErrEmptyResponse
		}
		return Result{
			Text:       out.Translations[0].Text,
			Characters: utf8.RuneCountInString(text),
		}, nil
	})
}
