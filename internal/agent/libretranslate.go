// internal/agent/libretranslate.go
package agent

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"feedtranslator/internal/config"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const defaultLibreTranslateURL = "https://libretranslate.com"

var libreLanguageCodes = map[string]string{
	"English":            "en",
	"Chinese Simplified": "zh",
	"Russian":            "ru",
	"Japanese":           "ja",
	"Korean":             "ko",
	"Czech":              "cs",
	"Danish":             "da",
	"German":             "de",
	"Spanish":            "es",
	"French":             "fr",
	"Indonesian":         "id",
	"Italian":            "it",
	"Hungarian":          "hu",
	"Dutch":              "nl",
	"Polish":             "pl",
	"Portuguese":         "pt",
	"Swedish":            "sv",
	"Turkish":            "tr",
	"Arabic":             "ar",
	"Ukrainian":          "uk",
}

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

// LibreTranslateAgent translates through a LibreTranslate server.
type LibreTranslateAgent struct {
	cfg    config.AgentConfig
	client *http.Client
	guard  *guard
	logger zerolog.Logger
}

func NewLibreTranslateAgent(cfg config.AgentConfig, logger zerolog.Logger) *LibreTranslateAgent {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultLibreTranslateURL
	}
	logger = logger.With().Str("component", "agent").Str("agent", cfg.ID).Logger()
	return &LibreTranslateAgent{
		cfg:    cfg,
		client: newAPIClient(),
		guard:  newGuard(cfg.ID, cfg.RateLimitRPM, logger),
		logger: logger,
	}
}

func (a *LibreTranslateAgent) Translate(ctx context.Context, text, targetLanguage string, textType TextType, opts ...Option) (Result, error) {
	code, ok := libreLanguageCodes[targetLanguage]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, targetLanguage)
	}

	return a.guard.do(ctx, func() (Result, error) {
		body, err := json.Marshal(libreRequest{
			Q:      text,
			Source: "auto",
			Target: code,
			Format: "html",
			APIKey: a.cfg.APIKey,
		})
		if err != nil {
			return Result{}, fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(a.cfg.BaseURL, "/")+"/translate", bytes.NewReader(body))
		if err != nil {
			return Result{}, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return Result{}, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return Result{}, statusError(resp)
		}

		var out libreResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return Result{}, fmt.Errorf("decode response: %w", err)
		}
		if out.Error != "" {
			return Result{}, fmt.Errorf("api error: %s", out.Error)
		}
		if out.TranslatedText == "" {
			return Result{}, ErrEmptyResponse
		}
		return Result{
			Text:       out.TranslatedText,
			Characters: utf8.RuneCountInString(text),
		}, nil
	})
}
