// Package config loads feedtranslator configuration from defaults, an optional
// YAML file and FEEDTRANSLATOR_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FEEDTRANSLATOR_"

// ConfigPathEnvVar names the variable that points at a YAML config file.
const ConfigPathEnvVar = EnvPrefix + "CONFIG"

// DefaultConfigPaths are searched when no explicit path is given.
var DefaultConfigPaths = []string{
	"feedtranslator.yaml",
	"feedtranslator.yml",
	"/etc/feedtranslator/config.yaml",
}

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	NATS     NATSConfig     `koanf:"nats"`
	Cache    CacheConfig    `koanf:"cache"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Agents   []AgentConfig  `koanf:"agents" validate:"dive"`
}

type DatabaseConfig struct {
	Path            string        `koanf:"path" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error off"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

type PipelineConfig struct {
	Workers     int           `koanf:"workers" validate:"gte=1,lte=128"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
	LockDir     string        `koanf:"lock_dir" validate:"required"`
	UserAgent   string        `koanf:"user_agent"`
	TaskHistory int           `koanf:"task_history" validate:"gte=1"`
}

// NATSConfig configures the cache-refresh publisher. An empty URL falls back
// to CacheConfig.
type NATSConfig struct {
	URL           string `koanf:"url" validate:"omitempty,url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// CacheConfig selects where rendered outputs are written when no NATS URL is
// set. An empty Dir only logs refresh requests.
type CacheConfig struct {
	Dir string `koanf:"dir"`
}

type MetricsConfig struct {
	PushgatewayURL string `koanf:"pushgateway_url" validate:"omitempty,url"`
	Job            string `koanf:"job"`
}

// AgentConfig describes one translation/summarization agent. Feeds refer to
// agents by ID.
type AgentConfig struct {
	ID                     string  `koanf:"id" validate:"required"`
	Type                   string  `koanf:"type" validate:"required,oneof=openai deepl libretranslate test"`
	APIKey                 string  `koanf:"api_key"`
	BaseURL                string  `koanf:"base_url" validate:"omitempty,url"`
	Model                  string  `koanf:"model"`
	TitlePrompt            string  `koanf:"title_prompt"`
	ContentPrompt          string  `koanf:"content_prompt"`
	SummaryPrompt          string  `koanf:"summary_prompt"`
	Temperature            float64 `koanf:"temperature" validate:"gte=0,lte=2"`
	TopP                   float64 `koanf:"top_p" validate:"gte=0,lte=1"`
	MaxTokens              int     `koanf:"max_tokens" validate:"gte=0"`
	MaxCharacters          int     `koanf:"max_characters" validate:"gte=0"`
	RateLimitRPM           int     `koanf:"rate_limit_rpm" validate:"gte=0"`
	TranslatedText         string  `koanf:"translated_text"`
	RequestIntervalSeconds int     `koanf:"request_interval_seconds" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/feedtranslator.db",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Pipeline: PipelineConfig{
			Workers:     10,
			Timeout:     30 * time.Minute,
			LockDir:     os.TempDir(),
			UserAgent:   "FeedTranslator/1.0",
			TaskHistory: 1000,
		},
		NATS: NATSConfig{
			SubjectPrefix: "feedtranslator.cache",
		},
		Metrics: MetricsConfig{
			Job: "feedtranslator",
		},
	}
}

// Load layers defaults, the config file (explicit path, $FEEDTRANSLATOR_CONFIG
// or one of DefaultConfigPaths) and the environment, then validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate agent id %q", ErrInvalidConfig, a.ID)
		}
		seen[a.ID] = true
		if (a.Type == "openai" || a.Type == "deepl") && a.APIKey == "" {
			return fmt.Errorf("%w: agent %q requires api_key", ErrInvalidConfig, a.ID)
		}
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings keeps the short variable names working.
var envMappings = map[string]string{
	"db_path":   "database.path",
	"log_level": "log.level",
	"workers":   "pipeline.workers",
	"nats_url":  "nats.url",
}

// envTransformFunc maps FEEDTRANSLATOR_PIPELINE__WORKERS to pipeline.workers.
// Returning "" drops the variable.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return ""
	}
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return strings.ReplaceAll(key, "__", ".")
}
