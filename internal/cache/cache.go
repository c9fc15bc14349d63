// internal/cache/cache.go
// Package cache asks the output layer to rebuild rendered feeds after a
// pipeline run changed their entries.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedtranslator/internal/metrics"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Variants and formats of every rendered output.
var (
	Variants = []string{"o", "t"}
	Formats  = []string{"xml", "json"}
)

var ErrClosed = errors.New("refresher is closed")

// Refresher rebuilds cached outputs. Implementations must be safe for
// concurrent use.
type Refresher interface {
	RefreshFeedOutput(ctx context.Context, slug, variant, format string) error
	RefreshTagOutput(ctx context.Context, tag, variant, format string) error
}

// Request is the payload published for one refresh.
type Request struct {
	Kind        string    `json:"kind"` // feed or tag
	Key         string    `json:"key"`
	Variant     string    `json:"variant"`
	Format      string    `json:"format"`
	RequestedAt time.Time `json:"requestedAt"`
}

// NATSConfig configures NATSRefresher.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// NATSRefresher publishes refresh requests to NATS; a renderer subscribed to
// "<prefix>.>" does the actual rebuild.
type NATSRefresher struct {
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

func NewNATSRefresher(cfg NATSConfig, logger zerolog.Logger) (*NATSRefresher, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "feedtranslator.cache"
	}
	if cfg.Name == "" {
		cfg.Name = "feedtranslator"
	}
	logger = logger.With().Str("component", "cache").Logger()

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSRefresher{nc: nc, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

func (r *NATSRefresher) RefreshFeedOutput(ctx context.Context, slug, variant, format string) error {
	return r.publish(ctx, "feed", slug, variant, format)
}

func (r *NATSRefresher) RefreshTagOutput(ctx context.Context, tag, variant, format string) error {
	return r.publish(ctx, "tag", tag, variant, format)
}

func (r *NATSRefresher) publish(ctx context.Context, kind, key, variant, format string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.nc == nil || r.nc.IsClosed() {
		return ErrClosed
	}

	data, err := json.Marshal(Request{
		Kind:        kind,
		Key:         key,
		Variant:     variant,
		Format:      format,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode refresh request: %w", err)
	}

	subject := Subject(r.prefix, kind, key, variant, format)
	if err := r.nc.Publish(subject, data); err != nil {
		metrics.CacheRefreshTotal.WithLabelValues(kind, "failure").Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	metrics.CacheRefreshTotal.WithLabelValues(kind, "success").Inc()
	r.logger.Debug().Str("subject", subject).Msg("Cache refresh requested")
	return nil
}

// Close flushes pending publishes and closes the connection.
func (r *NATSRefresher) Close() error {
	if r.nc == nil || r.nc.IsClosed() {
		return nil
	}
	err := r.nc.FlushTimeout(5 * time.Second)
	r.nc.Close()
	return err
}

var subjectToken = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

// Subject builds "<prefix>.<kind>.<key>.<variant>.<format>". Characters that
// NATS treats as separators or wildcards are replaced in the key.
func Subject(prefix, kind, key, variant, format string) string {
	key = subjectToken.Replace(key)
	if key == "" {
		key = "_"
	}
	return strings.Join([]string{prefix, kind, key, variant, format}, ".")
}

// LogRefresher only logs refresh requests. It is used when no NATS server is
// configured.
type LogRefresher struct {
	logger zerolog.Logger
}

func NewLogRefresher(logger zerolog.Logger) *LogRefresher {
	return &LogRefresher{logger: logger.With().Str("component", "cache").Logger()}
}

func (r *LogRefresher) RefreshFeedOutput(ctx context.Context, slug, variant, format string) error {
	r.logger.Info().Str("feed", slug).Str("variant", variant).Str("format", format).Msg("Refresh feed output")
	metrics.CacheRefreshTotal.WithLabelValues("feed", "success").Inc()
	return nil
}

func (r *LogRefresher) RefreshTagOutput(ctx context.Context, tag, variant, format string) error {
	r.logger.Info().Str("tag", tag).Str("variant", variant).Str("format", format).Msg("Refresh tag output")
	metrics.CacheRefreshTotal.WithLabelValues("tag", "success").Inc()
	return nil
}
