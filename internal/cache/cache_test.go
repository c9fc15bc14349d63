package cache

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		kind, key, variant, format string
		want                       string
	}{
		{"feed", "3f2a9c", "o", "xml", "feedtranslator.cache.feed.3f2a9c.o.xml"},
		{"tag", "go lang", "t", "json", "feedtranslator.cache.tag.go_lang.t.json"},
		{"tag", "a.b*c>", "t", "xml", "feedtranslator.cache.tag.a_b_c_.t.xml"},
		{"tag", "", "o", "json", "feedtranslator.cache.tag._.o.json"},
	}
	for _, tt := range tests {
		if got := Subject("feedtranslator.cache", tt.kind, tt.key, tt.variant, tt.format); got != tt.want {
			t.Errorf("Subject(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestLogRefresher(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogRefresher(zerolog.New(&buf))
	ctx := context.Background()

	if err := r.RefreshFeedOutput(ctx, "abc", "t", "xml"); err != nil {
		t.Fatal(err)
	}
	if err := r.RefreshTagOutput(ctx, "news", "o", "json"); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{`"feed":"abc"`, `"tag":"news"`, `"format":"json"`, `"component":"cache"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestNATSRefresher_Closed(t *testing.T) {
	r := &NATSRefresher{prefix: "p", logger: zerolog.Nop()}
	if err := r.RefreshFeedOutput(context.Background(), "abc", "o", "xml"); !errors.Is(err, ErrClosed) {
		t.Errorf("RefreshFeedOutput() error = %v, want ErrClosed", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
