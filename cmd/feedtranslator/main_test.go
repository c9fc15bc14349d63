package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"feedtranslator/internal/feed"
	"feedtranslator/internal/lock"
)

const cliRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>CLI Feed</title><link>http://example.com/</link>
<item><title>Hello</title><guid>h1</guid><description>World</description></item>
</channel></rss>`

func writeConfig(t *testing.T, dbPath, lockDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feedtranslator.yaml")
	body := fmt.Sprintf(`database:
  path: %q
log:
  level: info
  format: json
pipeline:
  workers: 2
  lock_dir: %q
agents:
  - id: test
    type: test
`, dbPath, lockDir)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI(t, "-version")
	if code != 0 || !strings.Contains(out, "feedtranslator version") {
		t.Errorf("code = %d, out = %q", code, out)
	}
}

func TestRun_InvalidFrequency(t *testing.T) {
	code, _, errOut := runCLI(t, "-frequency", "every second")
	if code != 1 {
		t.Errorf("code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "invalid frequency") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_NoMode(t *testing.T) {
	if code, _, _ := runCLI(t); code != 2 {
		t.Errorf("code = %d, want 2", code)
	}
}

func TestRun_AddThenUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(cliRSS))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := writeConfig(t, filepath.Join(dir, "data", "ft.db"), dir)

	code, out, _ := runCLI(t, "-config", cfg, "-add", srv.URL+"/feed", "-lang", "German",
		"-frequency-minutes", "10", "-translator", "test")
	if code != 0 {
		t.Fatalf("add code = %d, out = %s", code, out)
	}
	if !strings.Contains(out, "Feed ready") {
		t.Errorf("add output = %s", out)
	}

	code, out, _ = runCLI(t, "-config", cfg, "-frequency", "15 min")
	if code != 0 {
		t.Fatalf("update code = %d, out = %s", code, out)
	}
	if !strings.Contains(out, `"succeeded":1`) {
		t.Errorf("update output = %s", out)
	}

	slug := feed.MakeSlug(srv.URL+"/feed", "German")
	if code, out, _ = runCLI(t, "-config", cfg, "-feed", slug, "-tag", "tech"); code != 0 {
		t.Fatalf("tag code = %d, out = %s", code, out)
	}
	code, out, _ = runCLI(t, "-config", cfg, "-list")
	if code != 0 || !strings.Contains(out, slug) || !strings.Contains(out, "CLI Feed") || !strings.Contains(out, "tech") {
		t.Errorf("list code = %d, out = %s", code, out)
	}

	if code, _, _ = runCLI(t, "-config", cfg, "-feed", slug, "-delete"); code != 0 {
		t.Fatalf("delete code = %d", code)
	}
	if code, _, _ = runCLI(t, "-config", cfg, "-feed", slug, "-delete"); code != 1 {
		t.Errorf("second delete code = %d, want 1", code)
	}
}

func TestRun_LockHeld(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, filepath.Join(dir, "ft.db"), dir)

	held, err := lock.Acquire(lock.Path(dir, "daily"))
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	code, out, _ := runCLI(t, "-config", cfg, "-frequency", "daily")
	if code != 0 {
		t.Errorf("code = %d, want 0 when locked", code)
	}
	if !strings.Contains(out, "Another update") {
		t.Errorf("output = %s", out)
	}
}
