package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(FetchTotal.WithLabelValues("success"))
	FetchTotal.WithLabelValues("success").Inc()
	if got := testutil.ToFloat64(FetchTotal.WithLabelValues("success")); got != before+1 {
		t.Errorf("fetch counter = %v, want %v", got, before+1)
	}
}

func TestPush(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := Push(context.Background(), srv.URL, "feedtranslator"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if !strings.Contains(gotPath, "/metrics/job/feedtranslator") {
		t.Errorf("push path = %q", gotPath)
	}
}

func TestPushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := Push(context.Background(), srv.URL, "feedtranslator"); err == nil {
		t.Error("Push() should fail on a 500 response")
	}
}
