package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lexhound/lexhound/internal/health"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return body
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{
		Name:  "broken",
		Check: func(context.Context) error { return errors.New("down") },
	})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestReadyzReportsPerCheck(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.Checker{Name: "good", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "bad", Check: func(context.Context) error { return errors.New("backend down") }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	body := decode(t, rec)
	checks, _ := body["checks"].(map[string]any)
	if checks["good"] != "ok" {
		t.Errorf("good check = %v, want ok", checks["good"])
	}
	if checks["bad"] != "fail: backend down" {
		t.Errorf("bad check = %v", checks["bad"])
	}
}

func TestReadyzAllPassing(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "only", Check: func(context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestEndpointChecker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Any response counts as reachable, even an error status.
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	up := health.Endpoint("llm", srv.URL)
	if err := up.Check(context.Background()); err != nil {
		t.Errorf("reachable endpoint reported unhealthy: %v", err)
	}

	down := health.Endpoint("llm", "http://127.0.0.1:1")
	if err := down.Check(context.Background()); err == nil {
		t.Error("unreachable endpoint reported healthy")
	}
}

func TestWritableDirChecker(t *testing.T) {
	t.Parallel()

	ok := health.WritableDir("queue_dir", t.TempDir())
	if err := ok.Check(context.Background()); err != nil {
		t.Errorf("writable dir reported unhealthy: %v", err)
	}

	missing := health.WritableDir("queue_dir", "/does/not/exist")
	if err := missing.Check(context.Background()); err == nil {
		t.Error("missing dir reported healthy")
	}
}
