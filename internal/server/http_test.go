package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"apilogger/internal/apilog"
)

// captureService collects records submitted by the middleware.
type captureService struct {
	records []*apilog.Record
}

func (s *captureService) Submit(r *apilog.Record)       { s.records = append(s.records, r) }
func (s *captureService) Subscribe(apilog.Subscriber)   {}
func (s *captureService) Unsubscribe(apilog.Subscriber) {}
func (s *captureService) Enabled() bool                 { return true }
func (s *captureService) Close() error                  { return nil }

func newTestServer(svc apilog.Service) *Server {
	var builder *apilog.Builder
	if svc != nil {
		builder = apilog.NewBuilder(apilog.Options{
			MaxRequestBodySize:  -1,
			MaxResponseBodySize: -1,
		}, nil)
	}
	return New(&Config{
		MetricsEnabled:  true,
		MetricsEndpoint: "/metrics",
		Pipeline:        svc,
		Builder:         builder,
	})
}

func TestHealth(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestEcho_RoundTripAndCapture(t *testing.T) {
	svc := &captureService{}
	srv := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"a":1`) {
		t.Errorf("body = %q", rec.Body.String())
	}
	if len(svc.records) != 1 {
		t.Fatalf("captured %d records, want 1", len(svc.records))
	}
	if svc.records[0].Method != http.MethodPost {
		t.Errorf("captured method = %q", svc.records[0].Method)
	}
}

func TestLogin_PasswordRedactedInCapture(t *testing.T) {
	svc := &captureService{}
	srv := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"alice","password":"hunter2"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(svc.records) != 1 {
		t.Fatalf("captured %d records, want 1", len(svc.records))
	}

	body, ok := svc.records[0].Body.(map[string]any)
	if !ok {
		t.Fatalf("captured body = %#v", svc.records[0].Body)
	}
	if body["password"] == "hunter2" {
		t.Error("password leaked into the captured record")
	}
	if body["username"] != "alice" {
		t.Errorf("username = %v", body["username"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output missing standard collectors")
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"","password":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
