package apilog

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func jsonExchange(method, target, body string) *Exchange {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	return &Exchange{
		Request:        req,
		RequestBody:    []byte(body),
		StatusCode:     http.StatusOK,
		ResponseHeader: header,
		ResponseBody:   []byte(`{"ok":true}`),
		Duration:       25 * time.Millisecond,
		CompletedAt:    time.Now(),
	}
}

func TestBuilder_BuildBasicRecord(t *testing.T) {
	b := NewBuilder(Options{MaxRequestBodySize: -1, MaxResponseBodySize: -1}, nil)

	ex := jsonExchange(http.MethodPost, "http://example.com/api/items?page=2", `{"name":"widget"}`)
	rec, ok := b.Build(ex)
	if !ok {
		t.Fatal("Build should produce a record")
	}

	if rec.ID == "" {
		t.Error("record should have a generated ID")
	}
	if rec.API != "http://example.com/api/items?page=2" {
		t.Errorf("API = %q", rec.API)
	}
	if rec.Method != http.MethodPost {
		t.Errorf("Method = %q", rec.Method)
	}
	if rec.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", rec.StatusCode)
	}
	if rec.ExecutionTime != 0.025 {
		t.Errorf("ExecutionTime = %v, want 0.025", rec.ExecutionTime)
	}
	body, ok := rec.Body.(map[string]any)
	if !ok || body["name"] != "widget" {
		t.Errorf("Body = %#v", rec.Body)
	}
	if rec.TracingID != "" {
		t.Error("tracing disabled, TracingID should be empty")
	}
}

func TestBuilder_PathTypes(t *testing.T) {
	tests := []struct {
		pathType PathType
		want     string
	}{
		{PathAbsolute, "http://example.com/api/items?page=2"},
		{PathFull, "/api/items?page=2"},
		{PathRaw, "/api/items?page=2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.pathType), func(t *testing.T) {
			b := NewBuilder(Options{PathType: tt.pathType, MaxRequestBodySize: -1, MaxResponseBodySize: -1}, nil)
			rec, ok := b.Build(jsonExchange(http.MethodGet, "http://example.com/api/items?page=2", ""))
			if !ok {
				t.Fatal("Build should produce a record")
			}
			if rec.API != tt.want {
				t.Errorf("API = %q, want %q", rec.API, tt.want)
			}
		})
	}
}

func TestBuilder_QueryParamsMaskedInURI(t *testing.T) {
	b := NewBuilder(Options{PathType: PathFull, MaxRequestBodySize: -1, MaxResponseBodySize: -1}, nil)

	rec, ok := b.Build(jsonExchange(http.MethodGet, "http://example.com/login?password=hunter2&next=home", ""))
	if !ok {
		t.Fatal("Build should produce a record")
	}
	want := "/login?password=" + MaskToken + "&next=home"
	if rec.API != want {
		t.Errorf("API = %q, want %q", rec.API, want)
	}
}

func TestBuilder_EligibilityFilters(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		ex   func() *Exchange
	}{
		{
			name: "static prefix",
			opts: Options{},
			ex: func() *Exchange {
				return jsonExchange(http.MethodGet, "http://example.com/static/app.js", "")
			},
		},
		{
			name: "media prefix",
			opts: Options{},
			ex: func() *Exchange {
				return jsonExchange(http.MethodGet, "http://example.com/media/pic.png", "")
			},
		},
		{
			name: "admin namespace",
			opts: Options{},
			ex: func() *Exchange {
				e := jsonExchange(http.MethodGet, "http://example.com/admin/users", "")
				e.RouteNamespace = "admin"
				return e
			},
		},
		{
			name: "skip route name",
			opts: Options{SkipRouteNames: []string{"healthz"}},
			ex: func() *Exchange {
				e := jsonExchange(http.MethodGet, "http://example.com/healthz", "")
				e.RouteName = "healthz"
				return e
			},
		},
		{
			name: "skip namespace",
			opts: Options{SkipNamespaces: []string{"internal"}},
			ex: func() *Exchange {
				e := jsonExchange(http.MethodGet, "http://example.com/internal/debug", "")
				e.RouteNamespace = "internal"
				return e
			},
		},
		{
			name: "method not in allow-list",
			opts: Options{Methods: []string{http.MethodPost}},
			ex: func() *Exchange {
				return jsonExchange(http.MethodGet, "http://example.com/api/items", "")
			},
		},
		{
			name: "status not in allow-list",
			opts: Options{StatusCodes: []int{500}},
			ex: func() *Exchange {
				return jsonExchange(http.MethodGet, "http://example.com/api/items", "")
			},
		},
		{
			name: "content type not capturable",
			opts: Options{},
			ex: func() *Exchange {
				e := jsonExchange(http.MethodGet, "http://example.com/api/page", "")
				e.ResponseHeader.Set("Content-Type", "text/html")
				return e
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.MaxRequestBodySize = -1
			tt.opts.MaxResponseBodySize = -1
			b := NewBuilder(tt.opts, nil)
			if _, ok := b.Build(tt.ex()); ok {
				t.Error("Build should skip this exchange")
			}
		})
	}
}

func TestBuilder_MethodAllowListMatch(t *testing.T) {
	b := NewBuilder(Options{Methods: []string{http.MethodPost}, MaxRequestBodySize: -1, MaxResponseBodySize: -1}, nil)
	if _, ok := b.Build(jsonExchange(http.MethodPost, "http://example.com/api/items", `{}`)); !ok {
		t.Error("allowed method should be captured")
	}
}

func TestBuilder_VendorContentTypes(t *testing.T) {
	b := NewBuilder(Options{
		ContentTypes:        []string{"application/vnd.custom+json", "text/html"},
		MaxRequestBodySize:  -1,
		MaxResponseBodySize: -1,
	}, nil)

	// Vendor JSON type is accepted
	e := jsonExchange(http.MethodGet, "http://example.com/api/items", "")
	e.ResponseHeader.Set("Content-Type", "application/vnd.custom+json")
	if _, ok := b.Build(e); !ok {
		t.Error("configured vendor JSON type should be captured")
	}

	// Non-vendor extra type is rejected by construction
	e = jsonExchange(http.MethodGet, "http://example.com/api/items", "")
	e.ResponseHeader.Set("Content-Type", "text/html")
	if _, ok := b.Build(e); ok {
		t.Error("text/html should never be capturable")
	}
}

func TestBuilder_ContentTypeParameters(t *testing.T) {
	b := NewBuilder(Options{MaxRequestBodySize: -1, MaxResponseBodySize: -1}, nil)

	e := jsonExchange(http.MethodGet, "http://example.com/api/items", "")
	e.ResponseHeader.Set("Content-Type", "application/json; charset=utf-8")
	if _, ok := b.Build(e); !ok {
		t.Error("content type parameters should be ignored when matching")
	}
}

func TestBuilder_BodyCapture(t *testing.T) {
	b := NewBuilder(Options{MaxRequestBodySize: -1, MaxResponseBodySize: -1}, nil)

	tests := []struct {
		name string
		body string
		want any
	}{
		{"empty body", "", ""},
		{"malformed JSON", "{not json", ""},
		{"valid JSON", `{"a":1}`, map[string]any{"a": float64(1)}},
		{"sensitive keys masked", `{"password":"x"}`, map[string]any{"password": MaskToken}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := b.Build(jsonExchange(http.MethodPost, "http://example.com/api/items", tt.body))
			if !ok {
				t.Fatal("Build should produce a record")
			}
			if !reflect.DeepEqual(rec.Body, tt.want) {
				t.Errorf("Body = %#v, want %#v", rec.Body, tt.want)
			}
		})
	}
}

func TestBuilder_BodySizeLimit(t *testing.T) {
	b := NewBuilder(Options{MaxRequestBodySize: 10, MaxResponseBodySize: -1}, nil)

	rec, ok := b.Build(jsonExchange(http.MethodPost, "http://example.com/api/items", `{"key":"a long value over the limit"}`))
	if !ok {
		t.Fatal("oversized body should not drop the record")
	}
	if rec.Body != "" {
		t.Errorf("oversized body should degrade to empty sentinel, got %#v", rec.Body)
	}
}

func TestBuilder_ResponsePlaceholders(t *testing.T) {
	b := NewBuilder(Options{MaxRequestBodySize: -1, MaxResponseBodySize: -1}, nil)

	tests := []struct {
		name        string
		contentType string
		streaming   bool
		want        string
	}{
		{"gzip archive", "application/gzip", false, PlaceholderGzip},
		{"binary file", "application/octet-stream", false, PlaceholderBinary},
		{"streaming json", "application/json", true, PlaceholderStreaming},
		{"calendar", "text/calendar", false, PlaceholderCalendar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := jsonExchange(http.MethodGet, "http://example.com/api/items", "")
			e.ResponseHeader.Set("Content-Type", tt.contentType)
			e.Streaming = tt.streaming
			rec, ok := b.Build(e)
			if !ok {
				t.Fatal("Build should produce a record")
			}
			if rec.Response != tt.want {
				t.Errorf("Response = %#v, want %q", rec.Response, tt.want)
			}
		})
	}
}

func TestBuilder_Tracing(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		b := NewBuilder(Options{MaxRequestBodySize: -1, MaxResponseBodySize: -1}, nil)
		rec, _ := b.Build(jsonExchange(http.MethodGet, "http://example.com/api/items", ""))
		if rec.TracingID != "" {
			t.Errorf("TracingID = %q, want empty", rec.TracingID)
		}
	})

	t.Run("header wins", func(t *testing.T) {
		b := NewBuilder(Options{
			TracingEnabled:      true,
			TracingHeader:       "X-Trace-ID",
			TracingGenerator:    func() string { return "generated" },
			MaxRequestBodySize:  -1,
			MaxResponseBodySize: -1,
		}, nil)
		e := jsonExchange(http.MethodGet, "http://example.com/api/items", "")
		e.Request.Header.Set("X-Trace-ID", "from-header")
		rec, _ := b.Build(e)
		if rec.TracingID != "from-header" {
			t.Errorf("TracingID = %q, want from-header", rec.TracingID)
		}
	})

	t.Run("generator fallback", func(t *testing.T) {
		b := NewBuilder(Options{
			TracingEnabled:      true,
			TracingHeader:       "X-Trace-ID",
			TracingGenerator:    func() string { return "generated" },
			MaxRequestBodySize:  -1,
			MaxResponseBodySize: -1,
		}, nil)
		rec, _ := b.Build(jsonExchange(http.MethodGet, "http://example.com/api/items", ""))
		if rec.TracingID != "generated" {
			t.Errorf("TracingID = %q, want generated", rec.TracingID)
		}
	})

	t.Run("random fallback", func(t *testing.T) {
		b := NewBuilder(Options{TracingEnabled: true, MaxRequestBodySize: -1, MaxResponseBodySize: -1}, nil)
		rec, _ := b.Build(jsonExchange(http.MethodGet, "http://example.com/api/items", ""))
		if rec.TracingID == "" {
			t.Error("TracingID should be generated when tracing is enabled")
		}
	})
}

func TestBuilder_ClientIP(t *testing.T) {
	b := NewBuilder(Options{MaxRequestBodySize: -1, MaxResponseBodySize: -1}, nil)

	t.Run("forwarded for", func(t *testing.T) {
		e := jsonExchange(http.MethodGet, "http://example.com/api/items", "")
		e.Request.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec, _ := b.Build(e)
		if rec.ClientIP != "203.0.113.7" {
			t.Errorf("ClientIP = %q, want 203.0.113.7", rec.ClientIP)
		}
	})

	t.Run("remote addr", func(t *testing.T) {
		e := jsonExchange(http.MethodGet, "http://example.com/api/items", "")
		e.Request.RemoteAddr = "192.0.2.4:51234"
		rec, _ := b.Build(e)
		if rec.ClientIP != "192.0.2.4" {
			t.Errorf("ClientIP = %q, want 192.0.2.4", rec.ClientIP)
		}
	})
}

func TestBuilder_UserResolver(t *testing.T) {
	b := NewBuilder(Options{
		UserResolver:        func(r *http.Request) string { return r.Header.Get("X-User") },
		MaxRequestBodySize:  -1,
		MaxResponseBodySize: -1,
	}, nil)

	e := jsonExchange(http.MethodGet, "http://example.com/api/items", "")
	e.Request.Header.Set("X-User", "alice")
	rec, _ := b.Build(e)
	if rec.Username != "alice" {
		t.Errorf("Username = %q, want alice", rec.Username)
	}
}

func TestBuilder_HeadersMasked(t *testing.T) {
	b := NewBuilder(Options{MaxRequestBodySize: -1, MaxResponseBodySize: -1},
		NewKeySet("Authorization"))

	e := jsonExchange(http.MethodGet, "http://example.com/api/items", "")
	e.Request.Header.Set("Authorization", "Bearer secret")
	rec, _ := b.Build(e)
	if rec.Headers["Authorization"] != MaskToken {
		t.Errorf("Authorization header = %q, want masked", rec.Headers["Authorization"])
	}
}

func TestBuilder_InvalidStatusCode(t *testing.T) {
	b := NewBuilder(Options{MaxRequestBodySize: -1, MaxResponseBodySize: -1}, nil)

	for _, code := range []int{0, 99, 600} {
		e := jsonExchange(http.MethodGet, "http://example.com/api/items", "")
		e.StatusCode = code
		if _, ok := b.Build(e); ok {
			t.Errorf("status %d should be skipped", code)
		}
	}
}
