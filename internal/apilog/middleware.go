package apilog

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/labstack/echo/v4"
)

// maxBodyCapture bounds how much of a request or response body the
// middleware buffers, independent of the configured capture limits.
const maxBodyCapture = 10 * 1024 * 1024 // 10MB

// Middleware creates an Echo middleware that captures each exchange,
// builds a record from it, and submits the record to the pipeline.
// Requests that fail the pre-handler eligibility filters skip body
// capture entirely.
func Middleware(pipeline Service, builder *Builder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if pipeline == nil || builder == nil || !pipeline.Enabled() {
				return next(c)
			}

			req := c.Request()
			routeName := c.Path()
			namespace := routeNamespace(req.URL.Path)

			if !builder.ShouldCapture(req.URL.Path, routeName, namespace) {
				return next(c)
			}

			start := time.Now()

			// Capture and restore the request body so the handler still
			// sees it
			var requestBody []byte
			if req.Body != nil && req.ContentLength != 0 && req.ContentLength <= maxBodyCapture {
				if bodyBytes, err := io.ReadAll(io.LimitReader(req.Body, maxBodyCapture)); err == nil {
					requestBody = bodyBytes
					req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
				}
			}

			capture := &responseBodyCapture{
				ResponseWriter: c.Response().Writer,
				body:           &bytes.Buffer{},
			}
			c.Response().Writer = capture

			err := next(c)

			responseBody := capture.body.Bytes()
			if encoding := c.Response().Header().Get("Content-Encoding"); encoding != "" {
				if decompressed, ok := decompressBody(responseBody, encoding); ok {
					responseBody = decompressed
				}
			}

			ex := &Exchange{
				Request:        req,
				RequestBody:    requestBody,
				RouteName:      routeName,
				RouteNamespace: namespace,
				StatusCode:     c.Response().Status,
				ResponseHeader: c.Response().Header(),
				ResponseBody:   responseBody,
				Streaming:      capture.flushed,
				Duration:       time.Since(start),
				CompletedAt:    time.Now(),
			}

			if rec, ok := builder.Build(ex); ok {
				pipeline.Submit(rec)
			}

			return err
		}
	}
}

// routeNamespace derives the first path segment as a logical grouping
// of routes, e.g. /admin/users belongs to the "admin" namespace.
func routeNamespace(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

// responseBodyCapture wraps http.ResponseWriter to buffer the response
// body. It implements http.Flusher and http.Hijacker by delegating to
// the underlying ResponseWriter if it supports those interfaces.
type responseBodyCapture struct {
	http.ResponseWriter
	body      *bytes.Buffer
	truncated bool
	flushed   bool
}

func (r *responseBodyCapture) Write(b []byte) (int, error) {
	if r.body.Len() < maxBodyCapture {
		r.body.Write(b)
		if r.body.Len() >= maxBodyCapture {
			r.truncated = true
		}
	}
	return r.ResponseWriter.Write(b)
}

// Flush implements http.Flusher. An explicit flush marks the response
// as streaming; streamed bodies are replaced with a placeholder rather
// than logged.
func (r *responseBodyCapture) Flush() {
	r.flushed = true
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker for WebSocket upgrades.
func (r *responseBodyCapture) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// decompressBody attempts to decompress a response body based on its
// Content-Encoding. Returns the original body unchanged when no
// decompression applies or when it fails. Supports gzip, deflate, and
// brotli.
func decompressBody(body []byte, contentEncoding string) ([]byte, bool) {
	if len(body) == 0 || contentEncoding == "" {
		return body, false
	}

	encoding := strings.ToLower(strings.TrimSpace(strings.Split(contentEncoding, ",")[0]))
	if encoding == "identity" || encoding == "" {
		return body, false
	}

	const maxDecompressedSize = 2 * 1024 * 1024

	var reader io.ReadCloser
	var err error

	switch encoding {
	case "gzip":
		reader, err = gzip.NewReader(bytes.NewReader(body))
	case "deflate":
		reader = flate.NewReader(bytes.NewReader(body))
	case "br":
		reader = io.NopCloser(brotli.NewReader(bytes.NewReader(body)))
	default:
		return body, false
	}

	if err != nil {
		return body, false
	}
	defer reader.Close()

	// Size limit guards against compression bombs
	decompressed, err := io.ReadAll(io.LimitReader(reader, maxDecompressedSize))
	if err != nil {
		return body, false
	}

	return decompressed, true
}
