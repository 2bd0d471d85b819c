// Package apilog provides asynchronous request/response log aggregation.
// It captures one record per completed API request, redacts sensitive
// fields, and delivers records either to a durable batch-insert sink or
// to synchronous in-process subscribers.
package apilog

import (
	"context"
	"time"
)

// Record is one normalized, redacted representation of a completed
// request/response pair. Records are immutable once built; ownership
// transfers from the producing request handler to the flusher (or to
// subscribers) and is never shared concurrently.
type Record struct {
	// ID is a unique identifier for this record (UUID)
	ID string `json:"id" bson:"_id"`

	// API is the captured request URI with query parameters redacted
	API string `json:"api" bson:"api"`

	Method     string `json:"method" bson:"method"`
	StatusCode int    `json:"status_code" bson:"status_code"`

	// Headers holds redacted request headers, first value per key
	Headers map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`

	// Body and Response hold the redacted request/response payloads as
	// parsed JSON values. They are the empty string when the payload was
	// not eligible for capture, failed to parse, or exceeded a size cap.
	// Stored as any so MongoDB serializes them as native BSON documents.
	Body     any `json:"body,omitempty" bson:"body,omitempty"`
	Response any `json:"response,omitempty" bson:"response,omitempty"`

	ClientIP string `json:"client_ip_address,omitempty" bson:"client_ip_address,omitempty"`
	Username string `json:"username,omitempty" bson:"username,omitempty"`

	// ExecutionTime is the server-side handler duration in seconds
	ExecutionTime float64 `json:"execution_time" bson:"execution_time"`

	// AddedOn is when the request completed
	AddedOn time.Time `json:"added_on" bson:"added_on"`

	// TracingID is set only when tracing is enabled in configuration
	TracingID string `json:"tracing_id,omitempty" bson:"tracing_id,omitempty"`
}

// Sink is a durable, bulk-insert-capable target for batches of records.
// Implementations must be safe for concurrent use and must report a
// missing/unprovisioned target by wrapping ErrSinkUnavailable so the
// flusher can distinguish it from transient write failures.
type Sink interface {
	// WriteBatch inserts an ordered batch of records into the target.
	WriteBatch(ctx context.Context, batch []*Record) error

	// Ping verifies the target is reachable and provisioned.
	Ping(ctx context.Context) error

	// Close releases resources held by the sink.
	Close() error
}

// Placeholder bodies for content types that are never decoded.
const (
	PlaceholderBinary    = "** Binary File **"
	PlaceholderStreaming = "** Streaming **"
	PlaceholderGzip      = "** GZIP Archive **"
	PlaceholderCalendar  = "** Calendar **"
)
