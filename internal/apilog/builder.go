package apilog

import (
	"encoding/json"
	"mime"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// PathType selects how the request URI is represented in a record.
type PathType string

const (
	PathAbsolute PathType = "ABSOLUTE"  // scheme://host/path?query
	PathFull     PathType = "FULL_PATH" // /path?query
	PathRaw      PathType = "RAW_URI"   // the URI exactly as sent by the client
)

// defaultContentTypes are the response content types eligible for capture.
var defaultContentTypes = []string{
	"application/json",
	"application/vnd.api+json",
	"application/gzip",
	"application/octet-stream",
	"text/calendar",
}

// Extra configured content types must be JSON-like vendor media types.
var vendorJSONPattern = regexp.MustCompile(`^application/vnd\..+\+json$`)

// Options configures the record builder. All fields are read-only after
// construction.
type Options struct {
	// PathType selects the request URI representation (default ABSOLUTE).
	PathType PathType

	// StaticPrefixes are path prefixes never logged (default /static/, /media/).
	StaticPrefixes []string

	// SkipRouteNames and SkipNamespaces exclude specific routes. The
	// "admin" namespace is always skipped.
	SkipRouteNames []string
	SkipNamespaces []string

	// Methods, when non-empty, is an allow-list of logged HTTP methods.
	Methods []string

	// StatusCodes, when non-empty, is an allow-list of logged response codes.
	StatusCodes []int

	// ContentTypes extends the default capturable content types. Only
	// application/vnd.*+json media types are accepted.
	ContentTypes []string

	// MaxRequestBodySize / MaxResponseBodySize cap captured body sizes in
	// bytes; -1 means unlimited. An oversized body is replaced with the
	// empty sentinel, never dropping the whole record.
	MaxRequestBodySize  int64
	MaxResponseBodySize int64

	// Tracing configuration. The resolved ID is attached only when
	// TracingEnabled is true. Resolution order: TracingHeader value,
	// TracingGenerator, random UUID.
	TracingEnabled   bool
	TracingHeader    string
	TracingGenerator func() string

	// UserResolver optionally attributes a record to an authenticated
	// user; it is host-specific and may be nil.
	UserResolver func(*http.Request) string
}

// Exchange is the raw material for one record: the request as received
// plus the captured response.
type Exchange struct {
	Request        *http.Request
	RequestBody    []byte
	RouteName      string
	RouteNamespace string

	StatusCode     int
	ResponseHeader http.Header
	ResponseBody   []byte
	Streaming      bool

	Duration    time.Duration
	CompletedAt time.Time
}

// Builder assembles normalized, redacted records from raw exchanges.
// It is a pure transformation over its inputs plus the tracing ID
// generator; it has no side effects and is safe for concurrent use.
type Builder struct {
	opts           Options
	keys           *KeySet
	contentTypes   map[string]struct{}
	skipRoutes     map[string]struct{}
	skipNamespaces map[string]struct{}
	methods        map[string]struct{}
	statusCodes    map[int]struct{}
	staticPrefixes []string
}

// NewBuilder creates a builder from options and a redaction key set.
func NewBuilder(opts Options, keys *KeySet) *Builder {
	if opts.PathType != PathAbsolute && opts.PathType != PathFull && opts.PathType != PathRaw {
		opts.PathType = PathAbsolute
	}
	if keys == nil {
		keys = NewKeySet()
	}

	contentTypes := make(map[string]struct{}, len(defaultContentTypes)+len(opts.ContentTypes))
	for _, ct := range defaultContentTypes {
		contentTypes[ct] = struct{}{}
	}
	for _, ct := range opts.ContentTypes {
		if vendorJSONPattern.MatchString(ct) {
			contentTypes[ct] = struct{}{}
		}
	}

	staticPrefixes := opts.StaticPrefixes
	if len(staticPrefixes) == 0 {
		staticPrefixes = []string{"/static/", "/media/"}
	}

	return &Builder{
		opts:           opts,
		keys:           keys,
		contentTypes:   contentTypes,
		skipRoutes:     toSet(opts.SkipRouteNames),
		skipNamespaces: toSet(opts.SkipNamespaces),
		methods:        toSet(opts.Methods),
		statusCodes:    toIntSet(opts.StatusCodes),
		staticPrefixes: staticPrefixes,
	}
}

// ShouldCapture applies the path-based eligibility filters that are known
// before the handler runs, letting the caller avoid body capture entirely
// for requests that can never produce a record.
func (b *Builder) ShouldCapture(path, routeName, namespace string) bool {
	for _, prefix := range b.staticPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	if namespace == "admin" {
		return false
	}
	if _, skip := b.skipRoutes[routeName]; skip {
		return false
	}
	if _, skip := b.skipNamespaces[namespace]; skip {
		return false
	}
	return true
}

// Build assembles a record from the exchange. It returns false when any
// eligibility filter decides the request should not be logged; a skip is
// not an error and has no side effects.
func (b *Builder) Build(ex *Exchange) (*Record, bool) {
	if ex == nil || ex.Request == nil {
		return nil, false
	}

	if !b.ShouldCapture(ex.Request.URL.Path, ex.RouteName, ex.RouteNamespace) {
		return nil, false
	}
	if len(b.methods) > 0 {
		if _, ok := b.methods[ex.Request.Method]; !ok {
			return nil, false
		}
	}
	if len(b.statusCodes) > 0 {
		if _, ok := b.statusCodes[ex.StatusCode]; !ok {
			return nil, false
		}
	}
	if ex.StatusCode < 100 || ex.StatusCode > 599 {
		return nil, false
	}

	contentType := baseContentType(ex.ResponseHeader.Get("Content-Type"))
	if _, ok := b.contentTypes[contentType]; !ok {
		return nil, false
	}

	uri, _ := Mask(b.requestURI(ex.Request), b.keys, true).(string)

	completed := ex.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	execution := ex.Duration.Seconds()
	if execution < 0 {
		execution = 0
	}

	rec := &Record{
		ID:            uuid.NewString(),
		API:           uri,
		Method:        ex.Request.Method,
		StatusCode:    ex.StatusCode,
		Headers:       MaskHeaders(flattenHeaders(ex.Request.Header), b.keys),
		Body:          b.captureBody(ex.RequestBody, b.opts.MaxRequestBodySize),
		Response:      b.captureResponse(ex, contentType),
		ClientIP:      clientIP(ex.Request),
		ExecutionTime: execution,
		AddedOn:       completed,
	}

	if b.opts.UserResolver != nil {
		rec.Username = b.opts.UserResolver(ex.Request)
	}
	if b.opts.TracingEnabled {
		rec.TracingID = b.resolveTracingID(ex.Request)
	}

	return rec, true
}

// captureBody parses raw JSON bytes into a redacted structured value.
// Oversized or malformed bodies degrade to the empty sentinel.
func (b *Builder) captureBody(raw []byte, maxSize int64) any {
	if len(raw) == 0 {
		return ""
	}
	if maxSize > -1 && int64(len(raw)) > maxSize {
		return ""
	}
	if !gjson.ValidBytes(raw) {
		return ""
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ""
	}
	return Mask(parsed, b.keys, false)
}

// captureResponse produces the response body value: a fixed placeholder
// for binary/streaming/calendar content, otherwise the parsed JSON body.
func (b *Builder) captureResponse(ex *Exchange, contentType string) any {
	switch {
	case contentType == "application/gzip":
		return PlaceholderGzip
	case contentType == "application/octet-stream":
		return PlaceholderBinary
	case ex.Streaming:
		return PlaceholderStreaming
	case contentType == "text/calendar":
		return PlaceholderCalendar
	}
	return b.captureBody(ex.ResponseBody, b.opts.MaxResponseBodySize)
}

// resolveTracingID resolves the tracing identifier: configured header,
// configured generator, then a fresh random UUID.
func (b *Builder) resolveTracingID(req *http.Request) string {
	if b.opts.TracingHeader != "" {
		if id := req.Header.Get(b.opts.TracingHeader); id != "" {
			return id
		}
	}
	if b.opts.TracingGenerator != nil {
		if id := b.opts.TracingGenerator(); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// requestURI renders the request URI per the configured path type.
func (b *Builder) requestURI(req *http.Request) string {
	switch b.opts.PathType {
	case PathFull:
		return req.URL.RequestURI()
	case PathRaw:
		if req.RequestURI != "" {
			return req.RequestURI
		}
		return req.URL.RequestURI()
	default:
		scheme := "http"
		if req.TLS != nil {
			scheme = "https"
		}
		return scheme + "://" + req.Host + req.URL.RequestURI()
	}
}

// clientIP resolves the client address from X-Forwarded-For (first value
// when behind a proxy) falling back to the direct peer address.
func clientIP(req *http.Request) string {
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// flattenHeaders takes the first value for each header key.
func flattenHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return result
}

// baseContentType strips media type parameters like charset.
func baseContentType(value string) string {
	if value == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(value, ";")[0]))
	}
	return mediaType
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func toIntSet(values []int) map[int]struct{} {
	set := make(map[int]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
