package apilog

import (
	"regexp"
	"strings"
)

// MaskToken replaces sensitive values in captured payloads.
const MaskToken = "***FILTERED***"

// maskMaxDepth bounds recursion over nested payloads. Anything nested
// deeper is treated as unredactable and replaced with the mask token
// rather than risking a stack overflow on hostile input.
const maskMaxDepth = 64

// defaultSensitiveKeys are always part of a KeySet.
var defaultSensitiveKeys = []string{"password", "token", "access", "refresh"}

// KeySet is an immutable set of case-sensitive key names whose values are
// masked in payloads and query strings. Build it once at startup.
type KeySet struct {
	names map[string]struct{}
	query *regexp.Regexp
}

// NewKeySet creates a KeySet containing the default sensitive keys plus
// any extra keys from configuration.
func NewKeySet(extra ...string) *KeySet {
	names := make(map[string]struct{}, len(defaultSensitiveKeys)+len(extra))
	for _, k := range defaultSensitiveKeys {
		names[k] = struct{}{}
	}
	for _, k := range extra {
		if k != "" {
			names[k] = struct{}{}
		}
	}

	quoted := make([]string, 0, len(names))
	for k := range names {
		quoted = append(quoted, regexp.QuoteMeta(k))
	}
	// Matches key=value with the value delimited by & or end of string.
	query := regexp.MustCompile(`(` + strings.Join(quoted, "|") + `)=([^&]*)`)

	return &KeySet{names: names, query: query}
}

// Contains reports whether name is in the set. Matching is case-sensitive.
func (s *KeySet) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of keys in the set.
func (s *KeySet) Len() int {
	return len(s.names)
}

// Mask returns a copy of value with every entry whose key is in keys
// replaced by the mask token. Maps and slices are redacted recursively
// with order preserved; strings have their query parameters masked only
// when maskQueryParams is true; any other type is returned unchanged.
// The input is never modified.
func Mask(value any, keys *KeySet, maskQueryParams bool) any {
	return maskValue(value, keys, maskQueryParams, 0)
}

func maskValue(value any, keys *KeySet, maskQueryParams bool, depth int) any {
	if depth > maskMaxDepth {
		return MaskToken
	}

	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			if keys.Contains(k) {
				out[k] = MaskToken
			} else {
				out[k] = maskValue(item, keys, maskQueryParams, depth+1)
			}
		}
		return out

	case map[string]string:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if keys.Contains(k) {
				out[k] = MaskToken
			} else {
				out[k] = item
			}
		}
		return out

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = maskValue(item, keys, maskQueryParams, depth+1)
		}
		return out

	case string:
		if maskQueryParams {
			return keys.query.ReplaceAllString(v, "${1}="+MaskToken)
		}
		return v

	default:
		return value
	}
}

// MaskHeaders redacts sensitive request headers. The original map is not
// modified; a new map is returned.
func MaskHeaders(headers map[string]string, keys *KeySet) map[string]string {
	if headers == nil {
		return nil
	}
	masked, _ := Mask(headers, keys, false).(map[string]string)
	return masked
}
