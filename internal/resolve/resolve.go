// Package resolve implements path-template resolution and cache-key
// derivation for the binding layer. Everything here is a pure function of
// the parameter values passed in; reactivity lives in the callers.
package resolve

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/opquery-io/opquery/pkg/opquery"
)

// PlaceholderNames extracts the {name} placeholders of a template, in
// template order.
func PlaceholderNames(template string) []string {
	var names []string

	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			return names
		}

		close := strings.Index(rest[open:], "}")
		if close < 0 {
			return names
		}

		names = append(names, rest[open+1:open+close])
		rest = rest[open+close+1:]
	}
}

// Path substitutes params into template. Placeholders without a defined,
// non-nil value keep their literal {name} token; FullyResolved is true
// only when none remain. A nil parameter set means "no parameters
// provided".
func Path(template string, params opquery.Params) opquery.ResolvedPath {
	resolved := opquery.ResolvedPath{
		URL:           template,
		FullyResolved: true,
		Values:        make(map[string]string),
	}

	names := PlaceholderNames(template)
	if len(names) == 0 {
		return resolved
	}

	substituted := template

	for _, name := range names {
		value, ok := Stringify(params[name])
		if !ok {
			resolved.FullyResolved = false
			resolved.Missing = append(resolved.Missing, name)

			continue
		}

		resolved.Values[name] = value
		substituted = strings.ReplaceAll(substituted, "{"+name+"}", url.PathEscape(value))
	}

	resolved.URL = substituted

	return resolved
}

// Key derives the hierarchical cache key for template: literal segments
// verbatim in template order, placeholder segments replaced by their
// resolved values, and query parameters (when present) appended as one
// final canonical segment sorted by parameter name.
//
// Unresolved placeholders keep their {name} token, so equal resolved
// parameter sets always yield component-wise equal keys.
func Key(template string, values map[string]string, query url.Values) opquery.CacheKey {
	key := segmentKey(template, values, false)

	if len(query) > 0 {
		// url.Values.Encode sorts by key, which keeps the segment
		// independent of call-site property order.
		key = append(key, query.Encode())
	}

	return key
}

// PrefixKey derives the longest key prefix whose segments are fully
// determined by values: derivation stops at the first segment containing
// an unresolved placeholder. Used to scope invalidation.
func PrefixKey(template string, values map[string]string) opquery.CacheKey {
	return segmentKey(template, values, true)
}

// TemplateKey derives the full-length match pattern for template: literal
// segments verbatim, resolved placeholder segments substituted, and
// segments with unresolved placeholders replaced by opquery.KeyWildcard.
// Unlike PrefixKey it keeps the template's shape, so the pattern selects
// one operation's entries and not everything sharing its leading
// segments.
func TemplateKey(template string, values map[string]string) opquery.CacheKey {
	key := make(opquery.CacheKey, 0, 8)

	for segment := range strings.SplitSeq(template, "/") {
		if segment == "" {
			continue
		}

		substituted, complete := substituteSegment(segment, values)
		if !complete {
			key = append(key, opquery.KeyWildcard)

			continue
		}

		key = append(key, substituted)
	}

	return key
}

func segmentKey(template string, values map[string]string, stopAtMissing bool) opquery.CacheKey {
	key := make(opquery.CacheKey, 0, 8)

	for segment := range strings.SplitSeq(template, "/") {
		if segment == "" {
			continue
		}

		substituted, complete := substituteSegment(segment, values)
		if !complete && stopAtMissing {
			return key
		}

		key = append(key, substituted)
	}

	return key
}

// substituteSegment replaces every placeholder inside one path segment.
// complete is false when any placeholder had no resolved value.
func substituteSegment(segment string, values map[string]string) (string, bool) {
	if !strings.Contains(segment, "{") {
		return segment, true
	}

	complete := true

	for _, name := range PlaceholderNames(segment) {
		value, ok := values[name]
		if !ok {
			complete = false

			continue
		}

		segment = strings.ReplaceAll(segment, "{"+name+"}", value)
	}

	return segment, complete
}

// StringValues stringifies a parameter set, dropping nil values.
func StringValues(params opquery.Params) map[string]string {
	values := make(map[string]string, len(params))

	for name, raw := range params {
		if value, ok := Stringify(raw); ok {
			values[name] = value
		}
	}

	return values
}

// QueryValues flattens a parameter set into url.Values. Slice values
// produce repeated keys; nil values are dropped.
func QueryValues(params opquery.Params) url.Values {
	if len(params) == 0 {
		return nil
	}

	values := url.Values{}

	for name, raw := range params {
		switch v := raw.(type) {
		case nil:
		case []string:
			for _, item := range v {
				values.Add(name, item)
			}
		case []any:
			for _, item := range v {
				if s, ok := Stringify(item); ok {
					values.Add(name, s)
				}
			}
		default:
			if s, ok := Stringify(raw); ok {
				values.Add(name, s)
			}
		}
	}

	return values
}

// Stringify converts a parameter value to its path/key representation.
// ok is false for nil values, which count as "not provided".
func Stringify(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case opquery.OperationID:
		return string(v), true
	default:
		type stringer interface{ String() string }
		if s, ok := value.(stringer); ok {
			return s.String(), true
		}

		return "", false
	}
}
