package opquery

import "strings"

// CacheKey is an ordered sequence of segments identifying one cached
// result: the literal resource segments of a path template in template
// order, followed by resolved parameter values in placeholder order, with
// query parameters (when present) appended as a final canonical segment.
//
// Two resolutions of the same operation with equal parameter values always
// yield component-wise equal keys.
type CacheKey []string

// String joins the segments with "/" for use as a storage key.
func (k CacheKey) String() string {
	return strings.Join(k, "/")
}

// Equal reports component-wise equality.
func (k CacheKey) Equal(other CacheKey) bool {
	if len(k) != len(other) {
		return false
	}

	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}

	return true
}

// HasPrefix reports whether the key starts with every segment of prefix.
// An empty prefix matches every key.
func (k CacheKey) HasPrefix(prefix CacheKey) bool {
	if len(prefix) > len(k) {
		return false
	}

	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}

	return true
}

// KeyWildcard matches any single key segment when it appears in a match
// pattern.
const KeyWildcard = "*"

// Matches reports whether the key falls under pattern. Pattern segments
// equal to KeyWildcard match any one key segment. A pattern without
// wildcards matches by prefix, like HasPrefix. A pattern containing
// wildcards is a full template skeleton for one operation: it matches
// keys of the pattern's own length, plus one optional trailing query
// segment, and never the longer keys of operations nested below it.
func (k CacheKey) Matches(pattern CacheKey) bool {
	if len(pattern) > len(k) {
		return false
	}

	wildcard := false

	for i := range pattern {
		if pattern[i] == KeyWildcard {
			wildcard = true

			continue
		}

		if k[i] != pattern[i] {
			return false
		}
	}

	if !wildcard {
		return true
	}

	switch len(k) - len(pattern) {
	case 0:
		return true
	case 1:
		return isQuerySegment(k[len(k)-1])
	default:
		return false
	}
}

// isQuerySegment reports whether a trailing segment is a canonical query
// segment rather than a path value. Query segments come from
// url.Values.Encode and always carry '='.
func isQuerySegment(segment string) bool {
	return strings.Contains(segment, "=")
}

// Clone returns an independent copy of the key.
func (k CacheKey) Clone() CacheKey {
	if k == nil {
		return nil
	}

	copied := make(CacheKey, len(k))
	copy(copied, k)

	return copied
}

// ResolvedPath is the result of substituting a parameter set into a path
// template. URL keeps unresolved {name} tokens in place; FullyResolved is
// true only when none remain.
type ResolvedPath struct {
	// URL is the template with every known placeholder substituted.
	URL string

	// FullyResolved is true iff no {name} tokens remain in URL.
	FullyResolved bool

	// Values maps placeholder names to their substituted string values,
	// in no particular order. Missing placeholders are absent.
	Values map[string]string

	// Missing lists placeholder names that had no defined value, in
	// template order.
	Missing []string
}
