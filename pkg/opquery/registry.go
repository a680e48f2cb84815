package opquery

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// OperationID is an opaque key into the operation registry. IDs are unique
// per operation and stable for the lifetime of the registry.
type OperationID string

// OperationInfo describes one named HTTP operation: its method, its URL
// path template with {name} placeholders, and optional enum metadata for
// parameters, carried through from the schema the registry was built from.
type OperationInfo struct {
	Method string              `json:"method"          yaml:"method"`
	Path   string              `json:"path"            yaml:"path"`
	Enums  map[string][]string `json:"enums,omitempty" yaml:"enums,omitempty"`
}

// Registry is a read-only mapping from operation ID to OperationInfo,
// shared by every endpoint created from one configuration.
type Registry struct {
	ops map[OperationID]OperationInfo
}

// NewRegistry validates the given operation map and returns a Registry.
// Every method must be one of GET, POST, PUT, PATCH, DELETE and every path
// must be a well-formed template: leading slash, balanced braces, non-empty
// placeholder names.
func NewRegistry(ops map[OperationID]OperationInfo) (*Registry, error) {
	if len(ops) == 0 {
		return nil, ErrEmptyRegistry
	}

	copied := make(map[OperationID]OperationInfo, len(ops))

	for id, info := range ops {
		if id == "" {
			return nil, ErrEmptyOperationID
		}

		if !isSupportedMethod(info.Method) {
			return nil, fmt.Errorf("%w: operation %q uses %q", ErrUnsupportedMethod, id, info.Method)
		}

		if err := validateTemplate(info.Path); err != nil {
			return nil, fmt.Errorf("operation %q: %w", id, err)
		}

		copied[id] = info
	}

	return &Registry{ops: copied}, nil
}

// Lookup returns the OperationInfo for the given ID.
func (r *Registry) Lookup(id OperationID) (OperationInfo, bool) {
	info, ok := r.ops[id]

	return info, ok
}

// OperationIDs returns all registered operation IDs, sorted.
func (r *Registry) OperationIDs() []OperationID {
	ids := make([]OperationID, 0, len(r.ops))
	for id := range r.ops {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	return len(r.ops)
}

// IsQueryOperation reports whether the operation resolves to a query
// (GET) rather than a mutation. It returns ErrUnknownOperation for IDs
// not present in the registry.
func (r *Registry) IsQueryOperation(id OperationID) (bool, error) {
	info, ok := r.ops[id]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownOperation, id)
	}

	return info.Method == http.MethodGet, nil
}

// ListOperationFor returns the "list" sibling of the given operation: the
// GET operation whose path template equals this operation's template with
// its trailing {name} segment removed. For operations whose template has
// no trailing placeholder (e.g. a POST to a collection path), the sibling
// is the GET operation on the same template. The second return is false
// when no such operation is registered.
func (r *Registry) ListOperationFor(id OperationID) (OperationID, bool) {
	info, ok := r.ops[id]
	if !ok {
		return "", false
	}

	target := collectionTemplate(info.Path)

	for candidateID, candidate := range r.ops {
		if candidateID == id {
			continue
		}

		if candidate.Method == http.MethodGet && candidate.Path == target {
			return candidateID, true
		}
	}

	return "", false
}

// collectionTemplate strips a trailing "/{name}" segment, mapping an item
// template to its collection template. Templates without a trailing
// placeholder are returned unchanged.
func collectionTemplate(template string) string {
	idx := strings.LastIndex(template, "/")
	if idx <= 0 {
		return template
	}

	last := template[idx+1:]
	if strings.HasPrefix(last, "{") && strings.HasSuffix(last, "}") {
		return template[:idx]
	}

	return template
}

func isSupportedMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}

	return false
}

// validateTemplate rejects templates the path resolver could not process:
// missing leading slash, unbalanced or nested braces, empty placeholders.
func validateTemplate(template string) error {
	if template == "" || !strings.HasPrefix(template, "/") {
		return fmt.Errorf("%w: %q", ErrMalformedTemplate, template)
	}

	depth := 0
	nameLen := 0

	for _, r := range template {
		switch r {
		case '{':
			depth++
			if depth > 1 {
				return fmt.Errorf("%w: nested braces in %q", ErrMalformedTemplate, template)
			}

			nameLen = 0
		case '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced braces in %q", ErrMalformedTemplate, template)
			}

			if nameLen == 0 {
				return fmt.Errorf("%w: empty placeholder in %q", ErrMalformedTemplate, template)
			}
		default:
			if depth > 0 {
				nameLen++
			}
		}
	}

	if depth != 0 {
		return fmt.Errorf("%w: unbalanced braces in %q", ErrMalformedTemplate, template)
	}

	return nil
}
