// Package registry builds operation registries from OpenAPI 3 documents
// at runtime. It indexes every operation that carries an operationId and
// records enum metadata from parameter schemas, leaving all other schema
// information behind: the binding layer only needs methods, path
// templates, and enum tables.
package registry

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/opquery-io/opquery/pkg/opquery"
)

// LoadFromFile parses the OpenAPI document at path and indexes its
// operations into a registry.
func LoadFromFile(path string) (*opquery.Registry, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading OpenAPI document %s: %w", path, err)
	}

	return fromDocument(doc)
}

// LoadFromData parses an in-memory OpenAPI document and indexes its
// operations into a registry.
func LoadFromData(data []byte) (*opquery.Registry, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("loading OpenAPI document: %w", err)
	}

	return fromDocument(doc)
}

func fromDocument(doc *openapi3.T) (*opquery.Registry, error) {
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validating OpenAPI document: %w", err)
	}

	ops := make(map[opquery.OperationID]opquery.OperationInfo)

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}

			id := opquery.OperationID(op.OperationID)
			if _, exists := ops[id]; exists {
				return nil, fmt.Errorf("%w: duplicate operationId %q", opquery.ErrMalformedTemplate, op.OperationID)
			}

			ops[id] = opquery.OperationInfo{
				Method: method,
				Path:   path,
				Enums:  enumTables(pathItem, op),
			}
		}
	}

	registry, err := opquery.NewRegistry(ops)
	if err != nil {
		return nil, fmt.Errorf("indexing OpenAPI operations: %w", err)
	}

	return registry, nil
}

// enumTables collects enum values from path-level and operation-level
// parameter schemas, keyed by parameter name. Operation-level parameters
// win on name conflicts.
func enumTables(pathItem *openapi3.PathItem, op *openapi3.Operation) map[string][]string {
	tables := make(map[string][]string)

	collect := func(refs openapi3.Parameters) {
		for _, ref := range refs {
			if ref.Value == nil || ref.Value.Schema == nil || ref.Value.Schema.Value == nil {
				continue
			}

			schema := ref.Value.Schema.Value
			if len(schema.Enum) == 0 {
				continue
			}

			values := make([]string, 0, len(schema.Enum))
			for _, raw := range schema.Enum {
				values = append(values, fmt.Sprintf("%v", raw))
			}

			tables[ref.Value.Name] = values
		}
	}

	collect(pathItem.Parameters)
	collect(op.Parameters)

	if len(tables) == 0 {
		return nil
	}

	return tables
}
