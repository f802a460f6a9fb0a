package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CompiledFieldSchemas holds one compiled JSON Schema per canonical
// record field name, used to validate queue rows and canonical records
// before they are written (companion_files.field_schemas).
type CompiledFieldSchemas struct {
	schemas map[string]*jsonschema.Schema
}

// LoadFieldSchemas compiles the JSON Schema documents embedded in raw —
// a map of field name to raw JSON Schema bytes, as parsed from the
// field_schemas companion file.
func LoadFieldSchemas(raw map[string]json.RawMessage) (*CompiledFieldSchemas, error) {
	compiled := &CompiledFieldSchemas{schemas: make(map[string]*jsonschema.Schema, len(raw))}
	for field, doc := range raw {
		c := jsonschema.NewCompiler()
		url := "field://" + field
		if err := c.AddResource(url, bytes.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("add field schema %q: %w", field, err)
		}
		schema, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile field schema %q: %w", field, err)
		}
		compiled.schemas[field] = schema
	}
	return compiled, nil
}

// Validate checks value against the compiled schema for field, if one
// was declared. Fields with no declared schema are not validated —
// field_schemas is opt-in per field.
func (c *CompiledFieldSchemas) Validate(field string, value interface{}) error {
	schema, ok := c.schemas[field]
	if !ok {
		return nil
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("field %q failed schema validation: %w", field, err)
	}
	return nil
}
