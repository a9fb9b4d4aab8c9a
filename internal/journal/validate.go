package journal

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaSuffix = ".schema.json"

// Validator checks consumed events against the embedded JSON schemas.
// Events without a schema pass unchecked.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles the embedded event schemas.
func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	names := make(map[string]string, len(entries))
	for _, entry := range entries {
		file := path.Join("schemas", entry.Name())
		data, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		url := "mem://journal/" + entry.Name()
		if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", entry.Name(), err)
		}
		names[strings.TrimSuffix(entry.Name(), schemaSuffix)] = url
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for event, url := range names {
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", event, err)
		}
		v.schemas[event] = schema
	}
	return v, nil
}

// Validate checks e against its schema.
func (v *Validator) Validate(e *Event) error {
	schema, ok := v.schemas[e.Name]
	if !ok {
		return nil
	}

	var doc any
	if err := json.Unmarshal(e.raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Name, err)
	}
	return nil
}
