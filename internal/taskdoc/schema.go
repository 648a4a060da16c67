package taskdoc

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// DefaultSchemaRef is the $id of the embedded task document schema.
const DefaultSchemaRef = "https://gtaskfs.agentworkforce.dev/schemas/gtask-task.schema.json"

//go:embed gtask-task.schema.json
var schemaSource []byte

// SchemaSource returns the raw embedded schema document.
func SchemaSource() []byte {
	return append([]byte(nil), schemaSource...)
}

// Schema validates parsed documents against the embedded task schema.
type Schema struct {
	compiled *jsonschema.Schema
}

func CompileSchema() (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaSource))
	if err != nil {
		return nil, fmt.Errorf("parse task schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(DefaultSchemaRef, doc); err != nil {
		return nil, fmt.Errorf("add task schema: %w", err)
	}
	compiled, err := compiler.Compile(DefaultSchemaRef)
	if err != nil {
		return nil, fmt.Errorf("compile task schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks a document produced by Parse.
func (s *Schema) Validate(raw any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	if err := s.compiled.Validate(raw); err != nil {
		return &SchemaError{Err: err}
	}
	return nil
}
