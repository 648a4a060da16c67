package taskdoc

import (
	"errors"
	"testing"
)

func TestSchemaAcceptsRenderedDocument(t *testing.T) {
	schema, err := CompileSchema()
	if err != nil {
		t.Fatalf("compile schema failed: %v", err)
	}
	raw := mustParse(t, `{
		"$schema": "`+DefaultSchemaRef+`",
		"title": "t",
		"notes": null,
		"status": "needsAction",
		"links": [{"type": "email", "link": "https://mail.example/1"}],
		"hidden": false
	}`)
	if err := schema.Validate(raw); err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
}

func TestSchemaRejectsWrongTypes(t *testing.T) {
	schema, err := CompileSchema()
	if err != nil {
		t.Fatalf("compile schema failed: %v", err)
	}
	for _, payload := range []string{
		`{"hidden": "yes"}`,
		`{"status": "archived"}`,
		`{"title": 3}`,
		`{"unknown": true}`,
	} {
		err := schema.Validate(mustParse(t, payload))
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("payload %s: expected schema violation, got %v", payload, err)
		}
	}
}

func TestSchemaSourceIsACopy(t *testing.T) {
	first := SchemaSource()
	first[0] = 'x'
	if SchemaSource()[0] == 'x' {
		t.Fatalf("expected schema source to be copied")
	}
}
