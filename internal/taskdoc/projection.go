package taskdoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
)

// KeySet is a set of document keys.
type KeySet map[string]struct{}

func NewKeySet(keys ...string) KeySet {
	set := make(KeySet, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set
}

func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

const SchemaKey = "$schema"

// EditableKeys are the document keys that can be written back.
var EditableKeys = NewKeySet("title", "notes", "due", "status", "hidden", "deleted", "parent")

// ignoredKeys are accepted in a written document but never submitted.
var ignoredKeys = NewKeySet(SchemaKey, "links")

// ToDocument projects a remote record onto the editable fields. The schema
// reference is left for the caller to fill in.
func ToDocument(record Record) Document {
	var links []Link
	if record.Links != nil {
		links = append([]Link{}, record.Links...)
	}
	return Document{
		Title:   cloneString(record.Title),
		Notes:   cloneString(record.Notes),
		Due:     cloneString(record.Due),
		Status:  cloneString(record.Status),
		Links:   links,
		Hidden:  cloneBool(record.Hidden),
		Deleted: cloneBool(record.Deleted),
		Parent:  cloneString(record.Parent),
	}
}

// Parse decodes an edited document. Numbers are kept as json.Number.
func Parse(content []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(content))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: Invalid JSON: unable to parse content", ErrInvalidInput)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: Invalid JSON: unexpected data after document", ErrInvalidInput)
	}
	return raw, nil
}

// ToUpdate builds the partial update described by a parsed document. Every
// key is checked against allowed before any field is applied.
func ToUpdate(raw any, allowed KeySet) (Update, error) {
	input, ok := raw.(map[string]any)
	if !ok || input == nil {
		return Update{}, fmt.Errorf("%w: Expected a JSON object with task fields", ErrInvalidInput)
	}

	keys := make([]string, 0, len(input))
	for key := range input {
		if ignoredKeys.Has(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !allowed.Has(key) {
			return Update{}, unsupportedField(key)
		}
	}

	var update Update
	for _, key := range keys {
		value := input[key]
		switch key {
		case "title":
			text, err := textField(key, value)
			if err != nil {
				return Update{}, err
			}
			update.Title = text
		case "notes":
			text, err := textField(key, value)
			if err != nil {
				return Update{}, err
			}
			update.Notes = text
		case "parent":
			text, err := textField(key, value)
			if err != nil {
				return Update{}, err
			}
			update.Parent = text
		case "status":
			status, ok := value.(string)
			if !ok || (status != StatusNeedsAction && status != StatusCompleted) {
				return Update{}, &FieldError{
					Field:   key,
					Kind:    ErrInvalidStatus,
					Message: `status must be "needsAction" or "completed"`,
				}
			}
			update.Status = status
		case "due":
			due, present, err := NormalizeDue(value)
			if err != nil {
				return Update{}, err
			}
			if present {
				update.Due = due
			}
		case "hidden":
			update.Hidden = Ptr(truthy(value))
		case "deleted":
			update.Deleted = Ptr(truthy(value))
		}
	}
	return update, nil
}

func textField(key string, value any) (Text, error) {
	switch v := value.(type) {
	case nil:
		return ClearText(), nil
	case string:
		return SetText(v), nil
	default:
		return Text{}, &FieldError{
			Field:   key,
			Kind:    ErrInvalidType,
			Message: key + " must be a string or null",
		}
	}
}

// truthy follows JSON-document boolean coercion: false, null, 0 and the
// empty string are false.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return true
		}
		return f != 0 && !math.IsNaN(f)
	case float64:
		return v != 0 && !math.IsNaN(v)
	default:
		return true
	}
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	return Ptr(*v)
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	return Ptr(*v)
}
