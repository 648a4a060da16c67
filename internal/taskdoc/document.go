package taskdoc

import (
	"encoding/json"
	"sort"
)

const (
	StatusNeedsAction = "needsAction"
	StatusCompleted   = "completed"
)

// Link is an informational link attached to a task by the remote service.
type Link struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link,omitempty"`
}

// Record is the full task shape returned by the remote service. Optional
// fields are pointers so that absence survives projection.
type Record struct {
	Kind        string  `json:"kind,omitempty"`
	ID          string  `json:"id,omitempty"`
	Etag        string  `json:"etag,omitempty"`
	Title       *string `json:"title,omitempty"`
	Updated     string  `json:"updated,omitempty"`
	SelfLink    string  `json:"selfLink,omitempty"`
	Parent      *string `json:"parent,omitempty"`
	Position    string  `json:"position,omitempty"`
	Notes       *string `json:"notes,omitempty"`
	Status      *string `json:"status,omitempty"`
	Due         *string `json:"due,omitempty"`
	Completed   *string `json:"completed,omitempty"`
	Deleted     *bool   `json:"deleted,omitempty"`
	Hidden      *bool   `json:"hidden,omitempty"`
	Links       []Link  `json:"links,omitempty"`
	WebViewLink string  `json:"webViewLink,omitempty"`
}

// Document is the editable projection of a Record. Field order here is the
// order users see in the serialized document.
type Document struct {
	Schema  string  `json:"$schema,omitempty"`
	Title   *string `json:"title,omitempty"`
	Notes   *string `json:"notes,omitempty"`
	Due     *string `json:"due,omitempty"`
	Status  *string `json:"status,omitempty"`
	Links   []Link  `json:"links,omitempty"`
	Hidden  *bool   `json:"hidden,omitempty"`
	Deleted *bool   `json:"deleted,omitempty"`
	Parent  *string `json:"parent,omitempty"`
}

// Placeholder is served instead of a Document while no remote client is
// available.
type Placeholder struct {
	Schema string `json:"$schema,omitempty"`
	Error  string `json:"error"`
	Note   string `json:"note"`
}

// Text is an optional string field of an Update. Null marks an explicit
// clear request.
type Text struct {
	Set   bool
	Null  bool
	Value string
}

func SetText(value string) Text {
	return Text{Set: true, Value: value}
}

func ClearText() Text {
	return Text{Set: true, Null: true}
}

// Update is the sparse set of fields submitted to the remote patch call.
// Zero values mean "leave unchanged".
type Update struct {
	Title   Text
	Notes   Text
	Parent  Text
	Status  string
	Due     string
	Hidden  *bool
	Deleted *bool
}

// Fields returns the keys carried by u. Cleared text fields map to nil.
func (u Update) Fields() map[string]any {
	fields := map[string]any{}
	putText(fields, "title", u.Title)
	putText(fields, "notes", u.Notes)
	putText(fields, "parent", u.Parent)
	if u.Status != "" {
		fields["status"] = u.Status
	}
	if u.Due != "" {
		fields["due"] = u.Due
	}
	if u.Hidden != nil {
		fields["hidden"] = *u.Hidden
	}
	if u.Deleted != nil {
		fields["deleted"] = *u.Deleted
	}
	return fields
}

// Keys lists the fields carried by u in sorted order.
func (u Update) Keys() []string {
	fields := u.Fields()
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (u Update) IsEmpty() bool {
	return len(u.Fields()) == 0
}

func (u Update) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Fields())
}

func putText(fields map[string]any, key string, value Text) {
	if !value.Set {
		return
	}
	if value.Null {
		fields[key] = nil
		return
	}
	fields[key] = value.Value
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
