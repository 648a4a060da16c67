package taskdoc

import (
	"regexp"
	"strings"
	"time"
)

var bareDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// dueLayouts are tried in order for anything that is not a bare date.
var dueLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"January 2, 2006 15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	time.UnixDate,
	time.ANSIC,
	"2006-01",
}

const dueFormatHint = "due must be RFC3339, e.g., 2025-12-01T15:00:00Z or 2025-12-01"

// NormalizeDue validates a due value. ok is false when the value asks for no
// change (null, missing or blank). Bare dates become midnight UTC; any other
// accepted timestamp is returned trimmed but otherwise as given.
func NormalizeDue(value any) (due string, ok bool, err error) {
	if value == nil {
		return "", false, nil
	}
	raw, isString := value.(string)
	if !isString {
		return "", false, &FieldError{Field: "due", Kind: ErrInvalidDue, Message: "due must be a string"}
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false, nil
	}
	if bareDatePattern.MatchString(trimmed) {
		expanded := trimmed + "T00:00:00Z"
		if _, err := time.Parse(time.RFC3339, expanded); err != nil {
			return "", false, &FieldError{Field: "due", Kind: ErrInvalidDue, Message: dueFormatHint}
		}
		return expanded, true, nil
	}
	for _, layout := range dueLayouts {
		if _, err := time.Parse(layout, trimmed); err == nil {
			return trimmed, true, nil
		}
	}
	return "", false, &FieldError{Field: "due", Kind: ErrInvalidDue, Message: dueFormatHint}
}
