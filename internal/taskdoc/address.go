package taskdoc

import (
	"net/url"
	"strings"
)

const (
	// Scheme identifies task documents in addresses.
	Scheme = "gtask-json"
	// DocumentSuffix marks the task segment of an address as a JSON document.
	DocumentSuffix = ".json"
)

// Address names one remote task.
type Address struct {
	ListID string
	TaskID string
}

func (a Address) String() string {
	return Encode(a.ListID, a.TaskID)
}

// Path returns the address without its scheme, as seen by a mounted
// filesystem.
func (a Address) Path() string {
	return "/" + escapeSegment(a.ListID) + "/" + escapeSegment(a.TaskID) + DocumentSuffix
}

// Encode builds the opaque address of a task document.
func Encode(listID, taskID string) string {
	return Scheme + ":" + Address{ListID: listID, TaskID: taskID}.Path()
}

// Decode parses either a full address or a bare document path. Any address
// that does not name exactly one list and one task yields ErrNotFound.
func Decode(address string) (Address, error) {
	path := strings.TrimSpace(address)
	path = strings.TrimPrefix(path, Scheme+":")
	path = strings.TrimPrefix(path, "/")
	segments := strings.Split(path, "/")
	if len(segments) != 2 {
		return Address{}, ErrNotFound
	}
	listID, err := url.PathUnescape(segments[0])
	if err != nil {
		return Address{}, ErrNotFound
	}
	taskID, err := url.PathUnescape(strings.TrimSuffix(segments[1], DocumentSuffix))
	if err != nil {
		return Address{}, ErrNotFound
	}
	if listID == "" || taskID == "" {
		return Address{}, ErrNotFound
	}
	return Address{ListID: listID, TaskID: taskID}, nil
}

// escapeSegment matches encodeURIComponent: everything except
// A-Z a-z 0-9 - _ . ! ~ * ' ( ) is percent-encoded.
func escapeSegment(segment string) string {
	var b strings.Builder
	b.Grow(len(segment))
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if isUnreservedComponentByte(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

const upperHex = "0123456789ABCDEF"

func isUnreservedComponentByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
