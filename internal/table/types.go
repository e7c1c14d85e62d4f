// Package table implements the row-oriented storage layer: fixed-width
// key-row slots with indirection to variable-length payloads, backed by
// one or more secondary B-tree indexes and tombstone-slot reuse.
package table

import "errors"

// KeyType names the two supported index-component kinds.
type KeyType int

const (
	KeyInt KeyType = iota
	KeyString
)

// Width returns a component's fixed inline width inside a row's key
// prefix: 8 bytes for an integer, 4 bytes for an interned string id.
func (k KeyType) Width() int {
	if k == KeyString {
		return 4
	}
	return 8
}

// KeyComponent is one value of a (possibly composite) index key. Exactly
// one of Int/Str is meaningful, selected by Type.
type KeyComponent struct {
	Type KeyType
	Int  int64
	Str  string
}

// IntKey builds an integer key component.
func IntKey(v int64) KeyComponent { return KeyComponent{Type: KeyInt, Int: v} }

// StringKey builds a string key component (interned on write).
func StringKey(v string) KeyComponent { return KeyComponent{Type: KeyString, Str: v} }

// IndexSpec describes one secondary index to create on a table: a name
// and the ordered list of component types making up its composite key.
type IndexSpec struct {
	Name  string
	Types []KeyType
}

var (
	// ErrNotFound is returned for an unknown index name, and by Open when
	// the header sub-file does not carry the table magic. A missing table
	// name surfaces as the file system's own not-found error instead.
	ErrNotFound = errors.New("table: not found")
	// ErrUniqueViolation names a unique-key conflict. AddRow does not
	// return it: a conflict with a live row is reported as (false, nil).
	ErrUniqueViolation = errors.New("table: unique constraint violated")
	// ErrIndexMismatch is a programming-error assertion: two indexes
	// disagreed about which slot a tombstone-reuse candidate is.
	ErrIndexMismatch = errors.New("table: indexes disagree on reuse candidate")
	// ErrKeyCountMismatch means the caller passed a different number of
	// key components than the index was defined with.
	ErrKeyCountMismatch = errors.New("table: key component count mismatch")
)
