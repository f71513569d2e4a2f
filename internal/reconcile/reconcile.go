// Package reconcile merges optimistic local mutations and externally pushed
// records into ordered lists.
//
// Every function is copy-on-write: the input slice is never modified, so a
// caller can keep the previous slice as a rollback snapshot for free.
package reconcile

import (
	"strings"

	"github.com/google/uuid"
)

// TempPrefix marks identities generated locally for optimistic entries.
const TempPrefix = "temp-"

// Entry is a record with a stable identity.
type Entry interface {
	EntryID() string
}

// Order reports whether a sorts before b. A nil Order prepends.
type Order[T Entry] func(a, b T) bool

// NewTempID returns an identity that can never collide with a server id.
func NewTempID() string {
	return TempPrefix + uuid.New().String()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// ApplyOptimistic places a locally originated entry into items.
func ApplyOptimistic[T Entry](items []T, entry T, order Order[T]) []T {
	return insert(items, entry, order)
}

// Confirm replaces the temporary entry with the authoritative one, keeping its
// position. If the server entry already arrived through a push, that copy is
// dropped so exactly one entry carries the server id. It reports false when
// tempID is no longer present (the entry was removed or replaced meanwhile).
func Confirm[T Entry](items []T, tempID string, server T) ([]T, bool) {
	i := Index(items, tempID)
	if i < 0 {
		return items, false
	}

	out := make([]T, 0, len(items))
	for j, it := range items {
		switch {
		case j == i:
			out = append(out, server)
		case it.EntryID() == server.EntryID():
			// pushed copy of the same record; confirmation wins
		default:
			out = append(out, it)
		}
	}
	return out, true
}

// Rollback removes the temporary entry. It reports whether the entry was present.
func Rollback[T Entry](items []T, tempID string) ([]T, bool) {
	out, _, ok := Remove(items, tempID)
	return out, ok
}

// MergeExternal inserts a pushed entry unless one with the same id is already
// present. It reports whether the list changed.
func MergeExternal[T Entry](items []T, pushed T, order Order[T]) ([]T, bool) {
	if Index(items, pushed.EntryID()) >= 0 {
		return items, false
	}
	return insert(items, pushed, order), true
}

// Index returns the position of id in items, or -1.
func Index[T Entry](items []T, id string) int {
	for i, it := range items {
		if it.EntryID() == id {
			return i
		}
	}
	return -1
}

// Remove returns items without id, along with the removed entry.
func Remove[T Entry](items []T, id string) ([]T, T, bool) {
	var zero T
	i := Index(items, id)
	if i < 0 {
		return items, zero, false
	}
	removed := items[i]
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:i]...)
	out = append(out, items[i+1:]...)
	return out, removed, true
}

// Update applies fn to the entry with id and returns the new list.
func Update[T Entry](items []T, id string, fn func(T) T) ([]T, bool) {
	i := Index(items, id)
	if i < 0 {
		return items, false
	}
	out := Clone(items)
	out[i] = fn(out[i])
	return out, true
}

// Clone returns a shallow copy of items.
func Clone[T any](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

func insert[T Entry](items []T, entry T, order Order[T]) []T {
	pos := 0
	if order != nil {
		pos = len(items)
		for i, it := range items {
			if order(entry, it) {
				pos = i
				break
			}
		}
	}

	out := make([]T, 0, len(items)+1)
	out = append(out, items[:pos]...)
	out = append(out, entry)
	out = append(out, items[pos:]...)
	return out
}
