// Package rangemap implements a partition of a contiguous key range into
// non-overlapping sub-ranges each tagged with a value.
package rangemap

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/rangekv/go-rangekv/common/types"
)

// Entry is one tagged sub-range of a Map.
type Entry[T any] struct {
	Range types.KeyRange `cbor:"1,keyasint,omitempty"`
	Value T              `cbor:"2,keyasint,omitempty"`
}

// Map is an ordered sequence of tagged sub-ranges covering a contiguous
// domain. The zero value is the empty map, which covers nothing.
type Map[T any] struct {
	entries []Entry[T]
}

// New returns a map covering r with a single value. An empty r yields the
// empty map.
func New[T any](r types.KeyRange, v T) Map[T] {
	if r.IsEmpty() {
		return Map[T]{}
	}
	return Map[T]{entries: []Entry[T]{{Range: r, Value: v}}}
}

// Empty returns the empty map.
func Empty[T any]() Map[T] {
	return Map[T]{}
}

// FromEntries builds a map from unordered entries. The entries must tile a
// contiguous domain exactly.
func FromEntries[T any](entries []Entry[T]) (Map[T], error) {
	es := make([]Entry[T], 0, len(entries))
	for _, e := range entries {
		if !e.Range.IsEmpty() {
			es = append(es, e)
		}
	}
	sort.Slice(es, func(i, j int) bool {
		return es[i].Range.Left.Compare(es[j].Range.Left) < 0
	})
	for i := 1; i < len(es); i++ {
		if es[i-1].Range.Right.CompareKey(es[i].Range.Left) != 0 {
			return Map[T]{}, fmt.Errorf("entries do not tile: gap or overlap at %s", es[i].Range.Left)
		}
	}
	return Map[T]{entries: es}, nil
}

// IsEmpty reports whether the map covers nothing.
func (m Map[T]) IsEmpty() bool {
	return len(m.entries) == 0
}

// Domain returns the covered range. Calling Domain on an empty map panics.
func (m Map[T]) Domain() types.KeyRange {
	if len(m.entries) == 0 {
		panic("BUG: Domain of empty rangemap")
	}
	return types.KeyRange{
		Left:  m.entries[0].Range.Left,
		Right: m.entries[len(m.entries)-1].Range.Right,
	}
}

// Entries returns the ordered sub-ranges. The returned slice must not be
// modified.
func (m Map[T]) Entries() []Entry[T] {
	return m.entries
}

// ValueAt returns the value tagged on the sub-range containing k.
func (m Map[T]) ValueAt(k types.Key) (T, bool) {
	for _, e := range m.entries {
		if e.Range.Contains(k) {
			return e.Value, true
		}
	}
	var zero T
	return zero, false
}

// Mask returns the part of the map overlapping r.
func (m Map[T]) Mask(r types.KeyRange) Map[T] {
	var out []Entry[T]
	for _, e := range m.entries {
		sub := e.Range.Intersect(r)
		if !sub.IsEmpty() {
			out = append(out, Entry[T]{Range: sub, Value: e.Value})
		}
	}
	return Map[T]{entries: out}
}

// Concat appends other on the right. The other map's domain must start where
// this map's domain ends; either side may be empty.
func (m Map[T]) Concat(other Map[T]) Map[T] {
	if other.IsEmpty() {
		return m
	}
	if m.IsEmpty() {
		return other
	}
	if m.Domain().Right.CompareKey(other.Domain().Left) != 0 {
		panic(fmt.Sprintf("BUG: rangemap concat of non-adjacent domains %s and %s",
			m.Domain(), other.Domain()))
	}
	entries := make([]Entry[T], 0, len(m.entries)+len(other.entries))
	entries = append(entries, m.entries...)
	entries = append(entries, other.entries...)
	return Map[T]{entries: entries}
}

// Update overwrites the part of the map covered by other. The other map's
// domain must lie within this map's domain.
func (m *Map[T]) Update(other Map[T]) {
	if other.IsEmpty() {
		return
	}
	dom := other.Domain()
	var left, right []Entry[T]
	for _, e := range m.entries {
		if pre := e.Range.Intersect(types.KeyRange{Left: m.entries[0].Range.Left, Right: types.BoundAt(dom.Left)}); !pre.IsEmpty() {
			left = append(left, Entry[T]{Range: pre, Value: e.Value})
		}
		if post := e.Range.Intersect(types.KeyRange{Left: keyOfBound(dom.Right), Right: m.entries[len(m.entries)-1].Range.Right}); !post.IsEmpty() && !dom.Right.Unbounded {
			right = append(right, Entry[T]{Range: post, Value: e.Value})
		}
	}
	entries := make([]Entry[T], 0, len(left)+len(other.entries)+len(right))
	entries = append(entries, left...)
	entries = append(entries, other.entries...)
	entries = append(entries, right...)
	m.entries = entries
}

func keyOfBound(b types.RightBound) types.Key {
	if b.Unbounded {
		return nil
	}
	return b.Key
}

// Transform returns a new map with every value mapped through f.
func Transform[T, U any](m Map[T], f func(T) U) Map[U] {
	out := make([]Entry[U], len(m.entries))
	for i, e := range m.entries {
		out[i] = Entry[U]{Range: e.Range, Value: f(e.Value)}
	}
	return Map[U]{entries: out}
}

// EqualFunc reports whether two maps tile the same domain with equal values
// under eq, comparing pointwise.
func EqualFunc[T any](a, b Map[T], eq func(x, y T) bool) bool {
	if a.IsEmpty() != b.IsEmpty() {
		return false
	}
	if a.IsEmpty() {
		return true
	}
	if !a.Domain().Equal(b.Domain()) {
		return false
	}
	// Compare on the union of both maps' cut points.
	for _, ea := range a.entries {
		for _, eb := range b.entries {
			sub := ea.Range.Intersect(eb.Range)
			if !sub.IsEmpty() && !eq(ea.Value, eb.Value) {
				return false
			}
		}
	}
	return true
}

// MarshalCBOR implements cbor.Marshaler.
func (m Map[T]) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(m.entries)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (m *Map[T]) UnmarshalCBOR(data []byte) error {
	var entries []Entry[T]
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return err
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Range.Right.CompareKey(entries[i].Range.Left) != 0 {
			return fmt.Errorf("rangemap entries do not tile at %s", entries[i].Range.Left)
		}
	}
	m.entries = entries
	return nil
}
