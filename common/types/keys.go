package types

import (
	"bytes"
	"encoding/hex"
	"slices"
)

// Key is a store key, ordered lexicographically.
type Key []byte

// String implements fmt.Stringer.
func (k Key) String() string {
	return hex.EncodeToString(k)
}

// ShortString returns an abbreviated hex form for logging.
func (k Key) ShortString() string {
	if len(k) < 5 {
		return k.String()
	}
	return hex.EncodeToString(k[:5])
}

// Clone returns a copy of the key.
func (k Key) Clone() Key {
	return slices.Clone(k)
}

// Compare compares two keys.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k, other)
}

// Next returns the immediate successor of the key in key space, which is the
// key with a zero byte appended.
func (k Key) Next() Key {
	next := make(Key, len(k)+1)
	copy(next, k)
	return next
}

// RightBound is a position in key space used as the exclusive right end of a
// range. The distinguished unbounded position compares greater than any key.
type RightBound struct {
	Key       Key  `cbor:"1,keyasint,omitempty"`
	Unbounded bool `cbor:"2,keyasint,omitempty"`
}

// BoundAt returns the bound just left of the given key, so that a range ending
// at it contains keys strictly below k.
func BoundAt(k Key) RightBound {
	return RightBound{Key: k}
}

// BoundAfter returns the bound just right of the given key, so that a range
// ending at it contains k.
func BoundAfter(k Key) RightBound {
	return RightBound{Key: k.Next()}
}

// Unbounded returns the end-of-key-space position.
func Unbounded() RightBound {
	return RightBound{Unbounded: true}
}

// Compare compares two bounds.
func (b RightBound) Compare(other RightBound) int {
	switch {
	case b.Unbounded && other.Unbounded:
		return 0
	case b.Unbounded:
		return 1
	case other.Unbounded:
		return -1
	default:
		return b.Key.Compare(other.Key)
	}
}

// CompareKey reports where the bound stands relative to a key: a positive
// result means the key lies strictly below the bound.
func (b RightBound) CompareKey(k Key) int {
	if b.Unbounded {
		return 1
	}
	return b.Key.Compare(k)
}

// Equal reports whether two bounds denote the same position.
func (b RightBound) Equal(other RightBound) bool {
	return b.Compare(other) == 0
}

// Clone returns a copy of the bound.
func (b RightBound) Clone() RightBound {
	return RightBound{Key: b.Key.Clone(), Unbounded: b.Unbounded}
}

// String implements fmt.Stringer.
func (b RightBound) String() string {
	if b.Unbounded {
		return "+inf"
	}
	return b.Key.String()
}

// KeyRange is a half-open interval [Left, Right) in key space.
type KeyRange struct {
	Left  Key        `cbor:"1,keyasint,omitempty"`
	Right RightBound `cbor:"2,keyasint,omitempty"`
}

// RangeFrom returns the range [left, right).
func RangeFrom(left Key, right RightBound) KeyRange {
	return KeyRange{Left: left, Right: right}
}

// FullKeyRange returns the range covering all of key space.
func FullKeyRange() KeyRange {
	return KeyRange{Left: Key{}, Right: Unbounded()}
}

// IsEmpty reports whether the range contains no keys.
func (r KeyRange) IsEmpty() bool {
	return r.Right.CompareKey(r.Left) <= 0
}

// Contains reports whether the key falls inside the range.
func (r KeyRange) Contains(k Key) bool {
	return r.Left.Compare(k) <= 0 && r.Right.CompareKey(k) > 0
}

// Equal reports whether two ranges cover the same interval.
func (r KeyRange) Equal(other KeyRange) bool {
	return r.Left.Compare(other.Left) == 0 && r.Right.Equal(other.Right)
}

// Intersect returns the overlap of two ranges. The result may be empty.
func (r KeyRange) Intersect(other KeyRange) KeyRange {
	out := r
	if other.Left.Compare(out.Left) > 0 {
		out.Left = other.Left
	}
	if other.Right.Compare(out.Right) < 0 {
		out.Right = other.Right
	}
	if out.IsEmpty() {
		return KeyRange{Left: out.Left, Right: BoundAt(out.Left)}
	}
	return out
}

// Overlaps reports whether the two ranges share at least one key.
func (r KeyRange) Overlaps(other KeyRange) bool {
	return !r.Intersect(other).IsEmpty()
}

// String implements fmt.Stringer.
func (r KeyRange) String() string {
	return "[" + r.Left.String() + ", " + r.Right.String() + ")"
}
