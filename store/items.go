package store

import (
	"fmt"

	"github.com/rangekv/go-rangekv/common/types"
)

// Item is an authoritative record for a key range: a single key carrying a
// payload or a tombstone, plus the surrounding span of key space it speaks
// for. An item with no key asserts emptiness of its range.
type Item struct {
	Range     types.KeyRange `cbor:"1,keyasint,omitempty"`
	Key       types.Key      `cbor:"2,keyasint,omitempty"`
	Value     []byte         `cbor:"3,keyasint,omitempty"`
	Tombstone bool           `cbor:"4,keyasint,omitempty"`
}

// Bounds returns the key range the item covers.
func (it Item) Bounds() types.KeyRange { return it.Range }

// SizeBytes is the in-memory size of the item, the unit the flow-control
// window counts.
func (it Item) SizeBytes() int {
	return 48 + len(it.Range.Left) + len(it.Range.Right.Key) + len(it.Key) + len(it.Value)
}

// MaskLeft returns the item restricted to keys at or above k.
func (it Item) MaskLeft(k types.Key) Item {
	out := it
	if out.Range.Left.Compare(k) < 0 {
		out.Range.Left = k
	}
	return out
}

// String implements fmt.Stringer.
func (it Item) String() string {
	if it.Tombstone {
		return fmt.Sprintf("item(%s del %s)", it.Range, it.Key)
	}
	return fmt.Sprintf("item(%s %s=%d bytes)", it.Range, it.Key.ShortString(), len(it.Value))
}

// PreItem is a sink-supplied hint covering a key range: the sink already holds
// the range at the given version, so the source may skip items the sink's
// version already reflects.
type PreItem struct {
	Range   types.KeyRange `cbor:"1,keyasint,omitempty"`
	Version types.Version  `cbor:"2,keyasint,omitempty"`
}

// Bounds returns the key range the hint covers.
func (p PreItem) Bounds() types.KeyRange { return p.Range }

// SizeBytes is the in-memory size of the hint.
func (p PreItem) SizeBytes() int {
	return 40 + len(p.Range.Left) + len(p.Range.Right.Key)
}

// MaskLeft returns the hint restricted to keys at or above k.
func (p PreItem) MaskLeft(k types.Key) PreItem {
	out := p
	if out.Range.Left.Compare(k) < 0 {
		out.Range.Left = k
	}
	return out
}

// String implements fmt.Stringer.
func (p PreItem) String() string {
	return fmt.Sprintf("preitem(%s @ %s)", p.Range, p.Version)
}
