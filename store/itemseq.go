package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/rangekv/go-rangekv/common/types"
)

// SeqItem is the element constraint for Seq: items and pre-items.
type SeqItem[I any] interface {
	Bounds() types.KeyRange
	SizeBytes() int
	MaskLeft(k types.Key) I
}

// Seq is an ordered sequence of items whose covered sub-range is a prefix of a
// session's region: the union of the contained item ranges together with the
// explicit empty gaps equals [LeftEdge, RightEdge).
type Seq[I SeqItem[I]] struct {
	begHash uint64
	endHash uint64
	left    types.RightBound
	right   types.RightBound
	items   []I
	memSize int
}

// ItemSeq is a sequence of backfill items.
type ItemSeq = Seq[Item]

// PreItemSeq is a sequence of backfill hints.
type PreItemSeq = Seq[PreItem]

// NewSeq returns an empty sequence positioned at start within the given hash
// shard.
func NewSeq[I SeqItem[I]](begHash, endHash uint64, start types.RightBound) Seq[I] {
	return Seq[I]{begHash: begHash, endHash: endHash, left: start, right: start}
}

// BegHash returns the left end of the shard hash interval.
func (s *Seq[I]) BegHash() uint64 { return s.begHash }

// EndHash returns the right end of the shard hash interval.
func (s *Seq[I]) EndHash() uint64 { return s.endHash }

// LeftEdge returns the left boundary of the covered sub-range.
func (s *Seq[I]) LeftEdge() types.RightBound { return s.left }

// RightEdge returns the right boundary of the covered sub-range.
func (s *Seq[I]) RightEdge() types.RightBound { return s.right }

// MemSize is the combined in-memory size of the contained items.
func (s *Seq[I]) MemSize() int { return s.memSize }

// Items returns the contained items. The returned slice must not be modified.
func (s *Seq[I]) Items() []I { return s.items }

// EmptyOfItems reports whether the sequence contains no items. It may still
// cover a non-empty (all-empty) sub-range.
func (s *Seq[I]) EmptyOfItems() bool { return len(s.items) == 0 }

// EmptyDomain reports whether the sequence covers nothing at all.
func (s *Seq[I]) EmptyDomain() bool { return s.left.Equal(s.right) }

// Front returns the first item. Calling Front on an item-less sequence panics.
func (s *Seq[I]) Front() I {
	if len(s.items) == 0 {
		panic("BUG: Front of empty item sequence")
	}
	return s.items[0]
}

// PushBack appends an item, extending the covered sub-range to the item's
// right boundary. The item must not reach left of the current right edge.
func (s *Seq[I]) PushBack(item I) {
	b := item.Bounds()
	if s.right.CompareKey(b.Left) > 0 {
		panic(fmt.Sprintf("BUG: item %s reaches left of sequence edge %s", b, s.right))
	}
	if b.Right.Compare(s.right) < 0 {
		panic(fmt.Sprintf("BUG: item %s ends left of sequence edge %s", b, s.right))
	}
	s.items = append(s.items, item)
	s.right = b.Right
	s.memSize += item.SizeBytes()
}

// PushBackNothing extends the covered sub-range to the given boundary,
// declaring the gap empty.
func (s *Seq[I]) PushBackNothing(bound types.RightBound) {
	if bound.Compare(s.right) < 0 {
		panic(fmt.Sprintf("BUG: empty gap to %s behind sequence edge %s", bound, s.right))
	}
	s.right = bound
}

// PopFrontInto moves the front item, along with any empty gap preceding it,
// into other. The other sequence's domain must end where this one begins.
func (s *Seq[I]) PopFrontInto(other *Seq[I]) {
	if !other.right.Equal(s.left) {
		panic("BUG: PopFrontInto of non-adjacent sequences")
	}
	item := s.Front()
	edge := item.Bounds().Right
	s.items = s.items[1:]
	s.memSize -= item.SizeBytes()
	s.left = edge
	other.PushBack(item)
}

// DeleteToKey discards everything left of the given boundary, trimming an
// item that straddles it, and advances the left edge there. A boundary at or
// behind the left edge is a no-op: a session resumed behind the cursor has
// nothing to discard until it catches up.
func (s *Seq[I]) DeleteToKey(bound types.RightBound) {
	if bound.Compare(s.left) <= 0 {
		return
	}
	for len(s.items) > 0 {
		front := s.items[0]
		b := front.Bounds()
		if b.Right.Compare(bound) <= 0 {
			s.items = s.items[1:]
			s.memSize -= front.SizeBytes()
			continue
		}
		if !bound.Unbounded && bound.CompareKey(b.Left) > 0 {
			trimmed := front.MaskLeft(bound.Key)
			s.memSize += trimmed.SizeBytes() - front.SizeBytes()
			s.items[0] = trimmed
		}
		break
	}
	s.left = bound
	if s.right.Compare(s.left) < 0 {
		s.right = s.left
	}
}

// Concat appends other, whose domain must start where this sequence ends, and
// leaves other empty.
func (s *Seq[I]) Concat(other *Seq[I]) {
	if !s.right.Equal(other.left) {
		panic(fmt.Sprintf("BUG: concat of non-adjacent sequences at %s vs %s", s.right, other.left))
	}
	s.items = append(s.items, other.items...)
	s.memSize += other.memSize
	s.right = other.right
	*other = NewSeq[I](other.begHash, other.endHash, other.right)
}

// String implements fmt.Stringer.
func (s *Seq[I]) String() string {
	return fmt.Sprintf("seq([%s, %s) %d items, %d bytes)", s.left, s.right, len(s.items), s.memSize)
}

type seqWire[I SeqItem[I]] struct {
	BegHash uint64           `cbor:"1,keyasint,omitempty"`
	EndHash uint64           `cbor:"2,keyasint,omitempty"`
	Left    types.RightBound `cbor:"3,keyasint,omitempty"`
	Right   types.RightBound `cbor:"4,keyasint,omitempty"`
	Items   []I              `cbor:"5,keyasint,omitempty"`
}

// MarshalCBOR implements cbor.Marshaler.
func (s Seq[I]) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(seqWire[I]{
		BegHash: s.begHash,
		EndHash: s.endHash,
		Left:    s.left,
		Right:   s.right,
		Items:   s.items,
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler. The memory size is recomputed
// locally rather than trusted from the wire.
func (s *Seq[I]) UnmarshalCBOR(data []byte) error {
	var w seqWire[I]
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	s.begHash = w.BegHash
	s.endHash = w.EndHash
	s.left = w.Left
	s.right = w.Right
	s.items = w.Items
	s.memSize = 0
	for _, it := range w.Items {
		s.memSize += it.SizeBytes()
	}
	return nil
}
