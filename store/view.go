// Package store defines the backfill surface a key-range store exposes, the
// item types that cross it, and the item-sequence container the backfill
// protocol ships them in.
package store

import (
	"context"

	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/rangemap"
)

// Decision is the result of one step of a cooperative traversal protocol.
// Abort asks the other side to yield control back to its caller; it is not a
// failure.
type Decision int

const (
	// Continue tells the peer callback loop to keep going.
	Continue Decision = iota
	// Abort tells the peer callback loop to yield.
	Abort
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	if d == Continue {
		return "continue"
	}
	return "abort"
}

// PreItemProducer feeds sink-supplied hints to a store traversal in key
// order.
type PreItemProducer interface {
	// NextPreItem returns the next hint. A Continue decision with a non-nil
	// item hands over the front hint, which stays owned by the producer
	// until ReleasePreItem. A Continue decision with a nil item means there
	// are no hints up to edge and the traversal may advance its cursor
	// there. Abort means the hint buffer is empty; the store must yield and
	// the caller will come back once more hints arrive.
	NextPreItem() (item *PreItem, edge types.RightBound, dec Decision)
	// ReleasePreItem tells the producer the traversal has fully passed the
	// hint handed out by the last NextPreItem call.
	ReleasePreItem()
}

// ItemConsumer receives the authoritative items of a store traversal in key
// order. Returning Abort asks the store to yield.
type ItemConsumer interface {
	OnItem(metainfo rangemap.Map[types.Version], item Item) Decision
	OnEmptyRange(metainfo rangemap.Map[types.Version], newRight types.RightBound) Decision
}

// PreItemConsumer receives the hints a sink-side store produces for the
// source, in key order. Returning Abort asks the store to yield.
type PreItemConsumer interface {
	OnPreItem(item PreItem) Decision
	OnEmptyRange(newRight types.RightBound) Decision
}

// View is the backfill surface of a key-range store. The store is externally
// synchronized with respect to the sub-region being traversed for the
// duration of each call, and must be safe for concurrent readers across
// sessions.
type View interface {
	// Region returns the region the store is responsible for.
	Region() types.Region

	// GetMetainfo returns the store's current per-sub-range versions.
	GetMetainfo(ctx context.Context) (rangemap.Map[types.Version], error)

	// SendBackfill walks the store over the domain of start, where start
	// gives the per-sub-range version floor the sink is known to hold. It
	// alternates calls into producer and consumer until the consumer or
	// producer aborts (Abort is returned) or the domain is exhausted
	// (Continue is returned).
	SendBackfill(ctx context.Context, start rangemap.Map[types.Timestamp],
		producer PreItemProducer, consumer ItemConsumer) (Decision, error)

	// SendBackfillPre walks the store over the domain of start and emits
	// hints for every sub-range whose version is newer than the floor in
	// start.
	SendBackfillPre(ctx context.Context, start rangemap.Map[types.Timestamp],
		consumer PreItemConsumer) (Decision, error)

	// ReceiveBackfill installs a chunk of items received from a source and
	// updates the store's metainfo from the chunk's metainfo. Each item
	// replaces its own range; the empty gaps between items leave local
	// contents as they are.
	ReceiveBackfill(ctx context.Context, metainfo rangemap.Map[types.Version], chunk *ItemSeq) error
}
