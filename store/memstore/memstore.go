// Package memstore is an in-memory key-range store implementing the backfill
// surface of store.View. It backs tests and the demo binary.
package memstore

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/rangemap"
	"github.com/rangekv/go-rangekv/store"
)

type entry struct {
	key       types.Key
	value     []byte
	tombstone bool
	version   types.Version
}

// Store is a sorted in-memory key-value store with per-sub-range version
// metainfo.
type Store struct {
	logger *zap.Logger
	region types.Region

	mu      sync.RWMutex
	entries []entry
	meta    rangemap.Map[types.Version]
}

var _ store.View = &Store{}

// New creates a store responsible for the given region, with every sub-range
// at the initial version.
func New(logger *zap.Logger, region types.Region, initial types.Version) *Store {
	return &Store{
		logger: logger,
		region: region,
		meta:   rangemap.New(region.Keys, initial),
	}
}

// Region implements store.View.
func (s *Store) Region() types.Region {
	return s.region
}

// GetMetainfo implements store.View.
func (s *Store) GetMetainfo(context.Context) (rangemap.Map[types.Version], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.Mask(s.region.Keys), nil
}

func (s *Store) find(k types.Key) int {
	return sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].key.Compare(k) >= 0
	})
}

func (s *Store) put(e entry) {
	i := s.find(e.key)
	if i < len(s.entries) && s.entries[i].key.Compare(e.key) == 0 {
		s.entries[i] = e
		return
	}
	s.entries = append(s.entries, entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

// Put writes a key at the given version.
func (s *Store) Put(k types.Key, value []byte, v types.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(entry{key: k.Clone(), value: value, version: v})
	s.meta.Update(rangemap.New(
		types.KeyRange{Left: k, Right: types.BoundAfter(k)}, v))
}

// Delete writes a tombstone for a key at the given version.
func (s *Store) Delete(k types.Key, v types.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(entry{key: k.Clone(), tombstone: true, version: v})
	s.meta.Update(rangemap.New(
		types.KeyRange{Left: k, Right: types.BoundAfter(k)}, v))
}

// Get returns the value stored for a key.
func (s *Store) Get(k types.Key) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.find(k)
	if i < len(s.entries) && s.entries[i].key.Compare(k) == 0 && !s.entries[i].tombstone {
		return s.entries[i].value, true
	}
	return nil, false
}

// Keys returns every live key in order. Intended for tests and the demo.
func (s *Store) Keys() []types.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Key, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.tombstone {
			out = append(out, e.key)
		}
	}
	return out
}

// SendBackfill implements store.View. The traversal alternates between the
// producer's hints and the consumer's item callbacks, in key order, over the
// domain of start.
func (s *Store) SendBackfill(
	ctx context.Context,
	start rangemap.Map[types.Timestamp],
	producer store.PreItemProducer,
	consumer store.ItemConsumer,
) (store.Decision, error) {
	if start.IsEmpty() {
		return store.Continue, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	domain := start.Domain()
	pos := types.BoundAt(domain.Left)
	for pos.Compare(domain.Right) < 0 {
		if err := ctx.Err(); err != nil {
			return store.Continue, err
		}
		hint, edge, dec := producer.NextPreItem()
		if dec == store.Abort {
			return store.Abort, nil
		}
		segEnd := edge
		if hint != nil {
			segEnd = hint.Range.Right
		}
		if segEnd.Compare(domain.Right) > 0 {
			segEnd = domain.Right
		}
		dec, err := s.walkSegment(ctx, start, pos, segEnd, hint, consumer)
		if err != nil || dec == store.Abort {
			return dec, err
		}
		if hint != nil && hint.Range.Right.Compare(segEnd) <= 0 {
			producer.ReleasePreItem()
		}
		pos = segEnd
	}
	return store.Continue, nil
}

// walkSegment emits the items of [from, to) that the sink needs, then
// declares the remainder of the segment empty.
func (s *Store) walkSegment(
	ctx context.Context,
	start rangemap.Map[types.Timestamp],
	from, to types.RightBound,
	hint *store.PreItem,
	consumer store.ItemConsumer,
) (store.Decision, error) {
	i := 0
	if !from.Unbounded {
		i = s.find(from.Key)
	} else {
		i = len(s.entries)
	}
	for ; i < len(s.entries); i++ {
		if err := ctx.Err(); err != nil {
			return store.Continue, err
		}
		e := s.entries[i]
		if to.CompareKey(e.key) <= 0 {
			break
		}
		if !s.region.ContainsHash(types.HashOfKey(e.key)) {
			continue
		}
		floor, ok := start.ValueAt(e.key)
		if ok && e.version.Timestamp <= floor {
			continue
		}
		if hint != nil && hint.Range.Contains(e.key) &&
			e.version.Timestamp <= hint.Version.Timestamp {
			continue
		}
		item := store.Item{
			Range:     types.KeyRange{Left: e.key, Right: types.BoundAfter(e.key)},
			Key:       e.key,
			Value:     e.value,
			Tombstone: e.tombstone,
		}
		if consumer.OnItem(s.meta, item) == store.Abort {
			return store.Abort, nil
		}
	}
	return consumer.OnEmptyRange(s.meta, to), nil
}

// SendBackfillPre implements store.View: it emits a hint for every sub-range
// of start's domain whose local version is newer than the floor the source
// already knows the two sides share.
func (s *Store) SendBackfillPre(
	ctx context.Context,
	start rangemap.Map[types.Timestamp],
	consumer store.PreItemConsumer,
) (store.Decision, error) {
	if start.IsEmpty() {
		return store.Continue, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, me := range s.meta.Mask(start.Domain()).Entries() {
		for _, fe := range start.Mask(me.Range).Entries() {
			if err := ctx.Err(); err != nil {
				return store.Continue, err
			}
			sub := me.Range.Intersect(fe.Range)
			if sub.IsEmpty() {
				continue
			}
			var dec store.Decision
			if me.Value.Timestamp > fe.Value {
				dec = consumer.OnPreItem(store.PreItem{Range: sub, Version: me.Value})
			} else {
				dec = consumer.OnEmptyRange(sub.Right)
			}
			if dec == store.Abort {
				return store.Abort, nil
			}
		}
	}
	return store.Continue, nil
}

// ReceiveBackfill implements store.View. Each item is an authoritative
// replacement for its own range; the empty gaps between items mean nothing
// changed there since the version floor the chunk was extracted against, so
// local contents in the gaps are kept.
func (s *Store) ReceiveBackfill(
	ctx context.Context,
	metainfo rangemap.Map[types.Version],
	chunk *store.ItemSeq,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range chunk.Items() {
		v, ok := metainfo.ValueAt(item.Key)
		if !ok {
			v = types.ZeroVersion()
		}
		s.put(entry{
			key:       item.Key.Clone(),
			value:     item.Value,
			tombstone: item.Tombstone,
			version:   v,
		})
	}
	if !metainfo.IsEmpty() {
		s.meta.Update(metainfo.Mask(types.KeyRange{
			Left:  keyOf(chunk.LeftEdge()),
			Right: chunk.RightEdge(),
		}))
	}
	return nil
}

func keyOf(b types.RightBound) types.Key {
	if b.Unbounded {
		return nil
	}
	return b.Key
}
