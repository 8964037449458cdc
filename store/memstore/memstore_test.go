package memstore_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/rangemap"
	"github.com/rangekv/go-rangekv/store"
	"github.com/rangekv/go-rangekv/store/memstore"
)

var testBranch = types.NewBranchID()

func version(ts types.Timestamp) types.Version {
	return types.Version{Branch: testBranch, Timestamp: ts}
}

func newStore(t *testing.T, keys ...string) *memstore.Store {
	s := memstore.New(zaptest.NewLogger(t), types.FullRegion(), types.ZeroVersion())
	for _, k := range keys {
		s.Put(types.Key(k), []byte("value-"+k), version(1))
	}
	return s
}

// testProducer feeds a fixed hint buffer to the traversal.
type testProducer struct {
	seq      store.PreItemSeq
	released int
	aborted  bool
}

func newTestProducer(start types.RightBound) *testProducer {
	return &testProducer{seq: store.NewSeq[store.PreItem](0, math.MaxUint64, start)}
}

func (p *testProducer) NextPreItem() (*store.PreItem, types.RightBound, store.Decision) {
	if !p.seq.EmptyOfItems() {
		front := p.seq.Front()
		return &front, types.RightBound{}, store.Continue
	}
	if !p.seq.EmptyDomain() {
		edge := p.seq.RightEdge()
		p.seq.DeleteToKey(edge)
		return nil, edge, store.Continue
	}
	p.aborted = true
	return nil, types.RightBound{}, store.Abort
}

func (p *testProducer) ReleasePreItem() {
	tmp := store.NewSeq[store.PreItem](p.seq.BegHash(), p.seq.EndHash(), p.seq.LeftEdge())
	p.seq.PopFrontInto(&tmp)
	p.released++
}

// coveringProducer announces "no hints anywhere" for the whole key space.
func coveringProducer() *testProducer {
	p := newTestProducer(types.BoundAt(types.Key("")))
	p.seq.PushBackNothing(types.Unbounded())
	return p
}

// testConsumer collects items into a chunk, aborting at the size limit.
type testConsumer struct {
	chunk store.ItemSeq
	limit int
}

func newTestConsumer(start types.RightBound, limit int) *testConsumer {
	return &testConsumer{
		chunk: store.NewSeq[store.Item](0, math.MaxUint64, start),
		limit: limit,
	}
}

func (c *testConsumer) OnItem(_ rangemap.Map[types.Version], item store.Item) store.Decision {
	c.chunk.PushBack(item)
	if c.limit > 0 && c.chunk.MemSize() >= c.limit {
		return store.Abort
	}
	return store.Continue
}

func (c *testConsumer) OnEmptyRange(_ rangemap.Map[types.Version], newRight types.RightBound) store.Decision {
	if newRight.Compare(c.chunk.RightEdge()) > 0 {
		c.chunk.PushBackNothing(newRight)
	}
	return store.Continue
}

func (c *testConsumer) keys() []string {
	var out []string
	for _, it := range c.chunk.Items() {
		out = append(out, string(it.Key))
	}
	return out
}

func floorMap(ts types.Timestamp) rangemap.Map[types.Timestamp] {
	return rangemap.New(types.FullKeyRange(), ts)
}

func TestSendBackfillAllItems(t *testing.T) {
	s := newStore(t, "a", "b", "c")
	cons := newTestConsumer(types.BoundAt(types.Key("")), 0)

	dec, err := s.SendBackfill(context.Background(), floorMap(0), coveringProducer(), cons)
	require.NoError(t, err)
	require.Equal(t, store.Continue, dec)
	require.Equal(t, []string{"a", "b", "c"}, cons.keys())
	require.True(t, cons.chunk.RightEdge().Unbounded)
}

func TestSendBackfillFloorSkipsEverything(t *testing.T) {
	s := newStore(t, "a", "b", "c")
	cons := newTestConsumer(types.BoundAt(types.Key("")), 0)

	dec, err := s.SendBackfill(context.Background(), floorMap(1), coveringProducer(), cons)
	require.NoError(t, err)
	require.Equal(t, store.Continue, dec)
	require.Empty(t, cons.keys())
	// The whole domain is still covered, as emptiness.
	require.True(t, cons.chunk.RightEdge().Unbounded)
}

func TestSendBackfillHintSkipsMiddle(t *testing.T) {
	s := newStore(t, "a", "b", "c", "d")
	prod := newTestProducer(types.BoundAt(types.Key("")))
	prod.seq.PushBack(store.PreItem{
		Range:   types.KeyRange{Left: types.Key("b"), Right: types.BoundAt(types.Key("d"))},
		Version: version(1),
	})
	prod.seq.PushBackNothing(types.Unbounded())
	cons := newTestConsumer(types.BoundAt(types.Key("")), 0)

	dec, err := s.SendBackfill(context.Background(), floorMap(0), prod, cons)
	require.NoError(t, err)
	require.Equal(t, store.Continue, dec)
	require.Equal(t, []string{"a", "d"}, cons.keys())
	require.Equal(t, 1, prod.released)
}

func TestSendBackfillConsumerAbortAndResume(t *testing.T) {
	s := newStore(t, "a", "b", "c", "d")
	cons := newTestConsumer(types.BoundAt(types.Key("")), 1)

	dec, err := s.SendBackfill(context.Background(), floorMap(0), coveringProducer(), cons)
	require.NoError(t, err)
	require.Equal(t, store.Abort, dec)
	require.Equal(t, []string{"a"}, cons.keys())

	// Resume from where the chunk stopped.
	edge := cons.chunk.RightEdge()
	rest := newTestConsumer(edge, 0)
	prod := newTestProducer(edge)
	prod.seq.PushBackNothing(types.Unbounded())
	restFloor := floorMap(0).Mask(types.KeyRange{Left: edge.Key, Right: types.Unbounded()})
	dec, err = s.SendBackfill(context.Background(), restFloor, prod, rest)
	require.NoError(t, err)
	require.Equal(t, store.Continue, dec)
	require.Equal(t, []string{"b", "c", "d"}, rest.keys())
}

func TestSendBackfillProducerStarves(t *testing.T) {
	s := newStore(t, "a")
	prod := newTestProducer(types.BoundAt(types.Key("")))
	cons := newTestConsumer(types.BoundAt(types.Key("")), 0)

	dec, err := s.SendBackfill(context.Background(), floorMap(0), prod, cons)
	require.NoError(t, err)
	require.Equal(t, store.Abort, dec)
	require.True(t, prod.aborted)
	require.Empty(t, cons.keys())
}

func TestSendBackfillPre(t *testing.T) {
	s := newStore(t, "b", "c")
	collector := &preCollector{
		chunk: store.NewSeq[store.PreItem](0, math.MaxUint64, types.BoundAt(types.Key(""))),
	}

	dec, err := s.SendBackfillPre(context.Background(), floorMap(0), collector)
	require.NoError(t, err)
	require.Equal(t, store.Continue, dec)
	require.True(t, collector.chunk.RightEdge().Unbounded)
	require.NotEmpty(t, collector.chunk.Items())
	for _, p := range collector.chunk.Items() {
		require.Equal(t, types.Timestamp(1), p.Version.Timestamp)
	}

	// With floors at the current version there is nothing to announce.
	empty := &preCollector{
		chunk: store.NewSeq[store.PreItem](0, math.MaxUint64, types.BoundAt(types.Key(""))),
	}
	dec, err = s.SendBackfillPre(context.Background(), floorMap(1), empty)
	require.NoError(t, err)
	require.Equal(t, store.Continue, dec)
	require.Empty(t, empty.chunk.Items())
	require.True(t, empty.chunk.RightEdge().Unbounded)
}

type preCollector struct {
	chunk store.PreItemSeq
}

func (pc *preCollector) OnPreItem(item store.PreItem) store.Decision {
	pc.chunk.PushBack(item)
	return store.Continue
}

func (pc *preCollector) OnEmptyRange(newRight types.RightBound) store.Decision {
	if newRight.Compare(pc.chunk.RightEdge()) > 0 {
		pc.chunk.PushBackNothing(newRight)
	}
	return store.Continue
}

func TestReceiveBackfill(t *testing.T) {
	src := newStore(t, "a", "b")
	src.Delete(types.Key("b"), version(2))
	sink := newStore(t)

	cons := newTestConsumer(types.BoundAt(types.Key("")), 0)
	dec, err := src.SendBackfill(context.Background(), floorMap(0), coveringProducer(), cons)
	require.NoError(t, err)
	require.Equal(t, store.Continue, dec)

	meta, err := src.GetMetainfo(context.Background())
	require.NoError(t, err)
	require.NoError(t, sink.ReceiveBackfill(context.Background(), meta, &cons.chunk))

	got, ok := sink.Get(types.Key("a"))
	require.True(t, ok)
	require.Equal(t, []byte("value-a"), got)
	_, ok = sink.Get(types.Key("b"))
	require.False(t, ok)

	sinkMeta, err := sink.GetMetainfo(context.Background())
	require.NoError(t, err)
	v, ok := sinkMeta.ValueAt(types.Key("a"))
	require.True(t, ok)
	require.Equal(t, version(1), v)
	v, ok = sinkMeta.ValueAt(types.Key("b"))
	require.True(t, ok)
	require.Equal(t, version(2), v)
}
