package backfill

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/rangemap"
	"github.com/rangekv/go-rangekv/store"
)

// pulseCond is a one-shot condition the pre-items handler fires when hints
// arrive while the pump is starved.
type pulseCond struct {
	once chan struct{}
}

func newPulse() *pulseCond {
	return &pulseCond{once: make(chan struct{})}
}

// Pulse fires the condition. Pulsing twice is fine.
func (p *pulseCond) Pulse() {
	select {
	case <-p.once:
	default:
		close(p.once)
	}
}

// session is a single begin-session / end-session envelope within a client,
// hosting one chunk pump.
type session struct {
	c         *Client
	threshold types.RightBound

	// pulseWhenPreItemsArrive is installed by the producer when the hint
	// buffer runs dry, and fired by the pre-items handler. Guarded by c.mu.
	pulseWhenPreItemsArrive *pulseCond

	cancel context.CancelFunc
	eg     errgroup.Group
}

func newSession(c *Client, threshold types.RightBound) *session {
	return &session{c: c, threshold: threshold}
}

func (s *session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	activeSessions.Inc()
	s.eg.Go(func() error {
		defer activeSessions.Dec()
		s.run(ctx)
		return nil
	})
}

// stop cancels the pump and waits for it to reach its next interruptible
// point and unwind. The pump is never force-killed inside a chunk commit.
func (s *session) stop() {
	s.cancel()
	s.eg.Wait()
}

// onPreItems is called by the pre-items handler with c.mu held.
func (s *session) onPreItems() {
	if s.pulseWhenPreItemsArrive != nil {
		s.pulseWhenPreItemsArrive.Pulse()
	}
}

// run is the chunk pump. Each iteration reserves window budget, drains store
// items bounded by the chunk size, ships the chunk, settles the session
// bookkeeping, and acknowledges consumed hints.
func (s *session) run(ctx context.Context) {
	c := s.c
	for !s.threshold.Equal(c.fullRegion.Keys.Right) {
		// Wait until there's room in the window for the chunk we're about
		// to extract.
		acq, err := c.window.Acquire(ctx, c.cfg.ItemChunkSize)
		if err != nil {
			return
		}

		// The sub-range that still needs to be backfilled.
		subRange := types.KeyRange{
			Left:  boundKey(s.threshold),
			Right: c.fullRegion.Keys.Right,
		}

		chunk := store.NewSeq[store.Item](c.fullRegion.BegHash, c.fullRegion.EndHash, s.threshold)
		metainfo := rangemap.Empty[types.Version]()

		c.mu.Lock()
		start := c.commonVersion.Mask(subRange)
		producer := newPreItemProducer(c, s)
		c.mu.Unlock()

		consumer := &chunkConsumer{
			chunk:    &chunk,
			metainfo: &metainfo,
			limit:    int(c.cfg.ItemChunkSize),
		}

		_, serr := c.view.SendBackfill(ctx, start, producer, consumer)

		// Whatever happened inside the store, hand the consumed hints back
		// so that a chunk that is not ultimately shipped does not advance
		// the sink-visible cursor.
		producer.restore()

		if serr != nil {
			acq.Release()
			return
		}

		if !chunk.LeftEdge().Equal(chunk.RightEdge()) {
			// Adjust for the fact that the chunk's real size isn't exactly
			// the nominal reservation, then move the reservation into the
			// session-scoped holder.
			acq.ChangeCount(int64(chunk.MemSize()))
			c.holder.TransferIn(acq)

			s.threshold = chunk.RightEdge()

			// The sink's state and our bookkeeping must move together:
			// nothing below may observe cancellation until the matching
			// ack-pre-items is on the wire.
			c.mailboxes.Send(c.intro.ItemsAddr, ItemsMsg{
				Token:    c.fifoSource.EnterWrite(),
				Metainfo: metainfo,
				Chunk:    chunk,
			})
			chunksSent.Inc()
			itemBytesSent.Add(float64(chunk.MemSize()))
			bytesInFlight.Set(float64(c.holder.Count()))

			var freed int
			c.mu.Lock()
			c.commonVersion.Update(rangemap.Transform(metainfo,
				func(v types.Version) types.Timestamp { return v.Timestamp }))
			oldSize := c.preItems.MemSize()
			c.preItems.DeleteToKey(s.threshold)
			freed = oldSize - c.preItems.MemSize()
			preItemBytesBuffered.Set(float64(c.preItems.MemSize()))
			c.mu.Unlock()

			// Tell the backfillee it's OK to send more pre-items.
			c.mailboxes.Send(c.intro.AckPreItemsAddr, AckPreItemsMsg{
				Token: c.fifoSource.EnterWrite(),
				Bytes: uint64(freed),
			})
		} else {
			acq.Release()
		}

		c.mu.Lock()
		pulse := s.pulseWhenPreItemsArrive
		c.mu.Unlock()
		if pulse != nil {
			// The chunk stopped because we ran out of hints. Park until
			// more arrive.
			select {
			case <-pulse.once:
			case <-ctx.Done():
				return
			}
			c.mu.Lock()
			s.pulseWhenPreItemsArrive = nil
			c.mu.Unlock()
		}
	}
	c.logger.Debug("session pump finished",
		zap.Stringer("threshold", s.threshold))
}

func boundKey(b types.RightBound) types.Key {
	if b.Unbounded {
		return nil
	}
	return b.Key
}

// preItemProducer feeds the client's hint buffer to the store traversal,
// moving consumed hints into a temp buffer so that restore can put them back
// on every exit path.
type preItemProducer struct {
	c        *Client
	s        *session
	tempBuf  store.PreItemSeq
	restored bool
}

// newPreItemProducer must be called with c.mu held.
func newPreItemProducer(c *Client, s *session) *preItemProducer {
	return &preItemProducer{
		c: c,
		s: s,
		tempBuf: store.NewSeq[store.PreItem](
			c.preItems.BegHash(), c.preItems.EndHash(), c.preItems.LeftEdge()),
	}
}

// NextPreItem implements store.PreItemProducer.
func (p *preItemProducer) NextPreItem() (*store.PreItem, types.RightBound, store.Decision) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	switch {
	case !p.c.preItems.EmptyOfItems():
		front := p.c.preItems.Front()
		return &front, types.RightBound{}, store.Continue
	case !p.c.preItems.EmptyDomain():
		edge := p.c.preItems.RightEdge()
		p.c.preItems.DeleteToKey(edge)
		p.tempBuf.PushBackNothing(edge)
		return nil, edge, store.Continue
	default:
		p.s.pulseWhenPreItemsArrive = newPulse()
		return nil, types.RightBound{}, store.Abort
	}
}

// ReleasePreItem implements store.PreItemProducer.
func (p *preItemProducer) ReleasePreItem() {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	p.c.preItems.PopFrontInto(&p.tempBuf)
}

// restore re-prepends everything the traversal consumed back onto the live
// buffer. It runs exactly once per store call, on every exit path.
func (p *preItemProducer) restore() {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if p.restored {
		return
	}
	p.restored = true
	p.tempBuf.Concat(&p.c.preItems)
	p.c.preItems = p.tempBuf
}

// chunkConsumer assembles a chunk sequence and its metainfo from the store
// traversal, aborting once the chunk reaches the configured size.
type chunkConsumer struct {
	chunk    *store.ItemSeq
	metainfo *rangemap.Map[types.Version]
	limit    int
}

// OnItem implements store.ItemConsumer.
func (cc *chunkConsumer) OnItem(meta rangemap.Map[types.Version], item store.Item) store.Decision {
	mask := types.KeyRange{
		Left:  boundKey(cc.chunk.RightEdge()),
		Right: item.Range.Right,
	}
	*cc.metainfo = cc.metainfo.Concat(meta.Mask(mask))
	cc.chunk.PushBack(item)
	if cc.chunk.MemSize() < cc.limit {
		return store.Continue
	}
	return store.Abort
}

// OnEmptyRange implements store.ItemConsumer.
func (cc *chunkConsumer) OnEmptyRange(meta rangemap.Map[types.Version], newRight types.RightBound) store.Decision {
	if cc.chunk.RightEdge().Equal(newRight) {
		return store.Continue
	}
	mask := types.KeyRange{
		Left:  boundKey(cc.chunk.RightEdge()),
		Right: newRight,
	}
	*cc.metainfo = cc.metainfo.Concat(meta.Mask(mask))
	cc.chunk.PushBackNothing(newRight)
	return store.Continue
}
