package backfill

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/history"
	"github.com/rangekv/go-rangekv/mailbox"
	"github.com/rangekv/go-rangekv/rangemap"
	"github.com/rangekv/go-rangekv/store"
)

// Backfillee is the sink side of the backfill protocol: it registers with a
// source, streams hints about what it already holds, installs the item
// chunks the source ships, and acknowledges consumed bytes.
type Backfillee struct {
	logger    *zap.Logger
	cfg       Config
	mailboxes *mailbox.Manager
	view      store.View
	clock     clockwork.Clock
	region    types.Region

	ctx    context.Context
	cancel context.CancelFunc
	eg     errgroup.Group

	fifoSource FifoSource
	fifoSink   FifoSink

	preWindow *Window
	preHolder *WindowAcq

	introMB         *mailbox.Mailbox
	itemsMB         *mailbox.Mailbox
	ackPreItemsMB   *mailbox.Mailbox
	ackEndSessionMB *mailbox.Mailbox

	intro2 Intro2
	common rangemap.Map[types.Timestamp]

	streamOnce sync.Once

	mu          sync.Mutex
	applied     types.RightBound
	sessionDone chan struct{}
	ackEnd      chan struct{}
}

// NewBackfillee registers with the source at regAddr and waits for its
// intro-2 reply.
func NewBackfillee(
	ctx context.Context,
	logger *zap.Logger,
	cfg Config,
	mailboxes *mailbox.Manager,
	view store.View,
	hist *history.Manager,
	clock clockwork.Clock,
	regAddr mailbox.Address,
) (*Backfillee, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("backfill config: %w", err)
	}
	region := view.Region()
	initial, err := view.GetMetainfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("read metainfo: %w", err)
	}

	bfCtx, cancel := context.WithCancel(context.Background())
	b := &Backfillee{
		logger:    logger.With(zap.Stringer("region", region)),
		cfg:       cfg,
		mailboxes: mailboxes,
		view:      view,
		clock:     clock,
		region:    region,
		ctx:       bfCtx,
		cancel:    cancel,
		preWindow: NewWindow(cfg.PreItemPipelineSize),
		applied:   types.BoundAt(region.Keys.Left),
	}
	b.preHolder = b.preWindow.Hold()

	introCh := make(chan Intro2, 1)
	b.introMB = mailboxes.Register(mailbox.Typed(b.logger, func(_ context.Context, msg Intro2) {
		select {
		case introCh <- msg:
		default:
		}
	}))
	b.itemsMB = mailboxes.Register(mailbox.Typed(b.logger, b.onItems))
	b.ackPreItemsMB = mailboxes.Register(mailbox.Typed(b.logger, b.onAckPreItems))
	b.ackEndSessionMB = mailboxes.Register(mailbox.Typed(b.logger, b.onAckEndSession))

	mailboxes.Send(regAddr, Intro1{
		Region:                region,
		InitialVersion:        initial,
		InitialVersionHistory: hist.Export(),
		IntroAddr:             b.introMB.Address(),
		ItemsAddr:             b.itemsMB.Address(),
		AckPreItemsAddr:       b.ackPreItemsMB.Address(),
		AckEndSessionAddr:     b.ackEndSessionMB.Address(),
	})

	select {
	case intro2 := <-introCh:
		b.intro2 = intro2
		b.common = intro2.CommonVersion
	case <-ctx.Done():
		b.Close()
		return nil, ctx.Err()
	}
	return b, nil
}

// Applied returns the right boundary of what has been installed locally.
func (b *Backfillee) Applied() types.RightBound {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applied
}

// CommonVersion returns the per-sub-range common version the source
// announced at introduction.
func (b *Backfillee) CommonVersion() rangemap.Map[types.Timestamp] {
	return b.common
}

// Backfill runs one session from the current applied threshold until the
// whole region has been installed.
func (b *Backfillee) Backfill(ctx context.Context) error {
	b.mu.Lock()
	if b.sessionDone != nil {
		b.mu.Unlock()
		return fmt.Errorf("backfill session already running")
	}
	threshold := b.applied
	if threshold.Equal(b.region.Keys.Right) {
		b.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	b.sessionDone = done
	b.mu.Unlock()

	b.startPreItemStream()
	b.mailboxes.Send(b.intro2.BeginSessionAddr, BeginSessionMsg{
		Token:     b.fifoSource.EnterWrite(),
		Threshold: threshold,
	})

	ticker := b.clock.NewTicker(b.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			// Leave the source idle so a later session can begin.
			return b.EndSession(ctx)
		case <-ticker.Chan():
			b.logger.Info("backfill in progress", zap.Stringer("applied", b.Applied()))
		case <-ctx.Done():
			b.mu.Lock()
			b.sessionDone = nil
			b.mu.Unlock()
			return ctx.Err()
		}
	}
}

// EndSession asks the source to stop the current session and waits for the
// acknowledgement. A later Backfill resumes at the applied threshold.
func (b *Backfillee) EndSession(ctx context.Context) error {
	ack := make(chan struct{})
	b.mu.Lock()
	b.sessionDone = nil
	b.ackEnd = ack
	b.mu.Unlock()

	b.mailboxes.Send(b.intro2.EndSessionAddr, EndSessionMsg{
		Token: b.fifoSource.EnterWrite(),
	})
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startPreItemStream launches the hint streamer. Hints flow independently of
// session boundaries, paced by the source's ack-pre-items.
func (b *Backfillee) startPreItemStream() {
	b.streamOnce.Do(func() {
		b.eg.Go(func() error {
			b.streamPreItems(b.ctx)
			return nil
		})
	})
}

func (b *Backfillee) streamPreItems(ctx context.Context) {
	cursor := types.BoundAt(b.region.Keys.Left)
	for cursor.Compare(b.region.Keys.Right) < 0 {
		acq, err := b.preWindow.Acquire(ctx, b.cfg.PreItemChunkSize)
		if err != nil {
			return
		}
		chunk := store.NewSeq[store.PreItem](b.region.BegHash, b.region.EndHash, cursor)
		collector := &preItemCollector{chunk: &chunk, limit: int(b.cfg.PreItemChunkSize)}
		start := b.common.Mask(types.KeyRange{Left: boundKey(cursor), Right: b.region.Keys.Right})
		if _, err := b.view.SendBackfillPre(ctx, start, collector); err != nil {
			acq.Release()
			return
		}
		if chunk.EmptyDomain() {
			acq.Release()
			return
		}
		acq.ChangeCount(int64(chunk.MemSize()))
		b.preHolder.TransferIn(acq)
		b.mailboxes.Send(b.intro2.PreItemsAddr, PreItemsMsg{
			Token: b.fifoSource.EnterWrite(),
			Chunk: chunk,
		})
		cursor = chunk.RightEdge()
	}
}

func (b *Backfillee) onItems(_ context.Context, msg ItemsMsg) {
	release, err := b.fifoSink.Enter(b.ctx, msg.Token)
	if err != nil {
		return
	}
	defer release()

	chunk := msg.Chunk
	if err := b.view.ReceiveBackfill(b.ctx, msg.Metainfo, &chunk); err != nil {
		b.logger.Error("installing backfill chunk failed", zap.Error(err))
		return
	}
	b.mu.Lock()
	b.applied = chunk.RightEdge()
	var done chan struct{}
	if b.applied.Equal(b.region.Keys.Right) {
		done = b.sessionDone
		b.sessionDone = nil
	}
	b.mu.Unlock()

	b.mailboxes.Send(b.intro2.AckItemsAddr, AckItemsMsg{
		Token: b.fifoSource.EnterWrite(),
		Bytes: uint64(chunk.MemSize()),
	})
	if done != nil {
		close(done)
	}
}

func (b *Backfillee) onAckPreItems(_ context.Context, msg AckPreItemsMsg) {
	release, err := b.fifoSink.Enter(b.ctx, msg.Token)
	if err != nil {
		return
	}
	defer release()

	if !b.preHolder.ReleaseN(int64(msg.Bytes)) {
		b.logger.Error("source acked more pre-item bytes than are in flight",
			zap.Uint64("bytes", msg.Bytes))
	}
}

func (b *Backfillee) onAckEndSession(_ context.Context, msg AckEndSessionMsg) {
	release, err := b.fifoSink.Enter(b.ctx, msg.Token)
	if err != nil {
		return
	}
	defer release()

	b.mu.Lock()
	ack := b.ackEnd
	b.ackEnd = nil
	b.mu.Unlock()
	if ack != nil {
		close(ack)
	}
}

// Close tears down the backfillee's mailboxes and stops the hint streamer.
func (b *Backfillee) Close() {
	b.cancel()
	b.eg.Wait()
	for _, mb := range []*mailbox.Mailbox{b.introMB, b.itemsMB, b.ackPreItemsMB, b.ackEndSessionMB} {
		if mb != nil {
			mb.Close()
		}
	}
}

// preItemCollector assembles hint chunks for the stream, splitting once the
// chunk reaches the configured size.
type preItemCollector struct {
	chunk *store.PreItemSeq
	limit int
}

// OnPreItem implements store.PreItemConsumer.
func (pc *preItemCollector) OnPreItem(item store.PreItem) store.Decision {
	pc.chunk.PushBack(item)
	if pc.chunk.MemSize() < pc.limit {
		return store.Continue
	}
	return store.Abort
}

// OnEmptyRange implements store.PreItemConsumer.
func (pc *preItemCollector) OnEmptyRange(newRight types.RightBound) store.Decision {
	if newRight.Compare(pc.chunk.RightEdge()) > 0 {
		pc.chunk.PushBackNothing(newRight)
	}
	return store.Continue
}
