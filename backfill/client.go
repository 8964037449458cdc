package backfill

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/mailbox"
	"github.com/rangekv/go-rangekv/rangemap"
	"github.com/rangekv/go-rangekv/store"
)

// Client is the per-sink session owner on the backfill source. One Client
// exists per registered backfillee; it owns the pre-item buffer, the common
// version map, the flow-control window, and the FIFO ends, and hosts at most
// one session at a time.
type Client struct {
	logger    *zap.Logger
	cfg       Config
	mailboxes *mailbox.Manager
	view      store.View
	intro     Intro1

	fullRegion types.Region

	ctx    context.Context
	cancel context.CancelFunc

	fifoSource FifoSource
	fifoSink   FifoSink

	window *Window
	holder *WindowAcq

	mu            sync.Mutex
	commonVersion rangemap.Map[types.Timestamp]
	preItems      store.PreItemSeq
	session       *session

	preItemsMB     *mailbox.Mailbox
	beginSessionMB *mailbox.Mailbox
	endSessionMB   *mailbox.Mailbox
	ackItemsMB     *mailbox.Mailbox

	fatalOnce sync.Once
	onFatal   func(c *Client, err error)
}

// newClient reconciles versions with the sink, wires the four inbound
// mailboxes, and sends the intro-2 reply.
func newClient(
	ctx context.Context,
	logger *zap.Logger,
	cfg Config,
	mailboxes *mailbox.Manager,
	oracle versionOracle,
	view store.View,
	intro Intro1,
	onFatal func(c *Client, err error),
) (*Client, error) {
	region := intro.Region
	if region.IsEmpty() {
		return nil, fmt.Errorf("%w: registration for empty region", ErrProtocol)
	}
	if intro.InitialVersion.IsEmpty() || !intro.InitialVersion.Domain().Equal(region.Keys) {
		return nil, fmt.Errorf("%w: initial version does not cover the region", ErrProtocol)
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		logger:     logger.With(zap.Stringer("region", region)),
		cfg:        cfg,
		mailboxes:  mailboxes,
		view:       view,
		intro:      intro,
		fullRegion: region,
		ctx:        clientCtx,
		cancel:     cancel,
		window:     NewWindow(cfg.ItemPipelineSize),
		preItems: store.NewSeq[store.PreItem](
			region.BegHash, region.EndHash, types.BoundAt(region.Keys.Left)),
		onFatal: onFatal,
	}
	c.holder = c.window.Hold()

	common, err := c.reconcileVersions(ctx, oracle)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("reconcile versions: %w", err)
	}
	c.commonVersion = common

	c.preItemsMB = mailboxes.Register(mailbox.Typed(c.logger, c.onPreItems))
	c.beginSessionMB = mailboxes.Register(mailbox.Typed(c.logger, c.onBeginSession))
	c.endSessionMB = mailboxes.Register(mailbox.Typed(c.logger, c.onEndSession))
	c.ackItemsMB = mailboxes.Register(mailbox.Typed(c.logger, c.onAckItems))

	mailboxes.Send(intro.IntroAddr, Intro2{
		CommonVersion:    c.commonVersion,
		PreItemsAddr:     c.preItemsMB.Address(),
		BeginSessionAddr: c.beginSessionMB.Address(),
		EndSessionAddr:   c.endSessionMB.Address(),
		AckItemsAddr:     c.ackItemsMB.Address(),
	})
	return c, nil
}

// reconcileVersions computes the greatest version both parties hold, per
// sub-range, from the store's metainfo, the sink's initial version, and the
// combined branch histories.
func (c *Client) reconcileVersions(ctx context.Context, oracle versionOracle) (rangemap.Map[types.Timestamp], error) {
	ourVersion, err := c.view.GetMetainfo(ctx)
	if err != nil {
		return rangemap.Map[types.Timestamp]{}, err
	}
	var pairs []rangemap.Entry[types.Version]
	for _, e1 := range ourVersion.Mask(c.fullRegion.Keys).Entries() {
		for _, e2 := range c.intro.InitialVersion.Mask(e1.Range).Entries() {
			common, err := oracle.FindCommon(e1.Value, e2.Value, e2.Range)
			if err != nil {
				return rangemap.Map[types.Timestamp]{}, err
			}
			pairs = append(pairs, common.Entries()...)
		}
	}
	m, err := rangemap.FromEntries(pairs)
	if err != nil {
		return rangemap.Map[types.Timestamp]{}, err
	}
	return rangemap.Transform(m, func(v types.Version) types.Timestamp {
		return v.Timestamp
	}), nil
}

// fatal aborts the client on a protocol violation.
func (c *Client) fatal(err error) {
	c.fatalOnce.Do(func() {
		protocolViolations.Inc()
		c.logger.Error("aborting backfill client", zap.Error(err))
		c.cancel()
		if c.onFatal != nil {
			go c.onFatal(c, err)
		}
	})
}

func (c *Client) onBeginSession(ctx context.Context, msg BeginSessionMsg) {
	release, err := c.fifoSink.Enter(c.ctx, msg.Token)
	if err != nil {
		c.handleEnterErr(err)
		return
	}
	defer release()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.fatal(fmt.Errorf("%w: begin_session with a session already live", ErrProtocol))
		return
	}
	// Every key must be backfilled at least once: the sink may not skip
	// ahead of what it has been sent.
	if msg.Threshold.Compare(c.preItems.LeftEdge()) > 0 {
		c.fatal(fmt.Errorf("%w: begin_session threshold %s ahead of pre-item cursor %s",
			ErrProtocol, msg.Threshold, c.preItems.LeftEdge()))
		return
	}
	c.session = newSession(c, msg.Threshold)
	c.session.start(c.ctx)
	c.logger.Debug("session started", zap.Stringer("threshold", msg.Threshold))
}

func (c *Client) onEndSession(ctx context.Context, msg EndSessionMsg) {
	release, err := c.fifoSink.Enter(c.ctx, msg.Token)
	if err != nil {
		c.handleEnterErr(err)
		return
	}
	defer release()

	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		c.fatal(fmt.Errorf("%w: end_session with no session live", ErrProtocol))
		return
	}
	s.stop()
	c.mailboxes.Send(c.intro.AckEndSessionAddr, AckEndSessionMsg{
		Token: c.fifoSource.EnterWrite(),
	})
	c.logger.Debug("session ended")
}

func (c *Client) onPreItems(ctx context.Context, msg PreItemsMsg) {
	release, err := c.fifoSink.Enter(c.ctx, msg.Token)
	if err != nil {
		c.handleEnterErr(err)
		return
	}
	defer release()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.preItems.RightEdge().Equal(msg.Chunk.LeftEdge()) {
		c.fatal(fmt.Errorf("%w: pre-items chunk at %s does not extend buffer ending at %s",
			ErrProtocol, msg.Chunk.LeftEdge(), c.preItems.RightEdge()))
		return
	}
	chunk := msg.Chunk
	c.preItems.Concat(&chunk)
	preItemBytesBuffered.Set(float64(c.preItems.MemSize()))
	if c.session != nil {
		c.session.onPreItems()
	}
}

func (c *Client) onAckItems(ctx context.Context, msg AckItemsMsg) {
	release, err := c.fifoSink.Enter(c.ctx, msg.Token)
	if err != nil {
		c.handleEnterErr(err)
		return
	}
	defer release()

	if !c.holder.ReleaseN(int64(msg.Bytes)) {
		c.fatal(fmt.Errorf("%w: ack_items for %d bytes with only %d in flight",
			ErrProtocol, msg.Bytes, c.holder.Count()))
		return
	}
	bytesInFlight.Set(float64(c.holder.Count()))
}

func (c *Client) handleEnterErr(err error) {
	if c.ctx.Err() != nil {
		return
	}
	c.fatal(err)
}

// Close cancels any live session and tears down the client's mailboxes.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s != nil {
		s.stop()
	}
	for _, mb := range []*mailbox.Mailbox{c.preItemsMB, c.beginSessionMB, c.endSessionMB, c.ackItemsMB} {
		if mb != nil {
			mb.Close()
		}
	}
	c.holder.Release()
}
