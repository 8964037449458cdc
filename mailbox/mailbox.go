// Package mailbox provides addressable, ordered, in-process message delivery.
// Messages sent to one address are handled in send order; ordering across
// addresses is the receiver's concern.
package mailbox

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rangekv/go-rangekv/codec"
)

// Address names a mailbox. The zero value addresses nothing.
type Address struct {
	ID string `cbor:"1,keyasint,omitempty"`
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.ID == ""
}

// String implements fmt.Stringer.
func (a Address) String() string {
	if a.IsZero() {
		return "addr(nil)"
	}
	return "addr(" + a.ID[:8] + ")"
}

// Handler consumes one encoded payload. Handlers for a single mailbox run
// sequentially; a slow handler only delays its own mailbox.
type Handler func(ctx context.Context, payload []byte)

// Manager owns a set of mailboxes and routes sends to them.
type Manager struct {
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	eg     errgroup.Group

	mu    sync.Mutex
	boxes map[string]*box
}

// NewManager creates a manager. Close must be called to stop delivery.
func NewManager(logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		boxes:  make(map[string]*box),
	}
}

// Register creates a mailbox delivering to the handler.
func (m *Manager) Register(h Handler) *Mailbox {
	b := &box{handler: h, wake: make(chan struct{}, 1)}
	addr := Address{ID: uuid.NewString()}
	m.mu.Lock()
	m.boxes[addr.ID] = b
	m.mu.Unlock()
	m.eg.Go(func() error {
		b.run(m.ctx)
		return nil
	})
	return &Mailbox{m: m, addr: addr}
}

// Send encodes msg and enqueues it for the addressed mailbox. It never
// blocks. A send to an unknown or closed address is dropped the way a
// network drops mail for a dead peer.
func (m *Manager) Send(addr Address, msg any) {
	payload, err := codec.Encode(msg)
	if err != nil {
		m.logger.Error("mailbox send: encode failed", zap.Error(err), zap.Stringer("addr", addr))
		return
	}
	m.mu.Lock()
	b, ok := m.boxes[addr.ID]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("mailbox send: no such address", zap.Stringer("addr", addr))
		return
	}
	b.enqueue(payload)
}

// Close stops all delivery and waits for in-flight handlers to return.
func (m *Manager) Close() {
	m.cancel()
	m.eg.Wait()
}

func (m *Manager) unregister(addr Address) {
	m.mu.Lock()
	b, ok := m.boxes[addr.ID]
	delete(m.boxes, addr.ID)
	m.mu.Unlock()
	if ok {
		b.close()
	}
}

// Mailbox is a registered delivery endpoint.
type Mailbox struct {
	m    *Manager
	addr Address
}

// Address returns the mailbox's address.
func (mb *Mailbox) Address() Address {
	return mb.addr
}

// Close unregisters the mailbox. Queued but undelivered messages are dropped.
func (mb *Mailbox) Close() {
	mb.m.unregister(mb.addr)
}

type box struct {
	handler Handler

	mu     sync.Mutex
	queue  [][]byte
	closed bool
	wake   chan struct{}
}

func (b *box) enqueue(payload []byte) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, payload)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *box) close() {
	b.mu.Lock()
	b.closed = true
	b.queue = nil
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *box) run(ctx context.Context) {
	for {
		b.mu.Lock()
		var payload []byte
		switch {
		case len(b.queue) > 0:
			payload = b.queue[0]
			b.queue = b.queue[1:]
		case b.closed:
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()
		if payload != nil {
			b.handler(ctx, payload)
			continue
		}
		select {
		case <-b.wake:
		case <-ctx.Done():
			return
		}
	}
}

// Typed adapts a handler for a concrete message type, decoding the payload
// and dropping messages that do not parse.
func Typed[T any](logger *zap.Logger, h func(ctx context.Context, msg T)) Handler {
	return func(ctx context.Context, payload []byte) {
		var msg T
		if err := codec.Decode(payload, &msg); err != nil {
			logger.Error("mailbox: dropping undecodable message", zap.Error(err))
			return
		}
		h(ctx, msg)
	}
}
