package backfill

import (
	"context"
	"fmt"
	"sync"
)

// WriteToken is an opaque ordering token issued by a peer's FifoSource. A
// receiver serializes handlers by token order regardless of which mailbox a
// message arrived on.
type WriteToken uint64

// FifoSource issues write tokens in a monotonically increasing sequence.
type FifoSource struct {
	mu   sync.Mutex
	next uint64
}

// EnterWrite issues the next token. Tokens must be attached to messages in
// the order they are issued.
func (s *FifoSource) EnterWrite() WriteToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.next
	s.next++
	return WriteToken(t)
}

// FifoSink serializes handlers by the tokens their messages carry: a handler
// entering with token t runs only after the handlers for all tokens below t
// have completed.
type FifoSink struct {
	mu      sync.Mutex
	next    uint64
	waiters map[uint64]chan struct{}
}

// Enter blocks until every earlier token has been released, then returns a
// release function that admits the next token. A token at or below an
// already released one is a protocol violation.
func (k *FifoSink) Enter(ctx context.Context, t WriteToken) (func(), error) {
	k.mu.Lock()
	if uint64(t) < k.next {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: write token %d reused (expected at least %d)",
			ErrProtocol, t, k.next)
	}
	if uint64(t) == k.next {
		k.mu.Unlock()
		return func() { k.release() }, nil
	}
	if k.waiters == nil {
		k.waiters = make(map[uint64]chan struct{})
	}
	if _, ok := k.waiters[uint64(t)]; ok {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: write token %d carried by two messages", ErrProtocol, t)
	}
	ch := make(chan struct{})
	k.waiters[uint64(t)] = ch
	k.mu.Unlock()

	select {
	case <-ch:
		return func() { k.release() }, nil
	case <-ctx.Done():
		k.mu.Lock()
		select {
		case <-ch:
			// Admitted concurrently with cancellation; pass the turn on so
			// later tokens are not stranded.
			k.mu.Unlock()
			k.release()
		default:
			delete(k.waiters, uint64(t))
			k.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

func (k *FifoSink) release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.next++
	if ch, ok := k.waiters[k.next]; ok {
		delete(k.waiters, k.next)
		close(ch)
	}
}
