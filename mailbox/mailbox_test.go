package mailbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rangekv/go-rangekv/mailbox"
)

type testMsg struct {
	Seq uint64 `cbor:"1,keyasint,omitempty"`
}

func TestSendDeliversInOrder(t *testing.T) {
	mgr := mailbox.NewManager(zaptest.NewLogger(t))
	defer mgr.Close()

	var mu sync.Mutex
	var got []uint64
	done := make(chan struct{})
	mb := mgr.Register(mailbox.Typed(zaptest.NewLogger(t), func(_ context.Context, m testMsg) {
		mu.Lock()
		got = append(got, m.Seq)
		n := len(got)
		mu.Unlock()
		if n == 100 {
			close(done)
		}
	}))
	defer mb.Close()

	for i := uint64(1); i <= 100; i++ {
		mgr.Send(mb.Address(), testMsg{Seq: i})
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("messages not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, seq := range got {
		require.Equal(t, uint64(i+1), seq)
	}
}

func TestSendToUnknownAddressIsDropped(t *testing.T) {
	mgr := mailbox.NewManager(zaptest.NewLogger(t))
	defer mgr.Close()

	// Must not panic or block.
	mgr.Send(mailbox.Address{ID: "nobody"}, testMsg{Seq: 1})
}

func TestClosedMailboxDropsMail(t *testing.T) {
	mgr := mailbox.NewManager(zaptest.NewLogger(t))
	defer mgr.Close()

	delivered := make(chan struct{}, 10)
	mb := mgr.Register(mailbox.Typed(zaptest.NewLogger(t), func(_ context.Context, m testMsg) {
		delivered <- struct{}{}
	}))
	addr := mb.Address()
	mb.Close()

	mgr.Send(addr, testMsg{Seq: 1})
	select {
	case <-delivered:
		t.Fatal("message delivered to a closed mailbox")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTypedDropsUndecodable(t *testing.T) {
	mgr := mailbox.NewManager(zaptest.NewLogger(t))
	defer mgr.Close()

	delivered := make(chan testMsg, 1)
	mb := mgr.Register(mailbox.Typed(zaptest.NewLogger(t), func(_ context.Context, m testMsg) {
		delivered <- m
	}))
	defer mb.Close()

	// A payload of the wrong shape is dropped; a good one still arrives.
	mgr.Send(mb.Address(), []string{"not", "a", "testMsg"})
	mgr.Send(mb.Address(), testMsg{Seq: 7})

	select {
	case m := <-delivered:
		require.Equal(t, uint64(7), m.Seq)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}
