package backfill

import (
	"context"
	"sync"
)

// Window is the flow-control window bounding bytes in flight: a counting
// semaphore with FIFO fairness whose acquisitions can be resized after the
// fact and transferred between holders.
type Window struct {
	mu       sync.Mutex
	capacity int64
	avail    int64
	waiters  []*windowWaiter
}

type windowWaiter struct {
	n     int64
	ready chan struct{}
}

// NewWindow creates a window with the given byte capacity.
func NewWindow(capacity int64) *Window {
	return &Window{capacity: capacity, avail: capacity}
}

// Capacity returns the configured capacity.
func (w *Window) Capacity() int64 {
	return w.capacity
}

// Hold returns an empty acquisition that bytes can be transferred into.
func (w *Window) Hold() *WindowAcq {
	return &WindowAcq{w: w}
}

// Acquire blocks until n bytes are free and reserves them. Waiters are
// admitted strictly in arrival order.
func (w *Window) Acquire(ctx context.Context, n int64) (*WindowAcq, error) {
	w.mu.Lock()
	if len(w.waiters) == 0 && w.avail >= n {
		w.avail -= n
		w.mu.Unlock()
		return &WindowAcq{w: w, count: n}, nil
	}
	wt := &windowWaiter{n: n, ready: make(chan struct{})}
	w.waiters = append(w.waiters, wt)
	w.mu.Unlock()

	select {
	case <-wt.ready:
		return &WindowAcq{w: w, count: n}, nil
	case <-ctx.Done():
		w.mu.Lock()
		select {
		case <-wt.ready:
			// Granted concurrently with cancellation; give the bytes back.
			w.avail += n
			w.grantLocked()
		default:
			for i, other := range w.waiters {
				if other == wt {
					w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
					break
				}
			}
		}
		w.mu.Unlock()
		return nil, ctx.Err()
	}
}

// grantLocked admits waiters from the front while their reservations fit.
func (w *Window) grantLocked() {
	for len(w.waiters) > 0 {
		wt := w.waiters[0]
		if w.avail < wt.n {
			return
		}
		w.avail -= wt.n
		w.waiters = w.waiters[1:]
		close(wt.ready)
	}
}

// WindowAcq is a reservation of bytes in a Window.
type WindowAcq struct {
	w     *Window
	count int64
}

// Count returns the currently reserved byte count.
func (a *WindowAcq) Count() int64 {
	a.w.mu.Lock()
	defer a.w.mu.Unlock()
	return a.count
}

// ChangeCount resizes the reservation to n bytes without blocking. Growing
// past the window's free space is permitted; the deficit is paid back as
// other reservations release.
func (a *WindowAcq) ChangeCount(n int64) {
	a.w.mu.Lock()
	defer a.w.mu.Unlock()
	delta := n - a.count
	a.count = n
	a.w.avail -= delta
	if delta < 0 {
		a.w.grantLocked()
	}
}

// TransferIn moves the other reservation's bytes into this one, leaving the
// other empty. No bytes are released in the process.
func (a *WindowAcq) TransferIn(other *WindowAcq) {
	if a.w != other.w {
		panic("BUG: transfer between different windows")
	}
	a.w.mu.Lock()
	defer a.w.mu.Unlock()
	a.count += other.count
	other.count = 0
}

// ReleaseN gives back n reserved bytes. It reports false, releasing nothing,
// if n exceeds the reservation.
func (a *WindowAcq) ReleaseN(n int64) bool {
	a.w.mu.Lock()
	defer a.w.mu.Unlock()
	if n > a.count {
		return false
	}
	a.count -= n
	a.w.avail += n
	a.w.grantLocked()
	return true
}

// Release gives back the whole reservation.
func (a *WindowAcq) Release() {
	a.ChangeCount(0)
}
