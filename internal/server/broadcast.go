package server

import "sync"

// changeBroadcaster lets every viewer connection's writer goroutine block
// until the insertion pipeline has bumped at least one node's version
// since the writer last looked, instead of polling the tree on a timer.
// Grounded on pkg/insertion's scheduler, which uses the same
// sync.Cond-guarded-counter shape to wake a blocked worker without a
// separate channel per waiter.
type changeBroadcaster struct {
	mu     sync.Mutex
	c      *sync.Cond
	gen    uint64
	closed bool
}

func newChangeBroadcaster() *changeBroadcaster {
	b := &changeBroadcaster{}
	b.c = sync.NewCond(&b.mu)
	return b
}

// notify bumps the generation counter and wakes every waiter. Called from
// the insertion pipeline's onVersionBump hook.
func (b *changeBroadcaster) notify() {
	b.mu.Lock()
	b.gen++
	b.mu.Unlock()
	b.c.Broadcast()
}

// close wakes every waiter permanently, used at shutdown so writer
// goroutines blocked in wait can observe closed and exit.
func (b *changeBroadcaster) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.c.Broadcast()
}

// wait blocks until the generation counter advances past last, or the
// broadcaster is closed, and returns the generation observed (so the
// caller can pass it back in on the next call).
func (b *changeBroadcaster) wait(last uint64) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.gen == last && !b.closed {
		b.c.Wait()
	}
	return b.gen, !b.closed
}
