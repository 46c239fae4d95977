package server

import (
	"testing"
	"time"
)

func TestChangeBroadcasterWaitBlocksUntilNotify(t *testing.T) {
	b := newChangeBroadcaster()

	done := make(chan uint64, 1)
	go func() {
		gen, open := b.wait(0)
		if !open {
			t.Error("wait returned closed before any close() call")
		}
		done <- gen
	}()

	select {
	case <-done:
		t.Fatal("wait returned before notify")
	case <-time.After(20 * time.Millisecond):
	}

	b.notify()

	select {
	case gen := <-done:
		if gen != 1 {
			t.Errorf("got generation %d, want 1", gen)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not return after notify")
	}
}

func TestChangeBroadcasterCoalescesBurstsOfNotify(t *testing.T) {
	b := newChangeBroadcaster()
	b.notify()
	b.notify()
	b.notify()

	gen, open := b.wait(0)
	if !open {
		t.Error("wait reported closed")
	}
	if gen != 3 {
		t.Errorf("got generation %d, want 3 (three notifies collapsed into one observed generation)", gen)
	}
}

func TestChangeBroadcasterCloseWakesWaiters(t *testing.T) {
	b := newChangeBroadcaster()

	done := make(chan bool, 1)
	go func() {
		_, open := b.wait(0)
		done <- open
	}()

	b.close()

	select {
	case open := <-done:
		if open {
			t.Error("wait reported open after close")
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not return after close")
	}
}
