package chaosmagnet

import (
	"sync"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
)

// FrameTap consumes outbound entropy frames in-process, alongside the
// network distributors. Taps must not block; a slow consumer should buffer
// through NewChannelTap instead.
type FrameTap func(*domain.NetworkFrame)

// NewChannelTap exposes frames via a channel; it returns the tap, the
// read-only channel, and a close function for shutdown. Frames are dropped
// when the buffer is full.
func NewChannelTap(buffer int) (FrameTap, <-chan *domain.NetworkFrame, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *domain.NetworkFrame, buffer)

	// The mutex orders every send against close: a tap that has passed
	// the closed check cannot race a concurrent closeFn into a send on a
	// closed channel.
	var mu sync.Mutex
	closed := false

	tap := func(f *domain.NetworkFrame) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- f:
		default:
		}
	}
	closeFn := func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		closed = true
		close(ch)
	}
	return tap, ch, closeFn
}
