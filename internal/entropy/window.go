// Package entropy implements the statistical core of ChaosMagnet: the
// per-source health tests (RCT, APT), the entropy estimators, and the
// 32-byte extraction pool. All numeric semantics here are exact and
// deterministic; nothing in this package touches the network or the OS.
package entropy

// Window accumulates a source's raw bytes into fixed, non-overlapping
// estimation windows. Estimator metrics are recomputed once per completed
// window, never per sample, which amortizes cost and avoids biased
// small-sample estimates.
type Window struct {
	size int
	buf  []byte
}

// NewWindow returns a window of the given size in bytes.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, buf: make([]byte, 0, size)}
}

// DefaultWindowSize is the estimation window used when none is configured.
const DefaultWindowSize = 512

// Append feeds a payload into the window and returns every window completed
// by it. A payload larger than the window can complete several at once; the
// returned slices are copies and safe to retain.
func (w *Window) Append(payload []byte) [][]byte {
	var done [][]byte
	for len(payload) > 0 {
		n := w.size - len(w.buf)
		if n > len(payload) {
			n = len(payload)
		}
		w.buf = append(w.buf, payload[:n]...)
		payload = payload[n:]

		if len(w.buf) == w.size {
			full := make([]byte, w.size)
			copy(full, w.buf)
			done = append(done, full)
			w.buf = w.buf[:0]
		}
	}
	return done
}

// Pending reports how many bytes are buffered toward the next window.
func (w *Window) Pending() int { return len(w.buf) }

// Reset discards any partially filled window.
func (w *Window) Reset() { w.buf = w.buf[:0] }
