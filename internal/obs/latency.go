package obs

import (
	"sync/atomic"
	"time"
)

// LatencyWindow aggregates duration samples between two reads. Take returns
// the window and starts a new one, so periodic logs show each interval alone.
type LatencyWindow struct {
	count atomic.Uint64
	sum   atomic.Uint64
	min   atomic.Uint64
	max   atomic.Uint64
}

// LatencySnapshot is one closed window.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Observe records a sample. Negative durations are ignored.
func (w *LatencyWindow) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	w.count.Add(1)
	w.sum.Add(nanos)

	for cur := w.min.Load(); cur == 0 || nanos < cur; cur = w.min.Load() {
		if w.min.CompareAndSwap(cur, nanos) {
			break
		}
	}
	for cur := w.max.Load(); nanos > cur; cur = w.max.Load() {
		if w.max.CompareAndSwap(cur, nanos) {
			break
		}
	}
}

// Take closes the current window. Samples racing with Take may land in
// either window.
func (w *LatencyWindow) Take() LatencySnapshot {
	count := w.count.Swap(0)
	sum := w.sum.Swap(0)
	lo := w.min.Swap(0)
	hi := w.max.Swap(0)
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(lo),
		Max:   time.Duration(hi),
		Avg:   time.Duration(sum / count),
	}
}
