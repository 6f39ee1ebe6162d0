package host

import "time"

// corruptTracker escalates systematic payload corruption to a transport
// error. Isolated corrupt frames are dropped and forgotten; threshold
// failures inside the window force the connection down so the producer
// re-establishes a clean stream.
type corruptTracker struct {
	window    time.Duration
	threshold int
	failures  []time.Time
}

func newCorruptTracker(window time.Duration, threshold int) *corruptTracker {
	return &corruptTracker{window: window, threshold: threshold}
}

// record registers one decode failure and reports whether the connection
// should be torn down.
func (t *corruptTracker) record(now time.Time) bool {
	cutoff := now.Add(-t.window)
	kept := t.failures[:0]
	for _, at := range t.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	t.failures = append(kept, now)
	return len(t.failures) >= t.threshold
}
