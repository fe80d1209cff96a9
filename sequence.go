package flexlink

import "log"

// seqResult classifies one arriving unit against the tracker's expectation.
type seqResult int

const (
	seqAccept seqResult = iota // in order, or the new baseline after a gap
	seqStale                   // late duplicate or reordered straggler, drop
)

// seqTracker is the gap/reorder classifier shared by every streaming
// consumer. Audio and IQ streams run it over the 4-bit VITA packet count
// (modulo 16); panadapter and waterfall frames run it over their full-width
// frame index (modulo 0). With hold set, an accepted value does not advance
// the expectation - multi-packet frames call Advance once the frame
// completes, so every unit of the frame compares equal.
type seqTracker struct {
	name   string
	modulo uint32 // 0 = full-width monotonic space
	hold   bool

	expected uint32
	primed   bool

	Received uint64
	Lost     uint64
	Stale    uint64
}

// Observe classifies received and updates the tracker. seqAccept means the
// caller should consume the unit; a gap both counts as loss and yields
// seqAccept with received as the new baseline.
func (t *seqTracker) Observe(received uint32) seqResult {
	if !t.primed {
		t.primed = true
		t.expected = received
		return t.accept(received)
	}
	if received == t.expected {
		return t.accept(received)
	}

	if t.before(received) {
		t.Stale++
		log.Printf("Warning: %s: stale unit %d (expected %d), dropping", t.name, received, t.expected)
		return seqStale
	}

	// Gap: the expected unit(s) never arrived. Re-baseline on the unit we
	// do have and consume it.
	t.Lost++
	if t.Received > 0 {
		log.Printf("Warning: %s: sequence gap, got %d expected %d (lost %d/%d, %.2f%%)",
			t.name, received, t.expected, t.Lost, t.Received,
			float64(t.Lost)/float64(t.Received)*100)
	}
	t.expected = received
	return t.accept(received)
}

// Advance moves the expectation past an accepted value. Hold-mode callers
// invoke it when a multi-packet frame completes.
func (t *seqTracker) Advance() {
	t.expected = t.inc(t.expected)
}

func (t *seqTracker) accept(received uint32) seqResult {
	t.Received++
	if !t.hold {
		t.expected = t.inc(received)
	}
	return seqAccept
}

func (t *seqTracker) inc(v uint32) uint32 {
	v++
	if t.modulo != 0 {
		v %= t.modulo
	}
	return v
}

// before reports whether received falls behind the expectation. In a
// modulo space the half furthest from expected counts as behind.
func (t *seqTracker) before(received uint32) bool {
	if t.modulo == 0 {
		return received < t.expected
	}
	diff := (received + t.modulo - t.expected) % t.modulo
	return diff >= t.modulo/2
}
