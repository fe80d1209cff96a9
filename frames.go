package flexlink

import (
	"encoding/binary"
	"log"
)

// frameRingLen is the number of reusable frame buffers per stream. Frames
// in flight never exceed one, but completed frames are handed to the
// consumer while the next one fills, so keep a few around.
const frameRingLen = 8

// SpectrumFrame is one fully reassembled line of spectral data. The Bins
// slice belongs to a fixed ring owned by the assembler and is overwritten
// frameRingLen frames later; consumers that keep data longer must copy.
type SpectrumFrame struct {
	FrameIndex uint32
	TotalBins  int
	Bins       []uint16

	filled int
}

// frameAssembler accumulates multi-packet spectrum frames. Units carry a
// full-width frame index; the shared sequence tracker decides whether a
// unit belongs to the current frame, is a stale straggler, or starts a new
// frame after loss.
type frameAssembler struct {
	tracker seqTracker
	ring    [frameRingLen]SpectrumFrame
	cursor  int
	cur     *SpectrumFrame
}

func newFrameAssembler(name string) *frameAssembler {
	return &frameAssembler{
		tracker: seqTracker{name: name, hold: true},
	}
}

// Accept merges one unit into the in-progress frame. bins holds the unit's
// big-endian uint16 values; they are decoded straight into the ring buffer
// so the steady state allocates nothing. Accept returns the completed frame
// once the accumulated bin count reaches the declared total, else nil.
// Structurally invalid units are dropped before any sequence accounting.
func (a *frameAssembler) Accept(frameIndex uint32, firstBin, binCount, totalBins int, bins []byte) *SpectrumFrame {
	if totalBins <= 0 || binCount <= 0 || firstBin < 0 || firstBin+binCount > totalBins || binCount*2 > len(bins) {
		log.Printf("Warning: %s: invalid frame unit (first=%d count=%d total=%d), dropping",
			a.tracker.name, firstBin, binCount, totalBins)
		return nil
	}

	if a.tracker.Observe(frameIndex) == seqStale {
		return nil
	}

	if a.cur == nil || a.cur.FrameIndex != frameIndex {
		a.cur = &a.ring[a.cursor]
		a.cursor = (a.cursor + 1) % frameRingLen
		a.cur.FrameIndex = frameIndex
		a.cur.TotalBins = totalBins
		a.cur.filled = 0
		if cap(a.cur.Bins) < totalBins {
			a.cur.Bins = make([]uint16, totalBins)
		}
		a.cur.Bins = a.cur.Bins[:totalBins]
	}

	for i := 0; i < binCount; i++ {
		a.cur.Bins[firstBin+i] = binary.BigEndian.Uint16(bins[i*2:])
	}
	a.cur.filled += binCount

	if a.cur.filled < a.cur.TotalBins {
		return nil
	}

	a.tracker.Advance()
	done := a.cur
	a.cur = nil
	return done
}

// LostFrames reports how many frame gaps the assembler has observed.
func (a *frameAssembler) LostFrames() uint64 { return a.tracker.Lost }
