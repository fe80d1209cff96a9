package flexlink

import (
	"fmt"
	"log"
)

// IQStream mirrors one DAX IQ stream: raw complex baseband from a
// panadapter's DAX IQ channel. Like audio, IQ packets are single-unit
// frames ordered by the 4-bit packet count; the packet class encodes the
// sample rate.
type IQStream struct {
	entityBase

	DAXIQChannel int
	Panadapter   uint32
	SampleRate   int
	Active       bool

	tracker seqTracker

	// guarded by mu: handler installs race against in-flight packets
	sampleHandler func(samples []float32)
}

func newIQStream(s *Session, id uint32) *IQStream {
	return &IQStream{
		entityBase: entityBase{id: id, session: s},
		tracker:    seqTracker{name: fmt.Sprintf("daxiq %s", formatID(id)), modulo: 16},
	}
}

func (q *IQStream) Kind() EntityKind { return KindIQStream }
func (q *IQStream) StreamID() uint32 { return q.id }

// Ready: an IQ stream is announced once its channel assignment is known.
func (q *IQStream) Ready() bool { return q.DAXIQChannel != 0 }

func (q *IQStream) ApplyToken(t Token) bool {
	var err error
	switch t.Key {
	case "daxiq", "daxiq_channel":
		q.DAXIQChannel, err = parseInt(t.Value)
	case "pan":
		q.Panadapter, err = parseID(t.Value)
	case "daxiq_rate", "rate":
		q.SampleRate, err = parseInt(t.Value)
	case "active":
		q.Active, err = parseBool(t.Value)
	case "in_use", "client_handle", "ip", "port", "streaming":
		// known but not mirrored
	default:
		return false
	}
	if err != nil {
		logTokenError(KindIQStream, q.id, t, err)
	}
	return true
}

// iqClassRates maps DAX IQ packet classes to their sample rate.
var iqClassRates = map[uint16]int{
	ClassDaxIQ24:  24000,
	ClassDaxIQ48:  48000,
	ClassDaxIQ96:  96000,
	ClassDaxIQ192: 192000,
}

// ConsumeVita decodes one IQ packet: big-endian float32 interleaved I/Q.
func (q *IQStream) ConsumeVita(pkt *VitaPacket) {
	rate, ok := iqClassRates[pkt.PacketClass]
	if !ok {
		log.Printf("Warning: daxiq %s: unexpected packet class 0x%04X, dropping", formatID(q.id), pkt.PacketClass)
		return
	}

	lostBefore := q.tracker.Lost
	if q.tracker.Observe(uint32(pkt.Sequence)) == seqStale {
		if q.session != nil && q.session.metrics != nil {
			q.session.metrics.streamUnitsStale.WithLabelValues("daxiq").Inc()
		}
		return
	}
	if q.tracker.Lost > lostBefore && q.session != nil && q.session.metrics != nil {
		q.session.metrics.streamUnitsLost.WithLabelValues("daxiq").Add(float64(q.tracker.Lost - lostBefore))
	}

	// SampleRate is also written by the control-plane reader via
	// ApplyToken, so the class-derived rate goes in under the lock
	q.mu.Lock()
	q.SampleRate = rate
	h := q.sampleHandler
	q.mu.Unlock()
	if h != nil {
		h(decodeFloat32Samples(pkt.Payload))
	}
}

// SetSampleHandler installs the consumer for decoded I/Q pairs. Safe to
// call while packets are already routing to this stream. The handler runs
// on the datagram reader goroutine.
func (q *IQStream) SetSampleHandler(fn func(samples []float32)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sampleHandler = fn
}

// Lost reports how many IQ packets the stream has missed.
func (q *IQStream) Lost() uint64 { return q.tracker.Lost }

// Remove tears the stream down locally; the radio never confirms.
func (q *IQStream) Remove() {
	if q.session == nil {
		return
	}
	if _, err := q.session.cmd.Send(fmt.Sprintf("stream remove %s", formatID(q.id))); err != nil {
		log.Printf("Warning: failed to send stream remove: %v", err)
	}
	q.session.reg.Remove(KindIQStream, q.id)
}
