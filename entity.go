package flexlink

import (
	"log"
	"sync"
)

// EntityKind names one mirrored object type on the control plane.
type EntityKind string

const (
	KindSlice       EntityKind = "slice"
	KindPanadapter  EntityKind = "panadapter"
	KindWaterfall   EntityKind = "waterfall"
	KindMeter       EntityKind = "meter"
	KindAudioStream EntityKind = "audio_stream"
	KindIQStream    EntityKind = "dax_iq"
	KindUSBCable    EntityKind = "usb_cable"
)

// Entity is one mirrored radio object. All ~20 object types the radio
// announces follow the same lifecycle; a concrete kind only supplies its
// key table (ApplyToken) and its initialization predicate (Ready). The
// shared driver in Registry.applyStatus owns creation, the one-shot
// initialized latch, update notification and removal.
type Entity interface {
	ID() uint32
	Kind() EntityKind

	// ApplyToken stores one parsed property. It reports false for keys
	// the entity does not know, which the driver logs and skips. Called
	// with the entity's lock held.
	ApplyToken(t Token) bool

	// Ready reports whether the kind-specific initialization predicate
	// holds. Called with the entity's lock held.
	Ready() bool

	base() *entityBase
}

// StreamConsumer is implemented by entities that are addressable on the
// data plane. Their stream ID is registered with the router in lock-step
// with registry membership.
type StreamConsumer interface {
	Entity
	StreamID() uint32

	// ConsumeVita receives every routed packet for this stream. Runs on
	// the datagram reader; the payload is only valid for the duration of
	// the call.
	ConsumeVita(pkt *VitaPacket)
}

// entityBase carries the state every entity shares: identity, the
// initialized latch, the reentrancy guard that suppresses outbound command
// echo while inbound properties are being applied, and the lock guarding
// the property set against the other plane.
type entityBase struct {
	id      uint32
	session *Session

	mu          sync.Mutex
	applying    bool
	initialized bool
}

func (b *entityBase) ID() uint32        { return b.id }
func (b *entityBase) base() *entityBase { return b }

// Initialized reports whether the entity has fired its "added"
// notification.
func (b *entityBase) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// beginApply locks the entity for one inbound property set and raises the
// echo guard. endApply releases both.
func (b *entityBase) beginApply() { b.mu.Lock(); b.applying = true }
func (b *entityBase) endApply()   { b.applying = false; b.mu.Unlock() }

// latchInitialized flips the initialized flag the first time the predicate
// holds and reports whether this call did the flip. Called under the lock.
func (b *entityBase) latchInitialized(ready bool) bool {
	if b.initialized || !ready {
		return false
	}
	b.initialized = true
	return true
}

// echo sends an outbound property-change command unless the change is
// itself the result of an inbound status line. Called under the lock.
func (b *entityBase) echo(cmd string) {
	if b.applying || b.session == nil {
		return
	}
	if _, err := b.session.cmd.Send(cmd); err != nil {
		log.Printf("Warning: failed to send %q: %v", cmd, err)
	}
}
