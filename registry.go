package flexlink

import (
	"log"
	"sync"
)

type entityKey struct {
	kind EntityKind
	id   uint32
}

// EntityEvents carries the lifecycle notifications the application can
// subscribe to. Any field may be nil. Added fires exactly once per entity,
// when its initialization predicate first holds; Updated fires for every
// later status line touching an initialized entity. Removing fires while
// the entity is still reachable, Removed after it is gone. Callbacks run
// on whichever reader goroutine produced the change and must not block.
type EntityEvents struct {
	Added    func(Entity)
	Updated  func(Entity)
	Removing func(Entity)
	Removed  func(Entity)
}

// Registry is the mirrored object graph: every live entity keyed by kind
// and identifier, plus the data-plane dispatch table mapping stream IDs to
// their consumers. Both tables change only together.
type Registry struct {
	mu       sync.RWMutex
	entities map[entityKey]Entity
	streams  map[uint32]StreamConsumer
	events   EntityEvents
	metrics  *Metrics
	torn     bool
}

func NewRegistry(events EntityEvents, metrics *Metrics) *Registry {
	return &Registry{
		entities: make(map[entityKey]Entity),
		streams:  make(map[uint32]StreamConsumer),
		events:   events,
		metrics:  metrics,
	}
}

// Get returns the live entity with the given kind and identifier.
func (r *Registry) Get(kind EntityKind, id uint32) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[entityKey{kind, id}]
	return e, ok
}

// Each calls fn for every live entity of the given kind.
func (r *Registry) Each(kind EntityKind, fn func(Entity)) {
	r.mu.RLock()
	list := make([]Entity, 0, len(r.entities))
	for k, e := range r.entities {
		if k.kind == kind {
			list = append(list, e)
		}
	}
	r.mu.RUnlock()
	for _, e := range list {
		fn(e)
	}
}

// applyStatus is the one lifecycle driver every entity kind goes through.
// create constructs the kind-specific entity; it may inspect tokens and
// return nil to defer construction (kinds whose variant is disambiguated by
// a property, e.g. USB cables) in which case the line is dropped with a
// warning.
func (r *Registry) applyStatus(kind EntityKind, id uint32, tokens []Token, inUse bool, create func(tokens []Token) Entity) {
	if !inUse {
		r.Remove(kind, id)
		return
	}

	key := entityKey{kind, id}
	r.mu.Lock()
	if r.torn {
		r.mu.Unlock()
		return
	}
	e, ok := r.entities[key]
	if !ok {
		e = create(tokens)
		if e == nil {
			r.mu.Unlock()
			log.Printf("Warning: cannot construct %s %s from status line yet, dropping", kind, formatID(id))
			return
		}
		r.entities[key] = e
		if sc, isStream := e.(StreamConsumer); isStream && sc.StreamID() != 0 {
			r.streams[sc.StreamID()] = sc
		}
		if r.metrics != nil {
			r.metrics.entitiesLive.WithLabelValues(string(kind)).Inc()
		}
	}
	r.mu.Unlock()

	b := e.base()
	b.beginApply()
	for _, t := range tokens {
		if !e.ApplyToken(t) {
			log.Printf("Warning: %s %s: unknown key %q, skipping", kind, formatID(id), t.Key)
		}
	}
	added := b.latchInitialized(e.Ready())
	initialized := b.initialized
	b.endApply()

	switch {
	case added:
		if r.events.Added != nil {
			r.events.Added(e)
		}
	case initialized:
		if r.events.Updated != nil {
			r.events.Updated(e)
		}
	}
}

// Remove takes an entity out of the registry and out of the data-plane
// dispatch table. Used both for radio-announced removal (in_use=0) and for
// the few kinds the radio never confirms, which the client removes locally.
func (r *Registry) Remove(kind EntityKind, id uint32) {
	key := entityKey{kind, id}

	r.mu.Lock()
	e, ok := r.entities[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	if r.events.Removing != nil {
		r.events.Removing(e)
	}

	r.mu.Lock()
	delete(r.entities, key)
	if sc, isStream := e.(StreamConsumer); isStream {
		delete(r.streams, sc.StreamID())
	}
	if r.metrics != nil {
		r.metrics.entitiesLive.WithLabelValues(string(kind)).Dec()
	}
	r.mu.Unlock()

	if r.events.Removed != nil {
		r.events.Removed(e)
	}
}

// Route delivers one decoded data-plane packet to the entity owning its
// stream ID. Meter packets are not per-entity streams: one shared stream
// carries values for every meter, so they dispatch by packet class.
// Packets for unknown streams are dropped.
func (r *Registry) Route(pkt *VitaPacket) {
	if pkt.PacketType != VitaTypeIFDataStream && pkt.PacketType != VitaTypeExtDataStream {
		if DebugMode {
			log.Printf("DEBUG: ignoring unsupported VITA packet type 0x%X", pkt.PacketType>>28)
		}
		return
	}

	if pkt.PacketClass == ClassMeter {
		r.routeMeter(pkt)
		return
	}

	r.mu.RLock()
	sc := r.streams[pkt.StreamID]
	r.mu.RUnlock()

	if sc == nil {
		if r.metrics != nil {
			r.metrics.datagramsDiscarded.WithLabelValues("unknown_stream").Inc()
		}
		return
	}
	sc.ConsumeVita(pkt)
}

// Teardown atomically clears the registry and the dispatch table. After it
// returns, no further status line or datagram mutates engine state.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.torn = true
	r.entities = make(map[entityKey]Entity)
	r.streams = make(map[uint32]StreamConsumer)
	if r.metrics != nil {
		r.metrics.entitiesLive.Reset()
	}
}
