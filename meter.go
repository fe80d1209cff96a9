package flexlink

import (
	"encoding/binary"
	"strings"
)

// Meter mirrors one measurement source (S-meter, PA temperature, SWR, ...).
// Meters are control-plane entities but their values arrive on the data
// plane: a single shared VITA stream carries (id, value) pairs for every
// meter at once, so meters dispatch by packet class, not stream ID.
type Meter struct {
	entityBase

	Source      string
	Number      int
	Name        string
	Units       string
	Low         float64
	High        float64
	FPS         int
	Description string

	Value float64
}

func newMeter(s *Session, id uint32) *Meter {
	return &Meter{entityBase: entityBase{id: id, session: s}}
}

func (m *Meter) Kind() EntityKind { return KindMeter }

// Ready: the radio streams values for a meter id before describing it;
// hold the "added" notification until the description is complete.
func (m *Meter) Ready() bool { return m.Source != "" && m.Name != "" && m.Units != "" }

func (m *Meter) ApplyToken(t Token) bool {
	var err error
	switch t.Key {
	case "src":
		m.Source = t.Value
	case "num":
		m.Number, err = parseInt(t.Value)
	case "nam":
		m.Name = t.Value
	case "unit":
		m.Units = t.Value
	case "lo", "low":
		m.Low, err = parseFloat(t.Value)
	case "hi", "high":
		m.High, err = parseFloat(t.Value)
	case "fps":
		m.FPS, err = parseInt(t.Value)
	case "desc":
		m.Description = t.Value
	default:
		return false
	}
	if err != nil {
		logTokenError(KindMeter, m.id, t, err)
	}
	return true
}

// updateValue applies one raw sample from the meter stream, scaled by the
// meter's units. dB-family meters arrive as value*128.
func (m *Meter) updateValue(raw int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch strings.ToLower(m.Units) {
	case "db", "dbm", "dbfs", "swr":
		m.Value = float64(raw) / 128
	case "volts", "amps":
		m.Value = float64(raw) / 256
	case "degc", "degf":
		m.Value = float64(raw) / 64
	default:
		m.Value = float64(raw)
	}
}

// routeMeter unpacks one meter-stream packet: big-endian (uint16 id,
// int16 value) pairs. Some firmware revisions deliver the same meter id
// twice in one datagram; only the first occurrence is applied. Duplicates
// spanning datagrams, if they exist, are not detected - known limitation.
func (r *Registry) routeMeter(pkt *VitaPacket) {
	payload := pkt.Payload
	seen := make(map[uint16]struct{}, len(payload)/4)

	for off := 0; off+4 <= len(payload); off += 4 {
		id := binary.BigEndian.Uint16(payload[off:])
		raw := int16(binary.BigEndian.Uint16(payload[off+2:]))

		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		e, ok := r.Get(KindMeter, uint32(id))
		if !ok {
			continue
		}
		m, ok := e.(*Meter)
		if !ok {
			continue
		}
		m.updateValue(raw)
		if m.Initialized() && r.events.Updated != nil {
			r.events.Updated(m)
		}
	}
}

// parseMeterStatus splits a meter status body into per-meter property
// sets. Meter lines use their own framing: '#'-separated "id.key=value"
// fields, e.g. "1.src=COD-#1.num=1#1.nam=MICPEAK#1.unit=dBFS".
func parseMeterStatus(body string) map[uint32][]Token {
	out := make(map[uint32][]Token)
	for _, field := range strings.Split(body, "#") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		dot := strings.IndexByte(field, '.')
		if dot <= 0 {
			continue
		}
		id, err := parseInt(field[:dot])
		if err != nil || id < 0 {
			continue
		}
		rest := field[dot+1:]
		if eq := strings.IndexByte(rest, '='); eq >= 0 {
			out[uint32(id)] = append(out[uint32(id)], Token{Key: rest[:eq], Value: rest[eq+1:], HasValue: true})
		} else {
			out[uint32(id)] = append(out[uint32(id)], Token{Key: rest})
		}
	}
	return out
}
