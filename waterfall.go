package flexlink

import (
	"encoding/binary"
	"fmt"
	"log"
)

// waterfall tile sub-header: first-bin frequency and bin bandwidth as
// 64-bit fixed point (radix point at bit 20, in Hz), line duration in ms,
// width, height, timecode, auto-black level, total bins, first bin.
const waterfallHeaderLen = 36

// vitaFrequency converts the radio's 64-bit fixed-point frequency encoding
// to Hz.
func vitaFrequency(raw uint64) float64 {
	return float64(raw) / (1 << 20)
}

// WaterfallTile is one reassembled waterfall line with its display
// metadata. Bins belong to the assembler's ring; copy to keep.
type WaterfallTile struct {
	FirstBinFreq   float64 // Hz
	BinBandwidth   float64 // Hz
	LineDuration   int     // ms
	Width          int
	Height         int
	Timecode       uint32
	AutoBlackLevel uint32
	TotalBins      int
	Bins           []uint16
}

// Waterfall mirrors one waterfall display, bound to a panadapter and fed
// by its own packet stream.
type Waterfall struct {
	entityBase

	Panadapter    uint32 // owning panadapter stream ID
	LineDuration  int    // ms
	BlackLevel    int
	AutoBlack     bool
	ColorGain     int
	GradientIndex int
	Band          string

	assembler *frameAssembler

	// guarded by mu: handler installs race against in-flight packets
	tileHandler func(*WaterfallTile)
}

func newWaterfall(s *Session, id uint32) *Waterfall {
	return &Waterfall{
		entityBase: entityBase{id: id, session: s},
		assembler:  newFrameAssembler(fmt.Sprintf("waterfall %s", formatID(id))),
	}
}

func (w *Waterfall) Kind() EntityKind { return KindWaterfall }
func (w *Waterfall) StreamID() uint32 { return w.id }

// Ready: a waterfall is usable once it is bound to its panadapter.
func (w *Waterfall) Ready() bool { return w.Panadapter != 0 }

func (w *Waterfall) ApplyToken(t Token) bool {
	var err error
	switch t.Key {
	case "panadapter":
		w.Panadapter, err = parseID(t.Value)
	case "line_duration":
		w.LineDuration, err = parseInt(t.Value)
	case "black_level":
		w.BlackLevel, err = parseInt(t.Value)
	case "auto_black":
		w.AutoBlack, err = parseBool(t.Value)
	case "color_gain":
		w.ColorGain, err = parseInt(t.Value)
	case "gradient_index":
		w.GradientIndex, err = parseInt(t.Value)
	case "band":
		w.Band = t.Value
	case "in_use", "client_handle", "x_pixels", "center", "bandwidth",
		"rxant", "wide", "loopa", "loopb", "rfgain", "daxiq_channel":
		// known but not mirrored; the panadapter carries the tuning state
	default:
		return false
	}
	if err != nil {
		logTokenError(KindWaterfall, w.id, t, err)
	}
	return true
}

// ConsumeVita unpacks one waterfall packet. The tile's timecode doubles as
// the frame index for reassembly.
func (w *Waterfall) ConsumeVita(pkt *VitaPacket) {
	payload := pkt.Payload
	if len(payload) < waterfallHeaderLen {
		log.Printf("Warning: waterfall %s: short tile payload (%d bytes), dropping", formatID(w.id), len(payload))
		return
	}

	firstBinFreq := binary.BigEndian.Uint64(payload[0:])
	binBandwidth := binary.BigEndian.Uint64(payload[8:])
	lineDuration := binary.BigEndian.Uint32(payload[16:])
	width := int(binary.BigEndian.Uint16(payload[20:]))
	height := int(binary.BigEndian.Uint16(payload[22:]))
	timecode := binary.BigEndian.Uint32(payload[24:])
	autoBlack := binary.BigEndian.Uint32(payload[28:])
	totalBins := int(binary.BigEndian.Uint16(payload[32:]))
	firstBin := int(binary.BigEndian.Uint16(payload[34:]))

	bins := payload[waterfallHeaderLen:]
	binCount := len(bins) / 2
	// the payload is padded to a whole 32-bit word; an odd bin count
	// would otherwise gain a phantom pad bin
	if rem := totalBins - firstBin; binCount > rem {
		binCount = rem
	}

	frame := w.assembler.Accept(timecode, firstBin, binCount, totalBins, bins)
	if frame == nil {
		return
	}
	if w.session != nil && w.session.metrics != nil {
		w.session.metrics.framesCompleted.WithLabelValues("waterfall").Inc()
	}
	w.mu.Lock()
	h := w.tileHandler
	w.mu.Unlock()
	if h != nil {
		h(&WaterfallTile{
			FirstBinFreq:   vitaFrequency(firstBinFreq),
			BinBandwidth:   vitaFrequency(binBandwidth),
			LineDuration:   int(lineDuration),
			Width:          width,
			Height:         height,
			Timecode:       timecode,
			AutoBlackLevel: autoBlack,
			TotalBins:      frame.TotalBins,
			Bins:           frame.Bins,
		})
	}
}

// SetTileHandler installs the consumer for completed lines. Safe to call
// while packets are already routing to this display, e.g. from an entity
// "added" callback. The handler runs on the datagram reader goroutine and
// the tile's bins are reused; copy to keep.
func (w *Waterfall) SetTileHandler(fn func(*WaterfallTile)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tileHandler = fn
}

// SetLineDuration changes the scroll rate of the waterfall in ms per line.
func (w *Waterfall) SetLineDuration(ms int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.LineDuration = ms
	w.echo(fmt.Sprintf("display panafall set %s line_duration=%d", formatID(w.id), ms))
}

// SetBlackLevel sets the manual black level and disables auto-black.
func (w *Waterfall) SetBlackLevel(level int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.BlackLevel = level
	w.AutoBlack = false
	w.echo(fmt.Sprintf("display panafall set %s black_level=%d auto_black=0", formatID(w.id), level))
}
