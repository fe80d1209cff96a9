package flexlink

import (
	"encoding/binary"
	"fmt"
	"log"
)

// spectrum sub-header: starting bin, bin count, bin size and total bins as
// big-endian uint16, then a uint32 frame index, then the bins themselves.
const spectrumHeaderLen = 12

// Panadapter mirrors one spectrum display. It is stream-addressable: the
// radio sends each display frame as a burst of VITA packets that this
// entity reassembles into complete SpectrumFrames.
type Panadapter struct {
	entityBase

	Center     uint64 // Hz
	Bandwidth  uint64 // Hz
	MinDBm     float64
	MaxDBm     float64
	FPS        int
	Average    int
	RFGain     float64
	Width      int // pixels
	Height     int
	RXAnt      string
	WNBEnabled bool
	WNBLevel   int
	Waterfall  uint32 // bound waterfall stream ID
	Wide       bool
	Band       string

	assembler *frameAssembler

	// guarded by mu: handler installs race against in-flight packets
	frameHandler func(*SpectrumFrame)
}

func newPanadapter(s *Session, id uint32) *Panadapter {
	return &Panadapter{
		entityBase: entityBase{id: id, session: s},
		assembler:  newFrameAssembler(fmt.Sprintf("pan %s", formatID(id))),
	}
}

func (p *Panadapter) Kind() EntityKind { return KindPanadapter }
func (p *Panadapter) StreamID() uint32 { return p.id }

// Ready: a panadapter is useless until the radio has told us what span it
// covers.
func (p *Panadapter) Ready() bool { return p.Center != 0 && p.Bandwidth != 0 }

func (p *Panadapter) ApplyToken(t Token) bool {
	var err error
	switch t.Key {
	case "center":
		p.Center, err = parseMHz(t.Value)
	case "bandwidth":
		p.Bandwidth, err = parseMHz(t.Value)
	case "min_dbm":
		p.MinDBm, err = parseFloat(t.Value)
	case "max_dbm":
		p.MaxDBm, err = parseFloat(t.Value)
	case "fps":
		p.FPS, err = parseInt(t.Value)
	case "average":
		p.Average, err = parseInt(t.Value)
	case "rfgain":
		p.RFGain, err = parseFloat(t.Value)
	case "x_pixels":
		p.Width, err = parseInt(t.Value)
	case "y_pixels":
		p.Height, err = parseInt(t.Value)
	case "rxant":
		p.RXAnt = t.Value
	case "wnb":
		p.WNBEnabled, err = parseBool(t.Value)
	case "wnb_level":
		p.WNBLevel, err = parseInt(t.Value)
	case "waterfall":
		p.Waterfall, err = parseID(t.Value)
	case "wide":
		p.Wide, err = parseBool(t.Value)
	case "band":
		p.Band = t.Value
	case "in_use", "client_handle", "xvtr", "pre", "ant_list", "daxiq_channel":
		// known but not mirrored
	default:
		return false
	}
	if err != nil {
		logTokenError(KindPanadapter, p.id, t, err)
	}
	return true
}

// ConsumeVita unpacks one spectrum packet and feeds it to the frame
// assembler. Runs on the datagram reader.
func (p *Panadapter) ConsumeVita(pkt *VitaPacket) {
	payload := pkt.Payload
	if len(payload) < spectrumHeaderLen {
		log.Printf("Warning: pan %s: short spectrum payload (%d bytes), dropping", formatID(p.id), len(payload))
		return
	}

	firstBin := int(binary.BigEndian.Uint16(payload[0:]))
	binCount := int(binary.BigEndian.Uint16(payload[2:]))
	// payload[4:6] is the bin size in bytes, always 2 for uint16 bins
	totalBins := int(binary.BigEndian.Uint16(payload[6:]))
	frameIndex := binary.BigEndian.Uint32(payload[8:])

	frame := p.assembler.Accept(frameIndex, firstBin, binCount, totalBins, payload[spectrumHeaderLen:])
	if frame == nil {
		return
	}
	if p.session != nil && p.session.metrics != nil {
		p.session.metrics.framesCompleted.WithLabelValues("panadapter").Inc()
	}
	p.mu.Lock()
	h := p.frameHandler
	p.mu.Unlock()
	if h != nil {
		h(frame)
	}
}

// SetFrameHandler installs the consumer for completed frames. Safe to call
// while packets are already routing to this display, e.g. from an entity
// "added" callback. The handler runs on the datagram reader goroutine and
// the frame's bins are reused; copy to keep.
func (p *Panadapter) SetFrameHandler(fn func(*SpectrumFrame)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameHandler = fn
}

// SetCenter retunes the display center and echoes the change to the radio.
func (p *Panadapter) SetCenter(hz uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Center = hz
	p.echo(fmt.Sprintf("display pan set %s center=%s", formatID(p.id), hzToMHz(hz)))
}

// SetBandwidth changes the displayed span.
func (p *Panadapter) SetBandwidth(hz uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Bandwidth = hz
	p.echo(fmt.Sprintf("display pan set %s bandwidth=%s", formatID(p.id), hzToMHz(hz)))
}

// SetSize tells the radio how many pixels the client renders so it can
// pick the bin count.
func (p *Panadapter) SetSize(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Width, p.Height = width, height
	p.echo(fmt.Sprintf("display pan set %s xpixels=%d ypixels=%d", formatID(p.id), width, height))
}
