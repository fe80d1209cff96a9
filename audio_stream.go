package flexlink

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"

	opus "gopkg.in/hraban/opus.v2"
)

// opus streams carry 24 kHz stereo audio
const (
	opusSampleRate = 24000
	opusChannels   = 2
	opusFrameSize  = 240 // 10 ms
)

// AudioStream mirrors one DAX receive-audio stream. Audio packets are
// single-unit frames: each VITA packet is decoded to samples and delivered
// immediately, ordered by the 4-bit rolling packet count.
type AudioStream struct {
	entityBase

	DAXChannel int
	Slice      uint32
	SampleRate int
	Compressed bool
	ClientIP   string
	ClientPort int

	tracker seqTracker
	decoder *opus.Decoder

	// guarded by mu: handler installs race against in-flight packets
	sampleHandler func(samples []float32)
}

func newAudioStream(s *Session, id uint32) *AudioStream {
	return &AudioStream{
		entityBase: entityBase{id: id, session: s},
		SampleRate: opusSampleRate,
		tracker:    seqTracker{name: fmt.Sprintf("audio %s", formatID(id)), modulo: 16},
	}
}

func (a *AudioStream) Kind() EntityKind { return KindAudioStream }
func (a *AudioStream) StreamID() uint32 { return a.id }

// Ready: audio streams are fully described by their creation status line.
func (a *AudioStream) Ready() bool { return true }

func (a *AudioStream) ApplyToken(t Token) bool {
	var err error
	switch t.Key {
	case "dax":
		a.DAXChannel, err = parseInt(t.Value)
	case "slice":
		a.Slice, err = parseID(t.Value)
	case "sample_rate":
		a.SampleRate, err = parseInt(t.Value)
	case "compression":
		a.Compressed = t.Value == "opus" || t.Value == "OPUS" || t.Value == "1"
	case "ip":
		a.ClientIP = t.Value
	case "port":
		a.ClientPort, err = parseInt(t.Value)
	case "in_use", "client_handle", "type":
		// known but not mirrored
	default:
		return false
	}
	if err != nil {
		logTokenError(KindAudioStream, a.id, t, err)
	}
	return true
}

// ConsumeVita decodes one audio packet. The packet class selects the
// sample encoding; all of them deliver interleaved stereo float32.
func (a *AudioStream) ConsumeVita(pkt *VitaPacket) {
	lostBefore := a.tracker.Lost
	if a.tracker.Observe(uint32(pkt.Sequence)) == seqStale {
		if a.session != nil && a.session.metrics != nil {
			a.session.metrics.streamUnitsStale.WithLabelValues("audio").Inc()
		}
		return
	}
	if a.tracker.Lost > lostBefore && a.session != nil && a.session.metrics != nil {
		a.session.metrics.streamUnitsLost.WithLabelValues("audio").Add(float64(a.tracker.Lost - lostBefore))
	}

	var samples []float32
	switch pkt.PacketClass {
	case ClassDaxAudio:
		samples = decodeFloat32Samples(pkt.Payload)
	case ClassDaxReducedBW:
		samples = decodeInt16Samples(pkt.Payload)
	case ClassOpus:
		samples = a.decodeOpus(pkt.Payload)
	default:
		log.Printf("Warning: audio %s: unexpected packet class 0x%04X, dropping", formatID(a.id), pkt.PacketClass)
		return
	}
	if samples == nil {
		return
	}
	a.mu.Lock()
	h := a.sampleHandler
	a.mu.Unlock()
	if h != nil {
		h(samples)
	}
}

// SetSampleHandler installs the consumer for decoded samples. Safe to call
// while packets are already routing to this stream. The handler runs on the
// datagram reader goroutine.
func (a *AudioStream) SetSampleHandler(fn func(samples []float32)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sampleHandler = fn
}

func (a *AudioStream) decodeOpus(payload []byte) []float32 {
	if a.decoder == nil {
		dec, err := opus.NewDecoder(opusSampleRate, opusChannels)
		if err != nil {
			log.Printf("Warning: audio %s: cannot create Opus decoder: %v", formatID(a.id), err)
			return nil
		}
		a.decoder = dec
	}

	pcm := make([]float32, opusFrameSize*opusChannels)
	n, err := a.decoder.DecodeFloat32(payload, pcm)
	if err != nil {
		log.Printf("Warning: audio %s: Opus decode error: %v", formatID(a.id), err)
		return nil
	}
	return pcm[:n*opusChannels]
}

// Lost reports how many audio packets the stream has missed.
func (a *AudioStream) Lost() uint64 { return a.tracker.Lost }

// Remove tears the stream down locally and asks the radio to stop it. The
// radio never confirms stream removal, so the registry entry goes away
// immediately instead of waiting for an in_use=0 that will not come.
func (a *AudioStream) Remove() {
	if a.session == nil {
		return
	}
	if _, err := a.session.cmd.Send(fmt.Sprintf("stream remove %s", formatID(a.id))); err != nil {
		log.Printf("Warning: failed to send stream remove: %v", err)
	}
	a.session.reg.Remove(KindAudioStream, a.id)
}

// decodeFloat32Samples unpacks big-endian IEEE float32 interleaved samples.
func decodeFloat32Samples(payload []byte) []float32 {
	n := len(payload) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = math.Float32frombits(binary.BigEndian.Uint32(payload[i*4:]))
	}
	return samples
}

// decodeInt16Samples unpacks big-endian int16 samples to float32 in
// [-1, 1).
func decodeInt16Samples(payload []byte) []float32 {
	n := len(payload) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = float32(int16(binary.BigEndian.Uint16(payload[i*2:]))) / 32768
	}
	return samples
}
