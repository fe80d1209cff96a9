package flexlink

import (
	"bufio"
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects lifecycle notifications for assertions.
type recorder struct {
	added   []Entity
	updated []Entity
	removed []Entity
}

func (r *recorder) events() EntityEvents {
	return EntityEvents{
		Added:   func(e Entity) { r.added = append(r.added, e) },
		Updated: func(e Entity) { r.updated = append(r.updated, e) },
		Removed: func(e Entity) { r.removed = append(r.removed, e) },
	}
}

func TestSliceLifecycle(t *testing.T) {
	rec := &recorder{}
	s := NewSession(WithEvents(rec.events()))

	// first sighting creates the entity but the initialization predicate
	// (frequency and mode known) does not hold yet: no notification
	s.ApplyStatusLine("S12345678|slice 0 in_use=1 rxant=ANT1")
	e, ok := s.Registry().Get(KindSlice, 0)
	require.True(t, ok)
	assert.False(t, e.(*Slice).Initialized())
	assert.Empty(t, rec.added)

	// frequency alone is still not enough
	s.ApplyStatusLine("S12345678|slice 0 rf_frequency=14.250000")
	assert.Empty(t, rec.added)

	// mode completes the predicate: exactly one "added"
	s.ApplyStatusLine("S12345678|slice 0 mode=USB")
	require.Len(t, rec.added, 1)
	sl := rec.added[0].(*Slice)
	assert.Equal(t, uint64(14250000), sl.Frequency)
	assert.Equal(t, "USB", sl.Mode)

	// identical property set again: update only, never a second "added"
	s.ApplyStatusLine("S12345678|slice 0 rf_frequency=14.250000 mode=USB")
	assert.Len(t, rec.added, 1)
	assert.NotEmpty(t, rec.updated)

	// retraction removes the slice from the registry
	s.ApplyStatusLine("S12345678|slice 0 in_use=0")
	require.Len(t, rec.removed, 1)
	_, ok = s.Registry().Get(KindSlice, 0)
	assert.False(t, ok)
}

func TestUnknownKeysDoNotAbortParsing(t *testing.T) {
	rec := &recorder{}
	s := NewSession(WithEvents(rec.events()))

	// shiny_new_feature comes from some future firmware
	s.ApplyStatusLine("S0|slice 0 in_use=1 shiny_new_feature=42 rf_frequency=7.074000 also_new mode=FT8")
	require.Len(t, rec.added, 1)
	sl := rec.added[0].(*Slice)
	assert.Equal(t, uint64(7074000), sl.Frequency)
	assert.Equal(t, "FT8", sl.Mode)
}

func TestBadValueForKnownKeyTolerated(t *testing.T) {
	rec := &recorder{}
	s := NewSession(WithEvents(rec.events()))

	s.ApplyStatusLine("S0|slice 0 in_use=1 rf_frequency=bogus mode=USB")
	e, ok := s.Registry().Get(KindSlice, 0)
	require.True(t, ok)
	// the bad value is skipped, the line is not fatal, mode still applied
	assert.Equal(t, "USB", e.(*Slice).Mode)
	assert.Empty(t, rec.added)
}

func spectrumPacket(streamID uint32, seq uint8, frameIndex uint32, firstBin, binCount, totalBins int) []byte {
	payload := make([]byte, spectrumHeaderLen+binCount*2)
	binary.BigEndian.PutUint16(payload[0:], uint16(firstBin))
	binary.BigEndian.PutUint16(payload[2:], uint16(binCount))
	binary.BigEndian.PutUint16(payload[4:], 2)
	binary.BigEndian.PutUint16(payload[6:], uint16(totalBins))
	binary.BigEndian.PutUint32(payload[8:], frameIndex)
	for i := 0; i < binCount; i++ {
		binary.BigEndian.PutUint16(payload[spectrumHeaderLen+i*2:], uint16(firstBin+i))
	}
	return EncodeVita(&VitaPacket{
		PacketType:  VitaTypeIFDataStream,
		Sequence:    seq,
		StreamID:    streamID,
		PacketClass: ClassPanadapter,
		Payload:     payload,
	})
}

func TestPanadapterStreamRouting(t *testing.T) {
	var frames []*SpectrumFrame
	rec := &recorder{}
	ev := rec.events()
	added := ev.Added
	ev.Added = func(e Entity) {
		added(e)
		if pan, ok := e.(*Panadapter); ok {
			pan.SetFrameHandler(func(f *SpectrumFrame) { frames = append(frames, f) })
		}
	}
	s := NewSession(WithEvents(ev))

	s.ApplyStatusLine("S0|display pan 0x40000001 center=14.100000 bandwidth=0.200000 fps=25")
	require.Len(t, rec.added, 1)

	// two packets complete one 100-bin frame
	s.SubmitDatagram(spectrumPacket(0x40000001, 0, 7, 0, 60, 100))
	assert.Empty(t, frames)
	s.SubmitDatagram(spectrumPacket(0x40000001, 1, 7, 60, 40, 100))
	require.Len(t, frames, 1)
	assert.Equal(t, 100, frames[0].TotalBins)

	// a datagram for a stream nobody owns is dropped quietly
	s.SubmitDatagram(spectrumPacket(0x4000FFFF, 2, 8, 0, 10, 10))
	assert.Len(t, frames, 1)

	// removal evicts the dispatch entry: former stream id goes dark
	s.ApplyStatusLine("S0|display pan 0x40000001 in_use=0")
	s.SubmitDatagram(spectrumPacket(0x40000001, 2, 8, 0, 100, 100))
	assert.Len(t, frames, 1)
}

func audioPacket(streamID uint32, seq uint8, samples int) []byte {
	payload := make([]byte, samples*4)
	return EncodeVita(&VitaPacket{
		PacketType:  VitaTypeIFDataStream,
		Sequence:    seq,
		StreamID:    streamID,
		PacketClass: ClassDaxAudio,
		Payload:     payload,
	})
}

func TestAudioStreamSequenceAccounting(t *testing.T) {
	rec := &recorder{}
	s := NewSession(WithEvents(rec.events()))

	s.ApplyStatusLine("S0|audio_stream 0x04000009 in_use=1 dax=1 slice=0")
	e, ok := s.Registry().Get(KindAudioStream, 0x04000009)
	require.True(t, ok)
	stream := e.(*AudioStream)

	delivered := 0
	stream.SetSampleHandler(func([]float32) { delivered++ })

	for _, seq := range []uint8{0, 1, 2, 4, 5} {
		s.SubmitDatagram(audioPacket(0x04000009, seq, 64))
	}
	// 3 never arrived: one gap, 4 and 5 still delivered
	assert.Equal(t, 5, delivered)
	assert.Equal(t, uint64(1), stream.Lost())

	// the delayed 3 is stale and not delivered
	s.SubmitDatagram(audioPacket(0x04000009, 3, 64))
	assert.Equal(t, 5, delivered)
	assert.Equal(t, uint64(1), stream.Lost())
}

func iqPacket(streamID uint32, seq uint8, class uint16, samples int) []byte {
	return EncodeVita(&VitaPacket{
		PacketType:  VitaTypeIFDataStream,
		Sequence:    seq,
		StreamID:    streamID,
		PacketClass: class,
		Payload:     make([]byte, samples*4),
	})
}

func TestControlAndDataPlanesConcurrent(t *testing.T) {
	s := NewSession()
	s.ApplyStatusLine("S0|daxiq 0x48000001 in_use=1 daxiq=1 pan=0x40000001 daxiq_rate=24000")
	e, ok := s.Registry().Get(KindIQStream, 0x48000001)
	require.True(t, ok)
	stream := e.(*IQStream)

	// status updates, datagrams and handler installs all hit the same
	// entity at once; run with -race
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.ApplyStatusLine("S0|daxiq 0x48000001 daxiq_rate=96000 active=1")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.SubmitDatagram(iqPacket(0x48000001, uint8(i%16), ClassDaxIQ96, 32))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			stream.SetSampleHandler(func([]float32) {})
		}
	}()
	wg.Wait()

	stream.mu.Lock()
	rate := stream.SampleRate
	stream.mu.Unlock()
	assert.Equal(t, 96000, rate)
}

func TestForeignAndMalformedDatagramsIgnored(t *testing.T) {
	s := NewSession()

	foreign := EncodeVita(&VitaPacket{
		PacketType:  VitaTypeIFDataStream,
		StreamID:    1,
		OUI:         0x00BEEF,
		PacketClass: ClassDaxAudio,
		Payload:     []byte{0, 0, 0, 0},
	})
	// none of these may panic or poison the session
	s.SubmitDatagram(foreign)
	s.SubmitDatagram([]byte{0x01})
	s.SubmitDatagram(nil)
	s.ApplyStatusLine("S0|")
	s.ApplyStatusLine("S0|slice")
	s.ApplyStatusLine("S0|slice notanumber in_use=1")
}

func TestUSBCableDeferredConstruction(t *testing.T) {
	rec := &recorder{}
	s := NewSession(WithEvents(rec.events()))

	// no type token yet: the variant is unknowable, line dropped
	s.ApplyStatusLine("S0|usb_cable 0x0A name=rig")
	_, ok := s.Registry().Get(KindUSBCable, 0x0A)
	assert.False(t, ok)

	// invalid disambiguator: still dropped
	s.ApplyStatusLine("S0|usb_cable 0x0A type=hosepipe name=rig")
	_, ok = s.Registry().Get(KindUSBCable, 0x0A)
	assert.False(t, ok)

	// valid type constructs the right variant
	s.ApplyStatusLine("S0|usb_cable 0x0A type=cat name=rig speed=9600")
	e, ok := s.Registry().Get(KindUSBCable, 0x0A)
	require.True(t, ok)
	cable := e.(*USBCable)
	assert.Equal(t, CableCAT, cable.CableType)
	assert.Equal(t, 9600, cable.BaudRate)
	require.Len(t, rec.added, 1)
}

func meterPacket(pairs [][2]int16) []byte {
	payload := make([]byte, len(pairs)*4)
	for i, p := range pairs {
		binary.BigEndian.PutUint16(payload[i*4:], uint16(p[0]))
		binary.BigEndian.PutUint16(payload[i*4+2:], uint16(p[1]))
	}
	return EncodeVita(&VitaPacket{
		PacketType:  VitaTypeIFDataStream,
		StreamID:    0x00000700,
		PacketClass: ClassMeter,
		Payload:     payload,
	})
}

func TestMeterLifecycleAndDedupe(t *testing.T) {
	rec := &recorder{}
	s := NewSession(WithEvents(rec.events()))

	s.ApplyStatusLine("S0|meter 5.src=RAD#5.num=5#5.nam=+13.8V#5.unit=Volts")
	e, ok := s.Registry().Get(KindMeter, 5)
	require.True(t, ok)
	m := e.(*Meter)
	require.Len(t, rec.added, 1)

	// duplicate id within one datagram: only the first value applies
	s.SubmitDatagram(meterPacket([][2]int16{{5, 13 * 256}, {5, 0}}))
	assert.InDelta(t, 13.0, m.Value, 0.01)

	// a later datagram updates normally
	s.SubmitDatagram(meterPacket([][2]int16{{5, 14 * 256}}))
	assert.InDelta(t, 14.0, m.Value, 0.01)

	// values for meters we do not mirror are skipped
	s.SubmitDatagram(meterPacket([][2]int16{{99, 1000}}))

	s.ApplyStatusLine("S0|meter 5 removed")
	_, ok = s.Registry().Get(KindMeter, 5)
	assert.False(t, ok)
}

func TestOutboundEchoSuppressedDuringApply(t *testing.T) {
	buf := &syncBuffer{}
	rec := &recorder{}
	s := NewSession(WithEvents(rec.events()))
	s.cmd.attach(buf)

	s.ApplyStatusLine("S0|slice 0 in_use=1 rf_frequency=14.250000 mode=USB")
	// inbound parsing must not have echoed anything back
	assert.Empty(t, buf.Lines()[0])

	sl, _ := s.Registry().Get(KindSlice, 0)
	sl.(*Slice).Tune(14300000)
	lines := buf.Lines()
	require.NotEmpty(t, lines[len(lines)-1])
	assert.Equal(t, "C0|slice tune 0 14.300000", lines[len(lines)-1])
}

func TestSessionEndToEnd(t *testing.T) {
	clientConn, radioConn := net.Pipe()
	defer radioConn.Close()

	fromClient := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(radioConn)
		for scanner.Scan() {
			fromClient <- scanner.Text()
		}
		close(fromClient)
	}()

	rec := &recorder{}
	addedCh := make(chan Entity, 4)
	ev := rec.events()
	ev.Added = func(e Entity) { addedCh <- e }

	s := NewSession(WithEvents(ev), WithClientProgram("flexlink-test"))
	require.NoError(t, s.Connect(clientConn, nil))

	// registration happens on connect
	assert.True(t, strings.HasPrefix(recvLine(t, fromClient), "C0|client gui "))
	assert.Equal(t, "C1|client program flexlink-test", recvLine(t, fromClient))

	// command/reply round trip
	replied := make(chan uint32, 1)
	seq, err := s.SendCommandReply("slice set 0 rf_frequency=14.250000", func(code uint32, message string) {
		replied <- code
	})
	require.NoError(t, err)
	assert.Equal(t, "C2|slice set 0 rf_frequency=14.250000", recvLine(t, fromClient))

	_, err = radioConn.Write([]byte("R2|0|\n"))
	require.NoError(t, err)
	select {
	case code := <-replied:
		assert.Equal(t, uint32(0), code)
	case <-time.After(time.Second):
		t.Fatal("reply callback never fired")
	}
	assert.Equal(t, uint32(2), seq)

	// a status broadcast materializes the slice
	_, err = radioConn.Write([]byte("S2345ABCD|slice 0 in_use=1 rf_frequency=14.250000 mode=USB\n"))
	require.NoError(t, err)
	select {
	case e := <-addedCh:
		assert.Equal(t, uint64(14250000), e.(*Slice).Frequency)
	case <-time.After(time.Second):
		t.Fatal("entity never announced")
	}

	// remote close tears the session down and clears the registry
	radioConn.Close()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session never tore down")
	}
	_, ok := s.Registry().Get(KindSlice, 0)
	assert.False(t, ok)
}

func recvLine(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case line := <-ch:
		return line
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}
