package flexlink

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVitaRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	in := &VitaPacket{
		PacketType:  VitaTypeIFDataStream,
		Sequence:    9,
		StreamID:    0x40000001,
		InfoClass:   0x534C,
		PacketClass: ClassPanadapter,
		Payload:     payload,
	}

	out, err := DecodeVita(EncodeVita(in))
	require.NoError(t, err)
	assert.Equal(t, VitaTypeIFDataStream, out.PacketType)
	assert.Equal(t, uint8(9), out.Sequence)
	assert.Equal(t, uint32(0x40000001), out.StreamID)
	assert.Equal(t, FlexOUI, out.OUI)
	assert.Equal(t, ClassPanadapter, out.PacketClass)
	assert.Equal(t, payload, out.Payload)
}

func TestDecodeVitaForeignOUI(t *testing.T) {
	pkt := &VitaPacket{
		PacketType:  VitaTypeIFDataStream,
		StreamID:    0x40000001,
		OUI:         0x00ABCD, // not ours
		PacketClass: ClassPanadapter,
		Payload:     []byte{0, 0, 0, 0},
	}

	_, err := DecodeVita(EncodeVita(pkt))
	assert.ErrorIs(t, err, errForeignOUI)
}

func TestDecodeVitaTooShort(t *testing.T) {
	_, err := DecodeVita([]byte{0x10, 0x00})
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestDecodeVitaSizeLargerThanDatagram(t *testing.T) {
	buf := make([]byte, 8)
	// declares 100 words but the datagram holds 2
	binary.BigEndian.PutUint32(buf, VitaTypeIFDataStream|100)
	_, err := DecodeVita(buf)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestDecodeVitaTruncatedHeader(t *testing.T) {
	buf := make([]byte, 8)
	// stream + class ID need 4 words of header but only 2 are declared/present
	binary.BigEndian.PutUint32(buf, VitaTypeIFDataStream|vitaClassIDPresent|2)
	binary.BigEndian.PutUint32(buf[4:], 0x40000001)
	_, err := DecodeVita(buf)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestDecodeVitaSequenceNibble(t *testing.T) {
	for seq := uint8(0); seq < 16; seq++ {
		pkt := &VitaPacket{
			PacketType:  VitaTypeIFDataStream,
			Sequence:    seq,
			PacketClass: ClassDaxAudio,
			Payload:     []byte{0, 0, 0, 0},
		}
		out, err := DecodeVita(EncodeVita(pkt))
		require.NoError(t, err)
		assert.Equal(t, seq, out.Sequence)
	}
}
