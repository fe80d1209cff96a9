package flexlink

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// VITA-49 header word layout (big-endian 32-bit words on the wire)
const (
	vitaPacketTypeMask  uint32 = 0xF0000000
	vitaClassIDPresent  uint32 = 0x08000000
	vitaTrailerPresent  uint32 = 0x04000000
	vitaTSIMask         uint32 = 0x00C00000
	vitaTSFMask         uint32 = 0x00300000
	vitaPacketCountMask uint32 = 0x000F0000
	vitaPacketSizeMask  uint32 = 0x0000FFFF

	vitaOUIMask uint32 = 0x00FFFFFF
)

// VITA packet types (header bits 31..28)
const (
	VitaTypeIFData uint32 = iota << 28
	VitaTypeIFDataStream
	VitaTypeExtData
	VitaTypeExtDataStream
	VitaTypeContext
	VitaTypeExtContext
)

// FlexOUI is the organization unique identifier carried in the class ID of
// every packet the radio emits. Datagrams with any other OUI are foreign
// traffic and are dropped without comment.
const FlexOUI uint32 = 0x001C2D

// Packet class codes used by the radio (low word of the class ID)
const (
	ClassMeter        uint16 = 0x8002
	ClassPanadapter   uint16 = 0x8003
	ClassWaterfall    uint16 = 0x8004
	ClassOpus         uint16 = 0x8005
	ClassDaxReducedBW uint16 = 0x0123
	ClassDaxIQ24      uint16 = 0x02E3
	ClassDaxIQ48      uint16 = 0x02E4
	ClassDaxIQ96      uint16 = 0x02E5
	ClassDaxIQ192     uint16 = 0x02E6
	ClassDaxAudio     uint16 = 0x03E3
)

var (
	// ErrMalformedPacket indicates a datagram too short or internally
	// inconsistent to be a VITA-49 packet.
	ErrMalformedPacket = errors.New("malformed VITA packet")

	// errForeignOUI marks traffic from some other vendor on the same
	// socket. Callers drop these silently.
	errForeignOUI = errors.New("foreign OUI")
)

// VitaPacket is the decoded form of one VITA-49 datagram. Payload aliases
// the receive buffer and is only valid until the next read.
type VitaPacket struct {
	PacketType    uint32
	Sequence      uint8 // 4-bit rolling packet count
	StreamID      uint32
	OUI           uint32
	InfoClass     uint16
	PacketClass   uint16
	TimestampInt  uint32
	TimestampFrac uint64
	Payload       []byte
}

// DecodeVita parses a raw datagram into a VitaPacket. It returns
// ErrMalformedPacket for structurally invalid input and errForeignOUI for
// well-formed packets that do not carry the radio's OUI.
func DecodeVita(buf []byte) (*VitaPacket, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(buf))
	}

	header := binary.BigEndian.Uint32(buf)
	totalWords := int(header & vitaPacketSizeMask)
	if totalWords*4 > len(buf) || totalWords == 0 {
		return nil, fmt.Errorf("%w: header declares %d words, datagram has %d bytes",
			ErrMalformedPacket, totalWords, len(buf))
	}

	pkt := &VitaPacket{
		PacketType: header & vitaPacketTypeMask,
		Sequence:   uint8((header & vitaPacketCountMask) >> 16),
	}

	headerWords := 1
	trailerWords := 0
	if header&vitaTrailerPresent != 0 {
		trailerWords = 1
	}

	hasStream := pkt.PacketType == VitaTypeIFDataStream || pkt.PacketType == VitaTypeExtDataStream
	if hasStream {
		headerWords++
	}
	hasClass := header&vitaClassIDPresent != 0
	if hasClass {
		headerWords += 2
	}
	hasTSI := header&vitaTSIMask != 0
	if hasTSI {
		headerWords++
	}
	hasTSF := header&vitaTSFMask != 0
	if hasTSF {
		headerWords += 2
	}

	if totalWords < headerWords+trailerWords || len(buf) < headerWords*4 {
		return nil, fmt.Errorf("%w: truncated header", ErrMalformedPacket)
	}

	off := 4
	if hasStream {
		pkt.StreamID = binary.BigEndian.Uint32(buf[off:])
		off += 4
	}
	if hasClass {
		classH := binary.BigEndian.Uint32(buf[off:])
		classL := binary.BigEndian.Uint32(buf[off+4:])
		off += 8
		pkt.OUI = classH & vitaOUIMask
		pkt.InfoClass = uint16(classL >> 16)
		pkt.PacketClass = uint16(classL)
	}
	if hasTSI {
		pkt.TimestampInt = binary.BigEndian.Uint32(buf[off:])
		off += 4
	}
	if hasTSF {
		pkt.TimestampFrac = binary.BigEndian.Uint64(buf[off:])
		off += 8
	}

	if hasClass && pkt.OUI != FlexOUI {
		return nil, errForeignOUI
	}

	payloadWords := totalWords - headerWords - trailerWords
	pkt.Payload = buf[off : off+payloadWords*4]
	return pkt, nil
}

// EncodeVita serializes a packet into wire form. The payload is padded to a
// whole number of 32-bit words. Used for the transmit path and in tests.
func EncodeVita(pkt *VitaPacket) []byte {
	payloadWords := (len(pkt.Payload) + 3) / 4
	headerWords := 1
	hasStream := pkt.PacketType == VitaTypeIFDataStream || pkt.PacketType == VitaTypeExtDataStream
	if hasStream {
		headerWords++
	}
	headerWords += 2 // class ID always emitted

	totalWords := headerWords + payloadWords
	buf := make([]byte, totalWords*4)

	header := pkt.PacketType | vitaClassIDPresent |
		(uint32(pkt.Sequence&0x0F) << 16) | uint32(totalWords)
	binary.BigEndian.PutUint32(buf, header)

	off := 4
	if hasStream {
		binary.BigEndian.PutUint32(buf[off:], pkt.StreamID)
		off += 4
	}
	oui := pkt.OUI
	if oui == 0 {
		oui = FlexOUI
	}
	binary.BigEndian.PutUint32(buf[off:], oui)
	binary.BigEndian.PutUint32(buf[off+4:], uint32(pkt.InfoClass)<<16|uint32(pkt.PacketClass))
	off += 8

	copy(buf[off:], pkt.Payload)
	return buf
}
