package nbt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// HeaderSize is the size of the NetBIOS session service header.
const HeaderSize = 4

// PacketType is the first header byte (RFC 1002 section 4.3.1).
type PacketType byte

const (
	PacketSessionMessage   PacketType = 0x00
	PacketSessionRequest   PacketType = 0x81
	PacketPositiveResponse PacketType = 0x82
	PacketNegativeResponse PacketType = 0x83
	PacketRetargetResponse PacketType = 0x84
	PacketKeepalive        PacketType = 0x85
)

func (p PacketType) String() string {
	switch p {
	case PacketSessionMessage:
		return "SESSION_MESSAGE"
	case PacketSessionRequest:
		return "SESSION_REQUEST"
	case PacketPositiveResponse:
		return "POSITIVE_SESSION_RESPONSE"
	case PacketNegativeResponse:
		return "NEGATIVE_SESSION_RESPONSE"
	case PacketRetargetResponse:
		return "RETARGET_SESSION_RESPONSE"
	case PacketKeepalive:
		return "SESSION_KEEPALIVE"
	default:
		return fmt.Sprintf("PACKET(0x%02x)", byte(p))
	}
}

// LengthVariant selects how the three bytes after the packet type encode
// the payload length.
type LengthVariant uint8

const (
	// Length24 treats bytes 1..3 as a 24-bit big-endian length. This is the
	// layout used by direct-hosted SMB on port 445.
	Length24 LengthVariant = iota

	// Length17 is the RFC 1002 layout: byte 1 carries flags whose low bit is
	// the 17th length bit, bytes 2..3 the low 16 bits.
	Length17
)

// Maximum payload lengths for each variant.
const (
	MaxLength24 = 0xFFFFFF
	MaxLength17 = 0x1FFFF
)

// length17Extension is the only flag bit RFC 1002 defines.
const length17Extension = 0x01

// Codec errors. The transport reports them as protocol errors.
var (
	ErrLengthOverflow = errors.New("nbt: payload length exceeds variant maximum")
	ErrReservedFlags  = errors.New("nbt: reserved header flag bits set")
	ErrShortHeader    = errors.New("nbt: short header")
)

func (v LengthVariant) String() string {
	switch v {
	case Length24:
		return "length24"
	case Length17:
		return "length17"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// ParseLengthVariant parses "length24" / "24" or "length17" / "17".
func ParseLengthVariant(s string) (LengthVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "length24", "24":
		return Length24, nil
	case "length17", "17", "rfc1002":
		return Length17, nil
	default:
		return 0, fmt.Errorf("unknown NetBIOS length variant %q", s)
	}
}

// MaxLength returns the largest payload length the variant can encode.
func (v LengthVariant) MaxLength() int {
	if v == Length17 {
		return MaxLength17
	}
	return MaxLength24
}

// Header is a decoded session service header.
type Header struct {
	Type   PacketType
	Length uint32
}

// PutHeader encodes h into b, which must be at least HeaderSize long.
func (v LengthVariant) PutHeader(b []byte, h Header) error {
	if len(b) < HeaderSize {
		return ErrShortHeader
	}
	if h.Length > uint32(v.MaxLength()) {
		return fmt.Errorf("%w: %d > %d", ErrLengthOverflow, h.Length, v.MaxLength())
	}

	b[0] = byte(h.Type)
	switch v {
	case Length17:
		b[1] = byte(h.Length>>16) & length17Extension
		binary.BigEndian.PutUint16(b[2:4], uint16(h.Length))
	default:
		b[1] = byte(h.Length >> 16)
		b[2] = byte(h.Length >> 8)
		b[3] = byte(h.Length)
	}
	return nil
}

// ParseHeader decodes the first HeaderSize bytes of b.
func (v LengthVariant) ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}

	h := Header{Type: PacketType(b[0])}
	switch v {
	case Length17:
		if b[1]&^length17Extension != 0 {
			return Header{}, fmt.Errorf("%w: 0x%02x", ErrReservedFlags, b[1])
		}
		h.Length = uint32(b[1]&length17Extension)<<16 | uint32(binary.BigEndian.Uint16(b[2:4]))
	default:
		h.Length = uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	return h, nil
}

// AppendFrame appends a header of type t followed by payload to dst.
func (v LengthVariant) AppendFrame(dst []byte, t PacketType, payload []byte) ([]byte, error) {
	var hdr [HeaderSize]byte
	if err := v.PutHeader(hdr[:], Header{Type: t, Length: uint32(len(payload))}); err != nil {
		return dst, err
	}
	dst = append(dst, hdr[:]...)
	return append(dst, payload...), nil
}
