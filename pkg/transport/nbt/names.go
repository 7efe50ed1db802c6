package nbt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// NetBIOS name suffixes (the 16th byte).
const (
	SuffixWorkstation byte = 0x00
	SuffixServer      byte = 0x20
)

// DefaultCalledName is the generic server name accepted by most SMB servers
// when the real NetBIOS name is unknown.
const DefaultCalledName = "*SMBSERVER"

// EncodedNameSize is the wire size of a first-level encoded name without scope.
const EncodedNameSize = 34

const maxNameLen = 15

// ErrBadName is returned for names that cannot be encoded or decoded.
var ErrBadName = errors.New("nbt: invalid NetBIOS name")

// EncodeName returns the RFC 1001 first-level encoding of name with the given
// suffix: a length byte of 32, two 'A'-based characters per nibble of the
// space-padded upper-cased name, and a terminating zero label.
func EncodeName(name string, suffix byte) ([]byte, error) {
	up := strings.ToUpper(name)
	if up == "" || len(up) > maxNameLen {
		return nil, fmt.Errorf("%w: %q must be 1..%d bytes", ErrBadName, name, maxNameLen)
	}

	var raw [16]byte
	copy(raw[:], up)
	for i := len(up); i < maxNameLen; i++ {
		raw[i] = ' '
	}
	raw[maxNameLen] = suffix

	out := make([]byte, 0, EncodedNameSize)
	out = append(out, 32)
	for _, c := range raw {
		out = append(out, 'A'+(c>>4), 'A'+(c&0x0F))
	}
	return append(out, 0), nil
}

// DecodeName parses an encoded name from the start of b and returns the
// trimmed name, its suffix and the number of bytes consumed.
func DecodeName(b []byte) (string, byte, int, error) {
	if len(b) < EncodedNameSize || b[0] != 32 || b[33] != 0 {
		return "", 0, 0, fmt.Errorf("%w: bad encoded label", ErrBadName)
	}

	var raw [16]byte
	for i := range raw {
		hi, lo := b[1+2*i]-'A', b[2+2*i]-'A'
		if hi > 0x0F || lo > 0x0F {
			return "", 0, 0, fmt.Errorf("%w: bad half-byte at %d", ErrBadName, i)
		}
		raw[i] = hi<<4 | lo
	}
	return strings.TrimRight(string(raw[:maxNameLen]), " "), raw[maxNameLen], EncodedNameSize, nil
}

// SessionRequest is the payload of a SESSION REQUEST packet.
type SessionRequest struct {
	Called  string
	Calling string
}

// Encode returns the called and calling names, both first-level encoded.
func (r SessionRequest) Encode() ([]byte, error) {
	called, err := EncodeName(r.Called, SuffixServer)
	if err != nil {
		return nil, fmt.Errorf("called name: %w", err)
	}
	calling, err := EncodeName(r.Calling, SuffixWorkstation)
	if err != nil {
		return nil, fmt.Errorf("calling name: %w", err)
	}
	return append(called, calling...), nil
}

// ParseSessionRequest decodes a SESSION REQUEST payload.
func ParseSessionRequest(p []byte) (SessionRequest, error) {
	called, _, n, err := DecodeName(p)
	if err != nil {
		return SessionRequest{}, fmt.Errorf("called name: %w", err)
	}
	calling, _, _, err := DecodeName(p[n:])
	if err != nil {
		return SessionRequest{}, fmt.Errorf("calling name: %w", err)
	}
	return SessionRequest{Called: called, Calling: calling}, nil
}

// NegativeCode is the error code carried by a NEGATIVE SESSION RESPONSE.
type NegativeCode byte

const (
	NegNotListeningOnCalled  NegativeCode = 0x80
	NegNotListeningForCaller NegativeCode = 0x81
	NegCalledNotPresent      NegativeCode = 0x82
	NegInsufficientResources NegativeCode = 0x83
	NegUnspecified           NegativeCode = 0x8F
)

func (c NegativeCode) String() string {
	switch c {
	case NegNotListeningOnCalled:
		return "not listening on called name"
	case NegNotListeningForCaller:
		return "not listening for calling name"
	case NegCalledNotPresent:
		return "called name not present"
	case NegInsufficientResources:
		return "called name present, but insufficient resources"
	case NegUnspecified:
		return "unspecified error"
	default:
		return fmt.Sprintf("negative response 0x%02x", byte(c))
	}
}

// NegativeResponseError reports a refused NetBIOS session.
type NegativeResponseError struct {
	Code NegativeCode
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("nbt: session refused: %s (0x%02x)", e.Code, byte(e.Code))
}

// RetargetError reports a RETARGET SESSION RESPONSE. The caller may open a new
// session to Addr.
type RetargetError struct {
	Addr netip.AddrPort
}

func (e *RetargetError) Error() string {
	return fmt.Sprintf("nbt: session retargeted to %s", e.Addr)
}

// EncodeRetarget builds a RETARGET SESSION RESPONSE payload for an IPv4 address.
func EncodeRetarget(addr netip.AddrPort) ([]byte, error) {
	if !addr.Addr().Is4() {
		return nil, fmt.Errorf("nbt: retarget address %s is not IPv4", addr)
	}
	ip := addr.Addr().As4()
	p := make([]byte, 6)
	copy(p, ip[:])
	binary.BigEndian.PutUint16(p[4:], addr.Port())
	return p, nil
}

// ParseRetarget decodes a RETARGET SESSION RESPONSE payload.
func ParseRetarget(p []byte) (netip.AddrPort, error) {
	if len(p) < 6 {
		return netip.AddrPort{}, fmt.Errorf("nbt: retarget payload too short (%d bytes)", len(p))
	}
	ip := netip.AddrFrom4([4]byte{p[0], p[1], p[2], p[3]})
	return netip.AddrPortFrom(ip, binary.BigEndian.Uint16(p[4:6])), nil
}
