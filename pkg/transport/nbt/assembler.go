package nbt

import (
	"io"

	"github.com/marmos91/smbtran/pkg/transport"
)

// frameAssembler reads one frame at a time from a byte stream.
//
// Progress survives errors: when a read times out halfway through a header or
// payload, the bytes already read stay buffered and the next readFrom call
// continues where the previous one stopped. A frame is only returned once it
// is complete.
type frameAssembler struct {
	variant LengthVariant

	hdr    [HeaderSize]byte
	hdrN   int
	header Header
	inBody bool

	payload []byte
	payN    int
}

// pending reports whether a frame is partially assembled.
func (a *frameAssembler) pending() bool {
	return a.hdrN > 0 || a.inBody
}

func (a *frameAssembler) reset() {
	a.hdrN = 0
	a.header = Header{}
	a.inBody = false
	a.payload = nil
	a.payN = 0
}

// readFrom continues assembling the current frame from r.
//
// A declared length above maxLen yields a FrameTooLarge transport error and a
// malformed header a Protocol error; both leave the stream unusable. I/O
// errors are returned as-is, except that EOF inside a frame becomes
// io.ErrUnexpectedEOF.
func (a *frameAssembler) readFrom(r io.Reader, maxLen int) (Header, []byte, error) {
	for !a.inBody {
		n, err := r.Read(a.hdr[a.hdrN:])
		a.hdrN += n
		if a.hdrN == HeaderSize {
			h, perr := a.variant.ParseHeader(a.hdr[:])
			if perr != nil {
				return Header{}, nil, transport.NewError("receive", transport.CodeProtocol, perr)
			}
			if int64(h.Length) > int64(maxLen) {
				return Header{}, nil, transport.Errorf("receive", transport.CodeFrameTooLarge,
					"declared length %d exceeds receive size %d", h.Length, maxLen)
			}
			a.header = h
			a.inBody = true
			a.payload = make([]byte, h.Length)
			a.payN = 0
			break
		}
		if err != nil {
			return Header{}, nil, a.streamErr(err)
		}
	}

	for a.payN < len(a.payload) {
		n, err := r.Read(a.payload[a.payN:])
		a.payN += n
		if a.payN == len(a.payload) {
			break
		}
		if err != nil {
			return Header{}, nil, a.streamErr(err)
		}
	}

	h, p := a.header, a.payload
	a.reset()
	return h, p, nil
}

func (a *frameAssembler) streamErr(err error) error {
	if err == io.EOF && a.pending() {
		return io.ErrUnexpectedEOF
	}
	return err
}
