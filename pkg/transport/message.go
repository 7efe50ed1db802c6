package transport

// Message is an owned, resizable byte buffer carrying one opaque protocol
// message.
//
// Outbound messages are built with Append and handed to Transport.Send, which
// consumes them once the frame write starts: after that the message is empty
// whatever the outcome. A Send rejected up front (wrong state, payload too
// large) leaves the message untouched. Messages returned by
// Transport.Receive belong to the caller, who reads them with Bytes or
// consumes them piecewise with Next.
//
// A Message is not safe for concurrent use.
type Message struct {
	buf      []byte
	off      int
	consumed bool
}

// NewMessage returns a message holding a copy of b.
func NewMessage(b []byte) *Message {
	m := &Message{}
	if len(b) > 0 {
		m.buf = append(make([]byte, 0, len(b)), b...)
	}
	return m
}

// WrapMessage returns a message that takes ownership of b without copying.
func WrapMessage(b []byte) *Message {
	return &Message{buf: b}
}

// Append adds b to the end of the message.
func (m *Message) Append(b []byte) *Message {
	m.buf = append(m.buf, b...)
	m.consumed = false
	return m
}

// AppendString adds s to the end of the message.
func (m *Message) AppendString(s string) *Message {
	m.buf = append(m.buf, s...)
	m.consumed = false
	return m
}

// Len returns the number of unread bytes.
func (m *Message) Len() int {
	if m == nil {
		return 0
	}
	return len(m.buf) - m.off
}

// Bytes returns the unread portion. The slice aliases the message and is
// valid until the next mutating call.
func (m *Message) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.buf[m.off:]
}

// Next consumes and returns the next n unread bytes. It reports false and
// consumes nothing when fewer than n bytes remain.
func (m *Message) Next(n int) ([]byte, bool) {
	if n < 0 || m.Len() < n {
		return nil, false
	}
	b := m.buf[m.off : m.off+n]
	m.off += n
	return b, true
}

// Reset empties the message, keeping its capacity.
func (m *Message) Reset() {
	m.buf = m.buf[:0]
	m.off = 0
	m.consumed = false
}

// Release empties the message and drops its storage, marking it consumed.
func (m *Message) Release() {
	m.buf = nil
	m.off = 0
	m.consumed = true
}

// Consumed reports whether the message has been handed to Send.
func (m *Message) Consumed() bool {
	return m != nil && m.consumed
}

// Equal reports whether the unread bytes of m and o are identical.
func (m *Message) Equal(o *Message) bool {
	return string(m.Bytes()) == string(o.Bytes())
}
