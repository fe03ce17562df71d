package wayland

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wayland wire format: every message is a header of two 32-bit words
// (object id, then size<<16 | opcode) followed by 32-bit aligned arguments,
// all in host byte order. Messages used here never carry file descriptors.

const (
	HeaderSize = 8
	// MaxMessageSize is the limit libwayland enforces
	MaxMessageSize = 4096
)

// Order is the byte order of the wire, the host's
var Order = binary.NativeEndian

// ErrShortMessage means an argument ran past the end of its message
var ErrShortMessage = errors.New("wayland: message truncated")

// Message is one request or event
type Message struct {
	Sender uint32
	Opcode uint16
	Args   []byte
}

// ReadMessage reads one framed message from r
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}

	m := Message{Sender: Order.Uint32(hdr[0:4])}
	word := Order.Uint32(hdr[4:8])
	m.Opcode = uint16(word & 0xffff)
	size := int(word >> 16)
	if size < HeaderSize || size > MaxMessageSize || size%4 != 0 {
		return Message{}, fmt.Errorf("wayland: bad message size %d from object %d", size, m.Sender)
	}

	m.Args = make([]byte, size-HeaderSize)
	if _, err := io.ReadFull(r, m.Args); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Encoder builds one message
type Encoder struct {
	buf []byte
}

// NewMessage starts a message from object with the given opcode
func NewMessage(object uint32, opcode uint16) *Encoder {
	e := &Encoder{buf: make([]byte, HeaderSize, 64)}
	Order.PutUint32(e.buf[0:4], object)
	Order.PutUint32(e.buf[4:8], uint32(opcode))
	return e
}

func (e *Encoder) Uint(v uint32) *Encoder {
	e.buf = Order.AppendUint32(e.buf, v)
	return e
}

func (e *Encoder) Int(v int32) *Encoder {
	return e.Uint(uint32(v))
}

// String writes a length-prefixed, NUL-terminated, padded string
func (e *Encoder) String(s string) *Encoder {
	e.Uint(uint32(len(s) + 1))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	e.pad()
	return e
}

func (e *Encoder) Array(b []byte) *Encoder {
	e.Uint(uint32(len(b)))
	e.buf = append(e.buf, b...)
	e.pad()
	return e
}

func (e *Encoder) pad() {
	for len(e.buf)%4 != 0 {
		e.buf = append(e.buf, 0)
	}
}

// Bytes finalizes the size field
func (e *Encoder) Bytes() []byte {
	word := Order.Uint32(e.buf[4:8]) & 0xffff
	Order.PutUint32(e.buf[4:8], uint32(len(e.buf))<<16|word)
	return e.buf
}

// Decoder reads the arguments of one message. The first failure sticks and
// later reads return zero values.
type Decoder struct {
	b   []byte
	err error
}

func NewDecoder(m Message) *Decoder {
	return &Decoder{b: m.Args}
}

// Err reports the first decoding failure
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) Uint() uint32 {
	if d.err != nil {
		return 0
	}
	if len(d.b) < 4 {
		d.err = ErrShortMessage
		return 0
	}
	v := Order.Uint32(d.b)
	d.b = d.b[4:]
	return v
}

func (d *Decoder) Int() int32 {
	return int32(d.Uint())
}

func (d *Decoder) Array() []byte {
	n := int(d.Uint())
	if d.err != nil {
		return nil
	}
	padded := (n + 3) &^ 3
	if n < 0 || padded > len(d.b) {
		d.err = ErrShortMessage
		return nil
	}
	v := d.b[:n]
	d.b = d.b[padded:]
	return v
}

func (d *Decoder) String() string {
	raw := d.Array()
	if d.err != nil || len(raw) == 0 {
		// a zero length is a null string
		return ""
	}
	if raw[len(raw)-1] != 0 {
		d.err = errors.New("wayland: string not NUL-terminated")
		return ""
	}
	return string(raw[:len(raw)-1])
}

// Uints decodes an array of 32-bit values
func Uints(raw []byte) []uint32 {
	out := make([]uint32, 0, len(raw)/4)
	for i := 0; i+4 <= len(raw); i += 4 {
		out = append(out, Order.Uint32(raw[i:]))
	}
	return out
}

// PackUints encodes values as a wire array
func PackUints(vs ...uint32) []byte {
	var out []byte
	for _, v := range vs {
		out = Order.AppendUint32(out, v)
	}
	return out
}
