package network

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/najoast/sngo/core"
	cerrors "github.com/najoast/sngo/errors"
	"github.com/pingcap/errors"
)

// Constants for frame serialization
const (
	// FrameHeaderSize is the size of the length prefix of every frame
	FrameHeaderSize = 4

	// ProtocolVersion is written as the first byte of every frame body
	ProtocolVersion uint8 = 1

	// DefaultMaxFrameSize is the largest frame body accepted by default
	DefaultMaxFrameSize = 16 * 1024 * 1024 // 16MB

	maxRouteHops = math.MaxUint8
	maxAddrLen   = math.MaxUint16
)

// TransportMessage is the form a message takes on the wire. Onward is the
// route that remains after the sending hop, Return the route a reply takes.
type TransportMessage struct {
	Version uint8
	Onward  core.Route
	Return  core.Route
	Payload []byte
}

// NewTransportMessage builds a wire message of the current version.
func NewTransportMessage(onward, ret core.Route, payload []byte) *TransportMessage {
	return &TransportMessage{
		Version: ProtocolVersion,
		Onward:  onward,
		Return:  ret,
		Payload: payload,
	}
}

// Size returns the encoded body size of the message in bytes.
func (m *TransportMessage) Size() int {
	size := 1 + routeSize(m.Onward) + routeSize(m.Return) + 4 + len(m.Payload)
	return size
}

func routeSize(r core.Route) int {
	size := 1
	for _, a := range r {
		size += 1 + 2 + len(a.Value)
	}
	return size
}

// FrameCodec encodes and decodes frame bodies. The body layout is
//
//	version:u8 | onward route | return route | payload length:u32 | payload
//
// where a route is hops:u8 followed by (transport:u8, length:u16, value)
// per hop. All integers are big-endian.
type FrameCodec struct {
	MaxFrameSize int
}

// NewFrameCodec creates a codec limited to maxFrameSize body bytes.
func NewFrameCodec(maxFrameSize int) *FrameCodec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &FrameCodec{MaxFrameSize: maxFrameSize}
}

// Encode encodes msg into a complete frame, length prefix included.
func (c *FrameCodec) Encode(msg *TransportMessage) ([]byte, error) {
	if msg == nil {
		return nil, cerrors.ErrFrameMalformed.GenWithStackByArgs("message is nil")
	}
	if len(msg.Onward) > maxRouteHops || len(msg.Return) > maxRouteHops {
		return nil, cerrors.ErrFrameMalformed.GenWithStackByArgs("route has too many hops")
	}

	bodyLen := msg.Size()
	if bodyLen > c.MaxFrameSize {
		return nil, cerrors.ErrFrameTooLarge.GenWithStackByArgs(bodyLen, c.MaxFrameSize)
	}

	buf := make([]byte, FrameHeaderSize, FrameHeaderSize+bodyLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(bodyLen))

	buf = append(buf, msg.Version)
	var err error
	if buf, err = appendRoute(buf, msg.Onward); err != nil {
		return nil, err
	}
	if buf, err = appendRoute(buf, msg.Return); err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)
	return buf, nil
}

func appendRoute(buf []byte, r core.Route) ([]byte, error) {
	buf = append(buf, uint8(len(r)))
	for _, a := range r {
		if len(a.Value) > maxAddrLen {
			return nil, cerrors.ErrFrameMalformed.GenWithStackByArgs("address value is too long")
		}
		buf = append(buf, uint8(a.Transport))
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(a.Value)))
		buf = append(buf, a.Value...)
	}
	return buf, nil
}

// Decode decodes a frame body, without its length prefix.
func (c *FrameCodec) Decode(body []byte) (*TransportMessage, error) {
	if len(body) > c.MaxFrameSize {
		return nil, cerrors.ErrFrameTooLarge.GenWithStackByArgs(len(body), c.MaxFrameSize)
	}
	d := decoder{buf: body}

	msg := &TransportMessage{Version: d.u8()}
	if d.err == nil && msg.Version != ProtocolVersion {
		return nil, cerrors.ErrFrameMalformed.GenWithStackByArgs("unsupported version")
	}
	msg.Onward = d.route()
	msg.Return = d.route()
	payloadLen := d.u32()
	if d.err == nil && int(payloadLen) != len(d.buf) {
		return nil, cerrors.ErrFrameMalformed.GenWithStackByArgs("payload length mismatch")
	}
	if d.err != nil {
		return nil, d.err
	}
	if payloadLen > 0 {
		msg.Payload = make([]byte, payloadLen)
		copy(msg.Payload, d.buf)
	}
	return msg, nil
}

// decoder consumes a body front to back. The first short read sets err and
// turns every later read into a no-op.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = cerrors.ErrFrameMalformed.GenWithStackByArgs("frame body is truncated")
		return nil
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) route() core.Route {
	hops := int(d.u8())
	if d.err != nil || hops == 0 {
		return nil
	}
	r := make(core.Route, 0, hops)
	for i := 0; i < hops; i++ {
		transport := core.TransportType(d.u8())
		value := d.take(int(d.u16()))
		if d.err != nil {
			return nil
		}
		r = append(r, core.Address{Transport: transport, Value: string(value)})
	}
	return r
}

// FrameReader reads frames from a stream.
type FrameReader struct {
	r     *bufio.Reader
	codec *FrameCodec
}

// NewFrameReader creates a reader enforcing the codec limit.
func NewFrameReader(r io.Reader, codec *FrameCodec) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r), codec: codec}
}

// ReadMessage blocks until a whole frame is read. io.EOF is returned as is
// when the stream ends on a frame boundary.
func (fr *FrameReader) ReadMessage() (*TransportMessage, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, errors.Trace(err)
	}
	bodyLen := binary.BigEndian.Uint32(header[:])
	if uint64(bodyLen) > uint64(fr.codec.MaxFrameSize) {
		return nil, cerrors.ErrFrameTooLarge.GenWithStackByArgs(bodyLen, fr.codec.MaxFrameSize)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return nil, errors.Trace(err)
	}
	return fr.codec.Decode(body)
}

// FrameWriter writes frames to a stream. It is safe for concurrent use; each
// frame is written with a single Write call.
type FrameWriter struct {
	mu    sync.Mutex
	w     io.Writer
	codec *FrameCodec
}

// NewFrameWriter creates a writer enforcing the codec limit.
func NewFrameWriter(w io.Writer, codec *FrameCodec) *FrameWriter {
	return &FrameWriter{w: w, codec: codec}
}

// WriteMessage encodes and writes msg. An encoding error is returned before
// anything is written, so the stream stays usable.
func (fw *FrameWriter) WriteMessage(msg *TransportMessage) error {
	frame, err := fw.codec.Encode(msg)
	if err != nil {
		return err
	}
	return fw.WriteFrame(frame)
}

// WriteFrame writes a frame produced by FrameCodec.Encode.
func (fw *FrameWriter) WriteFrame(frame []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err := fw.w.Write(frame)
	return errors.Trace(err)
}
