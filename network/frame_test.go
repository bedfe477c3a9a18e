package network

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/najoast/sngo/core"
	cerrors "github.com/najoast/sngo/errors"
	"github.com/stretchr/testify/require"
)

func TestFrameCodec(t *testing.T) {
	t.Parallel()

	codec := NewFrameCodec(0)
	require.Equal(t, DefaultMaxFrameSize, codec.MaxFrameSize)

	t.Run("Encode", func(t *testing.T) {
		msg := NewTransportMessage(
			core.NewRoute(core.NewAddress("echo")),
			core.NewRoute(core.NewTCPAddress("10.0.0.1:4000"), core.NewAddress("app")),
			[]byte("hello"),
		)
		frame, err := codec.Encode(msg)
		require.NoError(t, err)
		require.Len(t, frame, FrameHeaderSize+msg.Size())
		require.Equal(t, uint32(msg.Size()), binary.BigEndian.Uint32(frame[:4]))
		require.Equal(t, ProtocolVersion, frame[4])

		decoded, err := codec.Decode(frame[FrameHeaderSize:])
		require.NoError(t, err)
		require.Equal(t, msg, decoded)
	})

	t.Run("EmptyRoutesAndPayload", func(t *testing.T) {
		msg := NewTransportMessage(nil, nil, nil)
		frame, err := codec.Encode(msg)
		require.NoError(t, err)
		decoded, err := codec.Decode(frame[FrameHeaderSize:])
		require.NoError(t, err)
		require.Equal(t, msg, decoded)
	})

	t.Run("TooLarge", func(t *testing.T) {
		small := NewFrameCodec(16)
		_, err := small.Encode(NewTransportMessage(nil, nil, make([]byte, 64)))
		require.True(t, cerrors.Is(err, cerrors.ErrFrameTooLarge))
	})

	t.Run("Truncated", func(t *testing.T) {
		msg := NewTransportMessage(core.NewRoute(core.NewAddress("echo")), nil, []byte("x"))
		frame, err := codec.Encode(msg)
		require.NoError(t, err)
		body := frame[FrameHeaderSize:]
		for i := 0; i < len(body); i++ {
			_, err := codec.Decode(body[:i])
			require.True(t, cerrors.Is(err, cerrors.ErrFrameMalformed), "prefix of %d bytes", i)
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		msg := NewTransportMessage(nil, nil, nil)
		msg.Version = 9
		frame, err := codec.Encode(msg)
		require.NoError(t, err)
		_, err = codec.Decode(frame[FrameHeaderSize:])
		require.True(t, cerrors.Is(err, cerrors.ErrFrameMalformed))
	})
}

func TestFrameReaderWriter(t *testing.T) {
	t.Parallel()

	codec := NewFrameCodec(1024)
	var buf bytes.Buffer
	w := NewFrameWriter(&buf, codec)

	first := NewTransportMessage(core.NewRoute(core.NewAddress("a")), nil, []byte("one"))
	second := NewTransportMessage(core.NewRoute(core.NewAddress("b")), core.NewRoute(core.NewAddress("c")), []byte("two"))
	require.NoError(t, w.WriteMessage(first))
	require.NoError(t, w.WriteMessage(second))

	r := NewFrameReader(&buf, codec)
	got, err := r.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, first, got)
	got, err = r.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, second, got)

	_, err = r.ReadMessage()
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameReaderRejectsOversizedHeader(t *testing.T) {
	t.Parallel()

	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], 1<<30)
	r := NewFrameReader(bytes.NewReader(header[:]), NewFrameCodec(1024))
	_, err := r.ReadMessage()
	require.True(t, cerrors.Is(err, cerrors.ErrFrameTooLarge))
}
