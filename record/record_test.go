package record

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, header Header, labels []int32) *bytes.Buffer {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, header)
	require.NoError(t, err)
	pixels := make([]byte, header.PixelsSize())
	for _, label := range labels {
		for i := range pixels {
			pixels[i] = byte(int(label) + i)
		}
		require.NoError(t, w.Write(&Example{Label: label, Pixels: pixels}))
	}
	require.NoError(t, w.Flush())
	assert.Equal(t, len(labels), w.Count())
	return &buf
}

func TestWriteRead(t *testing.T) {
	header := Header{Width: 4, Height: 3, Channels: 3}
	labels := []int32{0, 7, 2}
	buf := writeTestFile(t, header, labels)

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, header, r.Header())

	for _, wantLabel := range labels {
		example, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, wantLabel, example.Label)
		require.Len(t, example.Pixels, header.PixelsSize())
		assert.Equal(t, byte(int(wantLabel)+1), example.Pixels[1])
	}
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestCorruptionDetected(t *testing.T) {
	buf := writeTestFile(t, Header{Width: 2, Height: 2, Channels: 1}, []int32{1, 2})
	data := buf.Bytes()

	// Flip a byte in the middle of the second example's payload.
	corrupted := append([]byte{}, data...)
	corrupted[len(corrupted)-10] ^= 0xFF
	r, err := NewReader(bytes.NewReader(corrupted))
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted")
}

func TestOversizedLengthRejected(t *testing.T) {
	buf := writeTestFile(t, Header{Width: 2, Height: 2, Channels: 1}, nil)

	// Append a correctly framed length claiming an absurd payload size: the
	// reader must reject it instead of trying to allocate it.
	var lengthBytes [8]byte
	binary.LittleEndian.PutUint64(lengthBytes[:], 1<<40)
	var crcBytes [4]byte
	binary.LittleEndian.PutUint32(crcBytes[:], maskedCRC(lengthBytes[:]))
	buf.Write(lengthBytes[:])
	buf.Write(crcBytes[:])

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted")
}

func TestTruncationDetected(t *testing.T) {
	buf := writeTestFile(t, Header{Width: 2, Height: 2, Channels: 1}, []int32{1})
	data := buf.Bytes()

	r, err := NewReader(bytes.NewReader(data[:len(data)-3]))
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestBadHeader(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil))
	require.Error(t, err)

	_, err = NewReader(bytes.NewReader([]byte("garbage that is not a record file")))
	require.Error(t, err)

	_, err = NewWriter(io.Discard, Header{Width: 0, Height: 2, Channels: 3})
	require.Error(t, err)
	_, err = NewWriter(io.Discard, Header{Width: 2, Height: 2, Channels: 5})
	require.Error(t, err)
}

func TestGeometryMismatch(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Header{Width: 2, Height: 2, Channels: 3})
	require.NoError(t, err)
	err = w.Write(&Example{Label: 0, Pixels: make([]byte, 5)})
	require.Error(t, err)
}
