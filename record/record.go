// Copyright 2026 The aisds Authors. SPDX-License-Identifier: Apache-2.0

// Package record reads and writes record files: serialized containers of
// flattened training examples, one fixed-geometry image plus an integer label
// per record.
//
// Each record is framed TFRecord-style so corruption and truncation are
// detected on read:
//
//	uint64 length (little-endian)
//	uint32 masked crc32c of the length bytes
//	payload[length]
//	uint32 masked crc32c of the payload
//
// The first record of a file is a header carrying the magic, format version
// and image geometry (width, height, channels). Every following record is one
// example: an int32 label followed by raw uint8 pixel data in
// height x width x channels order.
package record

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

const (
	// Magic identifies record files written by this package.
	Magic = "AISR"

	// Version of the record file format.
	Version = 1

	// crcMaskDelta is the TFRecord crc masking constant.
	crcMaskDelta = 0xa282ead8

	headerPayloadSize = len(Magic) + 4*4 // magic + version + width + height + channels
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + crcMaskDelta
}

// Header describes the fixed geometry of every example in a record file.
type Header struct {
	Width, Height, Channels int
}

// PixelsSize returns the byte size of one example's pixel data.
func (h Header) PixelsSize() int {
	return h.Width * h.Height * h.Channels
}

func (h Header) validate() error {
	if h.Width <= 0 || h.Height <= 0 {
		return errors.Errorf("record header dimensions must be positive, got %dx%d", h.Width, h.Height)
	}
	if h.Channels < 1 || h.Channels > 4 {
		return errors.Errorf("record header channels must be in [1, 4], got %d", h.Channels)
	}
	return nil
}

// Example is one flattened training example.
type Example struct {
	Label  int32
	Pixels []byte // Height x Width x Channels raw uint8 values.
}

// Writer writes a record file: the header record once at construction, then
// one record per example.
type Writer struct {
	w      *bufio.Writer
	header Header
	count  int
}

// NewWriter writes the header record to w and returns a Writer for the
// examples. The caller owns flushing (Flush) before closing the underlying
// writer.
func NewWriter(w io.Writer, header Header) (*Writer, error) {
	if err := header.validate(); err != nil {
		return nil, err
	}
	rw := &Writer{w: bufio.NewWriter(w), header: header}

	payload := make([]byte, headerPayloadSize)
	pos := copy(payload, Magic)
	for _, dim := range []int{Version, header.Width, header.Height, header.Channels} {
		binary.LittleEndian.PutUint32(payload[pos:], uint32(dim))
		pos += 4
	}
	if err := rw.writeRecord(payload); err != nil {
		return nil, err
	}
	return rw, nil
}

// Header returns the geometry this writer was created with.
func (rw *Writer) Header() Header { return rw.header }

// Count returns the number of examples written so far.
func (rw *Writer) Count() int { return rw.count }

// Write appends one example. The example's pixel data must match the header
// geometry exactly.
func (rw *Writer) Write(example *Example) error {
	pixelsSize := rw.header.PixelsSize()
	if len(example.Pixels) != pixelsSize {
		return errors.Errorf("example has %d pixel bytes, header geometry %dx%dx%d requires %d",
			len(example.Pixels), rw.header.Height, rw.header.Width, rw.header.Channels, pixelsSize)
	}
	payload := make([]byte, 4+pixelsSize)
	binary.LittleEndian.PutUint32(payload, uint32(example.Label))
	copy(payload[4:], example.Pixels)
	if err := rw.writeRecord(payload); err != nil {
		return err
	}
	rw.count++
	return nil
}

// Flush flushes buffered records to the underlying writer.
func (rw *Writer) Flush() error {
	return errors.Wrap(rw.w.Flush(), "failed flushing record file")
}

func (rw *Writer) writeRecord(payload []byte) error {
	var lengthBytes [8]byte
	binary.LittleEndian.PutUint64(lengthBytes[:], uint64(len(payload)))
	var crcBytes [4]byte
	binary.LittleEndian.PutUint32(crcBytes[:], maskedCRC(lengthBytes[:]))
	for _, chunk := range [][]byte{lengthBytes[:], crcBytes[:]} {
		if _, err := rw.w.Write(chunk); err != nil {
			return errors.Wrap(err, "failed writing record")
		}
	}
	if _, err := rw.w.Write(payload); err != nil {
		return errors.Wrap(err, "failed writing record")
	}
	binary.LittleEndian.PutUint32(crcBytes[:], maskedCRC(payload))
	if _, err := rw.w.Write(crcBytes[:]); err != nil {
		return errors.Wrap(err, "failed writing record")
	}
	return nil
}

// Reader reads a record file written by Writer.
type Reader struct {
	r      *bufio.Reader
	header Header
}

// NewReader reads and validates the header record of r and returns a Reader
// for the examples.
func NewReader(r io.Reader) (*Reader, error) {
	rr := &Reader{r: bufio.NewReader(r)}
	payload, err := rr.readRecord()
	if err != nil {
		if err == io.EOF {
			return nil, errors.New("record file is empty")
		}
		return nil, err
	}
	if len(payload) != headerPayloadSize || string(payload[:len(Magic)]) != Magic {
		return nil, errors.Errorf("not a record file: bad magic")
	}
	pos := len(Magic)
	version := int(binary.LittleEndian.Uint32(payload[pos:]))
	if version != Version {
		return nil, errors.Errorf("record file version %d not supported (want %d)", version, Version)
	}
	rr.header.Width = int(binary.LittleEndian.Uint32(payload[pos+4:]))
	rr.header.Height = int(binary.LittleEndian.Uint32(payload[pos+8:]))
	rr.header.Channels = int(binary.LittleEndian.Uint32(payload[pos+12:]))
	if err = rr.header.validate(); err != nil {
		return nil, err
	}
	return rr, nil
}

// Header returns the geometry read from the file's header record.
func (rr *Reader) Header() Header { return rr.header }

// Next returns the next example, or io.EOF after the last one.
func (rr *Reader) Next() (*Example, error) {
	payload, err := rr.readRecord()
	if err != nil {
		return nil, err
	}
	if len(payload) != 4+rr.header.PixelsSize() {
		return nil, errors.Errorf("example record has %d bytes, header geometry requires %d",
			len(payload), 4+rr.header.PixelsSize())
	}
	return &Example{
		Label:  int32(binary.LittleEndian.Uint32(payload)),
		Pixels: payload[4:],
	}, nil
}

// maxPayloadSize bounds how large a record payload can legitimately be: the
// header record before the header is known, one example record afterwards.
func (rr *Reader) maxPayloadSize() int {
	if rr.header == (Header{}) {
		return headerPayloadSize
	}
	return 4 + rr.header.PixelsSize()
}

func (rr *Reader) readRecord() ([]byte, error) {
	var lengthAndCRC [12]byte
	if _, err := io.ReadFull(rr.r, lengthAndCRC[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "record file truncated")
	}
	if maskedCRC(lengthAndCRC[:8]) != binary.LittleEndian.Uint32(lengthAndCRC[8:]) {
		return nil, errors.New("record length crc mismatch, file is corrupted")
	}
	length := binary.LittleEndian.Uint64(lengthAndCRC[:8])
	if maxSize := uint64(rr.maxPayloadSize()); length > maxSize {
		return nil, errors.Errorf("record length %d exceeds the maximum payload size %d, file is corrupted",
			length, maxSize)
	}
	payloadAndCRC := make([]byte, length+4)
	if _, err := io.ReadFull(rr.r, payloadAndCRC); err != nil {
		return nil, errors.Wrap(err, "record file truncated")
	}
	payload := payloadAndCRC[:length]
	if maskedCRC(payload) != binary.LittleEndian.Uint32(payloadAndCRC[length:]) {
		return nil, errors.New("record payload crc mismatch, file is corrupted")
	}
	return payload, nil
}
