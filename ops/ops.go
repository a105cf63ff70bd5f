// Copyright 2026 The aisds Authors. SPDX-License-Identifier: Apache-2.0

// Package ops describes how to extract one training-example field out of a tar
// record (a group of files sharing a basename). Ops compose outer-to-inner,
// with the innermost op naming the tar-entry extension to read:
//
//	ops.Resize(ops.Convert(ops.Decode("jpg"), dtypes.Float32), 224, 224)
//	ops.Select("cls")
//
// The first pipeline decodes the bytes stored under "jpg" as an image, marks
// them for conversion to float32 tensors and resizes them to 224x224. The
// second one extracts the raw bytes stored under "cls".
package ops

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/compute/dtypes"
	"github.com/pkg/errors"
)

// Sample is one tar record: entry bytes keyed by the entry's extension
// (without the leading dot).
type Sample map[string][]byte

// ErrMissingEntry is returned (wrapped) when a sample has no entry under the
// key an op reads. Callers may skip such samples instead of failing the whole
// conversion.
var ErrMissingEntry = errors.New("missing entry")

// Value is the result of applying an Op to a Sample. Either Bytes (Select) or
// Image (Decode and anything wrapping it) is set, never both.
type Value struct {
	Key   string
	Bytes []byte
	Image image.Image

	// DType the value should be materialized with, set by Convert.
	// InvalidDType when the pipeline carries no Convert op.
	DType dtypes.DType
}

// Op extracts a Value from a Sample.
type Op interface {
	// Apply extracts the op's value from the sample.
	Apply(sample Sample) (*Value, error)

	// Key returns the tar-entry extension the innermost op reads.
	Key() string
}

type selectOp struct {
	key string
}

// Select extracts the raw bytes stored under the given extension.
func Select(key string) Op {
	return &selectOp{key: key}
}

func (op *selectOp) Key() string { return op.key }

func (op *selectOp) Apply(sample Sample) (*Value, error) {
	data, found := sample[op.key]
	if !found {
		return nil, errors.Wrapf(ErrMissingEntry, "sample has no entry %q", op.key)
	}
	return &Value{Key: op.key, Bytes: data, DType: dtypes.InvalidDType}, nil
}

type decodeOp struct {
	key string
}

// Decode decodes the bytes stored under the given extension as an image.
// JPEG and PNG are supported.
func Decode(key string) Op {
	return &decodeOp{key: key}
}

func (op *decodeOp) Key() string { return op.key }

func (op *decodeOp) Apply(sample Sample) (*Value, error) {
	data, found := sample[op.key]
	if !found {
		return nil, errors.Wrapf(ErrMissingEntry, "sample has no entry %q", op.key)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image under %q", op.key)
	}
	return &Value{Key: op.key, Image: img, DType: dtypes.InvalidDType}, nil
}

type convertOp struct {
	inner Op
	dtype dtypes.DType
}

// Convert annotates the pipeline with the tensor dtype the value should be
// materialized with, typically dtypes.Float32.
func Convert(op Op, dtype dtypes.DType) Op {
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("ops.Convert: invalid dtype given for key %q", op.Key())
	}
	return &convertOp{inner: op, dtype: dtype}
}

func (op *convertOp) Key() string { return op.inner.Key() }

func (op *convertOp) Apply(sample Sample) (*Value, error) {
	value, err := op.inner.Apply(sample)
	if err != nil {
		return nil, err
	}
	value.DType = op.dtype
	return value, nil
}

type resizeOp struct {
	inner         Op
	width, height int
}

// Resize resizes the image produced by the wrapped op to the fixed
// (width, height) dimensions. It panics if either dimension is not positive.
func Resize(op Op, width, height int) Op {
	if width <= 0 || height <= 0 {
		exceptions.Panicf("ops.Resize: dimensions must be positive, got (%d, %d)", width, height)
	}
	return &resizeOp{inner: op, width: width, height: height}
}

func (op *resizeOp) Key() string { return op.inner.Key() }

// Size returns the fixed output dimensions of the resize.
func (op *resizeOp) Size() (width, height int) { return op.width, op.height }

func (op *resizeOp) Apply(sample Sample) (*Value, error) {
	value, err := op.inner.Apply(sample)
	if err != nil {
		return nil, err
	}
	if value.Image == nil {
		return nil, errors.Errorf("ops.Resize requires an image value for key %q -- wrap a Decode op", op.Key())
	}
	value.Image = imaging.Resize(value.Image, op.width, op.height, imaging.Lanczos)
	return value, nil
}

// Sizer is implemented by ops with fixed output image dimensions (Resize).
type Sizer interface {
	Size() (width, height int)
}

// FixedSize returns the fixed image dimensions of the pipeline, searching
// through wrapping ops, and whether any were found.
func FixedSize(op Op) (width, height int, found bool) {
	for op != nil {
		if sizer, ok := op.(Sizer); ok {
			width, height = sizer.Size()
			return width, height, true
		}
		op = unwrap(op)
	}
	return 0, 0, false
}

// PipelineDType returns the dtype set by a Convert op in the pipeline, or
// defaultDType if there is none.
func PipelineDType(op Op, defaultDType dtypes.DType) dtypes.DType {
	for op != nil {
		if convert, ok := op.(*convertOp); ok {
			return convert.dtype
		}
		op = unwrap(op)
	}
	return defaultDType
}

func unwrap(op Op) Op {
	switch typed := op.(type) {
	case *convertOp:
		return typed.inner
	case *resizeOp:
		return typed.inner
	}
	return nil
}
