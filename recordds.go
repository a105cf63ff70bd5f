// Copyright 2026 The aisds Authors. SPDX-License-Identifier: Apache-2.0

package aisds

import (
	"io"
	"math/rand"
	"os"
	"sync"

	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/compute/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"github.com/aisds/aisds/record"
)

// DefaultShuffleBufferSize examples are held in the shuffle buffer when
// shuffling is enabled without an explicit size.
const DefaultShuffleBufferSize = 1024

// RecordsDataset implements train.Dataset by streaming examples from a record
// file, optionally through a shuffle buffer, in fixed-size batches.
type RecordsDataset struct {
	name     string
	filePath string

	batchSize  int
	dtype      dtypes.DType
	shuffle    *rand.Rand
	bufferSize int
	infinite   bool

	mu              sync.Mutex
	file            *os.File
	reader          *record.Reader
	header          record.Header
	buffer          []*record.Example
	readSinceReopen bool
	closed          bool
	err             error
}

var (
	// Assert RecordsDataset is a train.Dataset.
	_ train.Dataset = &RecordsDataset{}
)

// NewRecordsDataset creates a train.Dataset that yields batches from the
// record file at filePath.
//
// Batches are image tensors shaped `[batchSize, height, width, channels]`
// with values scaled to `[0, 1]` in the given dtype, and label tensors shaped
// `[batchSize, 1]` (Int32). A final batch short of batchSize is dropped, so
// yielded shapes are stable.
func NewRecordsDataset(name, filePath string, batchSize int, dtype dtypes.DType) (*RecordsDataset, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	if dtype != dtypes.Float32 && dtype != dtypes.Float64 {
		return nil, errors.Errorf("dtype %s not supported for image batches, use Float32 or Float64", dtype)
	}
	ds := &RecordsDataset{
		name:      name,
		filePath:  filePath,
		batchSize: batchSize,
		dtype:     dtype,
	}
	ds.Reset()
	if ds.err != nil {
		return nil, ds.err
	}
	return ds, nil
}

// Shuffle enables shuffling through a buffer of DefaultShuffleBufferSize
// examples, using the given random number generator. A seeded rng makes the
// shuffle deterministic. Returns the dataset to allow chaining.
func (ds *RecordsDataset) Shuffle(rng *rand.Rand) *RecordsDataset {
	ds.shuffle = rng
	if ds.bufferSize == 0 {
		ds.bufferSize = DefaultShuffleBufferSize
	}
	return ds
}

// WithShuffleBuffer sets the shuffle buffer size. Returns the dataset to
// allow chaining.
func (ds *RecordsDataset) WithShuffleBuffer(size int) *RecordsDataset {
	ds.bufferSize = size
	return ds
}

// Infinite configures the dataset to loop over the file indefinitely, for
// step-driven training (train.Loop.RunSteps). Leave it false when training
// with train.Loop.RunEpochs or evaluating. Returns the dataset to allow
// chaining.
func (ds *RecordsDataset) Infinite(infinite bool) *RecordsDataset {
	ds.infinite = infinite
	return ds
}

// Name implements train.Dataset.
func (ds *RecordsDataset) Name() string { return ds.name }

// Header returns the geometry of the underlying record file.
func (ds *RecordsDataset) Header() record.Header { return ds.header }

// Reset implements train.Dataset: it rewinds to the start of the record file.
// The shuffle buffer is dropped, so a full epoch is available again.
func (ds *RecordsDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.reset()
}

func (ds *RecordsDataset) reset() {
	ds.buffer = ds.buffer[:0]
	ds.reopen()
}

// Close releases the underlying record file. The dataset cannot be used
// afterwards, not even through a Reset.
func (ds *RecordsDataset) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.closed = true
	ds.err = errors.Errorf("records dataset %q is closed", ds.name)
	ds.buffer = ds.buffer[:0]
	ds.reader = nil
	if ds.file == nil {
		return nil
	}
	err := ds.file.Close()
	ds.file = nil
	return errors.Wrapf(err, "failed closing record file %q", ds.filePath)
}

// reopen rewinds the record file without touching the shuffle buffer.
func (ds *RecordsDataset) reopen() {
	if ds.closed {
		ds.err = errors.Errorf("records dataset %q is closed", ds.name)
		return
	}
	ds.err = nil
	ds.readSinceReopen = false
	if ds.file != nil {
		_ = ds.file.Close()
		ds.file = nil
	}
	ds.file, ds.err = os.Open(ds.filePath)
	if ds.err != nil {
		ds.err = errors.Wrapf(ds.err, "failed to open record file %q", ds.filePath)
		return
	}
	ds.reader, ds.err = record.NewReader(ds.file)
	if ds.err != nil {
		return
	}
	ds.header = ds.reader.Header()
}

// Yield implements train.Dataset. It returns:
//
//   - spec: the dataset itself.
//   - inputs: one tensor, the images batch shaped
//     `[batch_size, height, width, channels]`.
//   - labels: one tensor with the class indices, shaped `[batch_size, 1]`.
//
// It is safe for concurrent use, e.g. under data.CustomParallel.
func (ds *RecordsDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	batch, err := ds.nextBatch()
	if err != nil {
		return nil, nil, nil, err
	}

	var images *tensors.Tensor
	switch ds.dtype {
	case dtypes.Float32:
		images = examplesToTensor[float32](batch, ds.header)
	case dtypes.Float64:
		images = examplesToTensor[float64](batch, ds.header)
	}
	labelsT := tensors.FromShape(shapes.Make(dtypes.Int32, len(batch), 1))
	labelsT.MutableFlatData(func(flat any) {
		labelsData := flat.([]int32)
		for ii, example := range batch {
			labelsData[ii] = example.Label
		}
	})
	return ds, []*tensors.Tensor{images}, []*tensors.Tensor{labelsT}, nil
}

// nextBatch returns the next batchSize examples, filling the shuffle buffer
// as needed. It must be called with ds.mu held.
func (ds *RecordsDataset) nextBatch() ([]*record.Example, error) {
	if ds.err != nil {
		return nil, ds.err
	}
	exhausted := false
	for !exhausted && len(ds.buffer) < ds.targetBufferSize() {
		example, err := ds.reader.Next()
		if err == io.EOF {
			if !ds.infinite {
				exhausted = true
				break
			}
			if !ds.readSinceReopen {
				ds.err = errors.Errorf("record file %q has no examples, cannot loop infinitely", ds.filePath)
				return nil, ds.err
			}
			ds.reopen()
			if ds.err != nil {
				return nil, ds.err
			}
			continue
		}
		if err != nil {
			ds.err = err
			return nil, err
		}
		ds.readSinceReopen = true
		ds.buffer = append(ds.buffer, example)
	}
	if len(ds.buffer) < ds.batchSize {
		// Drop the remainder: the final short batch is not yielded.
		ds.buffer = ds.buffer[:0]
		return nil, io.EOF
	}

	batch := make([]*record.Example, ds.batchSize)
	if ds.shuffle == nil {
		// Keep file order.
		copy(batch, ds.buffer[:ds.batchSize])
		n := copy(ds.buffer, ds.buffer[ds.batchSize:])
		ds.buffer = ds.buffer[:n]
	} else {
		for ii := range batch {
			pick := ds.shuffle.Intn(len(ds.buffer))
			batch[ii] = ds.buffer[pick]
			last := len(ds.buffer) - 1
			ds.buffer[pick] = ds.buffer[last]
			ds.buffer = ds.buffer[:last]
		}
	}
	return batch, nil
}

func (ds *RecordsDataset) targetBufferSize() int {
	if ds.shuffle != nil && ds.bufferSize > ds.batchSize {
		return ds.bufferSize
	}
	return ds.batchSize
}

// examplesToTensor converts a batch of examples to a tensor shaped
// `[batch, height, width, channels]`, with pixel values scaled to `[0, 1]`.
func examplesToTensor[T dtypes.GoFloat](batch []*record.Example, header record.Header) *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.FromGenericsType[T](),
		len(batch), header.Height, header.Width, header.Channels))
	t.MutableFlatData(func(flat any) {
		tensorData := flat.([]T)
		pos := 0
		for _, example := range batch {
			for _, value := range example.Pixels {
				tensorData[pos] = T(value) / T(0xFF)
				pos++
			}
		}
	})
	return t
}
