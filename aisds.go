// Copyright 2026 The aisds Authors. SPDX-License-Identifier: Apache-2.0

// Package aisds builds training datasets from tar shards stored behind an
// AIStore-style object-storage proxy.
//
// A Dataset is configured with a bucket, a proxy URL and two extraction
// pipelines (see package ops): one producing the image values and one
// producing the labels. Dataset.LoadFromTar fetches every shard named by a
// brace-range template, groups tar entries into samples by basename, applies
// the pipelines and materializes the result into a record file (see package
// record). RecordsDataset then streams a record file as a gomlx
// train.Dataset, with shuffling and batching, ready for training.
package aisds

import (
	"context"
	"image"
	"io"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/aisds/aisds/client"
	"github.com/aisds/aisds/ops"
	"github.com/aisds/aisds/record"
)

// NumChannels of the pixel data materialized into record files (RGB).
const NumChannels = 3

// Dataset converts tar shards of one bucket into record files.
type Dataset struct {
	client *client.Client
	values ops.Op
	label  ops.Op

	parallelism int
	verbose     bool
}

// New creates a Dataset for the given bucket behind the proxy at proxyURL.
//
// values extracts the image of each sample and must include a Resize op, so
// every example shares the record file's fixed geometry. label extracts the
// label bytes, which are parsed as an ASCII integer class index:
//
//	ds := aisds.New("lb", "http://localhost:8080",
//		ops.Resize(ops.Convert(ops.Decode("jpg"), dtypes.Float32), 224, 224),
//		ops.Select("cls"))
func New(bucket, proxyURL string, values, label ops.Op) *Dataset {
	return &Dataset{
		client:      client.New(proxyURL, bucket),
		values:      values,
		label:       label,
		parallelism: runtime.NumCPU(),
		verbose:     true,
	}
}

// WithParallelism sets how many shards are fetched and converted
// concurrently. Defaults to the number of CPUs. Returns the Dataset to allow
// chaining.
func (d *Dataset) WithParallelism(n int) *Dataset {
	if n > 0 {
		d.parallelism = n
	}
	return d
}

// WithProgressBar toggles the conversion progress bar. Returns the Dataset to
// allow chaining.
func (d *Dataset) WithProgressBar(verbose bool) *Dataset {
	d.verbose = verbose
	return d
}

// LoadStats summarizes one LoadFromTar conversion.
type LoadStats struct {
	// Shards fetched from the proxy.
	Shards int

	// Examples written to the record file.
	Examples int

	// Skipped samples, missing the values or the label entry.
	Skipped int

	// Bytes of (compressed) shard data fetched.
	Bytes int64
}

// LoadFromTar fetches every tar shard named by the template, extracts one
// example per tar record with the configured pipelines, and writes them to a
// record file at recordPath.
//
// Shards are converted concurrently; the order of examples in the record file
// follows the template's shard order, and is deterministic for a given set of
// shards.
func (d *Dataset) LoadFromTar(ctx context.Context, template, recordPath string) (*LoadStats, error) {
	shardNames, err := client.ExpandTemplate(template)
	if err != nil {
		return nil, err
	}
	width, height, found := ops.FixedSize(d.values)
	if !found {
		return nil, errors.Errorf("record files require fixed image dimensions: add an ops.Resize to the values pipeline")
	}

	f, err := createFile(recordPath)
	if err != nil {
		return nil, err
	}
	writer, err := record.NewWriter(f, record.Header{Width: width, Height: height, Channels: NumChannels})
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	var pBar *progressbar.ProgressBar
	if d.verbose {
		pBar = progressbar.NewOptions(len(shardNames),
			progressbar.OptionSetDescription("Converting "+template),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("shards"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}

	// Conversion is per-shard parallel. Shard results are buffered and
	// written in template order, so the record file is deterministic.
	stats := &LoadStats{Shards: len(shardNames)}
	converted := make([]chan shardResult, len(shardNames))
	for ii := range converted {
		converted[ii] = make(chan shardResult, 1)
	}
	parallelism := min(d.parallelism, len(shardNames))
	shardIdxChan := make(chan int)
	var wg sync.WaitGroup
	for ii := 0; ii < parallelism; ii++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for shardIdx := range shardIdxChan {
				examples, fetched, err := d.convertShard(ctx, shardNames[shardIdx])
				converted[shardIdx] <- shardResult{examples: examples, fetched: fetched, err: err}
			}
		}()
	}
	go func() {
		// On cancellation the workers' fetches fail fast, so all indices can
		// be dispatched unconditionally.
		for shardIdx := range shardNames {
			shardIdxChan <- shardIdx
		}
		close(shardIdxChan)
	}()

	for shardIdx, resultChan := range converted {
		result := <-resultChan
		if result.err != nil && err == nil {
			err = result.err
		}
		if err != nil {
			continue // Drain remaining workers before returning.
		}
		stats.Bytes += result.fetched
		for _, example := range result.examples {
			if example == nil {
				stats.Skipped++
				continue
			}
			if err = writer.Write(example); err != nil {
				break
			}
			stats.Examples++
		}
		if pBar != nil {
			_ = pBar.Add(1)
		}
		klog.V(1).Infof("shard %s: %d examples (%s fetched)",
			shardNames[shardIdx], len(result.examples), humanize.IBytes(uint64(result.fetched)))
	}
	wg.Wait()
	if pBar != nil {
		_ = pBar.Close()
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err = writer.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err = f.Close(); err != nil {
		return nil, errors.Wrapf(err, "failed closing record file %q", recordPath)
	}
	klog.V(1).Infof("wrote %d examples (%d skipped) from %d shards to %q",
		stats.Examples, stats.Skipped, stats.Shards, recordPath)
	return stats, nil
}

type shardResult struct {
	// examples in shard order; nil entries mark skipped samples.
	examples []*record.Example
	fetched  int64
	err      error
}

// convertShard fetches one shard and converts its samples to examples.
// Samples missing the values or label entry come back as nil examples.
func (d *Dataset) convertShard(ctx context.Context, shardName string) (examples []*record.Example, fetched int64, err error) {
	body, _, err := d.client.GetObject(ctx, shardName)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = body.Close() }()
	counting := &countingReader{r: body}
	decompressed, closer, err := decompressShard(shardName, counting)
	if err != nil {
		return nil, counting.count, err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	samples, order, err := readTarSamples(decompressed, shardName)
	if err != nil {
		return nil, counting.count, err
	}

	examples = make([]*record.Example, 0, len(order))
	for _, base := range order {
		example, err := d.convertSample(samples[base])
		if err != nil {
			if errors.Is(err, ops.ErrMissingEntry) {
				klog.V(2).Infof("skipping sample %q of shard %s: %v", base, shardName, err)
				examples = append(examples, nil)
				continue
			}
			return nil, counting.count, errors.WithMessagef(err, "sample %q of shard %s", base, shardName)
		}
		examples = append(examples, example)
	}
	return examples, counting.count, nil
}

func (d *Dataset) convertSample(sample ops.Sample) (*record.Example, error) {
	value, err := d.values.Apply(sample)
	if err != nil {
		return nil, err
	}
	if value.Image == nil {
		return nil, errors.Errorf("values pipeline for key %q produced no image -- it needs an ops.Decode", d.values.Key())
	}
	labelValue, err := d.label.Apply(sample)
	if err != nil {
		return nil, err
	}
	if labelValue.Bytes == nil {
		return nil, errors.Errorf("label pipeline for key %q must produce raw bytes -- use ops.Select", d.label.Key())
	}
	label, err := parseLabel(labelValue.Bytes)
	if err != nil {
		return nil, errors.WithMessagef(err, "label entry %q", d.label.Key())
	}
	return &record.Example{Label: label, Pixels: imageToPixels(value.Image)}, nil
}

// parseLabel parses label bytes as an ASCII integer class index.
func parseLabel(data []byte) (int32, error) {
	label, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Errorf("cannot parse %q as an integer class index", string(data))
	}
	return int32(label), nil
}

// imageToPixels flattens an image to raw uint8 RGB bytes in
// height x width x channels order.
func imageToPixels(img image.Image) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	pixels := make([]byte, 0, width*height*NumChannels)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			pixels = append(pixels, byte(r>>8), byte(g>>8), byte(b>>8))
		}
	}
	return pixels
}

// createFile creates the record file, creating its directory if needed.
func createFile(filePath string) (*os.File, error) {
	if dir := path.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0777); err != nil && !os.IsExist(err) {
			return nil, errors.Wrapf(err, "failed to create directory %q", dir)
		}
	}
	f, err := os.Create(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed creating record file %q", filePath)
	}
	return f, nil
}

type countingReader struct {
	r     io.Reader
	count int64
}

func (cr *countingReader) Read(p []byte) (n int, err error) {
	n, err = cr.r.Read(p)
	cr.count += int64(n)
	return
}
