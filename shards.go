// Copyright 2026 The aisds Authors. SPDX-License-Identifier: Apache-2.0

package aisds

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"

	"github.com/aisds/aisds/ops"
)

// decompressShard wraps the shard stream with the decompressor its name
// calls for: gzip for ".tar.gz"/".tgz", xz for ".tar.xz", none for ".tar".
// The returned closer is nil when there is nothing to close.
func decompressShard(name string, r io.Reader) (io.Reader, io.Closer, error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to un-gzip shard %q", name)
		}
		return gz, gz, nil
	case strings.HasSuffix(name, ".tar.xz"):
		xzReader, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to un-xz shard %q", name)
		}
		return xzReader, nil, nil
	}
	return r, nil, nil
}

// sampleKey splits a tar entry name into the record basename that groups
// entries into one sample and the extension keying the entry within it:
// "d0/img17.jpg" -> ("d0/img17", "jpg").
func sampleKey(entryName string) (base, ext string) {
	ext = path.Ext(entryName)
	base = strings.TrimSuffix(entryName, ext)
	return base, strings.TrimPrefix(ext, ".")
}

// readTarSamples reads a whole tar shard, grouping its entries into samples
// by basename. Sample order follows each basename's first appearance in the
// shard, so conversion output is deterministic for a given shard.
func readTarSamples(r io.Reader, shardName string) (samples map[string]ops.Sample, order []string, err error) {
	samples = make(map[string]ops.Sample)
	tarReader := tar.NewReader(r)
	for {
		var header *tar.Header
		header, err = tarReader.Next()
		if err == io.EOF {
			return samples, order, nil
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed reading tar shard %q", shardName)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		base, ext := sampleKey(header.Name)
		if ext == "" {
			continue
		}
		var data []byte
		data, err = io.ReadAll(tarReader)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed reading entry %q of tar shard %q", header.Name, shardName)
		}
		sample, found := samples[base]
		if !found {
			sample = make(ops.Sample)
			samples[base] = sample
			order = append(order, base)
		}
		sample[ext] = data
	}
}
