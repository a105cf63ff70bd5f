// Copyright 2026 The aisds Authors. SPDX-License-Identifier: Apache-2.0

// demo converts ImageNet-style tar shards served by an AIStore proxy into
// record files and trains a small feed-forward classifier on them.
//
// It expects shards whose tar entries pair a ".jpg" image with a ".cls" label
// per sample, e.g. as laid out by AIStore's ImageNet examples. Run a proxy on
// localhost:8080 with a bucket "lb" holding train-{0..7}.tar.xz and simply:
//
//	demo --data=/tmp/aisds
//
// Converted record files are cached under --data and reused on the next run.
package main

import (
	stdctx "context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path"

	"github.com/gomlx/gomlx/pkg/ml/context"
	data "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/compute/dtypes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/aisds/aisds"
	"github.com/aisds/aisds/ops"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	flagProxy  = flag.String("proxy", "http://localhost:8080", "URL of the object-storage proxy.")
	flagBucket = flag.String("bucket", "lb", "Bucket holding the tar shards.")

	flagTrainTemplate = flag.String("train_template", "train-{0..3}.tar.xz", "Template naming the training shards.")
	flagTestTemplate  = flag.String("test_template", "train-{4..7}.tar.xz", "Template naming the test shards.")
	flagDataDir       = flag.String("data", "~/tmp/aisds", "Directory to cache the converted record files.")
	flagForce         = flag.Bool("force", false, "Reconvert the shards even if cached record files exist.")

	flagImageSize = flag.Int("image_size", 224, "Images are resized to image_size x image_size pixels.")
	flagSeed      = flag.Int64("seed", 42, "Seed for the training dataset shuffle.")
)

func main() {
	ctx := aisds.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	_ = must.M1(commandline.ParseContextSettings(ctx, *settings))

	*flagDataDir = data.ReplaceTildeInDir(*flagDataDir)
	if !data.FileExists(*flagDataDir) {
		must.M(os.MkdirAll(*flagDataDir, 0777))
	}

	trainRecord := convert(*flagTrainTemplate, "train.record")
	testRecord := convert(*flagTestTemplate, "test.record")

	batchSize := context.GetParamOr(ctx, "batch_size", 20)
	trainDS := must.M1(aisds.NewRecordsDataset("imagenet-train", trainRecord, batchSize, dtypes.Float32)).
		Shuffle(rand.New(rand.NewSource(*flagSeed)))
	testDS := must.M1(aisds.NewRecordsDataset("imagenet-test", testRecord, batchSize, dtypes.Float32))

	metrics := must.M1(aisds.TrainModel(ctx, parallelize(trainDS), testDS))
	fmt.Printf("%v\n", metrics)
}

// convert materializes the shards named by template into a record file under
// --data, reusing a previously converted file unless --force is set.
func convert(template, fileName string) string {
	recordPath := path.Join(*flagDataDir, fileName)
	if !*flagForce && data.FileExists(recordPath) {
		klog.Infof("Reusing %s for %q, pass --force to reconvert.", recordPath, template)
		return recordPath
	}
	ds := aisds.New(*flagBucket, *flagProxy,
		ops.Resize(ops.Convert(ops.Decode("jpg"), dtypes.Float32), *flagImageSize, *flagImageSize),
		ops.Select("cls"))
	stats := must.M1(ds.LoadFromTar(stdctx.Background(), template, recordPath))
	klog.Infof("Converted %q: %d examples (%d skipped) from %d shards.",
		template, stats.Examples, stats.Skipped, stats.Shards)
	return recordPath
}

// parallelize moves batch building off the training loop's critical path.
func parallelize(ds train.Dataset) train.Dataset {
	return data.CustomParallel(ds).Buffer(8).Start()
}
