// Copyright 2026 The aisds Authors. SPDX-License-Identifier: Apache-2.0

package aisds

import (
	"fmt"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// Losses supported by TrainModel, selected with the "loss" hyperparameter.
var Losses = map[string]losses.LossFn{
	// Mean squared error against the one-hot encoding of the labels.
	"mse": MeanSquaredErrorOneHot,

	"cross-entropy": losses.SparseCategoricalCrossEntropyLogits,
}

// MeanSquaredErrorOneHot returns the mean squared error between the one-hot
// encoding of the labels (shaped `[batch_size, 1]`, integer class indices)
// and the logits (shaped `[batch_size, num_classes]`).
func MeanSquaredErrorOneHot(labels, predictions []*Node) (loss *Node) {
	logits := predictions[0]
	numClasses := logits.Shape().Dimensions[logits.Rank()-1]
	classes := Reshape(labels[0], labels[0].Shape().Dimensions[0])
	oneHot := OneHot(classes, numClasses, logits.DType())
	return losses.MeanSquaredError([]*Node{oneHot}, predictions)
}

// CreateDefaultContext sets the context with default hyperparameters for
// TrainModel, matching the example defaults: 10 epochs of batches of 20,
// Adam with learning rate 1e-4 and mean squared error loss.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	must.M(ctx.ResetRNGState())
	ctx.SetParams(map[string]any{
		"epochs":     10,
		"batch_size": 20,
		"loss":       "mse",

		optimizers.ParamLearningRate: 1e-4,

		ParamNumClasses:      10,
		ParamNumHiddenLayers: 2,
		ParamNumHiddenNodes:  64,
	})
	return ctx
}

// TrainModel trains the feed-forward classifier on trainDS for the number of
// epochs set in the context, then evaluates it on evalDS and returns the
// final evaluation metrics as a name -> value mapping.
//
// Both datasets must be finite (not Infinite): epochs are delimited by the
// dataset reaching the end of its record file.
func TrainModel(ctx *context.Context, trainDS, evalDS train.Dataset) (map[string]float64, error) {
	backend := must.M1(backends.New())

	lossName := context.GetParamOr(ctx, "loss", "mse")
	lossFn, found := Losses[lossName]
	if !found {
		return nil, errors.Errorf("unknown loss %q, valid values are \"mse\" and \"cross-entropy\"", lossName)
	}
	learningRate := context.GetParamOr(ctx, optimizers.ParamLearningRate, 1e-4)
	optimizer := optimizers.Adam().LearningRate(learningRate).Done()

	// Metrics we are interested in.
	meanAccuracyMetric := metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "acc")
	movingAccuracyMetric := metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)

	// Create a train.Trainer: this object will orchestrate running the model,
	// feeding results to the optimizer, evaluating the metrics, etc.
	trainer := train.NewTrainer(backend, ctx,
		FeedForwardModelGraph,
		lossFn,
		optimizer,
		[]metrics.Interface{movingAccuracyMetric}, // trainMetrics
		[]metrics.Interface{meanAccuracyMetric})   // evalMetrics

	// Use the standard training loop.
	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop) // Attaches a progress bar to the loop.

	epochs := context.GetParamOr(ctx, "epochs", 10)
	if _, err := loop.RunEpochs(trainDS, epochs); err != nil {
		return nil, errors.WithMessagef(err, "training failed after %d steps", loop.LoopStep)
	}
	fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
		loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())

	// Finally, report the evaluation on the eval dataset.
	fmt.Println()
	if err := commandline.ReportEval(trainer, evalDS); err != nil {
		return nil, err
	}
	return EvalToMap(trainer, evalDS)
}

// EvalToMap evaluates ds and returns the trainer's evaluation metrics as a
// metric short-name -> value mapping, the loss included under "loss".
func EvalToMap(trainer *train.Trainer, ds train.Dataset) (map[string]float64, error) {
	ds.Reset()
	metricsValues, err := trainer.Eval(ds)
	if err != nil {
		return nil, errors.WithMessagef(err, "evaluation on dataset %q failed", ds.Name())
	}
	result := make(map[string]float64, len(metricsValues))
	for metricIdx, metric := range trainer.EvalMetrics() {
		value, err := metricToFloat(metricsValues[metricIdx])
		if err != nil {
			return nil, errors.WithMessagef(err, "metric %q", metric.Name())
		}
		result[metric.ShortName()] = value
	}
	ds.Reset()
	return result, nil
}

func metricToFloat(t *tensors.Tensor) (float64, error) {
	switch value := t.Value().(type) {
	case float32:
		return float64(value), nil
	case float64:
		return value, nil
	}
	return 0, errors.Errorf("metric value is not a float scalar, got shape %s", t.Shape())
}
