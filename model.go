// Copyright 2026 The aisds Authors. SPDX-License-Identifier: Apache-2.0

package aisds

// This file implements the baseline feed-forward classifier trained on record
// files: flatten -> Dense+ReLU stack -> linear readout.

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// Hyperparameter names used by FeedForwardModelGraph, set in the context.
const (
	// ParamNumClasses is the number of classes predicted by the readout layer.
	ParamNumClasses = "num_classes"

	// ParamNumHiddenLayers is the number of Dense+ReLU layers.
	ParamNumHiddenLayers = "hidden_layers"

	// ParamNumHiddenNodes is the width of each hidden layer.
	ParamNumHiddenNodes = "hidden_nodes"
)

// FeedForwardModelGraph builds the feed-forward classifier.
// It returns the logits, not the predictions, which works with most losses,
// with shape `[batch_size, num_classes]`.
// inputs: only one tensor, with shape `[batch_size, height, width, channels]`.
func FeedForwardModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	ctx = ctx.In("model") // Create the model by default under the "/model" scope.
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 10)
	numHiddenLayers := context.GetParamOr(ctx, ParamNumHiddenLayers, 2)
	numNodes := context.GetParamOr(ctx, ParamNumHiddenNodes, 64)

	batchSize := inputs[0].Shape().Dimensions[0]
	embeddings := Reshape(inputs[0], batchSize, -1)
	for layerIdx := range numHiddenLayers {
		embeddings = layers.DenseWithBias(ctx.Inf("%03d_dense", layerIdx), embeddings, numNodes)
		embeddings = activations.Relu(embeddings)
	}
	logits := layers.DenseWithBias(ctx.In("readout"), embeddings, numClasses)
	return []*Node{logits}
}
