package aisds

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"

	_ "github.com/gomlx/gomlx/backends/xla"
)

func TestMeanSquaredErrorOneHot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
		return
	}
	graphFn := func(labelValues [][]int32, logitValues [][]float32) graphtest.TestGraphFn {
		return func(g *Graph) (inputs, outputs []*Node) {
			labels := Const(g, labelValues)
			logits := Const(g, logitValues)
			inputs = []*Node{labels, logits}
			outputs = []*Node{MeanSquaredErrorOneHot([]*Node{labels}, []*Node{logits})}
			return
		}
	}

	// Logits matching the one-hot encoding of the labels exactly: zero loss.
	graphtest.RunTestGraphFn(t, "perfect logits",
		graphFn([][]int32{{0}, {2}}, [][]float32{{1, 0, 0}, {0, 0, 1}}),
		[]any{float32(0)}, 1e-6)

	// One logit off by 0.5: squared error 0.25, averaged over the 2x3 logits.
	graphtest.RunTestGraphFn(t, "half-off logit",
		graphFn([][]int32{{0}, {2}}, [][]float32{{1, 0, 0}, {0, 0, 0.5}}),
		[]any{float32(0.25 / 6)}, 1e-6)
}
