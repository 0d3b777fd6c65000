package chain

import (
	"math"
	"testing"

	"github.com/latticefree/chaintrain/internal/mathutil"
)

// TestNumeratorComputationForcedPathIsDeterministic checks a single-path
// (no-branching) trellis: the forward log-probability is exactly the sum
// of the arc log-probs and scores along the one path, and the backward
// posterior puts all mass on the arcs that were actually taken.
func TestNumeratorComputationForcedPathIsDeterministic(t *testing.T) {
	sup := &CompactSupervision{
		NumStates: [][]int{{1, 1, 1}},
		Arcs: [][][]CompactArc{{
			{{From: 0, To: 0, Pdf: 0, LogProb: math.Log(0.5)}},
			{{From: 0, To: 0, Pdf: 1, LogProb: math.Log(0.5)}},
		}},
	}
	x := mathutil.Mat{{0.2, -0.1}, {-0.3, 0.4}}

	nc := NewNumeratorComputation(sup, x, 0, 1)
	lp, ok := nc.Forward()
	if !ok {
		t.Fatal("Forward reported !ok")
	}
	want := math.Log(0.5) + 0.2 + math.Log(0.5) + 0.4
	if math.Abs(lp-want) > 1e-9 {
		t.Errorf("logProb = %f, want %f", lp, want)
	}

	post := mathutil.NewMat(2, 2)
	nc.Backward(post, 1.0)
	if math.Abs(post[0][0]-1) > 1e-9 || post[0][1] != 0 {
		t.Errorf("post[0] = %v, want [1, 0]", post[0])
	}
	if math.Abs(post[1][1]-1) > 1e-9 || post[1][0] != 0 {
		t.Errorf("post[1] = %v, want [0, 1]", post[1])
	}
}
