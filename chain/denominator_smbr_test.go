package chain

import (
	"math"
	"testing"

	"github.com/latticefree/chaintrain/internal/mathutil"
)

// TestDenominatorSmbrZeroAccuracyGivesZeroObjf checks the degenerate case:
// with an all-zero accuracy matrix, no path earns any reward, so the
// expected frame accuracy is exactly zero regardless of X.
func TestDenominatorSmbrZeroAccuracyGivesZeroObjf(t *testing.T) {
	g := twoStateRingGraph(t)
	opts := DefaultOptions()
	numSeq, framesPerSeq := 2, 6
	x := mathutil.NewMat(numSeq*framesPerSeq, 2)
	for i := range x {
		x[i][0] = 0.1
		x[i][1] = -0.2
	}
	acc := mathutil.NewMat(numSeq*framesPerSeq, 2) // all zero

	sc := NewDenominatorSmbrComputation(g, opts, x, acc, numSeq, framesPerSeq)
	smbrObjf, negLogZDen, ok := sc.ForwardSmbr()
	if !ok {
		t.Fatal("ForwardSmbr reported !ok")
	}
	if math.Abs(smbrObjf) > 1e-9 {
		t.Errorf("smbrObjf = %f, want 0 for an all-zero accuracy matrix", smbrObjf)
	}

	dc := NewDenominatorComputation(g, opts, x, numSeq, framesPerSeq)
	logZDen, ok := dc.Forward()
	if !ok {
		t.Fatal("Forward reported !ok")
	}
	if math.Abs(negLogZDen-(-logZDen)) > 1e-6 {
		t.Errorf("negLogZDen = %f, want %f (consistent with the plain denominator forward)", negLogZDen, -logZDen)
	}
}

// TestDenominatorSmbrBackwardRunsWithoutPanicking is a shape/smoke test for
// the joint beta/weighted-beta recursion with a non-trivial accuracy
// matrix.
func TestDenominatorSmbrBackwardRunsWithoutPanicking(t *testing.T) {
	g := twoStateRingGraph(t)
	opts := DefaultOptions()
	numSeq, framesPerSeq := 2, 5
	x := mathutil.NewMat(numSeq*framesPerSeq, 2)
	acc := mathutil.NewMat(numSeq*framesPerSeq, 2)
	for i := range x {
		x[i][0] = 0.15
		x[i][1] = -0.05
		acc[i][0] = 0.8
		acc[i][1] = 0.2
	}

	sc := NewDenominatorSmbrComputation(g, opts, x, acc, numSeq, framesPerSeq)
	smbrObjf, _, ok := sc.ForwardSmbr()
	if !ok {
		t.Fatal("ForwardSmbr reported !ok")
	}
	if smbrObjf <= 0 {
		t.Errorf("smbrObjf = %f, want > 0 for uniformly positive accuracy", smbrObjf)
	}

	dX := mathutil.NewMat(numSeq*framesPerSeq, 2)
	sc.BackwardSmbr(1.0, dX)
	for i, row := range dX {
		for p, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("dX[%d][%d] = %v, want finite", i, p, v)
			}
		}
	}
}

// TestDenominatorSmbrGradientCheck is spec invariant 4 applied to the SMBR
// objective: a finite-difference estimate of d(smbrObjf)/dX must match the
// analytic gradient BackwardSmbr accumulates into dX.
func TestDenominatorSmbrGradientCheck(t *testing.T) {
	g := twoStateRingGraph(t)
	opts := DefaultOptions()
	numSeq, framesPerSeq := 1, 4
	base := mathutil.NewMat(numSeq*framesPerSeq, 2)
	acc := mathutil.NewMat(numSeq*framesPerSeq, 2)
	for i := range base {
		base[i][0] = 0.1 * float64(i+1)
		base[i][1] = -0.05 * float64(i+1)
		acc[i][0] = 0.7
		acc[i][1] = 0.3
	}

	forward := func(x mathutil.Mat) float64 {
		sc := NewDenominatorSmbrComputation(g, opts, x, acc, numSeq, framesPerSeq)
		smbrObjf, _, ok := sc.ForwardSmbr()
		if !ok {
			t.Fatal("ForwardSmbr failed during finite-difference check")
		}
		return smbrObjf
	}

	dX := mathutil.NewMat(numSeq*framesPerSeq, 2)
	sc := NewDenominatorSmbrComputation(g, opts, base, acc, numSeq, framesPerSeq)
	if _, _, ok := sc.ForwardSmbr(); !ok {
		t.Fatal("ForwardSmbr failed")
	}
	sc.BackwardSmbr(1.0, dX)

	const eps = 1e-4
	for i := range base {
		for p := range base[i] {
			plus := cloneMat(base)
			minus := cloneMat(base)
			plus[i][p] += eps
			minus[i][p] -= eps
			numeric := (forward(plus) - forward(minus)) / (2 * eps)
			analytic := dX[i][p]
			if math.Abs(numeric-analytic) > 1e-3 {
				t.Errorf("SMBR gradient mismatch at [%d][%d]: numeric=%f analytic=%f", i, p, numeric, analytic)
			}
		}
	}
}
