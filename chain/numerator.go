package chain

import (
	"math"

	"github.com/latticefree/chaintrain/internal/mathutil"
)

// NumeratorComputation runs log-domain forward-backward over one
// minibatch's compact trellis supervision. The recursion is the same shape
// as a Baum-Welch forward/backward over a small per-frame HMM: alpha and
// beta are log-domain, states are local to each frame layer, and LogAdd
// combines incoming paths exactly the way a phone HMM's forward pass does.
type NumeratorComputation struct {
	sup *CompactSupervision
	x   mathutil.Mat // borrowed score matrix, shape (T*S, P)
	s   int          // which sequence of the minibatch this object serves
	seq int          // number of sequences S, needed to index rows of x

	alpha [][]float64 // alpha[t][local state]
	beta  [][]float64 // beta[t][local state]
}

// NewNumeratorComputation constructs the per-sequence forward-backward
// object for sequence s of a compact supervision. x is the full minibatch
// score matrix; row t*numSeq+s is frame t of this sequence.
func NewNumeratorComputation(sup *CompactSupervision, x mathutil.Mat, s, numSeq int) *NumeratorComputation {
	T := len(sup.Arcs[s])
	alpha := make([][]float64, T+1)
	beta := make([][]float64, T+1)
	for t := 0; t <= T; t++ {
		alpha[t] = mathutil.NewVecFill(sup.NumStates[s][t], mathutil.LogZero)
		beta[t] = mathutil.NewVecFill(sup.NumStates[s][t], mathutil.LogZero)
	}
	return &NumeratorComputation{sup: sup, x: x, s: s, seq: numSeq, alpha: alpha, beta: beta}
}

// row returns the score-matrix row for frame t of this computation's
// sequence.
func (nc *NumeratorComputation) row(t int) []float64 {
	return nc.x[t*nc.seq+nc.s]
}

// Forward runs the forward recursion and returns log P(supervision | X)
// for this sequence, unweighted. ok is false if the final-state total is
// not finite.
func (nc *NumeratorComputation) Forward() (logProb float64, ok bool) {
	nc.alpha[0][0] = 0 // unique start state, frame 0

	T := len(nc.sup.Arcs[nc.s])
	for t := 0; t < T; t++ {
		xt := nc.row(t)
		for j := range nc.alpha[t+1] {
			nc.alpha[t+1][j] = mathutil.LogZero
		}
		for _, arc := range nc.sup.Arcs[nc.s][t] {
			if nc.alpha[t][arc.From] <= mathutil.LogZero+1 {
				continue
			}
			cand := nc.alpha[t][arc.From] + arc.LogProb + xt[arc.Pdf]
			nc.alpha[t+1][arc.To] = mathutil.LogAdd(nc.alpha[t+1][arc.To], cand)
		}
	}

	final := nc.alpha[T][0]
	return final, !math.IsNaN(final) && !math.IsInf(final, 0)
}

// Backward runs the backward recursion and adds weight times the per-frame
// posterior for this sequence into post, the full (T*S, P) minibatch matrix
// (row t*S+s is frame t of this sequence). Unscaled, rows sum to 1; weight
// is normally the supervision's w.
func (nc *NumeratorComputation) Backward(post mathutil.Mat, weight float64) {
	T := len(nc.sup.Arcs[nc.s])
	nc.beta[T][0] = 0 // unique final state

	for t := T - 1; t >= 0; t-- {
		xt := nc.row(t)
		for i := range nc.beta[t] {
			nc.beta[t][i] = mathutil.LogZero
		}
		for _, arc := range nc.sup.Arcs[nc.s][t] {
			if nc.beta[t+1][arc.To] <= mathutil.LogZero+1 {
				continue
			}
			cand := arc.LogProb + xt[arc.Pdf] + nc.beta[t+1][arc.To]
			nc.beta[t][arc.From] = mathutil.LogAdd(nc.beta[t][arc.From], cand)
		}
	}

	total := nc.alpha[T][0]
	for t := 0; t < T; t++ {
		xt := nc.row(t)
		row := post[t*nc.seq+nc.s]
		for _, arc := range nc.sup.Arcs[nc.s][t] {
			if nc.alpha[t][arc.From] <= mathutil.LogZero+1 || nc.beta[t+1][arc.To] <= mathutil.LogZero+1 {
				continue
			}
			logOcc := nc.alpha[t][arc.From] + arc.LogProb + xt[arc.Pdf] + nc.beta[t+1][arc.To] - total
			row[arc.Pdf] += weight * math.Exp(logOcc)
		}
	}
}
