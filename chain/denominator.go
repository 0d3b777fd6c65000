package chain

import (
	"math"

	"github.com/latticefree/chaintrain/internal/mathutil"
)

// DenominatorComputation runs the scaled linear-domain forward-backward of
// spec.md §4.2-4.3 for one minibatch against the shared DenominatorGraph.
// Unlike the numerator's log-domain recursion, every quantity here is a
// linear probability; numerical range is controlled by per-frame rescaling
// (c) rather than by LogAdd.
type DenominatorComputation struct {
	graph *DenominatorGraph
	opts  Options

	numSeq int
	t      int // frames per sequence

	x     mathutil.Mat // borrowed score matrix, (T*S, P)
	expXT mathutil.Mat // expX transposed: expXT[pdf][t*numSeq+s]

	alpha mathutil.Mat // alpha[t][s*NumStates+i]
	c     mathutil.Mat // c[t][s], rescale factor
	beta  mathutil.Mat // beta[t][s*NumStates+i], reused across the backward pass only
}

// NewDenominatorComputation allocates the per-minibatch scratch (expXT,
// alpha, c) for a forward/backward pair against graph. x is borrowed for
// the lifetime of this object; the caller must not mutate it between
// Forward and Backward.
func NewDenominatorComputation(graph *DenominatorGraph, opts Options, x mathutil.Mat, numSeq, framesPerSeq int) *DenominatorComputation {
	dc := &DenominatorComputation{
		graph:  graph,
		opts:   opts,
		numSeq: numSeq,
		t:      framesPerSeq,
		x:      x,
	}
	dc.expXT = mathutil.NewMat(graph.NumPdfs, framesPerSeq*numSeq)
	for row := 0; row < len(x); row++ {
		for p := 0; p < graph.NumPdfs; p++ {
			dc.expXT[p][row] = math.Exp(x[row][p])
		}
	}
	dc.alpha = mathutil.NewMat(framesPerSeq+1, numSeq*graph.NumStates)
	dc.c = mathutil.NewMat(framesPerSeq+1, numSeq)
	return dc
}

// Release drops the transposed exp-score scratch, the largest transient
// buffer (P*T*S reals), so it can be freed before a cross-entropy gradient
// buffer of comparable size is allocated. Safe to call once, after
// Backward.
func (dc *DenominatorComputation) Release() {
	dc.expXT = nil
}

func (dc *DenominatorComputation) expX(pdf, t, s int) float64 {
	return dc.expXT[pdf][t*dc.numSeq+s]
}

// Forward runs the alpha recursion with leaky-HMM mixing and per-frame
// rescaling, returning sum_s log Z_den(s). ok is false if any frame's row
// sum underflows to zero.
func (dc *DenominatorComputation) Forward() (logZDen float64, ok bool) {
	g := dc.graph
	kappa := dc.opts.LeakyHMMCoefficient
	N := g.NumStates

	for s := 0; s < dc.numSeq; s++ {
		copy(dc.alpha[0][s*N:(s+1)*N], g.InitialProbs)
		dc.c[0][s] = 1
	}

	ok = true
	for t := 1; t <= dc.t; t++ {
		for s := 0; s < dc.numSeq; s++ {
			prev := dc.alpha[t-1][s*N : (s+1)*N]
			cur := dc.alpha[t][s*N : (s+1)*N]
			for j := range cur {
				cur[j] = 0
			}
			for i := 0; i < N; i++ {
				pi := prev[i]
				if pi == 0 {
					continue
				}
				for _, arc := range g.ArcsFrom[i] {
					cur[arc.Dest] += pi * arc.Prob * dc.expX(arc.Pdf, t-1, s)
				}
			}

			tot := 0.0
			for i := 0; i < N; i++ {
				tot += cur[i] * g.InitialProbs[i]
			}
			for j := 0; j < N; j++ {
				cur[j] = (1-kappa)*cur[j] + kappa*tot*g.InitialProbs[j]
			}

			rowSum := 0.0
			for _, v := range cur {
				rowSum += v
			}
			if rowSum <= 0 || math.IsNaN(rowSum) || math.IsInf(rowSum, 0) {
				ok = false
				dc.c[t][s] = 1
				continue
			}
			dc.c[t][s] = 1 / rowSum
			for j := range cur {
				cur[j] *= dc.c[t][s]
			}
		}
	}
	if !ok {
		return mathutil.LogZero, false
	}

	total := 0.0
	for s := 0; s < dc.numSeq; s++ {
		sumLogC := 0.0
		for t := 1; t <= dc.t; t++ {
			sumLogC += math.Log(dc.c[t][s])
		}
		final := dc.alpha[dc.t][s*N : (s+1)*N]
		tail := 0.0
		for j := 0; j < N; j++ {
			tail += final[j] * g.InitialProbs[j]
		}
		if tail <= 0 {
			return mathutil.LogZero, false
		}
		total += -sumLogC + math.Log(tail)
	}
	return total, true
}

// Backward runs the beta recursion (symmetric leaky-HMM mixing, same
// per-frame scale factors as alpha, with the last frame's beta also divided
// by the final alpha tail so that alpha*beta products are arc occupancies)
// and accumulates -weight * d(logZDen)/dX into dX.
// It returns the self-consistency residual of spec.md §4.3's correctness
// check (the caller compares it against ConsistencyTolerance).
func (dc *DenominatorComputation) Backward(weight float64, dX mathutil.Mat) (consistency float64, ok bool) {
	g := dc.graph
	kappa := dc.opts.LeakyHMMCoefficient
	N := g.NumStates

	dc.beta = mathutil.NewMat(2, dc.numSeq*N)
	curIdx, nextIdx := 0, 1 // dc.beta[curIdx] is beta[t], dc.beta[nextIdx] is beta[t+1]

	for s := 0; s < dc.numSeq; s++ {
		final := dc.alpha[dc.t][s*N : (s+1)*N]
		tail := 0.0
		for j := 0; j < N; j++ {
			tail += final[j] * g.InitialProbs[j]
		}
		row := dc.beta[nextIdx][s*N : (s+1)*N]
		for i := 0; i < N; i++ {
			row[i] = g.InitialProbs[i] * dc.c[dc.t][s] / tail
		}
	}

	for t := dc.t - 1; t >= 0; t-- {
		for s := 0; s < dc.numSeq; s++ {
			next := dc.beta[nextIdx][s*N : (s+1)*N]
			cur := dc.beta[curIdx][s*N : (s+1)*N]
			for i := range cur {
				cur[i] = 0
			}
			for i := 0; i < N; i++ {
				sum := 0.0
				for _, arc := range g.ArcsFrom[i] {
					sum += next[arc.Dest] * arc.Prob * dc.expX(arc.Pdf, t, s)
				}
				cur[i] = sum
			}

			tot := 0.0
			for j := 0; j < N; j++ {
				tot += cur[j] * g.InitialProbs[j]
			}
			for i := 0; i < N; i++ {
				cur[i] = (1-kappa)*cur[i] + kappa*g.InitialProbs[i]*tot
			}
			for i := range cur {
				cur[i] *= dc.c[t][s]
			}
		}

		if dX != nil {
			for s := 0; s < dc.numSeq; s++ {
				alphaRow := dc.alpha[t][s*N : (s+1)*N]
				nextRow := dc.beta[nextIdx][s*N : (s+1)*N]
				gradRow := dX[t*dc.numSeq+s]
				for i := 0; i < N; i++ {
					ai := alphaRow[i]
					if ai == 0 {
						continue
					}
					for _, arc := range g.ArcsFrom[i] {
						occ := ai * arc.Prob * nextRow[arc.Dest]
						gradRow[arc.Pdf] -= weight * occ * dc.expX(arc.Pdf, t, s)
					}
				}
			}
		}

		curIdx, nextIdx = nextIdx, curIdx
	}

	// After the loop, dc.beta[nextIdx] holds beta[0].
	consistency = 0
	for s := 0; s < dc.numSeq; s++ {
		alphaRow := dc.alpha[0][s*N : (s+1)*N]
		betaRow := dc.beta[nextIdx][s*N : (s+1)*N]
		sum := 0.0
		for i := 0; i < N; i++ {
			sum += alphaRow[i] * betaRow[i]
		}
		if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
			return consistency, false
		}
		consistency += math.Log(sum/dc.c[0][s])
	}
	return consistency, true
}
