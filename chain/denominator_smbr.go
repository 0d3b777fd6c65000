package chain

import (
	"math"

	"github.com/latticefree/chaintrain/internal/mathutil"
)

// DenominatorSmbrComputation extends the plain denominator forward-backward
// with a second, "weighted", quantity carried alongside alpha and beta: the
// expected accuracy accumulated along every partial path. Accuracy comes
// from the (optionally silence-masked) numerator posterior, spec.md §4.4.
type DenominatorSmbrComputation struct {
	graph *DenominatorGraph
	opts  Options

	numSeq int
	t      int

	x     mathutil.Mat
	expXT mathutil.Mat
	acc   mathutil.Mat // silence-masked numerator posterior, same shape as x

	alpha mathutil.Mat // A[t][s*N+i]
	weig  mathutil.Mat // W[t][s*N+i], expected accuracy accumulated up to (t,i)
	c     mathutil.Mat // rescale factor, shared by alpha and weig

	tail  []float64 // per-sequence final alpha tail, from ForwardSmbr
	tailW []float64 // per-sequence final weighted tail
}

// NewDenominatorSmbrComputation allocates scratch for one minibatch. acc is
// the numerator posterior matrix after silence masking has already been
// applied by the caller (see applySilence).
func NewDenominatorSmbrComputation(graph *DenominatorGraph, opts Options, x, acc mathutil.Mat, numSeq, framesPerSeq int) *DenominatorSmbrComputation {
	sc := &DenominatorSmbrComputation{
		graph:  graph,
		opts:   opts,
		numSeq: numSeq,
		t:      framesPerSeq,
		x:      x,
		acc:    acc,
	}
	sc.expXT = mathutil.NewMat(graph.NumPdfs, framesPerSeq*numSeq)
	for row := 0; row < len(x); row++ {
		for p := 0; p < graph.NumPdfs; p++ {
			sc.expXT[p][row] = math.Exp(x[row][p])
		}
	}
	sc.alpha = mathutil.NewMat(framesPerSeq+1, numSeq*graph.NumStates)
	sc.weig = mathutil.NewMat(framesPerSeq+1, numSeq*graph.NumStates)
	sc.c = mathutil.NewMat(framesPerSeq+1, numSeq)
	return sc
}

func (sc *DenominatorSmbrComputation) expX(pdf, t, s int) float64 {
	return sc.expXT[pdf][t*sc.numSeq+s]
}

func (sc *DenominatorSmbrComputation) accAt(t, s, pdf int) float64 {
	return sc.acc[t*sc.numSeq+s][pdf]
}

// ForwardSmbr runs the joint alpha/weighted-alpha recursion and returns the
// expected frame accuracy (smbrObjf) and -log Z_den (negLogZDen, reused so
// a caller can form the MMI term without a second denominator pass).
func (sc *DenominatorSmbrComputation) ForwardSmbr() (smbrObjf, negLogZDen float64, ok bool) {
	g := sc.graph
	kappa := sc.opts.LeakyHMMCoefficient
	N := g.NumStates

	for s := 0; s < sc.numSeq; s++ {
		copy(sc.alpha[0][s*N:(s+1)*N], g.InitialProbs)
		sc.c[0][s] = 1
		// weig[0] stays zero: no accuracy accumulated before frame 0.
	}

	ok = true
	for t := 1; t <= sc.t; t++ {
		for s := 0; s < sc.numSeq; s++ {
			prevA := sc.alpha[t-1][s*N : (s+1)*N]
			prevW := sc.weig[t-1][s*N : (s+1)*N]
			curA := sc.alpha[t][s*N : (s+1)*N]
			curW := sc.weig[t][s*N : (s+1)*N]
			for j := range curA {
				curA[j] = 0
				curW[j] = 0
			}
			for i := 0; i < N; i++ {
				ai := prevA[i]
				wi := prevW[i]
				if ai == 0 && wi == 0 {
					continue
				}
				for _, arc := range g.ArcsFrom[i] {
					trans := arc.Prob * sc.expX(arc.Pdf, t-1, s)
					curA[arc.Dest] += ai * trans
					curW[arc.Dest] += wi*trans + ai*trans*sc.accAt(t-1, s, arc.Pdf)
				}
			}

			totA, totW := 0.0, 0.0
			for i := 0; i < N; i++ {
				totA += curA[i] * g.InitialProbs[i]
				totW += curW[i] * g.InitialProbs[i]
			}
			for j := 0; j < N; j++ {
				curA[j] = (1-kappa)*curA[j] + kappa*totA*g.InitialProbs[j]
				curW[j] = (1-kappa)*curW[j] + kappa*totW*g.InitialProbs[j]
			}

			rowSum := 0.0
			for _, v := range curA {
				rowSum += v
			}
			if rowSum <= 0 || math.IsNaN(rowSum) || math.IsInf(rowSum, 0) {
				ok = false
				sc.c[t][s] = 1
				continue
			}
			sc.c[t][s] = 1 / rowSum
			for j := range curA {
				curA[j] *= sc.c[t][s]
				curW[j] *= sc.c[t][s]
			}
		}
	}
	if !ok {
		return 0, 0, false
	}

	sc.tail = make([]float64, sc.numSeq)
	sc.tailW = make([]float64, sc.numSeq)
	total := 0.0
	sumObjf := 0.0
	for s := 0; s < sc.numSeq; s++ {
		finalA := sc.alpha[sc.t][s*N : (s+1)*N]
		finalW := sc.weig[sc.t][s*N : (s+1)*N]
		tail, tailW := 0.0, 0.0
		for j := 0; j < N; j++ {
			tail += finalA[j] * g.InitialProbs[j]
			tailW += finalW[j] * g.InitialProbs[j]
		}
		if tail <= 0 {
			return 0, 0, false
		}
		sc.tail[s] = tail
		sc.tailW[s] = tailW
		sumObjf += tailW / tail

		sumLogC := 0.0
		for t := 1; t <= sc.t; t++ {
			sumLogC += math.Log(sc.c[t][s])
		}
		total += -sumLogC + math.Log(tail)
	}
	return sumObjf, -total, true
}

// BackwardSmbr runs the joint beta/weighted-beta recursion and accumulates
// weight * d(smbrObjf)/dX into dX, per-arc, following the quotient-rule
// decomposition of d(tailW/tail)/dX described at the call site in driver.go.
func (sc *DenominatorSmbrComputation) BackwardSmbr(weight float64, dX mathutil.Mat) {
	g := sc.graph
	kappa := sc.opts.LeakyHMMCoefficient
	N := g.NumStates

	beta := mathutil.NewMat(2, sc.numSeq*N)
	betaW := mathutil.NewMat(2, sc.numSeq*N)
	curIdx, nextIdx := 0, 1

	for s := 0; s < sc.numSeq; s++ {
		row := beta[nextIdx][s*N : (s+1)*N]
		for i := 0; i < N; i++ {
			row[i] = g.InitialProbs[i] * sc.c[sc.t][s]
		}
		// betaW[T] stays zero: no future accuracy beyond the last frame.
	}

	for t := sc.t - 1; t >= 0; t-- {
		for s := 0; s < sc.numSeq; s++ {
			nextB := beta[nextIdx][s*N : (s+1)*N]
			nextBW := betaW[nextIdx][s*N : (s+1)*N]
			curB := beta[curIdx][s*N : (s+1)*N]
			curBW := betaW[curIdx][s*N : (s+1)*N]
			for i := range curB {
				curB[i] = 0
				curBW[i] = 0
			}
			for i := 0; i < N; i++ {
				sumB, sumBW := 0.0, 0.0
				for _, arc := range g.ArcsFrom[i] {
					trans := arc.Prob * sc.expX(arc.Pdf, t, s)
					sumB += nextB[arc.Dest] * trans
					sumBW += nextBW[arc.Dest]*trans + nextB[arc.Dest]*trans*sc.accAt(t, s, arc.Pdf)
				}
				curB[i] = sumB
				curBW[i] = sumBW
			}

			totB, totBW := 0.0, 0.0
			for j := 0; j < N; j++ {
				totB += curB[j] * g.InitialProbs[j]
				totBW += curBW[j] * g.InitialProbs[j]
			}
			for i := 0; i < N; i++ {
				curB[i] = (1-kappa)*curB[i] + kappa*g.InitialProbs[i]*totB
				curBW[i] = (1-kappa)*curBW[i] + kappa*g.InitialProbs[i]*totBW
			}
			for i := range curB {
				curB[i] *= sc.c[t][s]
				curBW[i] *= sc.c[t][s]
			}
		}

		if dX != nil {
			for s := 0; s < sc.numSeq; s++ {
				alphaRow := sc.alpha[t][s*N : (s+1)*N]
				weigRow := sc.weig[t][s*N : (s+1)*N]
				nextB := beta[nextIdx][s*N : (s+1)*N]
				nextBW := betaW[nextIdx][s*N : (s+1)*N]
				gradRow := dX[t*sc.numSeq+s]
				objf := sc.tailW[s] / sc.tail[s]
				tail := sc.tail[s]

				for i := 0; i < N; i++ {
					ai := alphaRow[i]
					wi := weigRow[i]
					if ai == 0 && wi == 0 {
						continue
					}
					for _, arc := range g.ArcsFrom[i] {
						trans := arc.Prob * sc.expX(arc.Pdf, t, s)
						occ := ai * trans * nextB[arc.Dest]
						occWA := wi * trans * nextB[arc.Dest]
						occAWb := ai * trans * nextBW[arc.Dest]
						acc := sc.accAt(t, s, arc.Pdf)

						grad := (occWA+occAWb)/tail + occ*(acc-objf)/tail
						gradRow[arc.Pdf] += weight * grad
					}
				}
			}
		}

		curIdx, nextIdx = nextIdx, curIdx
	}
}
