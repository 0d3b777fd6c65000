package chain

import (
	"fmt"
	"math"

	"github.com/latticefree/chaintrain/internal/mathutil"
)

// Arc is one transition of the denominator graph: from state Src to state
// Dest, emitting pdf-id Pdf, with transition log-probability LogProb. Prob
// is the cached linear-domain probability, computed once at graph build
// time since the scaled linear-domain recursions never touch LogProb again.
type Arc struct {
	Src     int
	Dest    int
	Pdf     int
	LogProb float64
	Prob    float64
}

// TransitionArc is the input form of one arc, as read off a static FST
// before the graph is indexed for the forward/backward kernels.
type TransitionArc struct {
	From    int
	To      int
	Pdf     int
	LogProb float64
}

// DenominatorGraph is the shared, read-only phone-loop graph every
// minibatch's denominator forward/backward runs against. It is built once
// and may be shared across threads without synchronization.
type DenominatorGraph struct {
	NumStates int
	NumPdfs   int

	// ArcsFrom[i] lists every arc leaving state i; ArcsTo[j] lists every arc
	// entering state j. Both views are materialized so forward and backward
	// each walk arcs in their natural direction without re-deriving one from
	// the other on every frame.
	ArcsFrom [][]Arc
	ArcsTo   [][]Arc

	// InitialProbs is the stationary distribution of the graph's
	// state-transition matrix, used as both the initial and final
	// probability vector (spec: sum to 1, non-negative, strictly positive
	// on any state that lies on a cycle).
	InitialProbs []float64
}

// NewDenominatorGraph indexes a flat arc list into forward/backward
// adjacency and derives InitialProbs by power iteration on the graph's
// state-transition matrix (transitions summed over pdf-id, since pdf-id is
// an output label, not part of the Markov chain over states).
func NewDenominatorGraph(numStates, numPdfs int, arcs []TransitionArc) (*DenominatorGraph, error) {
	if numStates <= 0 {
		return nil, fmt.Errorf("chain: denominator graph needs at least one state, got %d", numStates)
	}
	if numPdfs <= 0 {
		return nil, fmt.Errorf("chain: denominator graph needs at least one pdf class, got %d", numPdfs)
	}

	g := &DenominatorGraph{
		NumStates: numStates,
		NumPdfs:   numPdfs,
		ArcsFrom:  make([][]Arc, numStates),
		ArcsTo:    make([][]Arc, numStates),
	}

	for _, ta := range arcs {
		if ta.From < 0 || ta.From >= numStates || ta.To < 0 || ta.To >= numStates {
			return nil, fmt.Errorf("chain: arc %d->%d out of range for %d states", ta.From, ta.To, numStates)
		}
		if ta.Pdf < 0 || ta.Pdf >= numPdfs {
			return nil, fmt.Errorf("chain: arc pdf %d out of range for %d classes", ta.Pdf, numPdfs)
		}
		a := Arc{Src: ta.From, Dest: ta.To, Pdf: ta.Pdf, LogProb: ta.LogProb, Prob: math.Exp(ta.LogProb)}
		g.ArcsFrom[ta.From] = append(g.ArcsFrom[ta.From], a)
		g.ArcsTo[ta.To] = append(g.ArcsTo[ta.To], a)
	}

	g.InitialProbs = stationaryDistribution(numStates, g.ArcsFrom)
	return g, nil
}

// stationaryDistribution finds the left eigenvector (eigenvalue 1) of the
// state-transition matrix by power iteration, starting from the uniform
// distribution. Convergence is judged by total variation between
// successive iterates.
func stationaryDistribution(numStates int, arcsFrom [][]Arc) []float64 {
	v := mathutil.NewVecFill(numStates, 1.0/float64(numStates))
	next := mathutil.NewVec(numStates)

	const maxIters = 2000
	const tol = 1e-10

	for iter := 0; iter < maxIters; iter++ {
		mathutil.FillVec(next, 0)
		for i := 0; i < numStates; i++ {
			if v[i] == 0 {
				continue
			}
			for _, a := range arcsFrom[i] {
				next[a.Dest] += v[i] * a.Prob
			}
		}
		sum := 0.0
		for _, x := range next {
			sum += x
		}
		if sum == 0 {
			// No outgoing mass at all (isolated states); fall back to uniform.
			return mathutil.NewVecFill(numStates, 1.0/float64(numStates))
		}
		diff := 0.0
		for i := range next {
			next[i] /= sum
			diff += math.Abs(next[i] - v[i])
		}
		copy(v, next)
		if diff < tol {
			break
		}
	}
	return v
}
