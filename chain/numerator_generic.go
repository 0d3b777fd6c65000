package chain

import (
	"fmt"
	"math"
	"strconv"

	"github.com/katalvlaran/lvlath/bfs"
	"github.com/katalvlaran/lvlath/core"
	"github.com/latticefree/chaintrain/internal/mathutil"
)

// GenericNumeratorComputation runs log-domain forward-backward for one
// sequence of an end-to-end ("generic") supervision, where the sequence's
// own unconstrained FST stands in for the compact trellis.
type GenericNumeratorComputation struct {
	fst *SequenceFST
	x   mathutil.Mat
	s   int
	seq int
	t   int // FramesPerSequence

	alpha mathutil.Mat // alpha[t][state]
	beta  mathutil.Mat // beta[t][state]
}

func NewGenericNumeratorComputation(fst *SequenceFST, x mathutil.Mat, s, numSeq, framesPerSeq int) *GenericNumeratorComputation {
	alpha := mathutil.NewMatFill(framesPerSeq+1, fst.NumStates, mathutil.LogZero)
	beta := mathutil.NewMatFill(framesPerSeq+1, fst.NumStates, mathutil.LogZero)
	return &GenericNumeratorComputation{fst: fst, x: x, s: s, seq: numSeq, t: framesPerSeq, alpha: alpha, beta: beta}
}

func (gc *GenericNumeratorComputation) row(t int) []float64 {
	return gc.x[t*gc.seq+gc.s]
}

// checkReachable builds an unweighted directed mirror of the FST's state
// graph and runs bfs.BFS from the start state, rejecting any FST where no
// final state is reachable before the expensive weighted recursion runs.
func checkReachable(fst *SequenceFST) (bool, error) {
	g := core.NewGraph(core.WithDirected(true), core.WithLoops())
	for i := 0; i < fst.NumStates; i++ {
		if err := g.AddVertex(strconv.Itoa(i)); err != nil {
			return false, fmt.Errorf("chain: building reachability graph: %w", err)
		}
	}
	for i := 0; i < fst.NumStates; i++ {
		for _, arc := range fst.ArcsFrom[i] {
			// Ignore duplicate from->to pairs: reachability only needs one
			// edge between any two states, and the graph rejects multi-edges
			// by default.
			if _, err := g.AddEdge(strconv.Itoa(i), strconv.Itoa(arc.To), 0); err != nil {
				if err == core.ErrMultiEdgeNotAllowed {
					continue
				}
				return false, fmt.Errorf("chain: building reachability graph: %w", err)
			}
		}
	}

	res, err := bfs.BFS(g, strconv.Itoa(fst.Start))
	if err != nil {
		return false, fmt.Errorf("chain: reachability BFS: %w", err)
	}

	for i := 0; i < fst.NumStates; i++ {
		if fst.FinalLogProb[i] <= mathutil.LogZero+1 {
			continue
		}
		if _, ok := res.Depth[strconv.Itoa(i)]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Forward runs the weighted log-domain forward recursion after checking
// reachability. ok is false if the FST is unreachable or the resulting
// total is non-finite — either way the driver treats this as a
// minibatch-wide failure.
func (gc *GenericNumeratorComputation) Forward() (logProb float64, ok bool) {
	reachable, err := checkReachable(gc.fst)
	if err != nil || !reachable {
		return mathutil.LogZero, false
	}

	gc.alpha[0][gc.fst.Start] = 0
	for t := 0; t < gc.t; t++ {
		xt := gc.row(t)
		for j := range gc.alpha[t+1] {
			gc.alpha[t+1][j] = mathutil.LogZero
		}
		for i := 0; i < gc.fst.NumStates; i++ {
			if gc.alpha[t][i] <= mathutil.LogZero+1 {
				continue
			}
			for _, arc := range gc.fst.ArcsFrom[i] {
				cand := gc.alpha[t][i] + arc.LogProb + xt[arc.Pdf]
				gc.alpha[t+1][arc.To] = mathutil.LogAdd(gc.alpha[t+1][arc.To], cand)
			}
		}
	}

	total := mathutil.LogZero
	for i := 0; i < gc.fst.NumStates; i++ {
		if gc.fst.FinalLogProb[i] <= mathutil.LogZero+1 {
			continue
		}
		total = mathutil.LogAdd(total, gc.alpha[gc.t][i]+gc.fst.FinalLogProb[i])
	}
	return total, !math.IsNaN(total) && !math.IsInf(total, 0)
}

// Backward runs the backward recursion and accumulates weight times this
// sequence's posteriors into post (shape (T*S, P); unscaled, rows sum to
// 1).
func (gc *GenericNumeratorComputation) Backward(post mathutil.Mat, total, weight float64) {
	for i := 0; i < gc.fst.NumStates; i++ {
		if gc.fst.FinalLogProb[i] > mathutil.LogZero+1 {
			gc.beta[gc.t][i] = gc.fst.FinalLogProb[i]
		}
	}

	for t := gc.t - 1; t >= 0; t-- {
		xt := gc.row(t)
		for i := range gc.beta[t] {
			gc.beta[t][i] = mathutil.LogZero
		}
		for i := 0; i < gc.fst.NumStates; i++ {
			for _, arc := range gc.fst.ArcsFrom[i] {
				if gc.beta[t+1][arc.To] <= mathutil.LogZero+1 {
					continue
				}
				cand := arc.LogProb + xt[arc.Pdf] + gc.beta[t+1][arc.To]
				gc.beta[t][i] = mathutil.LogAdd(gc.beta[t][i], cand)
			}
		}
	}

	for t := 0; t < gc.t; t++ {
		xt := gc.row(t)
		row := post[t*gc.seq+gc.s]
		for i := 0; i < gc.fst.NumStates; i++ {
			if gc.alpha[t][i] <= mathutil.LogZero+1 {
				continue
			}
			for _, arc := range gc.fst.ArcsFrom[i] {
				if gc.beta[t+1][arc.To] <= mathutil.LogZero+1 {
					continue
				}
				logOcc := gc.alpha[t][i] + arc.LogProb + xt[arc.Pdf] + gc.beta[t+1][arc.To] - total
				row[arc.Pdf] += weight * math.Exp(logOcc)
			}
		}
	}
}
