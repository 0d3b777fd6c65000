package main

import (
	"math"
	"math/rand"

	"github.com/latticefree/chaintrain/chain"
	"github.com/latticefree/chaintrain/internal/blas"
	"github.com/latticefree/chaintrain/internal/mathutil"
)

// buildSyntheticGraph constructs a small phone-loop denominator graph: a
// ring of numStates states, each with a self-loop and a forward transition,
// emitting pdf-ids cycling through numPdfs. Stands in for a graph normally
// built once from a compiled phone-language-model FST.
func buildSyntheticGraph(numStates, numPdfs int) (*chain.DenominatorGraph, error) {
	var arcs []chain.TransitionArc
	for i := 0; i < numStates; i++ {
		next := (i + 1) % numStates
		pdf := i % numPdfs
		arcs = append(arcs,
			chain.TransitionArc{From: i, To: i, Pdf: pdf, LogProb: math.Log(0.5)},
			chain.TransitionArc{From: i, To: next, Pdf: pdf, LogProb: math.Log(0.5)},
		)
	}
	return chain.NewDenominatorGraph(numStates, numPdfs, arcs)
}

// buildSyntheticSupervision builds a compact supervision where every
// sequence follows a single forced path through numPdfs classes, cycling
// so that frame t of sequence s emits pdf (t+s) % numPdfs.
func buildSyntheticSupervision(numSeq, framesPerSeq, numPdfs int, weight float64) *chain.Supervision {
	numStates := make([][]int, numSeq)
	arcsByFrame := make([][][]chain.CompactArc, numSeq)
	for s := 0; s < numSeq; s++ {
		numStates[s] = make([]int, framesPerSeq+1)
		arcsByFrame[s] = make([][]chain.CompactArc, framesPerSeq)
		for t := 0; t <= framesPerSeq; t++ {
			numStates[s][t] = 1
		}
		for t := 0; t < framesPerSeq; t++ {
			pdf := (t + s) % numPdfs
			arcsByFrame[s][t] = []chain.CompactArc{{From: 0, To: 0, Pdf: pdf, LogProb: 0}}
		}
	}
	return &chain.Supervision{
		Kind:              chain.KindCompact,
		NumSequences:      numSeq,
		FramesPerSequence: framesPerSeq,
		Weight:            weight,
		Compact:           &chain.CompactSupervision{NumStates: numStates, Arcs: arcsByFrame},
	}
}

// scoreMatrix turns a random feature batch into a (T*S, P) score matrix by
// one linear projection, standing in for the neural-network executor
// spec.md §1 treats as an external collaborator. The projection itself
// uses internal/blas.Dgemm, the one place in this repo a real dense GEMM
// belongs.
func scoreMatrix(rng *rand.Rand, numSeq, framesPerSeq, numPdfs, featDim int) mathutil.Mat {
	rows := numSeq * framesPerSeq
	feats := make([]float64, rows*featDim)
	for i := range feats {
		feats[i] = rng.NormFloat64()
	}
	weights := make([]float64, featDim*numPdfs)
	for i := range weights {
		weights[i] = rng.NormFloat64() * 0.1
	}
	out := make([]float64, rows*numPdfs)

	blas.Dgemm(false, false, rows, numPdfs, featDim, 1.0, feats, featDim, weights, numPdfs, 0.0, out, numPdfs)

	x := mathutil.NewMat(rows, numPdfs)
	for i := 0; i < rows; i++ {
		copy(x[i], out[i*numPdfs:(i+1)*numPdfs])
	}
	return x
}
