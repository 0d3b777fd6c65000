package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/latticefree/chaintrain/internal/mathutil"
)

type genericNumeratorSuite struct {
	suite.Suite
}

func TestGenericNumeratorSuite(t *testing.T) {
	suite.Run(t, new(genericNumeratorSuite))
}

// linearChainFST builds a two-state FST with a single path 0->1 emitting
// pdf 0, final only at state 1.
func linearChainFST() *SequenceFST {
	return &SequenceFST{
		NumStates:    2,
		Start:        0,
		ArcsFrom:     [][]GenericArc{{{To: 1, Pdf: 0, LogProb: 0}}, nil},
		FinalLogProb: []float64{mathutil.LogZero, 0},
	}
}

func (s *genericNumeratorSuite) TestForwardReachableFinite() {
	fst := linearChainFST()
	x := mathutil.NewMat(1, 1)
	gc := NewGenericNumeratorComputation(fst, x, 0, 1, 1)

	lp, ok := gc.Forward()
	s.Require().True(ok)
	s.InDelta(0.0, lp, 1e-9)
}

func (s *genericNumeratorSuite) TestForwardUnreachableFails() {
	// State 1 is never reached: the only arc loops on state 0, and the
	// final state is 1.
	fst := &SequenceFST{
		NumStates:    2,
		Start:        0,
		ArcsFrom:     [][]GenericArc{{{To: 0, Pdf: 0, LogProb: 0}}, nil},
		FinalLogProb: []float64{mathutil.LogZero, 0},
	}
	x := mathutil.NewMat(1, 1)
	gc := NewGenericNumeratorComputation(fst, x, 0, 1, 1)

	_, ok := gc.Forward()
	s.Require().False(ok)
}

func (s *genericNumeratorSuite) TestBackwardPosteriorSumsToWeight() {
	fst := linearChainFST()
	x := mathutil.NewMat(1, 1)
	gc := NewGenericNumeratorComputation(fst, x, 0, 1, 1)

	lp, ok := gc.Forward()
	require.True(s.T(), ok)

	post := mathutil.NewMat(1, 1)
	gc.Backward(post, lp, 2.0)

	s.InDelta(2.0, post[0][0], 1e-9)
}
