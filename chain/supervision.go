package chain

import (
	"fmt"

	"github.com/latticefree/chaintrain/internal/mathutil"
)

// Kind discriminates the three mutually exclusive supervision
// representations. A Supervision carries exactly one of Compact, Generic,
// or KL, selected by Kind — this is the tagged variant called for instead
// of a conditional-pointer style.
type Kind int

const (
	KindCompact Kind = iota
	KindGeneric
	KindKL
)

func (k Kind) String() string {
	switch k {
	case KindCompact:
		return "compact"
	case KindGeneric:
		return "generic"
	case KindKL:
		return "kl"
	default:
		return "unknown"
	}
}

// CompactArc is one transition of a per-frame trellis: from local state
// From at frame t to local state To at frame t+1, emitting Pdf with
// transition log-probability LogProb.
type CompactArc struct {
	From    int
	To      int
	Pdf     int
	LogProb float64
}

// CompactSupervision is the small frame-indexed trellis FST used when every
// frame's valid classes are a small set encoded directly in the
// supervision. NumStates[s][t] gives the trellis width at frame t
// (t ranges 0..FramesPerSequence inclusive: there is one more state layer
// than there are frames); Arcs[s][t] gives the arcs from frame t's states
// to frame t+1's states (t ranges 0..FramesPerSequence-1). State 0 at frame
// 0 is the unique start state; state 0 at the final frame is the unique
// final state — this matches how forced-alignment trellises are built,
// with no branching at the boundary states.
type CompactSupervision struct {
	NumStates [][]int
	Arcs      [][][]CompactArc
}

// GenericArc is one transition of an unconstrained per-sequence FST used by
// the generic (end-to-end) numerator.
type GenericArc struct {
	To      int
	Pdf     int
	LogProb float64
}

// SequenceFST is one sequence's unconstrained supervision graph. Unlike the
// compact trellis, arcs are not partitioned by frame: the same FST is
// walked once per frame during the forward-backward recursion.
type SequenceFST struct {
	NumStates    int
	Start        int
	ArcsFrom     [][]GenericArc
	FinalLogProb []float64 // length NumStates; LogZero for non-final states
}

// Supervision is the per-minibatch, immutable description of what each
// sequence's numerator must match.
type Supervision struct {
	Kind              Kind
	NumSequences      int
	FramesPerSequence int
	Weight            float64

	Compact *CompactSupervision
	Generic []*SequenceFST
	KL      mathutil.Mat // shape (FramesPerSequence*NumSequences, NumPdfs), row t*S+s
}

// Validate checks the structural invariants spec.md §3 requires: the three
// representations are mutually exclusive, and shapes agree with
// NumSequences/FramesPerSequence.
func (sv *Supervision) Validate() error {
	if sv.NumSequences <= 0 || sv.FramesPerSequence <= 0 {
		return fmt.Errorf("chain: supervision needs positive NumSequences/FramesPerSequence, got S=%d T=%d", sv.NumSequences, sv.FramesPerSequence)
	}
	present := 0
	if sv.Compact != nil {
		present++
	}
	if sv.Generic != nil {
		present++
	}
	if sv.KL != nil {
		present++
	}
	if present > 1 {
		return fmt.Errorf("chain: supervision carries more than one of Compact, Generic, KL")
	}
	switch sv.Kind {
	case KindCompact:
		if sv.Compact == nil {
			return fmt.Errorf("chain: KindCompact supervision missing Compact field")
		}
		if len(sv.Compact.NumStates) != sv.NumSequences || len(sv.Compact.Arcs) != sv.NumSequences {
			return fmt.Errorf("chain: compact supervision sequence count mismatch")
		}
		for s := 0; s < sv.NumSequences; s++ {
			if len(sv.Compact.NumStates[s]) != sv.FramesPerSequence+1 {
				return fmt.Errorf("chain: compact supervision seq %d has %d frame layers, want %d", s, len(sv.Compact.NumStates[s]), sv.FramesPerSequence+1)
			}
			if len(sv.Compact.Arcs[s]) != sv.FramesPerSequence {
				return fmt.Errorf("chain: compact supervision seq %d has %d arc layers, want %d", s, len(sv.Compact.Arcs[s]), sv.FramesPerSequence)
			}
		}
	case KindGeneric:
		if len(sv.Generic) != sv.NumSequences {
			return fmt.Errorf("chain: generic supervision has %d sequences, want %d", len(sv.Generic), sv.NumSequences)
		}
	case KindKL:
		if sv.KL == nil {
			return fmt.Errorf("chain: KindKL supervision missing KL target matrix")
		}
		wantRows := sv.FramesPerSequence * sv.NumSequences
		if len(sv.KL) != wantRows {
			return fmt.Errorf("chain: KL target matrix has %d rows, want %d", len(sv.KL), wantRows)
		}
	default:
		return fmt.Errorf("chain: unknown supervision kind %v", sv.Kind)
	}
	return nil
}
