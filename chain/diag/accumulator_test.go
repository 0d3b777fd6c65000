package diag

import (
	"math"
	"strings"
	"testing"

	"github.com/latticefree/chaintrain/chain"
)

func TestAccumulatorPerFrameAverages(t *testing.T) {
	a := New(chain.Options{})
	a.Add(chain.Result{Weight: 10, Objf: -5, L2Term: -0.5})
	a.Add(chain.Result{Weight: 20, Objf: -8, L2Term: -0.8})

	like, l2, _ := a.PerFrame()
	wantLike := (-5.0 + -8.0) / 30.0
	wantL2 := (-0.5 + -0.8) / 30.0
	if math.Abs(like-wantLike) > 1e-9 {
		t.Errorf("like = %f, want %f", like, wantLike)
	}
	if math.Abs(l2-wantL2) > 1e-9 {
		t.Errorf("l2 = %f, want %f", l2, wantL2)
	}
	if a.NumCall != 2 {
		t.Errorf("NumCall = %d, want 2", a.NumCall)
	}
}

func TestAccumulatorAppliesSMBRAndMMIFactors(t *testing.T) {
	a := New(chain.Options{UseSMBRObjective: true, SMBRFactor: 0.5, MMIFactor: 2})
	a.Add(chain.Result{Weight: 10, Objf: -4, MMIObjf: -3})

	like, _, mmi := a.PerFrame()
	wantLike := (0.5 * -4.0) / 10.0
	wantMMI := (2.0 * -3.0) / 10.0
	if math.Abs(like-wantLike) > 1e-9 {
		t.Errorf("like = %f, want %f", like, wantLike)
	}
	if math.Abs(mmi-wantMMI) > 1e-9 {
		t.Errorf("mmi = %f, want %f", mmi, wantMMI)
	}
}

func TestAccumulatorZeroWeightDoesNotDivideByZero(t *testing.T) {
	a := New(chain.Options{UseSMBRObjective: true})
	like, l2, mmi := a.PerFrame()
	if like != 0 || l2 != 0 || mmi != 0 {
		t.Errorf("PerFrame() on empty accumulator = (%f, %f, %f), want zeros", like, l2, mmi)
	}
}

func TestAccumulatorSummaryMentionsRunID(t *testing.T) {
	a := New(chain.Options{})
	a.Add(chain.Result{Weight: 1, Objf: -1})
	summary := a.Summary("output-0")
	if summary == "" {
		t.Fatal("Summary() returned empty string")
	}
	if !strings.Contains(summary, a.ID.String()) {
		t.Errorf("Summary() = %q, want it to contain run ID %s", summary, a.ID)
	}
}
