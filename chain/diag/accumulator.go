// Package diag accumulates chain objective values across repeated driver
// calls — bookkeeping only, never a training loop or optimizer — the way
// nnet-chain-diagnostics.cc's NnetChainComputeProb reports per-frame
// averages for a minibatch stream.
package diag

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/latticefree/chaintrain/chain"
)

// RunID tags one accumulator so concurrent minibatch streams can be told
// apart in logs.
type RunID uuid.UUID

// NewRunID generates a fresh RunID.
func NewRunID() RunID { return RunID(uuid.New()) }

func (r RunID) String() string { return uuid.UUID(r).String() }

// Accumulator tracks totals across repeated ComputeChainObjfAndDeriv calls
// for one output name, mirroring ChainObjectiveInfo's tot_weight, tot_like,
// and auxiliary objectives (l2_term, and for SMBR the mmi_objf). SMBRFactor
// and MMIFactor mirror chain_config_.smbr_factor/mmi_factor: ProcessOutputs
// applies them to the primary and auxiliary objective scales before they're
// folded into the totals, not inside the core driver.
type Accumulator struct {
	ID RunID

	TotWeight float64
	TotLike   float64
	TotL2Term float64
	TotMMI    float64 // only meaningful when UseSMBR is true

	UseSMBR    bool
	SMBRFactor float64
	MMIFactor  float64
	NumCall    int
}

// New creates an Accumulator tagged with a fresh RunID, taking its
// SMBRFactor/MMIFactor scales from opts.
func New(opts chain.Options) *Accumulator {
	return &Accumulator{
		ID:         NewRunID(),
		UseSMBR:    opts.UseSMBRObjective,
		SMBRFactor: opts.SMBRFactor,
		MMIFactor:  opts.MMIFactor,
	}
}

// Add folds one driver Result into the running totals.
func (a *Accumulator) Add(res chain.Result) {
	a.NumCall++
	a.TotWeight += res.Weight
	a.TotL2Term += res.L2Term
	if a.UseSMBR {
		a.TotLike += a.SMBRFactor * res.Objf
		a.TotMMI += a.MMIFactor * res.MMIObjf
	} else {
		a.TotLike += res.Objf
	}
}

// PerFrame reports the per-frame average objective and l2 term, the
// quantities a diagnostics log line actually prints; zero weight reports
// zero rather than dividing by zero.
func (a *Accumulator) PerFrame() (like, l2Term, mmi float64) {
	if a.TotWeight == 0 {
		return 0, 0, 0
	}
	like = a.TotLike / a.TotWeight
	l2Term = a.TotL2Term / a.TotWeight
	if a.UseSMBR {
		mmi = a.TotMMI / a.TotWeight
	}
	return like, l2Term, mmi
}

// Summary renders a single log-line summary, e.g. for output at the end of
// a diagnostics pass.
func (a *Accumulator) Summary(name string) string {
	like, l2Term, mmi := a.PerFrame()
	if a.UseSMBR {
		return fmt.Sprintf("run=%s output=%s smbr-like=%.6f l2=%.6f mmi-like=%.6f frames=%.0f calls=%d",
			a.ID, name, like, l2Term, mmi, a.TotWeight, a.NumCall)
	}
	return fmt.Sprintf("run=%s output=%s like=%.6f l2=%.6f frames=%.0f calls=%d",
		a.ID, name, like, l2Term, a.TotWeight, a.NumCall)
}
