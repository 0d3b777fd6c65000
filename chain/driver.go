package chain

import (
	"fmt"
	"math"

	"github.com/latticefree/chaintrain/internal/mathutil"
	"github.com/latticefree/chaintrain/internal/obslog"
)

// Result carries every out-parameter the driver produces, mirroring
// spec.md §4.1's Contract (objf, l2_term, weight, and, for SMBR, mmi_objf).
type Result struct {
	Objf    float64
	MMIObjf float64 // only set when opts.UseSMBRObjective
	L2Term  float64
	Weight  float64

	NumeratorOK bool
	DenomOK     bool
}

// ComputeChainObjfAndDeriv is the core driver: given options, the shared
// denominator graph, one minibatch's supervision and score matrix, it
// returns the objective and, if dX/dXXent are non-nil, accumulates their
// gradients in place. dX and dXXent must already be shaped (T*S, NumPdfs);
// the driver zeros both itself (idempotence, spec.md §8 invariant 5) but
// never resizes either buffer.
func ComputeChainObjfAndDeriv(opts Options, graph *DenominatorGraph, sup *Supervision, x mathutil.Mat, dX, dXXent mathutil.Mat, sil SilenceIndices, logger obslog.Logger) (Result, error) {
	if logger == nil {
		logger = obslog.Nop()
	}
	if err := sup.Validate(); err != nil {
		return Result{}, err
	}
	wantRows := sup.FramesPerSequence * sup.NumSequences
	if len(x) != wantRows {
		return Result{}, fmt.Errorf("chain: score matrix has %d rows, want %d (T*S)", len(x), wantRows)
	}

	weight := sup.Weight * float64(sup.NumSequences) * float64(sup.FramesPerSequence)

	if dX != nil {
		mathutil.FillMat(dX, 0)
	}
	if dXXent != nil {
		mathutil.FillMat(dXXent, 0)
	}

	if opts.UseSMBRObjective {
		return computeSmbr(opts, graph, sup, x, dX, dXXent, sil, weight, logger)
	}
	return computeMMI(opts, graph, sup, x, dX, dXXent, weight, logger)
}

func computeMMI(opts Options, graph *DenominatorGraph, sup *Supervision, x, dX, dXXent mathutil.Mat, weight float64, logger obslog.Logger) (Result, error) {
	denom := NewDenominatorComputation(graph, opts, x, sup.NumSequences, sup.FramesPerSequence)
	logZDen, denOk := denom.Forward()

	if dX != nil && denOk {
		consistency, bOk := denom.Backward(sup.Weight, dX)
		denOk = bOk
		if bOk && opts.ConsistencyTolerance > 0 && math.Abs(consistency) > opts.ConsistencyTolerance*math.Abs(logZDen) {
			denOk = false
		}
	}
	denom.Release()

	var numLogprobWeighted float64
	numOk := true

	switch sup.Kind {
	case KindCompact:
		numLogprobWeighted, numOk = runCompactNumerator(sup, x, dX, dXXent, sup.Weight)
	case KindGeneric:
		numLogprobWeighted, numOk = runGenericNumerator(sup, x, dX, dXXent, sup.Weight)
	case KindKL:
		numLogprobWeighted = 0
		addKLGradient(sup, dX, dXXent)
	}

	objf := numLogprobWeighted - sup.Weight*logZDen
	if sup.Kind == KindKL {
		objf = -sup.Weight * logZDen
	}

	res := Result{Weight: weight, NumeratorOK: numOk, DenomOK: denOk}
	if !isFinite(objf) || !denOk || !numOk {
		logger.Warn("chain objective non-finite or failed, substituting default",
			"objf", objf, "den_ok", denOk, "numerator_ok", numOk)
		mathutil.FillMat(dX, 0)
		if dXXent != nil {
			mathutil.FillMat(dXXent, 0)
		}
		objf = -10 * weight
	}
	res.Objf = objf

	// The exp(X) norm penalty belongs to the SMBR driver only.
	l2Opts := opts
	l2Opts.NormRegularize = false
	applyL2(l2Opts, x, dX, sup.Weight, &res)
	return res, nil
}

func computeSmbr(opts Options, graph *DenominatorGraph, sup *Supervision, x, dX, dXXent mathutil.Mat, sil SilenceIndices, weight float64, logger obslog.Logger) (Result, error) {
	if sup.Kind != KindCompact && sup.Kind != KindGeneric {
		return Result{}, fmt.Errorf("chain: SMBR objective requires compact or generic supervision, got %v", sup.Kind)
	}

	numPost := mathutil.NewMat(len(x), graph.NumPdfs)
	var numLogprobWeighted float64
	var numOk bool
	switch sup.Kind {
	case KindCompact:
		numLogprobWeighted, numOk = runCompactNumerator(sup, x, nil, numPost, 1)
	case KindGeneric:
		numLogprobWeighted, numOk = runGenericNumerator(sup, x, nil, numPost, 1)
	}
	if dXXent != nil {
		for i := range numPost {
			for p, v := range numPost[i] {
				dXXent[i][p] += sup.Weight * v
			}
		}
	}
	applySilence(numPost, sil, opts)

	smbr := NewDenominatorSmbrComputation(graph, opts, x, numPost, sup.NumSequences, sup.FramesPerSequence)
	smbrObjf, negLogZDen, denOk := smbr.ForwardSmbr()
	if dX != nil && denOk {
		smbr.BackwardSmbr(sup.Weight, dX)
	}

	if opts.MMIFactor != 0 && dX != nil && denOk {
		for i := range dX {
			for p := range dX[i] {
				dX[i][p] += opts.MMIFactor * numPost[i][p]
			}
		}
	}

	objf := sup.Weight * smbrObjf
	mmiObjf := sup.Weight*negLogZDen + opts.MMIFactor*numLogprobWeighted

	res := Result{Weight: weight, NumeratorOK: numOk, DenomOK: denOk}
	total := objf + mmiObjf
	if !isFinite(total) || !denOk || !numOk {
		logger.Warn("chain SMBR objective non-finite or failed, substituting default",
			"objf", total, "den_ok", denOk, "numerator_ok", numOk)
		mathutil.FillMat(dX, 0)
		if dXXent != nil {
			mathutil.FillMat(dXXent, 0)
		}
		objf = 0
		mmiObjf = -opts.MMIFactor * 10 * weight
	}
	res.Objf = objf
	res.MMIObjf = mmiObjf

	applyL2(opts, x, dX, sup.Weight, &res)
	return res, nil
}

func runCompactNumerator(sup *Supervision, x, dX mathutil.Mat, post mathutil.Mat, postWeight float64) (float64, bool) {
	total := 0.0
	ok := true
	for s := 0; s < sup.NumSequences; s++ {
		nc := NewNumeratorComputation(sup.Compact, x, s, sup.NumSequences)
		lp, seqOk := nc.Forward()
		if !seqOk {
			ok = false
			continue
		}
		total += lp
		if dX != nil {
			nc.Backward(dX, sup.Weight)
		}
		if post != nil {
			nc.Backward(post, postWeight)
		}
	}
	return sup.Weight * total, ok
}

func runGenericNumerator(sup *Supervision, x, dX mathutil.Mat, post mathutil.Mat, postWeight float64) (float64, bool) {
	total := 0.0
	ok := true
	for s := 0; s < sup.NumSequences; s++ {
		gc := NewGenericNumeratorComputation(sup.Generic[s], x, s, sup.NumSequences, sup.FramesPerSequence)
		lp, seqOk := gc.Forward()
		if !seqOk {
			ok = false
			continue
		}
		total += lp
		if dX != nil {
			gc.Backward(dX, lp, sup.Weight)
		}
		if post != nil {
			gc.Backward(post, lp, postWeight)
		}
	}
	return sup.Weight * total, ok
}

// addKLGradient writes w*Q into dX/dXXent for KL-mode supervision: the
// numerator is replaced entirely by fixed target posteriors.
func addKLGradient(sup *Supervision, dX, dXXent mathutil.Mat) {
	for i, row := range sup.KL {
		if dX != nil {
			for p, q := range row {
				dX[i][p] += sup.Weight * q
			}
		}
		if dXXent != nil {
			for p, q := range row {
				dXXent[i][p] += sup.Weight * q
			}
		}
	}
}

// applyL2 implements spec.md §4.1 step 7: either the classic squared-norm
// penalty, or, in norm-regularize mode, a penalty on Σ exp(X) (used only
// together with SMBR, per spec.md §6).
func applyL2(opts Options, x, dX mathutil.Mat, w float64, res *Result) {
	if opts.L2Regularize == 0 {
		res.L2Term = 0
		return
	}
	lambda := opts.L2Regularize
	if opts.NormRegularize {
		sumExp := 0.0
		for i, row := range x {
			for p, v := range row {
				e := math.Exp(v)
				sumExp += e
				if dX != nil {
					dX[i][p] += -w * lambda * e
				}
			}
		}
		res.L2Term = -w * lambda * sumExp
		return
	}

	sumSq := 0.0
	for i, row := range x {
		for p, v := range row {
			sumSq += v * v
			if dX != nil {
				dX[i][p] += -w * lambda * v
			}
		}
	}
	res.L2Term = -0.5 * w * lambda * sumSq
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
