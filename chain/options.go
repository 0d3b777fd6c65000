package chain

import "github.com/spf13/pflag"

// Options holds the tunable parameters of the chain objective and its
// gradient. RegisterFlags binds them to a flag set one level up (see
// package config for the YAML equivalent); nothing in this package parses
// strings on its own.
type Options struct {
	// L2Regularize is the coefficient of the squared-Frobenius penalty on X.
	L2Regularize float64

	// NormRegularize switches the L2 penalty to -lambda * sum(exp(X)) when
	// true. Only meaningful together with the SMBR driver.
	NormRegularize bool

	// LeakyHMMCoefficient is kappa in the leaky-HMM mixing step of the
	// denominator forward/backward. Must be strictly positive.
	LeakyHMMCoefficient float64

	// XentRegularize is not read by the driver: it fills dXXent whenever the
	// caller passes a non-nil buffer. The coefficient itself is used by the
	// caller's network code, not here.
	XentRegularize float64

	UseSMBRObjective bool
	ExcludeSilence   bool
	OneSilenceClass  bool

	MMIFactor  float64
	SMBRFactor float64

	// ConsistencyTolerance scales the alpha/beta self-consistency check in
	// the denominator backward pass: tolerance is 1e-4 * |logZden| by
	// default. Zero disables the check.
	ConsistencyTolerance float64
}

// DefaultOptions returns the default chain training options: a leaky-HMM
// coefficient of 1e-5, an SMBR interpolation weight of 1 with no MMI
// contribution, and every regularizer disabled.
func DefaultOptions() Options {
	return Options{
		L2Regularize:         0,
		NormRegularize:       false,
		LeakyHMMCoefficient:  1e-5,
		XentRegularize:       0,
		UseSMBRObjective:     false,
		ExcludeSilence:       false,
		OneSilenceClass:      false,
		MMIFactor:            0,
		SMBRFactor:           1,
		ConsistencyTolerance: 1e-4,
	}
}

// RegisterFlags binds o's fields to fs, mirroring
// ChainTrainingOptions::Register one option at a time. Call it against
// o's current values (e.g. a DefaultOptions() result) so the flags' own
// defaults match.
func (o *Options) RegisterFlags(fs *pflag.FlagSet) {
	fs.Float64Var(&o.L2Regularize, "l2-regularize", o.L2Regularize,
		"l2 regularization constant for chain training, applied to the output of the neural net")
	fs.BoolVar(&o.NormRegularize, "norm-regularize", o.NormRegularize,
		"if true, regularize exp(output) toward small values instead of the raw output")
	fs.Float64Var(&o.LeakyHMMCoefficient, "leaky-hmm-coefficient", o.LeakyHMMCoefficient,
		"coefficient for leaky-HMM transitions between denominator states; must stay strictly positive")
	fs.Float64Var(&o.XentRegularize, "xent-regularize", o.XentRegularize,
		"cross-entropy regularization constant; nonzero requires a dXXent buffer")
	fs.BoolVar(&o.UseSMBRObjective, "use-smbr-objective", o.UseSMBRObjective,
		"use the SMBR objective instead of MMI")
	fs.Float64Var(&o.MMIFactor, "mmi-factor", o.MMIFactor,
		"when using the SMBR objective, interpolate the MMI objective with this weight")
	fs.Float64Var(&o.SMBRFactor, "smbr-factor", o.SMBRFactor,
		"when using the SMBR objective, interpolate the SMBR objective with this weight")
	fs.BoolVar(&o.ExcludeSilence, "exclude-silence", o.ExcludeSilence,
		"exclude numerator posteriors of silence pdfs from the SMBR accuracy computation")
	fs.BoolVar(&o.OneSilenceClass, "one-silence-class", o.OneSilenceClass,
		"treat all silence pdfs as a single class in the SMBR accuracy computation")
	fs.Float64Var(&o.ConsistencyTolerance, "consistency-tolerance", o.ConsistencyTolerance,
		"tolerance, scaled by |logZden|, for the denominator's alpha/beta self-consistency check; 0 disables it")
}
