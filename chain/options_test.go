package chain

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestOptionsRegisterFlagsParses(t *testing.T) {
	opts := DefaultOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.RegisterFlags(fs)

	if err := fs.Parse([]string{
		"--l2-regularize=0.01",
		"--use-smbr-objective",
		"--smbr-factor=0.5",
		"--mmi-factor=0.2",
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if opts.L2Regularize != 0.01 {
		t.Errorf("L2Regularize = %v, want 0.01", opts.L2Regularize)
	}
	if !opts.UseSMBRObjective {
		t.Error("UseSMBRObjective = false, want true")
	}
	if opts.SMBRFactor != 0.5 {
		t.Errorf("SMBRFactor = %v, want 0.5", opts.SMBRFactor)
	}
	if opts.MMIFactor != 0.2 {
		t.Errorf("MMIFactor = %v, want 0.2", opts.MMIFactor)
	}
	if opts.LeakyHMMCoefficient != 1e-5 {
		t.Errorf("LeakyHMMCoefficient = %v, want unchanged default 1e-5", opts.LeakyHMMCoefficient)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.LeakyHMMCoefficient != 1e-5 {
		t.Errorf("LeakyHMMCoefficient = %v, want 1e-5", opts.LeakyHMMCoefficient)
	}
	if opts.SMBRFactor != 1 {
		t.Errorf("SMBRFactor = %v, want 1", opts.SMBRFactor)
	}
	if opts.MMIFactor != 0 {
		t.Errorf("MMIFactor = %v, want 0", opts.MMIFactor)
	}
	if opts.UseSMBRObjective {
		t.Error("UseSMBRObjective = true, want false")
	}
}
