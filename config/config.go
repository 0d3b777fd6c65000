// Package config loads chain.Options and the silence-pdf index vector from
// a YAML file, the ambient layer spec.md explicitly keeps outside the core:
// option parsing, silence-pdf *string* parsing, and file I/O never happen
// inside package chain itself.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/latticefree/chaintrain/chain"
)

// File is the on-disk shape of a chain training config file.
type File struct {
	L2Regularize         *float64 `yaml:"l2_regularize"`
	NormRegularize       *bool    `yaml:"norm_regularize"`
	LeakyHMMCoefficient  *float64 `yaml:"leaky_hmm_coefficient"`
	XentRegularize       *float64 `yaml:"xent_regularize"`
	UseSMBRObjective     *bool    `yaml:"use_smbr_objective"`
	ExcludeSilence       *bool    `yaml:"exclude_silence"`
	OneSilenceClass      *bool    `yaml:"one_silence_class"`
	MMIFactor            *float64 `yaml:"mmi_factor"`
	SMBRFactor           *float64 `yaml:"smbr_factor"`
	ConsistencyTolerance *float64 `yaml:"consistency_tolerance"`

	// SilencePdfsStr is the colon/comma-separated class-index string
	// spec.md §6 names; ParseSilencePdfs below turns it into the index
	// vector the core consumes.
	SilencePdfsStr string `yaml:"silence_pdfs_str"`

	NumPdfs int `yaml:"num_pdfs"`
}

// Load reads path and merges it over chain.DefaultOptions(); unset fields
// in the file keep the default.
func Load(path string) (chain.Options, *File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chain.Options{}, nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return chain.Options{}, nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	opts := chain.DefaultOptions()
	if f.L2Regularize != nil {
		opts.L2Regularize = *f.L2Regularize
	}
	if f.NormRegularize != nil {
		opts.NormRegularize = *f.NormRegularize
	}
	if f.LeakyHMMCoefficient != nil {
		opts.LeakyHMMCoefficient = *f.LeakyHMMCoefficient
	}
	if f.XentRegularize != nil {
		opts.XentRegularize = *f.XentRegularize
	}
	if f.UseSMBRObjective != nil {
		opts.UseSMBRObjective = *f.UseSMBRObjective
	}
	if f.ExcludeSilence != nil {
		opts.ExcludeSilence = *f.ExcludeSilence
	}
	if f.OneSilenceClass != nil {
		opts.OneSilenceClass = *f.OneSilenceClass
	}
	if f.MMIFactor != nil {
		opts.MMIFactor = *f.MMIFactor
	}
	if f.SMBRFactor != nil {
		opts.SMBRFactor = *f.SMBRFactor
	}
	if f.ConsistencyTolerance != nil {
		opts.ConsistencyTolerance = *f.ConsistencyTolerance
	}

	if opts.ExcludeSilence && opts.OneSilenceClass {
		return chain.Options{}, nil, fmt.Errorf("config: exclude_silence and one_silence_class are mutually exclusive")
	}
	if (opts.ExcludeSilence || opts.OneSilenceClass) && f.SilencePdfsStr == "" {
		return chain.Options{}, nil, fmt.Errorf("config: exclude_silence/one_silence_class requested with empty silence_pdfs_str")
	}
	if opts.LeakyHMMCoefficient <= 0 {
		return chain.Options{}, nil, fmt.Errorf("config: leaky_hmm_coefficient must be > 0, got %v", opts.LeakyHMMCoefficient)
	}

	return opts, &f, nil
}

// ParseSilencePdfs parses a colon- or comma-separated list of pdf-class
// indices into the length-numPdfs index vector the core consumes: entry i
// is i for a kept class and -1 for a silence class.
func ParseSilencePdfs(s string, numPdfs int) (chain.SilenceIndices, error) {
	sil := make(chain.SilenceIndices, numPdfs)
	for i := range sil {
		sil[i] = i
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return sil, nil
	}

	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == ',' })
	for _, f := range fields {
		idx, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("config: invalid silence pdf index %q: %w", f, err)
		}
		if idx < 0 || idx >= numPdfs {
			return nil, fmt.Errorf("config: silence pdf index %d out of range for %d classes", idx, numPdfs)
		}
		sil[idx] = -1
	}
	return sil, nil
}
