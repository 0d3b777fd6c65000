package chain

import "github.com/latticefree/chaintrain/internal/mathutil"

// SilenceIndices is the length-P vector external collaborators derive from
// silence_pdfs_str (spec.md §6): entry i is i for a kept class and -1 for a
// class treated as silence.
type SilenceIndices []int

// applySilence mutates post in place according to opts.ExcludeSilence /
// opts.OneSilenceClass before it is consumed as SMBR accuracy. The two
// flags are mutually exclusive by documented use; ExcludeSilence takes
// precedence if both are somehow set.
func applySilence(post mathutil.Mat, sil SilenceIndices, opts Options) {
	if sil == nil || (!opts.ExcludeSilence && !opts.OneSilenceClass) {
		return
	}
	if opts.ExcludeSilence {
		excludeSilenceColumns(post, sil)
		return
	}
	mergeSilenceColumns(post, sil)
}

// excludeSilenceColumns zeros every column marked -1 in sil, the Go
// equivalent of CopyCols with a -1 selector.
func excludeSilenceColumns(post mathutil.Mat, sil SilenceIndices) {
	for _, row := range post {
		for p, keep := range sil {
			if keep == -1 {
				row[p] = 0
			}
		}
	}
}

// mergeSilenceColumns sums every silence column and broadcasts the sum
// back into each of them, treating all silence classes as one.
func mergeSilenceColumns(post mathutil.Mat, sil SilenceIndices) {
	for _, row := range post {
		sum := 0.0
		for p, keep := range sil {
			if keep == -1 {
				sum += row[p]
			}
		}
		for p, keep := range sil {
			if keep == -1 {
				row[p] = sum
			}
		}
	}
}
