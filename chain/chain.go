// Package chain stores the history of an ensemble sampler: walker
// positions, log posterior values, log proposal densities and
// acceptance flags for every committed iteration.
package chain

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Store is an append-only chain history which can be truncated
// (rolled back) to any earlier length. All the per-iteration arrays
// always have the same length.
type Store struct {
	nwalkers int
	dim      int

	positions []*mat.Dense
	lnpost    [][]float64
	lnprop    [][]float64
	accepted  [][]bool
}

// New creates an empty store for nwalkers walkers in dim dimensions.
func New(nwalkers, dim int) *Store {
	if nwalkers < 1 || dim < 1 {
		panic("chain: nwalkers and dim should be >= 1")
	}
	return &Store{
		nwalkers: nwalkers,
		dim:      dim,
	}
}

// NWalkers returns the number of walkers.
func (s *Store) NWalkers() int {
	return s.nwalkers
}

// Dim returns the number of dimensions.
func (s *Store) Dim() int {
	return s.dim
}

// Len returns the number of committed iterations.
func (s *Store) Len() int {
	return len(s.positions)
}

// Append commits a new iteration. All the values are copied.
func (s *Store) Append(p mat.Matrix, lnpost, lnprop []float64, acc []bool) error {
	r, c := p.Dims()
	if r != s.nwalkers || c != s.dim {
		return errors.Errorf("chain: positions are %dx%d, expected %dx%d", r, c, s.nwalkers, s.dim)
	}
	if len(lnpost) != s.nwalkers || len(lnprop) != s.nwalkers || len(acc) != s.nwalkers {
		return errors.Errorf("chain: expected %d values per walker (lnpost=%d, lnprop=%d, acc=%d)",
			s.nwalkers, len(lnpost), len(lnprop), len(acc))
	}
	s.positions = append(s.positions, mat.DenseCopyOf(p))
	s.lnpost = append(s.lnpost, append([]float64(nil), lnpost...))
	s.lnprop = append(s.lnprop, append([]float64(nil), lnprop...))
	s.accepted = append(s.accepted, append([]bool(nil), acc...))
	return nil
}

// Truncate shrinks the history to k iterations. It never fails:
// negative k is treated as zero and k >= Len() is a no-op.
func (s *Store) Truncate(k int) {
	if k < 0 {
		k = 0
	}
	if k >= len(s.positions) {
		return
	}
	// release the discarded snapshots
	for t := k; t < len(s.positions); t++ {
		s.positions[t] = nil
		s.lnpost[t] = nil
		s.lnprop[t] = nil
		s.accepted[t] = nil
	}
	s.positions = s.positions[:k]
	s.lnpost = s.lnpost[:k]
	s.lnprop = s.lnprop[:k]
	s.accepted = s.accepted[:k]
}

// Positions returns a copy of walker positions at iteration t.
func (s *Store) Positions(t int) *mat.Dense {
	return mat.DenseCopyOf(s.positions[t])
}

// Chain returns a copy of all the positions, indexed by iteration.
// Each matrix is nwalkers x dim.
func (s *Store) Chain() []*mat.Dense {
	res := make([]*mat.Dense, len(s.positions))
	for t, p := range s.positions {
		res[t] = mat.DenseCopyOf(p)
	}
	return res
}

// LnPost returns a copy of the log posterior history.
func (s *Store) LnPost() [][]float64 {
	return copyFloats(s.lnpost)
}

// LnProp returns a copy of the log proposal density history.
func (s *Store) LnProp() [][]float64 {
	return copyFloats(s.lnprop)
}

// Acceptance returns a copy of the acceptance history.
func (s *Store) Acceptance() [][]bool {
	res := make([][]bool, len(s.accepted))
	for t, a := range s.accepted {
		res[t] = append([]bool(nil), a...)
	}
	return res
}

// LastAcceptanceFraction returns the fraction of walkers which
// accepted a jump in the last iteration, or 0 for an empty chain.
func (s *Store) LastAcceptanceFraction() float64 {
	if len(s.accepted) == 0 {
		return 0
	}
	return fraction(s.accepted[len(s.accepted)-1])
}

// AcceptanceFraction returns the fraction of accepting walkers per
// iteration.
func (s *Store) AcceptanceFraction() []float64 {
	res := make([]float64, len(s.accepted))
	for t, a := range s.accepted {
		res[t] = fraction(a)
	}
	return res
}

// AcceptanceRates returns the per-walker acceptance rate over the
// last window iterations. If window exceeds the chain length, the
// whole chain is used. The result is all zeros for an empty chain.
func (s *Store) AcceptanceRates(window int) []float64 {
	rates := make([]float64, s.nwalkers)
	n := len(s.accepted)
	if window > n || window <= 0 {
		window = n
	}
	if window == 0 {
		return rates
	}
	for t := n - window; t < n; t++ {
		for w, a := range s.accepted[t] {
			if a {
				rates[w]++
			}
		}
	}
	for w := range rates {
		rates[w] /= float64(window)
	}
	return rates
}

func fraction(a []bool) float64 {
	if len(a) == 0 {
		return 0
	}
	n := 0
	for _, v := range a {
		if v {
			n++
		}
	}
	return float64(n) / float64(len(a))
}

func copyFloats(src [][]float64) [][]float64 {
	res := make([][]float64, len(src))
	for t, v := range src {
		res[t] = append([]float64(nil), v...)
	}
	return res
}
