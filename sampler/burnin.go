package sampler

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/gokombine/dist"
)

// BurnInReport describes a burn-in run.
type BurnInReport struct {
	// Converged is true if the last test cycle found no difference
	// between the start and end ensembles.
	Converged bool `json:"converged"`
	// Cycles is the number of test cycles.
	Cycles int `json:"cycles"`
	// Steps is the number of committed iterations.
	Steps int `json:"steps"`
	// Intervals are lengths of the test cycles.
	Intervals []int `json:"intervals"`
	// MinPValues is the smallest p-value over dimensions for every
	// cycle.
	MinPValues []float64 `json:"minPValues"`
}

// BurnIn samples until the ensemble distribution stabilizes. After
// every test cycle each dimension of the ensemble is compared to the
// ensemble at the start of the cycle with a two-sample
// Kolmogorov-Smirnov test. The cycle length adapts to the acceptance
// rate of the slowest walkers.
//
// maxSteps limits the number of iterations, <= 0 means no limit. Not
// converging within the limit is not an error, it is reported in
// BurnInReport and the last state is returned.
func (s *Sampler) BurnIn(ctx context.Context, start *State, updateInterval, maxSteps int) (*State, *BurnInReport, error) {
	if start == nil || start.P == nil {
		return nil, nil, errors.New("sampler: burn-in requires initial positions")
	}
	if updateInterval < 1 {
		return nil, nil, errors.Errorf("sampler: update interval must be positive, got %d", updateInterval)
	}
	bs := s.settings.BurnIn

	testInterval := updateInterval
	first := s.Iterations()
	maxIter := math.MaxInt
	if maxSteps > 0 {
		maxIter = first + maxSteps
		if testInterval > maxSteps {
			testInterval = maxSteps
		}
	}

	rep := &BurnInReport{}
	p0 := start
	var st *State
	for !rep.Converged {
		if s.Iterations()+testInterval > maxIter {
			break
		}
		var err error
		st, err = s.Sample(ctx, p0, testInterval, updateInterval)
		rep.Steps = s.Iterations() - first
		if err != nil {
			return st, rep, err
		}
		rep.Cycles++
		rep.Intervals = append(rep.Intervals, testInterval)

		pmin := s.ksMinPValue(p0.P, st.P)
		rep.MinPValues = append(rep.MinPValues, pmin)
		rep.Converged = pmin >= bs.CriticalPValue
		log.Debugf("%d: burn-in cycle %d of %d iterations, min KS p-value=%.4g",
			s.Iterations(), rep.Cycles, testInterval, pmin)

		if !rep.Converged {
			testInterval = s.nextInterval()
			p0 = st
		}
	}

	if st == nil {
		st = start.Clone()
	}
	if rep.Converged {
		log.Noticef("Burn-in finished after %d iterations.", rep.Steps)
	} else {
		log.Warningf("Burn-in unsuccessful after %d iterations.", rep.Steps)
	}
	return st, rep, nil
}

// ksMinPValue returns the smallest two-sample Kolmogorov-Smirnov
// p-value over dimensions.
func (s *Sampler) ksMinPValue(p0, p *mat.Dense) float64 {
	pmin := 1.0
	for j := 0; j < s.dim; j++ {
		_, pv := dist.KolmogorovSmirnov2(mat.Col(nil, j, p0), mat.Col(nil, j, p))
		if pv < pmin || math.IsNaN(pv) {
			pmin = pv
		}
	}
	return pmin
}

// nextInterval computes the length of the next test cycle. The
// acceptance window covers on average bs.Acceptances accepted jumps
// (judging from the last iteration). The next interval is long enough
// for a walker at the low quantile of acceptance rates to jump once.
func (s *Sampler) nextInterval() int {
	bs := s.settings.BurnIn
	window := s.chain.Len()
	if mean := s.chain.LastAcceptanceFraction(); mean > 0 {
		window = int(math.Round(bs.Acceptances / mean))
	}
	if window < 1 {
		window = 1
	}

	rates := s.chain.AcceptanceRates(window)
	sort.Float64s(rates)
	i := int(bs.Quantile * float64(len(rates)))
	if i >= len(rates) {
		i = len(rates) - 1
	}
	if i < 0 {
		i = 0
	}
	low := rates[i]

	next := window
	if low > 0 {
		next = int(math.Round(1 / low))
	}
	if next < 1 {
		next = 1
	}
	return next
}
