package sampler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/panics"
	"gonum.org/v1/gonum/mat"
)

// evaluate computes log posterior and log proposal density for every
// row of p. Rows are independent and may be evaluated concurrently.
// Units of an abandoned batch may still be running after evaluate
// returns, they only write to slices which are never returned.
func (s *Sampler) evaluate(ctx context.Context, p *mat.Dense) ([]float64, []float64, error) {
	d, err := s.proposal.current()
	if err != nil {
		return nil, nil, err
	}
	n, _ := p.Dims()
	lnpost := make([]float64, n)
	lnprop := make([]float64, n)

	start := time.Now()
	merr := s.mapper.Map(ctx, n, func(ctx context.Context, i int) error {
		x := mat.Row(nil, i, p)
		var lp float64
		var perr error
		var pc panics.Catcher
		pc.Try(func() {
			lp, perr = s.lnpost(x)
			if perr == nil {
				lnprop[i] = d.LogProb(x)
			}
		})
		if r := pc.Recovered(); r != nil {
			return errors.Wrapf(r.AsError(), "walker %d", i)
		}
		if perr != nil {
			return errors.Wrapf(perr, "walker %d", i)
		}
		lnpost[i] = lp
		return nil
	})
	s.metrics.evalDuration.Observe(time.Since(start).Seconds())
	if merr != nil {
		return nil, nil, merr
	}
	return lnpost, lnprop, nil
}
