package sampler

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// metropolis decides which walkers jump to their candidates. Walkers
// with a positive log ratio always accept. Every other walker draws
// one uniform number, in walker order.
func metropolis(rnd *rand.Rand, lnpost, lnprop, lnpostC, lnpropC []float64) []bool {
	acc := make([]bool, len(lnpost))
	for i := range acc {
		// independence sampler ratio
		r := lnpostC[i] - lnpost[i] + lnprop[i] - lnpropC[i]
		if r > 0 {
			acc[i] = true
			continue
		}
		u := rnd.Float64()
		// NaN ratios and zero draws reject
		acc[i] = u > 0 && r > math.Log(u)
	}
	return acc
}

// step performs one iteration starting from st, which is updated in
// place only if the iteration is committed.
func (s *Sampler) step(ctx context.Context, st *State, updateInterval int) error {
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, nil, err)
	}
	cand, err := s.proposal.draw(s.nwalkers)
	if err != nil {
		return err
	}
	lnpostC, lnpropC, err := s.evaluate(ctx, cand)
	if err != nil {
		return s.fail(ctx, cand, err)
	}

	acc := metropolis(s.rnd, st.LnPost, st.LnProp, lnpostC, lnpropC)
	naccepted := 0
	for i, a := range acc {
		if !a {
			continue
		}
		naccepted++
		st.P.SetRow(i, cand.RawRowView(i))
		st.LnPost[i] = lnpostC[i]
		st.LnProp[i] = lnpropC[i]
	}
	if err := s.chain.Append(st.P, st.LnPost, st.LnProp, acc); err != nil {
		return err
	}
	it := s.chain.Len()

	s.metrics.iterations.Inc()
	s.metrics.proposals.Add(float64(s.nwalkers))
	s.metrics.accepted.Add(float64(naccepted))
	s.metrics.acceptance.Set(float64(naccepted) / float64(s.nwalkers))
	s.reportAcceptance(it, naccepted)

	refit, err := s.proposal.maybeRefit(ctx, st.P, s.mapper, it, updateInterval)
	if err != nil {
		if ctx.Err() != nil {
			return s.fail(ctx, nil, err)
		}
		return errors.Wrapf(err, "sampler: iteration %d", it)
	}
	if refit {
		s.metrics.fits.Inc()
	}
	return nil
}

// reportAcceptance logs the acceptance rate every AccPeriod
// iterations.
func (s *Sampler) reportAcceptance(it, naccepted int) {
	if s.settings.AccPeriod <= 0 {
		return
	}
	s.accepted += naccepted
	s.proposed += s.nwalkers
	if it%s.settings.AccPeriod == 0 {
		log.Infof("%d: Acceptance rate %.2f%%", it, 100*float64(s.accepted)/float64(s.proposed))
		s.accepted = 0
		s.proposed = 0
	}
}

// fail rolls the chain back to the last committed iteration and
// classifies err. batch is stored for diagnostics unless the failure
// is a cancellation.
func (s *Sampler) fail(ctx context.Context, batch *mat.Dense, err error) error {
	it := s.chain.Len()
	s.Rollback(it)
	if cerr := ctx.Err(); cerr != nil {
		s.metrics.cancellations.Inc()
		log.Warningf("Interrupted at iteration %d, rolled back.", it)
		return &CancelledError{Iteration: it, Err: cerr}
	}
	s.metrics.failures.Inc()
	if batch != nil {
		s.failed = batch
		log.Errorf("Evaluation failed at iteration %d: %v", it, err)
		log.Error("Offending samples stored, see FailedBatch.")
	}
	return &EvaluationError{Iteration: it, Err: err}
}
