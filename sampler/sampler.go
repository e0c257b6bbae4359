// Package sampler implements an ensemble Markov chain Monte Carlo
// sampler with an adaptive proposal.
//
// All walkers draw their candidates from a single proposal density
// which is fitted to the ensemble and refitted periodically, so every
// iteration is an independence Metropolis-Hastings step. Candidate
// batches are evaluated by a worker pool owned by the sampler. When
// evaluation fails or the context is cancelled, the chain is rolled
// back to the last committed iteration and the pool is recreated.
package sampler

import (
	"context"
	"math/rand"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/gokombine/chain"
	"bitbucket.org/Davydov/gokombine/pool"
)

var log = logging.MustGetLogger("sampler")

// State is the ensemble state: positions (one walker per row), log
// posterior and log proposal density of every walker.
type State struct {
	P      *mat.Dense
	LnPost []float64
	LnProp []float64
}

// Clone returns a deep copy of the state.
func (st *State) Clone() *State {
	res := &State{}
	if st.P != nil {
		res.P = mat.DenseCopyOf(st.P)
	}
	if st.LnPost != nil {
		res.LnPost = append([]float64(nil), st.LnPost...)
	}
	if st.LnProp != nil {
		res.LnProp = append([]float64(nil), st.LnProp...)
	}
	return res
}

// Sampler is an ensemble sampler. It is driven from a single
// goroutine and is not safe for concurrent use.
type Sampler struct {
	nwalkers int
	dim      int
	lnpost   LogPosterior
	settings *Settings
	seed     int64
	rnd      *rand.Rand

	chain    *chain.Store
	proposal *proposal
	// mapper is replaced on rollback when recycle is set.
	mapper    pool.Mapper
	newMapper pool.Factory
	recycle   bool

	failed  *mat.Dense
	metrics *metrics

	// acceptance since the last report
	accepted int
	proposed int
}

// New creates a new sampler. s can be nil for default settings.
func New(nwalkers, dim int, lnpost LogPosterior, s *Settings) (*Sampler, error) {
	if nwalkers < 1 {
		return nil, errors.Errorf("sampler: number of walkers must be positive, got %d", nwalkers)
	}
	if dim < 1 {
		return nil, errors.Errorf("sampler: dimension must be positive, got %d", dim)
	}
	if lnpost == nil {
		return nil, errors.New("sampler: no posterior function")
	}
	if s == nil {
		s = NewSettings()
	}
	if s.BurnIn == nil {
		s.BurnIn = NewBurnInSettings()
	}

	m, err := newMetrics(s.Registerer)
	if err != nil {
		return nil, err
	}

	seed := s.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))
	log.Debugf("seed=%d", seed)

	fitter := s.Fitter
	if fitter == nil {
		fitter = kdeFitter{settings: s.KDE, rnd: rnd}
	}

	newMapper := s.NewMapper
	recycle := true
	if newMapper == nil {
		newMapper = pool.NewFactory(s.Processes)
		recycle = s.Processes != 1
	}

	return &Sampler{
		nwalkers:  nwalkers,
		dim:       dim,
		lnpost:    lnpost,
		settings:  s,
		seed:      seed,
		rnd:       rnd,
		chain:     chain.New(nwalkers, dim),
		proposal:  &proposal{fitter: fitter},
		mapper:    newMapper(),
		newMapper: newMapper,
		recycle:   recycle,
		metrics:   m,
	}, nil
}

// NWalkers returns the number of walkers.
func (s *Sampler) NWalkers() int {
	return s.nwalkers
}

// Dim returns the number of dimensions.
func (s *Sampler) Dim() int {
	return s.dim
}

// Seed returns the seed of the random number generator.
func (s *Sampler) Seed() int64 {
	return s.seed
}

// Iterations returns the number of committed iterations.
func (s *Sampler) Iterations() int {
	return s.chain.Len()
}

// Sample performs iterations steps starting from start and returns
// the final state. If start is nil, initial positions are drawn from
// the current proposal. Missing log posterior or log proposal values
// are computed before the first step. The proposal is refitted every
// updateInterval iterations.
//
// On error the chain is rolled back to the last committed iteration,
// the returned state corresponds to it.
func (s *Sampler) Sample(ctx context.Context, start *State, iterations, updateInterval int) (*State, error) {
	if iterations < 0 {
		return nil, errors.Errorf("sampler: negative number of iterations %d", iterations)
	}
	if updateInterval < 1 {
		return nil, errors.Errorf("sampler: update interval must be positive, got %d", updateInterval)
	}
	st, err := s.prepare(ctx, start)
	if err != nil {
		return nil, err
	}
	for i := 0; i < iterations; i++ {
		if err := s.step(ctx, st, updateInterval); err != nil {
			return st, err
		}
	}
	return st, nil
}

// prepare builds a complete initial state.
func (s *Sampler) prepare(ctx context.Context, start *State) (*State, error) {
	st := &State{}
	if start == nil || start.P == nil {
		p, err := s.proposal.draw(s.nwalkers)
		if err != nil {
			return nil, err
		}
		st.P = p
	} else {
		if r, c := start.P.Dims(); r != s.nwalkers || c != s.dim {
			return nil, errors.Errorf("sampler: initial positions are %dx%d, expected %dx%d", r, c, s.nwalkers, s.dim)
		}
		st.P = mat.DenseCopyOf(start.P)
	}
	if start != nil {
		if start.LnPost != nil {
			if len(start.LnPost) != s.nwalkers {
				return nil, errors.Errorf("sampler: %d initial log posterior values for %d walkers", len(start.LnPost), s.nwalkers)
			}
			st.LnPost = append([]float64(nil), start.LnPost...)
		}
		if start.LnProp != nil {
			if len(start.LnProp) != s.nwalkers {
				return nil, errors.Errorf("sampler: %d initial log proposal values for %d walkers", len(start.LnProp), s.nwalkers)
			}
			st.LnProp = append([]float64(nil), start.LnProp...)
		}
	}

	if s.proposal.density == nil {
		if err := s.proposal.ensureBuilt(ctx, st.P, s.mapper); err != nil {
			if ctx.Err() != nil {
				return nil, s.fail(ctx, nil, err)
			}
			return nil, errors.Wrap(err, "sampler")
		}
		s.metrics.fits.Inc()
	}

	if st.LnPost == nil || st.LnProp == nil {
		lnpost, lnprop, err := s.evaluate(ctx, st.P)
		if err != nil {
			return nil, s.fail(ctx, st.P, err)
		}
		if st.LnPost == nil {
			st.LnPost = lnpost
		}
		if st.LnProp == nil {
			st.LnProp = lnprop
		}
	}
	return st, nil
}

// Draw draws n points from the current proposal.
func (s *Sampler) Draw(n int) (*mat.Dense, error) {
	return s.proposal.draw(n)
}

// Rollback truncates the chain to k iterations and recreates the
// worker pool. Rolling back to the current length only recreates the
// pool.
func (s *Sampler) Rollback(k int) {
	if k < s.chain.Len() {
		log.Warningf("Rolling back from iteration %d to %d.", s.chain.Len(), k)
	}
	s.chain.Truncate(k)
	if s.recycle {
		if err := s.mapper.Close(); err != nil {
			log.Warningf("Error closing worker pool: %v", err)
		}
		s.mapper = s.newMapper()
	}
	s.metrics.rollbacks.Inc()
}

// Chain returns copies of the ensemble positions of every iteration.
func (s *Sampler) Chain() []*mat.Dense {
	return s.chain.Chain()
}

// LnPost returns the log posterior history, indexed by iteration and
// walker.
func (s *Sampler) LnPost() [][]float64 {
	return s.chain.LnPost()
}

// LnProp returns the log proposal density history.
func (s *Sampler) LnProp() [][]float64 {
	return s.chain.LnProp()
}

// Acceptance returns the acceptance history, indexed by iteration and
// walker.
func (s *Sampler) Acceptance() [][]bool {
	return s.chain.Acceptance()
}

// AcceptanceFraction returns the fraction of accepting walkers for
// every iteration.
func (s *Sampler) AcceptanceFraction() []float64 {
	return s.chain.AcceptanceFraction()
}

// FailedBatch returns a copy of the last candidate batch which failed
// to evaluate, or nil.
func (s *Sampler) FailedBatch() *mat.Dense {
	if s.failed == nil {
		return nil
	}
	return mat.DenseCopyOf(s.failed)
}

// Close releases the worker pool.
func (s *Sampler) Close() error {
	return s.mapper.Close()
}
