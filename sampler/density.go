package sampler

import (
	"context"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/gokombine/kde"
	"bitbucket.org/Davydov/gokombine/pool"
)

// LogPosterior returns the log posterior probability of a position.
// It is called concurrently when more than one process is used and
// must not modify x.
type LogPosterior func(x []float64) (float64, error)

// Density is a proposal density. LogProb must be safe for concurrent
// use.
type Density interface {
	Draw(n int) *mat.Dense
	LogProb(x []float64) float64
}

// Fitter fits a proposal density to ensemble positions (one walker per
// row). The mapper may be used to parallelize fitting.
type Fitter interface {
	Fit(ctx context.Context, p *mat.Dense, m pool.Mapper) (Density, error)
}

// FitterFunc is an adapter to use ordinary functions as fitters.
type FitterFunc func(ctx context.Context, p *mat.Dense, m pool.Mapper) (Density, error)

// Fit calls f(ctx, p, m).
func (f FitterFunc) Fit(ctx context.Context, p *mat.Dense, m pool.Mapper) (Density, error) {
	return f(ctx, p, m)
}

// kdeFitter fits clustered kernel density estimates.
type kdeFitter struct {
	settings *kde.Settings
	rnd      *rand.Rand
}

func (f kdeFitter) Fit(ctx context.Context, p *mat.Dense, m pool.Mapper) (Density, error) {
	k, err := kde.Fit(ctx, p, m, f.settings, f.rnd)
	if err != nil {
		return nil, err
	}
	return k, nil
}
