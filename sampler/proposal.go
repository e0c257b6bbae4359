package sampler

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/gokombine/pool"
)

// proposal owns the current proposal density. A refit replaces the
// density, old densities are not kept.
type proposal struct {
	fitter  Fitter
	density Density
}

// fit replaces the density with one fitted to p.
func (pm *proposal) fit(ctx context.Context, p *mat.Dense, m pool.Mapper) error {
	d, err := pm.fitter.Fit(ctx, mat.DenseCopyOf(p), m)
	if err != nil {
		return errors.Wrap(err, "fitting proposal")
	}
	if d == nil {
		return errors.New("fitting proposal: fitter returned no density")
	}
	pm.density = d
	return nil
}

// ensureBuilt fits a density if there is none.
func (pm *proposal) ensureBuilt(ctx context.Context, p *mat.Dense, m pool.Mapper) error {
	if pm.density != nil {
		return nil
	}
	return pm.fit(ctx, p, m)
}

// maybeRefit refits the density when iteration is a multiple of
// interval. It reports whether a refit happened.
func (pm *proposal) maybeRefit(ctx context.Context, p *mat.Dense, m pool.Mapper, iteration, interval int) (bool, error) {
	if interval < 1 || iteration%interval != 0 {
		return false, nil
	}
	log.Debugf("%d: refitting proposal", iteration)
	if err := pm.fit(ctx, p, m); err != nil {
		return false, err
	}
	return true, nil
}

func (pm *proposal) draw(n int) (*mat.Dense, error) {
	if pm.density == nil {
		return nil, ErrNoProposal
	}
	return pm.density.Draw(n), nil
}

func (pm *proposal) current() (Density, error) {
	if pm.density == nil {
		return nil, ErrNoProposal
	}
	return pm.density, nil
}
