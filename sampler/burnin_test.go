package sampler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/gokombine/pool"
)

// shifted proposes the fitted ensemble moved by shift.
type shifted struct {
	p     *mat.Dense
	shift float64
}

func (d shifted) Draw(n int) *mat.Dense {
	r, c := d.p.Dims()
	res := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			res.Set(i, j, d.p.At(i%r, j)+d.shift)
		}
	}
	return res
}

func (d shifted) LogProb([]float64) float64 {
	return 0
}

func flat([]float64) (float64, error) {
	return 0, nil
}

func newShiftedSampler(tst *testing.T, nwalkers, dim int) *Sampler {
	s := NewSettings()
	s.Seed = 7
	s.Processes = 1
	s.Fitter = FitterFunc(func(_ context.Context, p *mat.Dense, _ pool.Mapper) (Density, error) {
		return shifted{p: p, shift: 100}, nil
	})
	smp, err := New(nwalkers, dim, flat, s)
	require.NoError(tst, err)
	return smp
}

func sum(x []int) int {
	s := 0
	for _, v := range x {
		s += v
	}
	return s
}

// A step budget smaller than the update interval gives one short
// cycle.
func TestBurnInSingleStep(tst *testing.T) {
	smp := newShiftedSampler(tst, 10, 2)
	st, rep, err := smp.BurnIn(context.Background(), &State{P: startPositions(1, 10, 2, 1)}, 10, 1)
	require.NoError(tst, err)
	require.NotNil(tst, st)
	assert.False(tst, rep.Converged)
	assert.Equal(tst, 1, rep.Cycles)
	assert.Equal(tst, []int{1}, rep.Intervals)
	assert.Equal(tst, 1, rep.Steps)
	assert.Equal(tst, 1, smp.Iterations())
	assert.Less(tst, rep.MinPValues[0], 0.05)
}

// Refitting every iteration keeps the shifted ensemble moving, so
// burn-in gives up when the budget is spent.
func TestBurnInBudget(tst *testing.T) {
	smp := newShiftedSampler(tst, 10, 1)
	_, rep, err := smp.BurnIn(context.Background(), &State{P: startPositions(2, 10, 1, 1)}, 1, 25)
	require.NoError(tst, err)
	assert.False(tst, rep.Converged)
	assert.Greater(tst, rep.Cycles, 1)
	assert.LessOrEqual(tst, rep.Steps, 25)
	assert.Equal(tst, rep.Steps, sum(rep.Intervals))
	assert.Equal(tst, rep.Steps, smp.Iterations())
	assert.Equal(tst, rep.Cycles, len(rep.Intervals))
	assert.Equal(tst, rep.Cycles, len(rep.MinPValues))
	for _, p := range rep.MinPValues {
		assert.Less(tst, p, 0.05)
	}
}

func TestBurnInBudgetAfterSampling(tst *testing.T) {
	smp := newShiftedSampler(tst, 10, 1)
	ctx := context.Background()
	st, err := smp.Sample(ctx, &State{P: startPositions(3, 10, 1, 1)}, 5, 10)
	require.NoError(tst, err)

	// budget counts from the current iteration
	_, rep, err := smp.BurnIn(ctx, st, 3, 7)
	require.NoError(tst, err)
	assert.LessOrEqual(tst, rep.Steps, 7)
	assert.Equal(tst, 5+rep.Steps, smp.Iterations())
}

func TestBurnInConverges(tst *testing.T) {
	smp := newTestSampler(tst, 40, 2, gaussian, 2)
	start := &State{P: startPositions(5, 40, 2, 1)}
	st, rep, err := smp.BurnIn(context.Background(), start, 10, 1000)
	require.NoError(tst, err)
	assert.True(tst, rep.Converged)
	assert.GreaterOrEqual(tst, rep.Cycles, 1)
	assert.Equal(tst, rep.Steps, sum(rep.Intervals))
	assert.Equal(tst, rep.Steps, smp.Iterations())
	assert.True(tst, mat.Equal(st.P, smp.Chain()[smp.Iterations()-1]))
}

func TestBurnInRequiresStart(tst *testing.T) {
	smp := newTestSampler(tst, 4, 1, gaussian, 1)
	_, _, err := smp.BurnIn(context.Background(), nil, 10, 10)
	assert.Error(tst, err)
	_, _, err = smp.BurnIn(context.Background(), &State{P: startPositions(1, 4, 1, 1)}, 0, 10)
	assert.Error(tst, err)
}

func TestBurnInCancelled(tst *testing.T) {
	smp := newTestSampler(tst, 10, 1, gaussian, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, rep, err := smp.BurnIn(ctx, &State{P: startPositions(1, 10, 1, 1)}, 10, 100)
	require.Error(tst, err)
	var cerr *CancelledError
	assert.ErrorAs(tst, err, &cerr)
	assert.Equal(tst, 0, rep.Steps)
	assert.Equal(tst, 0, smp.Iterations())
}

func appendAcceptance(tst *testing.T, smp *Sampler, acc []bool) {
	n := len(acc)
	err := smp.chain.Append(mat.NewDense(n, smp.dim, nil), make([]float64, n), make([]float64, n), acc)
	require.NoError(tst, err)
}

func TestNextInterval(tst *testing.T) {
	// half of the walkers always accept, the rest every fourth
	// iteration
	smp := newTestSampler(tst, 10, 1, gaussian, 1)
	for t := 0; t < 30; t++ {
		acc := make([]bool, 10)
		for i := range acc {
			acc[i] = i < 5 || t%4 == 0
		}
		appendAcceptance(tst, smp, acc)
	}
	// last acceptance 0.5 gives a window of 20, the slow walkers
	// accept 5 times in it
	assert.Equal(tst, 4, smp.nextInterval())

	// no acceptance in the last iteration, the whole chain is used
	smp = newTestSampler(tst, 10, 1, gaussian, 1)
	for t := 0; t < 20; t++ {
		acc := make([]bool, 10)
		for i := range acc {
			acc[i] = t%2 == 0
		}
		appendAcceptance(tst, smp, acc)
	}
	assert.Equal(tst, 2, smp.nextInterval())

	// nobody accepts, fall back to the window
	smp = newTestSampler(tst, 10, 1, gaussian, 1)
	for t := 0; t < 3; t++ {
		appendAcceptance(tst, smp, make([]bool, 10))
	}
	assert.Equal(tst, 3, smp.nextInterval())
}
