package sampler

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(tst *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSettings()
	s.Seed = 3
	s.Processes = 1
	s.Registerer = reg
	f := &failingPosterior{}
	smp, err := New(8, 1, f.lnpost, s)
	require.NoError(tst, err)

	ctx := context.Background()
	st, err := smp.Sample(ctx, &State{P: startPositions(1, 8, 1, 1)}, 5, 2)
	require.NoError(tst, err)

	m := smp.metrics
	assert.Equal(tst, 5.0, testutil.ToFloat64(m.iterations))
	assert.Equal(tst, 40.0, testutil.ToFloat64(m.proposals))
	// initial fit and refits at 2 and 4
	assert.Equal(tst, 3.0, testutil.ToFloat64(m.fits))
	accepted := 0
	for _, a := range smp.Acceptance() {
		for _, v := range a {
			if v {
				accepted++
			}
		}
	}
	assert.Equal(tst, float64(accepted), testutil.ToFloat64(m.accepted))
	last := smp.AcceptanceFraction()[4]
	assert.Equal(tst, last, testutil.ToFloat64(m.acceptance))

	f.armed.Store(true)
	_, err = smp.Sample(ctx, st, 1, 2)
	require.Error(tst, err)
	assert.Equal(tst, 1.0, testutil.ToFloat64(m.failures))
	assert.Equal(tst, 1.0, testutil.ToFloat64(m.rollbacks))
	assert.Equal(tst, 0.0, testutil.ToFloat64(m.cancellations))

	n, err := testutil.GatherAndCount(reg, "kombine_sampler_batch_evaluation_seconds")
	require.NoError(tst, err)
	assert.Equal(tst, 1, n)
}

func TestMetricsShared(tst *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSettings()
	s.Processes = 1
	s.Registerer = reg

	smp1, err := New(4, 1, gaussian, s)
	require.NoError(tst, err)
	smp2, err := New(4, 1, gaussian, s)
	require.NoError(tst, err)

	ctx := context.Background()
	_, err = smp1.Sample(ctx, &State{P: startPositions(1, 4, 1, 1)}, 2, 10)
	require.NoError(tst, err)
	_, err = smp2.Sample(ctx, &State{P: startPositions(2, 4, 1, 1)}, 3, 10)
	require.NoError(tst, err)

	assert.Equal(tst, 5.0, testutil.ToFloat64(smp1.metrics.iterations))
	assert.Equal(tst, 5.0, testutil.ToFloat64(smp2.metrics.iterations))
}

func TestMetricsUnregistered(tst *testing.T) {
	smp := newTestSampler(tst, 4, 1, gaussian, 1)
	_, err := smp.Sample(context.Background(), &State{P: startPositions(1, 4, 1, 1)}, 2, 10)
	require.NoError(tst, err)
	assert.Equal(tst, 2.0, testutil.ToFloat64(smp.metrics.iterations))
}
