package sampler

import (
	"math"
	"math/rand"
	"testing"
)

// zeroSource always produces zero.
type zeroSource struct{}

func (zeroSource) Int63() int64 { return 0 }
func (zeroSource) Seed(int64)   {}

func TestMetropolisDeterministic(tst *testing.T) {
	rnd1 := rand.New(rand.NewSource(3))
	rnd2 := rand.New(rand.NewSource(3))

	lnpost := []float64{0, 0, 0, 0}
	lnprop := []float64{0, 0, 0, 0}
	lnpostC := []float64{1, math.Inf(-1), 0, math.NaN()}
	// proposal correction makes the third ratio positive
	lnpropC := []float64{0, 0, -1, 0}

	acc := metropolis(rnd1, lnpost, lnprop, lnpostC, lnpropC)
	expected := []bool{true, false, true, false}
	for i := range acc {
		if acc[i] != expected[i] {
			tst.Errorf("Walker %d: expected %v, got %v", i, expected[i], acc[i])
		}
	}

	// only the rejected walkers drew a uniform number
	rnd2.Float64()
	rnd2.Float64()
	if a, b := rnd1.Float64(), rnd2.Float64(); a != b {
		tst.Errorf("Expected two uniform draws, random streams differ: %v vs %v", a, b)
	}
}

func TestMetropolisZeroDraw(tst *testing.T) {
	rnd := rand.New(zeroSource{})
	acc := metropolis(rnd, []float64{0, 0}, []float64{0, 0}, []float64{0, math.Inf(-1)}, []float64{0, 0})
	if acc[0] || acc[1] {
		tst.Errorf("Expected zero uniform draws to reject, got %v", acc)
	}
}

func TestMetropolisRate(tst *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	const n = 100000
	lnpost := make([]float64, n)
	lnprop := make([]float64, n)
	lnpostC := make([]float64, n)
	lnpropC := make([]float64, n)
	for i := range lnpostC {
		lnpostC[i] = math.Log(0.3)
	}
	acc := metropolis(rnd, lnpost, lnprop, lnpostC, lnpropC)
	k := 0
	for _, a := range acc {
		if a {
			k++
		}
	}
	rate := float64(k) / n
	if math.Abs(rate-0.3) > 0.01 {
		tst.Errorf("Expected acceptance rate 0.3, got %v", rate)
	}
}
