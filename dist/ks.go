// Package dist implements two-sample distribution tests.
package dist

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// KolmogorovSmirnov2 performs the two-sample Kolmogorov-Smirnov test
// and returns the statistic d together with the two-sided p-value.
// Inputs are not modified.
//
// The p-value uses the asymptotic distribution of the statistic with
// Stephens' small sample correction:
//
//	p = Q_KS((en + 0.12 + 0.11/en) * d), en = sqrt(n*m/(n+m))
func KolmogorovSmirnov2(x, y []float64) (d, p float64) {
	if len(x) == 0 || len(y) == 0 {
		return math.NaN(), math.NaN()
	}
	xs := sorted(x)
	ys := sorted(y)
	d = stat.KolmogorovSmirnov(xs, nil, ys, nil)

	n := float64(len(x))
	m := float64(len(y))
	en := math.Sqrt(n * m / (n + m))
	p = KolmogorovSurvival((en + 0.12 + 0.11/en) * d)
	return d, p
}

// KolmogorovSurvival returns the complementary cumulative
// distribution function of the Kolmogorov distribution,
//
//	Q_KS(l) = 2 * sum_{k>=1} (-1)^(k-1) exp(-2 k^2 l^2).
//
// For small l the series converges slowly, so the equivalent Jacobi
// theta form is used instead.
func KolmogorovSurvival(l float64) float64 {
	switch {
	case math.IsNaN(l):
		return math.NaN()
	case l <= 0:
		return 1
	case l < 1.18:
		// 1 - sqrt(2 pi)/l * sum exp(-(2k-1)^2 pi^2 / (8 l^2))
		w := math.Sqrt(2*math.Pi) / l
		v := math.Pi * math.Pi / (8 * l * l)
		var s float64
		for k := 1; k <= 20; k++ {
			j := float64(2*k - 1)
			t := math.Exp(-j * j * v)
			s += t
			if t < 1e-16*s {
				break
			}
		}
		return clamp01(1 - w*s)
	default:
		var s float64
		sign := 1.0
		for k := 1; k <= 100; k++ {
			fk := float64(k)
			t := math.Exp(-2 * fk * fk * l * l)
			s += sign * t
			if t < 1e-16 {
				break
			}
			sign = -sign
		}
		return clamp01(2 * s)
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func sorted(x []float64) []float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	return s
}
