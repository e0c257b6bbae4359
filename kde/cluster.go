package kde

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gokombine/pool"
)

// kmeansRun is the result of a single k-means run.
type kmeansRun struct {
	assign  []int
	inertia float64
}

// cluster splits points into at most s.Clusters clusters. It returns
// the cluster of every point and the number of clusters. Every
// cluster has at least dim+1 members.
func cluster(ctx context.Context, pts [][]float64, m pool.Mapper, s *Settings, rnd *rand.Rand) ([]int, int, error) {
	restarts := s.Restarts
	if restarts < 1 {
		restarts = 1
	}
	dim := len(pts[0])
	k := s.Clusters
	if maxK := len(pts) / (dim + 1); k > maxK {
		k = maxK
	}

	// Seeds are drawn here, runs must not share the random source.
	seeds := make([]int64, restarts)
	for i := range seeds {
		seeds[i] = rnd.Int63()
	}
	runs := make([]kmeansRun, restarts)
	err := m.Map(ctx, restarts, func(ctx context.Context, i int) error {
		runs[i] = kmeans(pts, k, s.MaxIter, rand.New(rand.NewSource(seeds[i])))
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "kde: clustering")
	}

	best := 0
	for i, r := range runs {
		if r.inertia < runs[best].inertia {
			best = i
		}
	}
	assign, n := mergeSmall(pts, runs[best].assign, k, dim+1)
	log.Debugf("k-means: %d restarts, inertia=%v, %d cluster(s)", restarts, runs[best].inertia, n)
	return assign, n, nil
}

// kmeans performs Lloyd's algorithm with k-means++ seeding.
func kmeans(pts [][]float64, k, maxIter int, rnd *rand.Rand) kmeansRun {
	n := len(pts)
	centers := make([][]float64, 0, k)
	centers = append(centers, copyPoint(pts[rnd.Intn(n)]))

	d2 := make([]float64, n)
	for len(centers) < k {
		var sum float64
		for i, p := range pts {
			_, d2[i] = nearest(p, centers)
			sum += d2[i]
		}
		if sum == 0 {
			break
		}
		u := rnd.Float64() * sum
		next := n - 1
		for i, d := range d2 {
			u -= d
			if u <= 0 {
				next = i
				break
			}
		}
		centers = append(centers, copyPoint(pts[next]))
	}

	if maxIter < 1 {
		maxIter = 1
	}
	assign := make([]int, n)
	var inertia float64
	for iter := 0; iter < maxIter; iter++ {
		changed := iter == 0
		inertia = 0
		for i, p := range pts {
			c, d := nearest(p, centers)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
			inertia += d
		}
		if !changed {
			break
		}
		// recompute centers
		counts := make([]int, len(centers))
		for c := range centers {
			for j := range centers[c] {
				centers[c][j] = 0
			}
		}
		for i, p := range pts {
			counts[assign[i]]++
			for j, v := range p {
				centers[assign[i]][j] += v
			}
		}
		for c := range centers {
			if counts[c] == 0 {
				// empty cluster, reseed with a random point
				copy(centers[c], pts[rnd.Intn(n)])
				continue
			}
			for j := range centers[c] {
				centers[c][j] /= float64(counts[c])
			}
		}
	}
	return kmeansRun{assign: assign, inertia: inertia}
}

// mergeSmall reassigns members of clusters smaller than minSize to the
// nearest large cluster (by centroid) and renumbers clusters
// consecutively.
func mergeSmall(pts [][]float64, assign []int, k, minSize int) ([]int, int) {
	counts := make([]int, k)
	for _, a := range assign {
		counts[a]++
	}

	var centers [][]float64
	var ids []int
	for c := 0; c < k; c++ {
		if counts[c] < minSize {
			continue
		}
		center := make([]float64, len(pts[0]))
		for i, a := range assign {
			if a == c {
				for j, v := range pts[i] {
					center[j] += v
				}
			}
		}
		for j := range center {
			center[j] /= float64(counts[c])
		}
		centers = append(centers, center)
		ids = append(ids, c)
	}

	res := make([]int, len(assign))
	if len(centers) == 0 {
		return res, 1
	}
	renum := make(map[int]int, len(ids))
	for i, c := range ids {
		renum[c] = i
	}
	for i, a := range assign {
		if r, ok := renum[a]; ok {
			res[i] = r
		} else {
			res[i], _ = nearest(pts[i], centers)
		}
	}
	return res, len(centers)
}

// nearest returns the index of the closest center and the squared
// distance to it.
func nearest(p []float64, centers [][]float64) (int, float64) {
	best := 0
	bestD := math.Inf(1)
	for c, center := range centers {
		var d float64
		for j, v := range p {
			x := v - center[j]
			d += x * x
		}
		if d < bestD {
			best, bestD = c, d
		}
	}
	return best, bestD
}

func copyPoint(p []float64) []float64 {
	return append([]float64(nil), p...)
}
