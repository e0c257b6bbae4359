// Package kde fits clustered Gaussian kernel density estimates to
// walker ensembles. A fitted KDE can be sampled from and evaluated,
// which makes it usable as an independence proposal.
package kde

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"bitbucket.org/Davydov/gokombine/pool"
)

var log = logging.MustGetLogger("kde")

// jitter is the relative diagonal regularization for degenerate
// covariance matrices.
const jitter = 1e-10

// Settings are settings for KDE fitting.
type Settings struct {
	// Clusters is the number of k-means clusters, each cluster
	// gets its own kernel covariance. 1 disables clustering.
	Clusters int
	// Restarts is the number of independent k-means runs.
	Restarts int
	// MaxIter is the maximum number of Lloyd iterations per run.
	MaxIter int
	// BandwidthFactor scales cluster covariances, 0 means
	// Scott's rule n^(-1/(d+4)).
	BandwidthFactor float64
}

// NewSettings creates default KDE settings.
func NewSettings() *Settings {
	return &Settings{
		Clusters: 1,
		Restarts: 4,
		MaxIter:  100,
	}
}

// kernel is a Gaussian kernel shape shared by all the points of a
// cluster.
type kernel struct {
	// l is the lower Cholesky factor of the kernel covariance.
	l [][]float64
	// linv is the inverse of l.
	linv [][]float64
	// lognorm is -(d log(2pi) + log|S|)/2.
	lognorm float64
}

// KDE is a fitted density. It is immutable: LogProb and Evaluate are
// safe for concurrent use, Draw uses the random source given to Fit
// and is not.
type KDE struct {
	dim     int
	centers [][]float64
	// kernels[assign[i]] is the kernel of the i-th center.
	assign  []int
	kernels []*kernel
	lognpts float64
	rnd     *rand.Rand
}

// Fit fits a KDE to the rows of p. The mapper is used to run k-means
// restarts concurrently.
func Fit(ctx context.Context, p mat.Matrix, m pool.Mapper, s *Settings, rnd *rand.Rand) (*KDE, error) {
	n, dim := p.Dims()
	if n < 1 {
		return nil, errors.New("kde: no points to fit")
	}
	if s == nil {
		s = NewSettings()
	}
	if m == nil {
		m = pool.Serial{}
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	pts := make([][]float64, n)
	for i := range pts {
		pts[i] = mat.Row(nil, i, p)
		for _, v := range pts[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Errorf("kde: point %d is not finite", i)
			}
		}
	}

	assign := make([]int, n)
	k := 1
	if s.Clusters > 1 && n >= 2*(dim+1) {
		var err error
		assign, k, err = cluster(ctx, pts, m, s, rnd)
		if err != nil {
			return nil, err
		}
	}

	kernels := make([]*kernel, k)
	for c := range kernels {
		members := make([][]float64, 0, n)
		for i, a := range assign {
			if a == c {
				members = append(members, pts[i])
			}
		}
		kn, err := newKernel(members, dim, s.BandwidthFactor)
		if err != nil {
			return nil, errors.Wrapf(err, "kde: cluster %d", c)
		}
		kernels[c] = kn
	}
	log.Debugf("fitted KDE with %d points, %d cluster(s)", n, k)

	return &KDE{
		dim:     dim,
		centers: pts,
		assign:  assign,
		kernels: kernels,
		lognpts: math.Log(float64(n)),
		rnd:     rnd,
	}, nil
}

// newKernel computes the bandwidth-scaled kernel for a set of points.
func newKernel(pts [][]float64, dim int, factor float64) (*kernel, error) {
	n := len(pts)
	if factor <= 0 {
		factor = math.Pow(float64(n), -1/float64(dim+4))
	}

	cov := mat.NewSymDense(dim, nil)
	if n >= 2 {
		x := mat.NewDense(n, dim, nil)
		for i, row := range pts {
			x.SetRow(i, row)
		}
		stat.CovarianceMatrix(cov, x, nil)
		cov.ScaleSym(factor*factor, cov)
	} else {
		for i := 0; i < dim; i++ {
			cov.SetSym(i, i, 1)
		}
	}

	var chol mat.Cholesky
	scale := 0.0
	for i := 0; i < dim; i++ {
		scale = math.Max(scale, cov.At(i, i))
	}
	if scale == 0 {
		scale = 1
	}
	eps := jitter * scale
	for try := 0; !chol.Factorize(cov); try++ {
		if try > 20 {
			return nil, errors.New("covariance is not positive definite")
		}
		for i := 0; i < dim; i++ {
			cov.SetSym(i, i, cov.At(i, i)+eps)
		}
		eps *= 10
	}

	var l, linv mat.TriDense
	chol.LTo(&l)
	if err := linv.InverseTri(&l); err != nil {
		var c mat.Condition
		if !errors.As(err, &c) || math.IsInf(float64(c), 1) {
			return nil, err
		}
		log.Warningf("Ill-conditioned kernel covariance: %v", err)
	}
	return &kernel{
		l:       lower(&l, dim),
		linv:    lower(&linv, dim),
		lognorm: -0.5 * (float64(dim)*math.Log(2*math.Pi) + chol.LogDet()),
	}, nil
}

func lower(t *mat.TriDense, dim int) [][]float64 {
	res := make([][]float64, dim)
	for i := range res {
		res[i] = make([]float64, i+1)
		for j := 0; j <= i; j++ {
			res[i][j] = t.At(i, j)
		}
	}
	return res
}

// Dim returns the number of dimensions.
func (k *KDE) Dim() int {
	return k.dim
}

// Clusters returns the number of clusters.
func (k *KDE) Clusters() int {
	return len(k.kernels)
}

// Draw draws n points from the density.
func (k *KDE) Draw(n int) *mat.Dense {
	res := mat.NewDense(n, k.dim, nil)
	z := make([]float64, k.dim)
	for r := 0; r < n; r++ {
		i := k.rnd.Intn(len(k.centers))
		c := k.centers[i]
		kn := k.kernels[k.assign[i]]
		for j := range z {
			z[j] = k.rnd.NormFloat64()
		}
		row := res.RawRowView(r)
		for a := 0; a < k.dim; a++ {
			v := c[a]
			for b := 0; b <= a; b++ {
				v += kn.l[a][b] * z[b]
			}
			row[a] = v
		}
	}
	return res
}

// LogProb returns the log density at x.
func (k *KDE) LogProb(x []float64) float64 {
	if len(x) != k.dim {
		panic("kde: dimension mismatch")
	}
	diff := make([]float64, k.dim)
	terms := make([]float64, len(k.centers))
	for i, c := range k.centers {
		kn := k.kernels[k.assign[i]]
		for a := range diff {
			diff[a] = x[a] - c[a]
		}
		// squared Mahalanobis distance |L^-1 (x - c)|^2
		var m2 float64
		for a := 0; a < k.dim; a++ {
			var y float64
			for b := 0; b <= a; b++ {
				y += kn.linv[a][b] * diff[b]
			}
			m2 += y * y
		}
		terms[i] = kn.lognorm - 0.5*m2
	}
	return floats.LogSumExp(terms) - k.lognpts
}

// Evaluate returns log densities for all the rows of p.
func (k *KDE) Evaluate(p mat.Matrix) []float64 {
	n, _ := p.Dims()
	res := make([]float64, n)
	for i := range res {
		res[i] = k.LogProb(mat.Row(nil, i, p))
	}
	return res
}
