package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"bitbucket.org/Davydov/gokombine/checkpoint"
	"bitbucket.org/Davydov/gokombine/sampler"
	"bitbucket.org/Davydov/gokombine/target"
)

// trajectory prints the sampling trajectory.
type trajectory struct {
	w     io.Writer
	names []string
}

func (t *trajectory) PrintHeader() {
	if t.w != nil {
		fmt.Fprintf(t.w, "iteration\tacceptance\tlnpost\t%s\n", strings.Join(t.names, "\t"))
	}
}

// PrintLine prints the iteration number, the acceptance fraction of
// the last iteration, the mean log posterior and mean walker position.
func (t *trajectory) PrintLine(smp *sampler.Sampler, st *sampler.State) {
	if t.w == nil {
		return
	}
	var acc float64
	if af := smp.AcceptanceFraction(); len(af) > 0 {
		acc = af[len(af)-1]
	}
	fields := make([]string, 0, len(t.names)+3)
	fields = append(fields,
		fmt.Sprint(smp.Iterations()),
		fmt.Sprintf("%f", acc),
		fmt.Sprintf("%f", stat.Mean(st.LnPost, nil)))
	for _, m := range ensembleMean(st.P) {
		fields = append(fields, fmt.Sprintf("%f", m))
	}
	fmt.Fprintln(t.w, strings.Join(fields, "\t"))
}

func ensembleMean(p *mat.Dense) []float64 {
	_, c := p.Dims()
	res := make([]float64, c)
	for j := range res {
		res[j] = stat.Mean(mat.Col(nil, j, p), nil)
	}
	return res
}

// uniformStart draws starting positions uniformly from [min, max) in
// every dimension.
func uniformStart(rnd *rand.Rand, nwalkers, dim int, min, max float64) *mat.Dense {
	p := mat.NewDense(nwalkers, dim, nil)
	for i := 0; i < nwalkers; i++ {
		for j := 0; j < dim; j++ {
			p.Set(i, j, min+(max-min)*rnd.Float64())
		}
	}
	return p
}

// startSeed derives the seed of the starting ensemble from the
// sampler seed.
func startSeed(seed int64) int64 {
	return seed + 1
}

// runner performs a sampler run and keeps its summary up to date.
type runner struct {
	o       *options
	post    *target.Posterior
	store   *checkpoint.Store
	reg     prometheus.Registerer
	traj    *trajectory
	summary *checkpoint.RunSummary
	smp     *sampler.Sampler
}

func newRunner(o *options, post *target.Posterior, store *checkpoint.Store, reg prometheus.Registerer, out io.Writer) *runner {
	return &runner{
		o:     o,
		post:  post,
		store: store,
		reg:   reg,
		traj:  &trajectory{w: out, names: post.Names},
		summary: &checkpoint.RunSummary{
			ID:       uuid.NewString(),
			Started:  time.Now(),
			NWalkers: o.NWalkers,
			Dim:      post.Dim(),
			Names:    post.Names,
		},
	}
}

// update refreshes the summary from the sampler state.
func (r *runner) update(st *sampler.State) {
	r.summary.Iterations = r.smp.Iterations()
	if af := r.smp.AcceptanceFraction(); len(af) > 0 {
		r.summary.AcceptanceFraction = floats.Sum(af) / float64(len(af))
	}
	if st != nil && st.P != nil {
		r.summary.Mean = ensembleMean(st.P)
	}
}

// checkpoint saves the summary if the last save is old.
func (r *runner) checkpoint(st *sampler.State) {
	if r.store == nil || !r.store.Old() {
		return
	}
	r.update(st)
	if err := r.store.Save(r.summary); err == nil {
		log.Debugf("Run summary saved at iteration %d", r.summary.Iterations)
	}
}

// finish records the final state and the error, if any.
func (r *runner) finish(st *sampler.State, err error) {
	if r.smp != nil {
		r.update(st)
		if fb := r.smp.FailedBatch(); fb != nil {
			rows, _ := fb.Dims()
			r.summary.FailedBatch = make([][]float64, rows)
			for i := range r.summary.FailedBatch {
				r.summary.FailedBatch[i] = mat.Row(nil, i, fb)
			}
		}
	}
	r.summary.Final = true
	if err != nil {
		r.summary.Error = err.Error()
	}
	if r.store != nil {
		r.store.Save(r.summary)
	}
}

func (r *runner) run(ctx context.Context) (err error) {
	o := r.o
	s := sampler.NewSettings()
	s.Processes = o.Processes
	s.KDE.Clusters = o.Clusters
	s.Seed = o.Seed
	s.AccPeriod = o.Accept
	s.Registerer = r.reg

	var st *sampler.State
	defer func() {
		r.finish(st, err)
	}()

	r.smp, err = sampler.New(o.NWalkers, r.post.Dim(), r.post.LogPosterior, s)
	if err != nil {
		return err
	}
	defer r.smp.Close()
	r.summary.Seed = r.smp.Seed()

	// separate stream from the one used by the sampler
	rnd := rand.New(rand.NewSource(startSeed(r.smp.Seed())))
	st = &sampler.State{P: uniformStart(rnd, o.NWalkers, r.post.Dim(), o.StartMin, o.StartMax)}

	r.traj.PrintHeader()
	if o.BurnIn {
		log.Notice("Burn-in")
		var rep *sampler.BurnInReport
		var bst *sampler.State
		bst, rep, err = r.smp.BurnIn(ctx, st, o.Update, o.MaxSteps)
		r.summary.BurnIn = rep
		if bst != nil {
			st = bst
		}
		if err != nil {
			return errors.Wrap(err, "burn-in")
		}
		r.traj.PrintLine(r.smp, st)
		r.checkpoint(st)
	}

	log.Noticef("Sampling %d iterations", o.Iterations)
	for done := 0; done < o.Iterations; {
		n := o.Iterations - done
		if n > o.Report {
			n = o.Report
		}
		var next *sampler.State
		next, err = r.smp.Sample(ctx, st, n, o.Update)
		if next != nil {
			st = next
		}
		if err != nil {
			return err
		}
		done += n
		r.traj.PrintLine(r.smp, st)
		r.checkpoint(st)
	}
	return nil
}
