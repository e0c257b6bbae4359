package sampler

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "kombine"
	subsystem = "sampler"
)

type metrics struct {
	iterations    prometheus.Counter
	proposals     prometheus.Counter
	accepted      prometheus.Counter
	rollbacks     prometheus.Counter
	failures      prometheus.Counter
	cancellations prometheus.Counter
	fits          prometheus.Counter
	evalDuration  prometheus.Histogram
	acceptance    prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// newMetrics creates sampler metrics and registers them with reg if it
// is not nil. Samplers sharing a registerer share collectors.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		iterations:    newCounter("iterations_total", "Committed iterations."),
		proposals:     newCounter("proposals_total", "Evaluated candidate positions."),
		accepted:      newCounter("accepted_total", "Accepted candidate positions."),
		rollbacks:     newCounter("rollbacks_total", "Chain rollbacks."),
		failures:      newCounter("evaluation_failures_total", "Failed batch evaluations."),
		cancellations: newCounter("cancellations_total", "Interrupted sampling calls."),
		fits:          newCounter("proposal_fits_total", "Proposal density fits."),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_evaluation_seconds",
			Help:      "Time to evaluate a candidate batch.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),
		acceptance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acceptance_fraction",
			Help:      "Fraction of walkers which accepted in the last iteration.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	for _, c := range []*prometheus.Counter{&m.iterations, &m.proposals, &m.accepted,
		&m.rollbacks, &m.failures, &m.cancellations, &m.fits} {
		if *c, err = register(reg, *c); err != nil {
			return nil, err
		}
	}
	if m.evalDuration, err = register(reg, m.evalDuration); err != nil {
		return nil, err
	}
	if m.acceptance, err = register(reg, m.acceptance); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, or returns the already registered collector
// with the same description.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, errors.Wrap(err, "registering metrics")
}
