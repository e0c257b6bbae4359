package sampler

import (
	"github.com/prometheus/client_golang/prometheus"

	"bitbucket.org/Davydov/gokombine/kde"
	"bitbucket.org/Davydov/gokombine/pool"
)

// BurnInSettings control convergence testing during burn-in.
type BurnInSettings struct {
	// CriticalPValue is the Kolmogorov-Smirnov p-value below which
	// a dimension is considered not converged.
	CriticalPValue float64
	// Acceptances is the average number of accepted jumps the
	// acceptance window should cover.
	Acceptances float64
	// Quantile of the sorted per-walker acceptance rates used to
	// choose the next test interval.
	Quantile float64
}

// NewBurnInSettings creates default burn-in settings.
func NewBurnInSettings() *BurnInSettings {
	return &BurnInSettings{
		CriticalPValue: 0.05,
		Acceptances:    10,
		Quantile:       0.1,
	}
}

// Settings are sampler settings.
type Settings struct {
	// Processes is the number of concurrent evaluation workers.
	// 1 evaluates sequentially, <= 0 uses runtime.GOMAXPROCS(0).
	Processes int
	// NewMapper overrides the worker pool created from Processes.
	// A custom mapper is always recreated on rollback.
	NewMapper pool.Factory
	// Fitter fits proposal densities, nil means a clustered KDE
	// with the KDE settings.
	Fitter Fitter
	// KDE are settings for the default fitter.
	KDE *kde.Settings
	// Seed initializes the random number generator, negative
	// values mean time based seed.
	Seed int64
	// AccPeriod is the number of iterations between acceptance
	// rate log messages, 0 disables them.
	AccPeriod int
	// BurnIn are burn-in settings.
	BurnIn *BurnInSettings
	// Registerer receives sampler metrics, nil disables
	// registration.
	Registerer prometheus.Registerer
}

// NewSettings creates default sampler settings.
func NewSettings() *Settings {
	return &Settings{
		Processes: 0,
		KDE:       kde.NewSettings(),
		Seed:      -1,
		AccPeriod: 10,
		BurnIn:    NewBurnInSettings(),
	}
}
