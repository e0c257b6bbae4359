/*

Gokombine is an ensemble sampler with an adaptive kernel density
proposal. The walker ensemble is fitted with a clustered kernel
density estimate, which is used as an independence proposal for all
the walkers and is periodically refitted.

The target density is a mixture of multivariate normal distributions
with optional priors described in a YAML file:

	gokombine -config target.yaml -burnin -iter 1000

Without a configuration file the target is the standard normal
distribution:

	gokombine -dim 3 -nwalkers 50

To see all the options run:

	gokombine -h

*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/gokombine/checkpoint"
	"bitbucket.org/Davydov/gokombine/target"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("gokombine")
var formatter = logging.MustStringFormatter(`%{message}`)

// set collects the names of flags given on the command line.
var set = map[string]bool{}

func markSet(name string) kingpin.Action {
	return func(*kingpin.ParseContext) error {
		set[name] = true
		return nil
	}
}

// command-line options
var (
	// application
	app = kingpin.New("gokombine", "ensemble sampler with an adaptive kernel density proposal").Version(version)

	configF = app.Flag("config", "YAML configuration file (target density and sampler defaults)").ExistingFile()

	// sampler parameters
	nWalkers   = app.Flag("nwalkers", "number of walkers").Default("100").Action(markSet("nwalkers")).Int()
	dim        = app.Flag("dim", "number of dimensions (if not given in the configuration)").Int()
	iterations = app.Flag("iter", "number of iterations after burn-in").Default("1000").Action(markSet("iter")).Int()
	update     = app.Flag("update", "refit the proposal every N iterations").Default("10").Action(markSet("update")).Int()
	burnin     = app.Flag("burnin", "run burn-in before sampling").Action(markSet("burnin")).Bool()
	maxSteps   = app.Flag("maxsteps", "maximum number of burn-in iterations (0 for no limit)").Default("0").Action(markSet("maxsteps")).Int()
	clusters   = app.Flag("clusters", "number of clusters in the proposal density").Default("1").Action(markSet("clusters")).Int()
	startMin   = app.Flag("start-min", "lower bound of the uniform starting ensemble").Default("-1").Action(markSet("start-min")).Float64()
	startMax   = app.Flag("start-max", "upper bound of the uniform starting ensemble").Default("1").Action(markSet("start-max")).Float64()

	// reporting
	report = app.Flag("report", "report every N iterations").Default("10").Int()
	accept = app.Flag("accept", "report acceptance rate every N iterations").Default("200").Int()

	// technical
	nThreads       = app.Flag("nt", "number of threads to use").Action(markSet("nt")).Int()
	seed           = app.Flag("seed", "random generator seed, default time based").Default("-1").Action(markSet("seed")).Int64()
	checkpointSecs = app.Flag("checkpoint", "save run summary to the database every N seconds").Default("60").Float64()

	// input/output
	outLogF  = app.Flag("log", "write log to a file").String()
	outF     = app.Flag("out", "write sampling trajectory to a file").String()
	dbF      = app.Flag("db", "bolt database for run summaries").String()
	metricsF = app.Flag("metrics", "write metrics in the prometheus text format to a file").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()
)

// writeMetrics writes all the metrics from the registry in the text
// exposition format.
func writeMetrics(reg *prometheus.Registry, fn string) error {
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			return err
		}
	}
	return nil
}

// writeSummary writes summary in json format.
func writeSummary(summary *CallSummary, fn string) {
	j, err := json.Marshal(summary)
	if err != nil {
		log.Error(err)
		return
	}
	log.Debug(string(j))
	f, err := os.Create(fn)
	if err != nil {
		log.Error("Error creating json output file:", err)
		return
	}
	f.Write(j)
	f.Close()
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// runs after all the other deferred calls
	exitCode := 0
	defer func() {
		os.Exit(exitCode)
	}()

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, module := range []string{"gokombine", "sampler", "kde", "pool", "target", "checkpoint"} {
		logging.SetLevel(level, module)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	o := &options{
		NWalkers:   *nWalkers,
		Dim:        *dim,
		Iterations: *iterations,
		Update:     *update,
		BurnIn:     *burnin,
		MaxSteps:   *maxSteps,
		Report:     *report,
		Accept:     *accept,
		Processes:  *nThreads,
		Clusters:   *clusters,
		Seed:       *seed,
		StartMin:   *startMin,
		StartMax:   *startMax,
		Checkpoint: *checkpointSecs,
	}

	tc := &target.Config{}
	if *configF != "" {
		c, err := readConfig(*configF)
		if err != nil {
			log.Fatal(err)
		}
		tc = &c.Target
		o.merge(&c.Sampler, set)
	}
	if err := o.validate(); err != nil {
		log.Fatal(err)
	}
	post, err := tc.Build(o.Dim)
	if err != nil {
		log.Fatal(err)
	}

	if o.Seed == -1 {
		o.Seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", o.Seed)

	runtime.GOMAXPROCS(o.Processes)
	effectiveNThreads := runtime.GOMAXPROCS(0)
	log.Infof("Using threads: %d.", effectiveNThreads)

	var store *checkpoint.Store
	if *dbF != "" {
		store, err = checkpoint.Open(*dbF, o.Checkpoint)
		if err != nil {
			log.Fatal(err)
		}
		defer store.Close()
	}

	out := os.Stdout
	if *outF != "" {
		f, err := os.Create(*outF)
		if err != nil {
			log.Fatal("Error creating trajectory file:", err)
		}
		defer f.Close()
		out = f
	}

	// interrupt rolls back to the last complete iteration
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	startTime := time.Now()
	r := newRunner(o, post, store, reg, out)
	runErr := r.run(ctx)
	deltaT := time.Since(startTime)
	log.Noticef("Running time: %v", deltaT)

	summary := &CallSummary{
		Version:     version,
		CommandLine: os.Args,
		Seed:        r.summary.Seed,
		NThreads:    effectiveNThreads,
		TotalTime:   deltaT.Seconds(),
		Run:         r.summary,
	}
	if *jsonF != "" {
		writeSummary(summary, *jsonF)
	}
	if *metricsF != "" {
		if err := writeMetrics(reg, *metricsF); err != nil {
			log.Error("Error writing metrics:", err)
		}
	}

	if runErr != nil {
		log.Error(runErr)
		exitCode = 1
	}
}
