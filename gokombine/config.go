package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"bitbucket.org/Davydov/gokombine/target"
)

// FileConfig is the YAML configuration file.
type FileConfig struct {
	Target  target.Config `yaml:"target"`
	Sampler SamplerConfig `yaml:"sampler"`
}

// SamplerConfig are sampler defaults from the configuration file. Zero
// values are ignored.
type SamplerConfig struct {
	NWalkers   int      `yaml:"nwalkers"`
	Iterations int      `yaml:"iterations"`
	Update     int      `yaml:"update"`
	BurnIn     bool     `yaml:"burnin"`
	MaxSteps   int      `yaml:"maxsteps"`
	Clusters   int      `yaml:"clusters"`
	Processes  int      `yaml:"processes"`
	Seed       *int64   `yaml:"seed"`
	StartMin   *float64 `yaml:"startMin"`
	StartMax   *float64 `yaml:"startMax"`
}

// readConfig reads the configuration file.
func readConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c FileConfig
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return &c, nil
}

// options are the effective run options.
type options struct {
	NWalkers   int
	Dim        int
	Iterations int
	Update     int
	BurnIn     bool
	MaxSteps   int
	Report     int
	Accept     int
	Processes  int
	Clusters   int
	Seed       int64
	StartMin   float64
	StartMax   float64
	Checkpoint float64
}

// merge takes values from the configuration file for the options
// which were not set on the command line.
func (o *options) merge(c *SamplerConfig, set map[string]bool) {
	if c == nil {
		return
	}
	if !set["nwalkers"] && c.NWalkers != 0 {
		o.NWalkers = c.NWalkers
	}
	if !set["iter"] && c.Iterations != 0 {
		o.Iterations = c.Iterations
	}
	if !set["update"] && c.Update != 0 {
		o.Update = c.Update
	}
	if !set["burnin"] && c.BurnIn {
		o.BurnIn = true
	}
	if !set["maxsteps"] && c.MaxSteps != 0 {
		o.MaxSteps = c.MaxSteps
	}
	if !set["clusters"] && c.Clusters != 0 {
		o.Clusters = c.Clusters
	}
	if !set["nt"] && c.Processes != 0 {
		o.Processes = c.Processes
	}
	if !set["seed"] && c.Seed != nil {
		o.Seed = *c.Seed
	}
	if !set["start-min"] && c.StartMin != nil {
		o.StartMin = *c.StartMin
	}
	if !set["start-max"] && c.StartMax != nil {
		o.StartMax = *c.StartMax
	}
}

func (o *options) validate() error {
	switch {
	case o.NWalkers < 1:
		return errors.Errorf("number of walkers must be positive, got %d", o.NWalkers)
	case o.Iterations < 0:
		return errors.Errorf("negative number of iterations %d", o.Iterations)
	case o.Update < 1:
		return errors.Errorf("update interval must be positive, got %d", o.Update)
	case o.Report < 1:
		return errors.Errorf("report period must be positive, got %d", o.Report)
	case o.Clusters < 1:
		return errors.Errorf("number of clusters must be positive, got %d", o.Clusters)
	case o.StartMax <= o.StartMin:
		return errors.Errorf("empty starting interval [%v, %v]", o.StartMin, o.StartMax)
	}
	return nil
}
