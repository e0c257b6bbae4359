package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
target:
  names: [a, b]
  components:
    - mean: [1, 2]
      sd: [1, 1]
sampler:
  nwalkers: 30
  iterations: 50
  burnin: true
  seed: 5
  startMin: -3
`

func defaultOptions() *options {
	return &options{
		NWalkers:   100,
		Iterations: 1000,
		Update:     10,
		Report:     10,
		Accept:     200,
		Clusters:   1,
		Seed:       -1,
		StartMin:   -1,
		StartMax:   1,
	}
}

func TestReadConfig(tst *testing.T) {
	fn := filepath.Join(tst.TempDir(), "config.yaml")
	require.NoError(tst, os.WriteFile(fn, []byte(testConfig), 0644))

	c, err := readConfig(fn)
	require.NoError(tst, err)
	assert.Equal(tst, []string{"a", "b"}, c.Target.Names)
	assert.Equal(tst, 30, c.Sampler.NWalkers)
	require.NotNil(tst, c.Sampler.Seed)
	assert.Equal(tst, int64(5), *c.Sampler.Seed)

	post, err := c.Target.Build(0)
	require.NoError(tst, err)
	assert.Equal(tst, 2, post.Dim())

	_, err = readConfig(filepath.Join(tst.TempDir(), "missing.yaml"))
	assert.Error(tst, err)
}

func TestMerge(tst *testing.T) {
	fn := filepath.Join(tst.TempDir(), "config.yaml")
	require.NoError(tst, os.WriteFile(fn, []byte(testConfig), 0644))
	c, err := readConfig(fn)
	require.NoError(tst, err)

	o := defaultOptions()
	o.merge(&c.Sampler, map[string]bool{})
	assert.Equal(tst, 30, o.NWalkers)
	assert.Equal(tst, 50, o.Iterations)
	assert.True(tst, o.BurnIn)
	assert.Equal(tst, int64(5), o.Seed)
	assert.Equal(tst, -3.0, o.StartMin)
	// not in the file
	assert.Equal(tst, 10, o.Update)
	assert.Equal(tst, 1.0, o.StartMax)

	// command line wins
	o = defaultOptions()
	o.NWalkers = 7
	o.merge(&c.Sampler, map[string]bool{"nwalkers": true})
	assert.Equal(tst, 7, o.NWalkers)
	assert.Equal(tst, 50, o.Iterations)
}

func TestValidate(tst *testing.T) {
	assert.NoError(tst, defaultOptions().validate())

	bad := []func(o *options){
		func(o *options) { o.NWalkers = 0 },
		func(o *options) { o.Iterations = -1 },
		func(o *options) { o.Update = 0 },
		func(o *options) { o.Report = 0 },
		func(o *options) { o.Clusters = 0 },
		func(o *options) { o.StartMax = o.StartMin },
	}
	for i, f := range bad {
		o := defaultOptions()
		f(o)
		if err := o.validate(); err == nil {
			tst.Errorf("Expected an error for case %d", i)
		}
	}
}
