package main

import "bitbucket.org/Davydov/gokombine/checkpoint"

// CallSummary is storing gokombine run summary information.
type CallSummary struct {
	// Version stores gokombine version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// NThreads is the number of processes used.
	NThreads int `json:"nThreads"`
	// Time is the computations time in seconds.
	TotalTime float64 `json:"time"`
	// Run is the sampler run summary.
	Run *checkpoint.RunSummary `json:"run"`
}
