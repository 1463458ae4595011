package config

import (
	"os"
	"strconv"
)

// Environment overrides. They are read on every call so that a test or a
// wrapper script can change them between runs in the same process.
const (
	EnvVerbose  = "ORIZON_HEAP_VERBOSE"
	EnvWorkers  = "ORIZON_HEAP_WORKERS"
	EnvMaxHeaps = "ORIZON_HEAP_MAX"
)

// VerboseFromEnv returns ORIZON_HEAP_VERBOSE clamped to 0..MaxVerbose, or
// def when it is unset or not a number.
func VerboseFromEnv(def int) int { return envInt(EnvVerbose, def, 0, MaxVerbose) }

// WorkersFromEnv returns ORIZON_HEAP_WORKERS clamped to 0..MaxWorkers.
func WorkersFromEnv(def int) int { return envInt(EnvWorkers, def, 0, MaxWorkers) }

// MaxHeapsFromEnv returns ORIZON_HEAP_MAX clamped to 1..MaxMaxHeaps.
func MaxHeapsFromEnv(def int) int { return envInt(EnvMaxHeaps, def, 1, MaxMaxHeaps) }

// ApplyEnv overrides fields of c from the environment.
func (c *Config) ApplyEnv() {
	c.Verbose = VerboseFromEnv(c.Verbose)
	c.Workers = WorkersFromEnv(c.Workers)
	c.MaxHeaps = MaxHeapsFromEnv(c.MaxHeaps)
}

func envInt(name string, def, lo, hi int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < lo {
		n = lo
	} else if n > hi {
		n = hi
	}
	return n
}
