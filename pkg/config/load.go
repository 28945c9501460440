package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML file over the defaults. An empty path returns the
// defaults. Keys the file sets but Config does not know are rejected.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}

	cfg, err := Decode(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses TOML text over the defaults.
func Decode(data string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return cfg, nil
}

// Environment variables that override topology values. Cluster schedulers
// inject these per worker.
const (
	EnvWorkerHost   = "WORKER_0_HOST"
	EnvWorkerPort   = "WORKER_0_PORT"
	EnvNumWorker    = "NUM_WORKER"
	EnvWorkerRank   = "WORKER_RANK"
	EnvGPUPerWorker = "GPU_PER_WORKER"
	EnvDMLCNodeHost = "DMLC_NODE_HOST"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides topology fields from the process environment.
func (c *Config) ApplyEnv() error {
	return c.ApplyEnvFrom(os.LookupEnv)
}

// ApplyEnvFrom overrides topology fields from lookup.
func (c *Config) ApplyEnvFrom(lookup LookupFunc) error {
	if v, ok := lookup(EnvWorkerHost); ok && v != "" {
		c.Topology.Host = v
	}
	if v, ok := lookup(EnvDMLCNodeHost); ok && v != "" {
		c.Topology.NodeHost = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvWorkerPort, &c.Topology.Port},
		{EnvNumWorker, &c.Topology.Workers},
		{EnvWorkerRank, &c.Topology.Rank},
		{EnvGPUPerWorker, &c.Topology.GPUsPerWorker},
	}
	for _, i := range ints {
		v, ok := lookup(i.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return invalid(i.key, v, "not an integer")
		}
		*i.dst = n
	}
	return nil
}
