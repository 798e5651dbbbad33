package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for a dagent process.
type Config struct {
	// DataDir is the root of runtime-config/deployment-service: the
	// BoltDB file and the deployment workspace tree both live under it.
	DataDir string `yaml:"dataDir"`

	// SelfComponentName is the component name the agent's own process
	// runs under, used by the bootstrap checker to detect a self-update.
	SelfComponentName string `yaml:"selfComponentName"`

	// NucleusWorkDir holds the restart-panic marker the loader leaves
	// behind when a host-agent restart fails to come back up clean.
	NucleusWorkDir string `yaml:"nucleusWorkDir"`

	// PollInterval bounds how often the orchestrator checks the queue
	// between dispatches.
	PollInterval time.Duration `yaml:"pollInterval"`

	MetricsAddr string `yaml:"metricsAddr"`
}

func defaultConfig() Config {
	return Config{
		DataDir:           "/var/lib/dagent",
		SelfComponentName: "dagent",
		NucleusWorkDir:    "/var/lib/dagent/nucleus",
		PollInterval:      time.Second,
		MetricsAddr:       "127.0.0.1:9090",
	}
}

// loadConfig reads path as YAML over the defaults. A missing file is not an
// error: the defaults alone are enough to run.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
