package config

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zeu5/recsim-rl/util"
)

// SnapshotFile is written into the base dir of every experiment
const SnapshotFile = "experiment_config.yaml"

// Snapshot records the effective configuration under the base dir. Secrets are omitted.
func Snapshot(cfg *Config) (string, error) {
	if err := util.EnsureDir(cfg.BaseDir); err != nil {
		return "", err
	}
	bs, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(cfg.BaseDir, SnapshotFile)
	if err := util.WriteFileAtomic(path, bs); err != nil {
		return "", err
	}
	return path, nil
}

// ReadSnapshot parses a snapshot written by Snapshot
func ReadSnapshot(path string) (*Config, error) {
	v := NewViper()
	v.SetConfigType("yaml")
	return Load(v, path)
}
