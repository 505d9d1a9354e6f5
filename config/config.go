package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/zeu5/recsim-rl/agents"
	"github.com/zeu5/recsim-rl/interest"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	EnvPrefix = "RECSIM"

	StoreFile  = "file"
	StoreRedis = "redis"
)

// Config holds the whole experiment configuration
type Config struct {
	BaseDir    string           `mapstructure:"base_dir" yaml:"base_dir"`
	Env        interest.Config  `mapstructure:"env" yaml:"env"`
	Agent      agents.Options   `mapstructure:"agent" yaml:"agent"`
	Runner     RunnerConfig     `mapstructure:"runner" yaml:"runner"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// RunnerConfig holds the train and eval runner settings
type RunnerConfig struct {
	MaxTrainingSteps       int           `mapstructure:"max_training_steps" yaml:"max_training_steps"`
	NumIterations          int           `mapstructure:"num_iterations" yaml:"num_iterations"`
	MaxEvalEpisodes        int           `mapstructure:"max_eval_episodes" yaml:"max_eval_episodes"`
	MaxStepsPerEpisode     int           `mapstructure:"max_steps_per_episode" yaml:"max_steps_per_episode"`
	EpisodeTimeout         time.Duration `mapstructure:"episode_timeout" yaml:"episode_timeout"`
	CheckpointFrequency    int           `mapstructure:"checkpoint_frequency" yaml:"checkpoint_frequency"`
	KeepCheckpoints        int           `mapstructure:"keep_checkpoints" yaml:"keep_checkpoints"`
	ConsecutiveErrorsAbort int           `mapstructure:"consecutive_errors_abort" yaml:"consecutive_errors_abort"`
	PollInterval           time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StopAfterIteration     int           `mapstructure:"stop_after_iteration" yaml:"stop_after_iteration"`
	TrainEpisodeLogFile    string        `mapstructure:"train_episode_log_file" yaml:"train_episode_log_file"`
	EvalEpisodeLogFile     string        `mapstructure:"eval_episode_log_file" yaml:"eval_episode_log_file"`
	Plots                  bool          `mapstructure:"plots" yaml:"plots"`
}

// CheckpointConfig selects where checkpoints are stored
type CheckpointConfig struct {
	Store  string      `mapstructure:"store" yaml:"store"`
	Prefix string      `mapstructure:"prefix" yaml:"prefix"`
	Redis  RedisConfig `mapstructure:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"-"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig enables the dashboard and /metrics while running when Addr is set
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// NewViper returns a viper instance carrying the defaults and the RECSIM_ env overrides.
// Flags can be bound to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("base_dir", "./results")

	setStructDefaults(v, "env", interest.DefaultConfig())
	setStructDefaults(v, "agent", agents.DefaultOptions())

	v.SetDefault("runner.max_training_steps", 250000)
	v.SetDefault("runner.num_iterations", 200)
	v.SetDefault("runner.max_eval_episodes", 125000)
	v.SetDefault("runner.max_steps_per_episode", 1000)
	v.SetDefault("runner.episode_timeout", "0s")
	v.SetDefault("runner.checkpoint_frequency", 1)
	v.SetDefault("runner.keep_checkpoints", 5)
	v.SetDefault("runner.consecutive_errors_abort", 10)
	v.SetDefault("runner.poll_interval", "10s")
	v.SetDefault("runner.stop_after_iteration", -1)
	v.SetDefault("runner.train_episode_log_file", "")
	v.SetDefault("runner.eval_episode_log_file", "")
	v.SetDefault("runner.plots", true)

	v.SetDefault("checkpoint.store", StoreFile)
	v.SetDefault("checkpoint.prefix", "ckpt")
	v.SetDefault("checkpoint.redis.addr", "localhost:6379")
	v.SetDefault("checkpoint.redis.password", "")
	v.SetDefault("checkpoint.redis.db", 0)
	v.SetDefault("checkpoint.redis.key_prefix", "recsim")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.addr", "")
	return v
}

// setStructDefaults registers every field of value as a default under prefix
func setStructDefaults(v *viper.Viper, prefix string, value interface{}) {
	fields := make(map[string]interface{})
	if err := mapstructure.Decode(value, &fields); err != nil {
		panic(fmt.Sprintf("decoding %s defaults: %v", prefix, err))
	}
	for k, val := range fields {
		v.SetDefault(prefix+"."+k, val)
	}
}

// Load reads the optional YAML file at configPath on top of the defaults in v and validates the result
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("%w: base_dir is required", ErrInvalidConfig)
	}
	if err := c.Env.Validate(); err != nil {
		return fmt.Errorf("%w: env: %v", ErrInvalidConfig, err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("%w: agent: %v", ErrInvalidConfig, err)
	}
	r := c.Runner
	switch {
	case r.MaxTrainingSteps <= 0:
		return fmt.Errorf("%w: runner.max_training_steps must be positive", ErrInvalidConfig)
	case r.NumIterations <= 0:
		return fmt.Errorf("%w: runner.num_iterations must be positive", ErrInvalidConfig)
	case r.MaxEvalEpisodes <= 0:
		return fmt.Errorf("%w: runner.max_eval_episodes must be positive", ErrInvalidConfig)
	case r.MaxStepsPerEpisode < 0, r.CheckpointFrequency < 0, r.KeepCheckpoints < 0:
		return fmt.Errorf("%w: runner settings must not be negative", ErrInvalidConfig)
	case r.EpisodeTimeout < 0, r.PollInterval < 0:
		return fmt.Errorf("%w: runner durations must not be negative", ErrInvalidConfig)
	}
	switch c.Checkpoint.Store {
	case StoreFile, StoreRedis:
	default:
		return fmt.Errorf("%w: unknown checkpoint store %q", ErrInvalidConfig, c.Checkpoint.Store)
	}
	return nil
}
