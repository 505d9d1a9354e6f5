package experiments

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zeu5/recsim-rl/agents"
	"github.com/zeu5/recsim-rl/config"
	"github.com/zeu5/recsim-rl/dashboard"
	"github.com/zeu5/recsim-rl/interest"
	"github.com/zeu5/recsim-rl/runner"
	"github.com/zeu5/recsim-rl/types"
)

// interruptContext is cancelled on SIGINT or SIGTERM
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) newEnv() (types.Environment, error) {
	env, err := interest.CreateEnvironment(a.cfg.Env)
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (a *app) analyzers() []types.Analyzer {
	return []types.Analyzer{interest.NewMetricsAnalyzer()}
}

// newStore returns the configured checkpoint store. A nil store lets the runners use
// the file store under the base dir.
func (a *app) newStore(ctx context.Context) (runner.CheckpointStore, func(), error) {
	switch a.cfg.Checkpoint.Store {
	case config.StoreRedis:
		rc := a.cfg.Checkpoint.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", rc.Addr, err)
		}
		a.logger.WithFields(logrus.Fields{"addr": rc.Addr, "prefix": rc.KeyPrefix}).Info("storing checkpoints in redis")
		return runner.NewRedisStore(client, rc.KeyPrefix), func() { client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

// serveMetrics starts the dashboard, /metrics included, when an address is configured
func (a *app) serveMetrics(ctx context.Context, store runner.CheckpointStore) error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	server, err := dashboard.NewServer(dashboard.Options{
		BaseDir:          a.cfg.BaseDir,
		Addr:             a.cfg.Metrics.Addr,
		Store:            store,
		CheckpointPrefix: a.cfg.Checkpoint.Prefix,
		Logger:           a.logger,
	})
	if err != nil {
		return err
	}
	server.Start(ctx)
	a.logger.WithField("addr", a.cfg.Metrics.Addr).Info("serving metrics")
	return nil
}

func (a *app) newProgress() *runner.Progress {
	if !a.progress {
		return nil
	}
	return runner.NewProgress(os.Stdout)
}

func (a *app) trainRunner(store runner.CheckpointStore, progress *runner.Progress) (*runner.TrainRunner, error) {
	env, err := a.newEnv()
	if err != nil {
		return nil, err
	}
	rc := a.cfg.Runner
	return runner.NewTrainRunner(runner.TrainOptions{
		BaseDir:                a.cfg.BaseDir,
		CreateAgent:            agents.Factory(a.cfg.Agent),
		Env:                    env,
		EpisodeLogFile:         rc.TrainEpisodeLogFile,
		MaxTrainingSteps:       rc.MaxTrainingSteps,
		NumIterations:          rc.NumIterations,
		CheckpointFrequency:    rc.CheckpointFrequency,
		KeepCheckpoints:        rc.KeepCheckpoints,
		MaxStepsPerEpisode:     rc.MaxStepsPerEpisode,
		EpisodeTimeout:         rc.EpisodeTimeout,
		ConsecutiveErrorsAbort: rc.ConsecutiveErrorsAbort,
		Store:                  store,
		CheckpointPrefix:       a.cfg.Checkpoint.Prefix,
		Analyzers:              a.analyzers(),
		Plots:                  rc.Plots,
		Logger:                 a.logger,
		Metrics:                runner.DefaultMetrics(),
		Progress:               progress,
	})
}

func (a *app) evalRunner(store runner.CheckpointStore, testMode bool, stopAfter int, progress *runner.Progress) (*runner.EvalRunner, error) {
	env, err := a.newEnv()
	if err != nil {
		return nil, err
	}
	rc := a.cfg.Runner
	return runner.NewEvalRunner(runner.EvalOptions{
		BaseDir:                a.cfg.BaseDir,
		CreateAgent:            agents.Factory(a.cfg.Agent),
		Env:                    env,
		MaxEvalEpisodes:        rc.MaxEvalEpisodes,
		TestMode:               testMode,
		Store:                  store,
		CheckpointPrefix:       a.cfg.Checkpoint.Prefix,
		PollInterval:           rc.PollInterval,
		StopAfterIteration:     stopAfter,
		EpisodeLogFile:         rc.EvalEpisodeLogFile,
		MaxStepsPerEpisode:     rc.MaxStepsPerEpisode,
		EpisodeTimeout:         rc.EpisodeTimeout,
		ConsecutiveErrorsAbort: rc.ConsecutiveErrorsAbort,
		Analyzers:              a.analyzers(),
		Plots:                  rc.Plots,
		Logger:                 a.logger,
		Metrics:                runner.DefaultMetrics(),
		Progress:               progress,
	})
}

func (a *app) snapshot() {
	path, err := config.Snapshot(a.cfg)
	if err != nil {
		a.logger.WithError(err).Warn("failed to record experiment config")
		return
	}
	a.logger.WithField("path", path).Debug("recorded experiment config")
}
