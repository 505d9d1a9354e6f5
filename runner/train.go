package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zeu5/recsim-rl/types"
	"github.com/zeu5/recsim-rl/util"
)

// TrainOptions configures a TrainRunner
type TrainOptions struct {
	BaseDir     string
	CreateAgent types.AgentFactory
	Env         types.Environment
	// Episode log file name under <base>/train, empty disables the log
	EpisodeLogFile   string
	MaxTrainingSteps int
	NumIterations    int

	CheckpointFrequency    int
	KeepCheckpoints        int
	MaxStepsPerEpisode     int
	EpisodeTimeout         time.Duration
	ConsecutiveErrorsAbort int
	// Store defaults to a FileStore under <base>/train/checkpoints
	// naming its files with CheckpointPrefix
	Store            CheckpointStore
	CheckpointPrefix string
	Analyzers        []types.Analyzer
	// Plots renders PNG plots of the summaries once training ends
	Plots bool

	Logger   logrus.FieldLogger
	Metrics  *Metrics
	Progress *Progress
}

func (o *TrainOptions) validate() error {
	switch {
	case o.BaseDir == "":
		return fmt.Errorf("%w: base dir is required", ErrInvalidOptions)
	case o.CreateAgent == nil:
		return fmt.Errorf("%w: agent factory is required", ErrInvalidOptions)
	case o.Env == nil:
		return fmt.Errorf("%w: environment is required", ErrInvalidOptions)
	case o.MaxTrainingSteps <= 0:
		return fmt.Errorf("%w: max training steps must be positive", ErrInvalidOptions)
	case o.NumIterations <= 0:
		return fmt.Errorf("%w: number of iterations must be positive", ErrInvalidOptions)
	case o.CheckpointFrequency < 0, o.KeepCheckpoints < 0, o.MaxStepsPerEpisode < 0, o.EpisodeTimeout < 0:
		return fmt.Errorf("%w: negative checkpoint, horizon or timeout setting", ErrInvalidOptions)
	}
	return nil
}

func (o *TrainOptions) setDefaults() {
	if o.CheckpointFrequency == 0 {
		o.CheckpointFrequency = DefaultCheckpointFrequency
	}
	if o.KeepCheckpoints == 0 {
		o.KeepCheckpoints = DefaultKeepCheckpoints
	}
	if o.MaxStepsPerEpisode == 0 {
		o.MaxStepsPerEpisode = DefaultMaxStepsPerEpisode
	}
	if o.ConsecutiveErrorsAbort == 0 {
		o.ConsecutiveErrorsAbort = DefaultConsecutiveErrorsAbort
	}
	if o.Logger == nil {
		o.Logger = discardLogger()
	}
}

// TrainRunner trains an agent over iterations, writing summaries and checkpoints
type TrainRunner struct {
	opts          TrainOptions
	dir           string
	runID         string
	agent         types.Agent
	store         CheckpointStore
	summaryWriter *FileSummaryWriter
	loop          *episodeLoop
	logger        logrus.FieldLogger
}

func NewTrainRunner(opts TrainOptions) (*TrainRunner, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.setDefaults()

	dir := filepath.Join(opts.BaseDir, "train")
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("creating train dir: %w", err)
	}
	sw, err := NewFileSummaryWriter(filepath.Join(dir, "summaries"))
	if err != nil {
		return nil, err
	}
	store := opts.Store
	if store == nil {
		fs, err := NewFileStore(filepath.Join(dir, "checkpoints"), opts.CheckpointPrefix)
		if err != nil {
			return nil, err
		}
		store = fs
	}
	agent, err := opts.CreateAgent(opts.Env, false, sw)
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}

	runID := uuid.NewString()
	logger := opts.Logger.WithFields(logrus.Fields{"phase": types.PhaseTrain, "run_id": runID})
	return &TrainRunner{
		opts:          opts,
		dir:           dir,
		runID:         runID,
		agent:         agent,
		store:         store,
		summaryWriter: sw,
		logger:        logger,
		loop: &episodeLoop{
			phase:                  types.PhaseTrain,
			runID:                  runID,
			env:                    opts.Env,
			agent:                  agent,
			maxStepsPerEpisode:     opts.MaxStepsPerEpisode,
			episodeTimeout:         opts.EpisodeTimeout,
			consecutiveErrorsAbort: opts.ConsecutiveErrorsAbort,
			episodeLogPath:         episodeLogPath(dir, opts.EpisodeLogFile),
			analyzers:              opts.Analyzers,
			logger:                 logger,
			metrics:                opts.Metrics,
		},
	}, nil
}

func (t *TrainRunner) RunID() string {
	return t.runID
}

func (t *TrainRunner) Agent() types.Agent {
	return t.agent
}

// Dir is the train output directory
func (t *TrainRunner) Dir() string {
	return t.dir
}

// RunExperiment trains from the latest checkpoint, if any, up to NumIterations
func (t *TrainRunner) RunExperiment(ctx context.Context) error {
	start, totalSteps, err := t.restore(ctx)
	if err != nil {
		return err
	}
	if err := t.recordConfig(start); err != nil {
		t.logger.WithError(err).Warn("failed to record runner config")
	}
	if start >= t.opts.NumIterations {
		t.logger.WithField("iterations", t.opts.NumIterations).Info("training already complete")
		return nil
	}

	t.logger.WithFields(logrus.Fields{
		"start_iteration": start,
		"iterations":      t.opts.NumIterations,
		"steps":           t.opts.MaxTrainingSteps,
	}).Info("starting training")

	t.opts.Progress.Start()
	defer t.opts.Progress.Stop()

	for iteration := start; iteration < t.opts.NumIterations; iteration++ {
		stats, err := t.loop.run(ctx, iteration, func(s *phaseStats) bool {
			return s.steps >= t.opts.MaxTrainingSteps
		})
		if err != nil {
			return fmt.Errorf("train iteration %d: %w", iteration, err)
		}
		totalSteps += stats.steps

		scalars := stats.scalars("Train")
		scalars["Train/StepsPerSecond"] = stats.stepsPerSecond()
		if err := writeScalars(t.summaryWriter, iteration, scalars, t.loop.analyzerScalars("Train")); err != nil {
			return fmt.Errorf("writing summaries: %w", err)
		}
		t.opts.Metrics.SetIteration(types.PhaseTrain, iteration)

		last := iteration == t.opts.NumIterations-1
		if iteration%t.opts.CheckpointFrequency == 0 || last {
			if err := t.checkpoint(ctx, iteration, totalSteps); err != nil {
				return err
			}
		}

		t.logger.WithFields(logrus.Fields{
			"iteration":      iteration,
			"episodes":       stats.episodes,
			"steps":          stats.steps,
			"average_reward": stats.averageReward(),
			"average_length": stats.averageLength(),
			"errors":         stats.errors,
			"timeouts":       stats.timeouts,
		}).Info("iteration complete")
		t.opts.Progress.Update("Train iter %d/%d | steps %d | episodes %d | avg reward %.3f | avg length %.1f | %.0f steps/s",
			iteration+1, t.opts.NumIterations, totalSteps, stats.episodes, stats.averageReward(), stats.averageLength(), stats.stepsPerSecond())
	}

	if t.opts.Plots {
		if err := PlotSummaries(t.summaryWriter.Dir()); err != nil {
			t.logger.WithError(err).Warn("failed to plot summaries")
		}
	}
	return nil
}

// restore loads the latest checkpoint into the agent and returns the next iteration and the steps taken so far
func (t *TrainRunner) restore(ctx context.Context) (int, int, error) {
	latest, err := t.store.Latest(ctx)
	if errors.Is(err, ErrNoCheckpoint) {
		return 0, 0, nil
	} else if err != nil {
		return 0, 0, fmt.Errorf("finding latest checkpoint: %w", err)
	}
	ckpt, err := t.store.Load(ctx, latest)
	if err != nil {
		return 0, 0, fmt.Errorf("loading checkpoint %d: %w", latest, err)
	}
	if err := t.agent.Unbundle(ckpt.Agent); err != nil {
		return 0, 0, fmt.Errorf("restoring agent from checkpoint %d: %w", latest, err)
	}
	t.logger.WithFields(logrus.Fields{
		"iteration":   ckpt.Iteration,
		"total_steps": ckpt.TotalSteps,
		"from_run":    ckpt.RunID,
	}).Info("resuming from checkpoint")
	return ckpt.Iteration + 1, ckpt.TotalSteps, nil
}

func (t *TrainRunner) checkpoint(ctx context.Context, iteration, totalSteps int) error {
	bundle, err := t.agent.Bundle()
	if err != nil {
		return fmt.Errorf("bundling agent: %w", err)
	}
	ckpt := &Checkpoint{
		Iteration:  iteration,
		TotalSteps: totalSteps,
		RunID:      t.runID,
		CreatedAt:  time.Now().UTC(),
		Agent:      json.RawMessage(bundle),
	}
	if err := t.store.Save(ctx, ckpt); err != nil {
		return err
	}
	t.opts.Metrics.IncCheckpoints()
	if err := t.store.Prune(ctx, t.opts.KeepCheckpoints); err != nil {
		t.logger.WithError(err).Warn("failed to prune checkpoints")
	}
	return nil
}

func (t *TrainRunner) recordConfig(startIteration int) error {
	out := map[string]interface{}{
		"run_id":                   t.runID,
		"start_iteration":          startIteration,
		"num_iterations":           t.opts.NumIterations,
		"max_training_steps":       t.opts.MaxTrainingSteps,
		"max_steps_per_episode":    t.opts.MaxStepsPerEpisode,
		"checkpoint_frequency":     t.opts.CheckpointFrequency,
		"keep_checkpoints":         t.opts.KeepCheckpoints,
		"consecutive_errors_abort": t.opts.ConsecutiveErrorsAbort,
		"episode_log_file":         t.opts.EpisodeLogFile,
	}
	if t.opts.EpisodeTimeout != 0 {
		out["episode_timeout"] = t.opts.EpisodeTimeout.String()
	}
	bs, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(filepath.Join(t.dir, "runner_config.json"), bs)
}
