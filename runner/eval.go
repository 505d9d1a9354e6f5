package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zeu5/recsim-rl/types"
	"github.com/zeu5/recsim-rl/util"
)

// EvalOptions configures an EvalRunner
type EvalOptions struct {
	BaseDir string
	// CreateAgent is called with evalMode set
	CreateAgent     types.AgentFactory
	Env             types.Environment
	MaxEvalEpisodes int
	// TestMode evaluates once and returns
	TestMode bool
	// Store is where the train runner writes its checkpoints,
	// defaults to a FileStore under <base>/train/checkpoints
	Store            CheckpointStore
	CheckpointPrefix string
	PollInterval     time.Duration
	// StopAfterIteration stops once this iteration has been evaluated, negative polls until cancelled
	StopAfterIteration int
	// Episode log file name under the eval dir, empty disables the log
	EpisodeLogFile string

	MaxStepsPerEpisode     int
	EpisodeTimeout         time.Duration
	ConsecutiveErrorsAbort int
	Analyzers              []types.Analyzer
	Plots                  bool

	Logger   logrus.FieldLogger
	Metrics  *Metrics
	Progress *Progress
}

func (o *EvalOptions) validate() error {
	switch {
	case o.BaseDir == "":
		return fmt.Errorf("%w: base dir is required", ErrInvalidOptions)
	case o.CreateAgent == nil:
		return fmt.Errorf("%w: agent factory is required", ErrInvalidOptions)
	case o.Env == nil:
		return fmt.Errorf("%w: environment is required", ErrInvalidOptions)
	case o.MaxEvalEpisodes <= 0:
		return fmt.Errorf("%w: max eval episodes must be positive", ErrInvalidOptions)
	case o.PollInterval < 0, o.MaxStepsPerEpisode < 0, o.EpisodeTimeout < 0:
		return fmt.Errorf("%w: negative poll interval, horizon or timeout", ErrInvalidOptions)
	}
	return nil
}

func (o *EvalOptions) setDefaults() {
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
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

// EvalRunner evaluates the checkpoints written by a TrainRunner
type EvalRunner struct {
	opts          EvalOptions
	dir           string
	runID         string
	agent         types.Agent
	store         CheckpointStore
	summaryWriter *FileSummaryWriter
	loop          *episodeLoop
	logger        logrus.FieldLogger
}

func NewEvalRunner(opts EvalOptions) (*EvalRunner, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.setDefaults()

	dir := filepath.Join(opts.BaseDir, fmt.Sprintf("eval_%d", opts.MaxEvalEpisodes))
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("creating eval dir: %w", err)
	}
	sw, err := NewFileSummaryWriter(filepath.Join(dir, "summaries"))
	if err != nil {
		return nil, err
	}
	store := opts.Store
	if store == nil {
		fs, err := NewFileStore(filepath.Join(opts.BaseDir, "train", "checkpoints"), opts.CheckpointPrefix)
		if err != nil {
			return nil, err
		}
		store = fs
	}
	agent, err := opts.CreateAgent(opts.Env, true, sw)
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}

	runID := uuid.NewString()
	logger := opts.Logger.WithFields(logrus.Fields{"phase": types.PhaseEval, "run_id": runID})
	return &EvalRunner{
		opts:          opts,
		dir:           dir,
		runID:         runID,
		agent:         agent,
		store:         store,
		summaryWriter: sw,
		logger:        logger,
		loop: &episodeLoop{
			phase:                  types.PhaseEval,
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

func (e *EvalRunner) Dir() string {
	return e.dir
}

func (e *EvalRunner) Agent() types.Agent {
	return e.agent
}

// RunExperiment polls the store and evaluates every new checkpoint.
// In test mode it evaluates the latest checkpoint, or the untrained agent
// at step 0 when there is none, and returns.
func (e *EvalRunner) RunExperiment(ctx context.Context) error {
	e.logger.WithFields(logrus.Fields{
		"episodes":  e.opts.MaxEvalEpisodes,
		"test_mode": e.opts.TestMode,
	}).Info("starting evaluation")

	e.opts.Progress.Start()
	defer e.opts.Progress.Stop()

	lastEvaluated := -1
	for {
		latest, err := e.store.Latest(ctx)
		switch {
		case errors.Is(err, ErrNoCheckpoint):
			if e.opts.TestMode {
				return e.evaluate(ctx, 0)
			}
		case err != nil:
			return fmt.Errorf("finding latest checkpoint: %w", err)
		case latest > lastEvaluated:
			evaluated, err := e.evaluateCheckpoint(ctx, latest)
			if err != nil {
				return err
			}
			if evaluated {
				lastEvaluated = latest
				if e.opts.TestMode || (e.opts.StopAfterIteration >= 0 && latest >= e.opts.StopAfterIteration) {
					return nil
				}
			}
		}

		e.logger.WithField("last_evaluated", lastEvaluated).Debug("waiting for a new checkpoint")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.opts.PollInterval):
		}
	}
}

// evaluateCheckpoint returns false when the checkpoint vanished before it could be loaded
func (e *EvalRunner) evaluateCheckpoint(ctx context.Context, iteration int) (bool, error) {
	ckpt, err := e.store.Load(ctx, iteration)
	if errors.Is(err, ErrNoCheckpoint) {
		e.logger.WithField("iteration", iteration).Warn("checkpoint pruned before evaluation")
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("loading checkpoint %d: %w", iteration, err)
	}
	if err := e.agent.Unbundle(ckpt.Agent); err != nil {
		return false, fmt.Errorf("restoring agent from checkpoint %d: %w", iteration, err)
	}
	return true, e.evaluate(ctx, ckpt.Iteration)
}

func (e *EvalRunner) evaluate(ctx context.Context, iteration int) error {
	e.opts.Env.ResetSampler()
	stats, err := e.loop.run(ctx, iteration, func(s *phaseStats) bool {
		return s.episodes >= e.opts.MaxEvalEpisodes
	})
	if err != nil {
		return fmt.Errorf("eval iteration %d: %w", iteration, err)
	}
	if err := writeScalars(e.summaryWriter, iteration, stats.scalars("Eval"), e.loop.analyzerScalars("Eval")); err != nil {
		return fmt.Errorf("writing summaries: %w", err)
	}
	e.opts.Metrics.SetIteration(types.PhaseEval, iteration)

	e.logger.WithFields(logrus.Fields{
		"iteration":      iteration,
		"episodes":       stats.episodes,
		"average_reward": stats.averageReward(),
		"reward_std":     stats.rewardStd(),
		"average_length": stats.averageLength(),
	}).Info("evaluation complete")
	e.opts.Progress.Update("Eval iter %d | episodes %d | avg reward %.3f (std %.3f) | avg length %.1f",
		iteration, stats.episodes, stats.averageReward(), stats.rewardStd(), stats.averageLength())

	if e.opts.Plots {
		if err := PlotSummaries(e.summaryWriter.Dir()); err != nil {
			e.logger.WithError(err).Warn("failed to plot summaries")
		}
	}
	return nil
}
