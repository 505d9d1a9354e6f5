package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/zeu5/recsim-rl/types"
	"github.com/zeu5/recsim-rl/util"
)

var (
	ErrInvalidOptions       = errors.New("invalid runner options")
	ErrTooManyEpisodeErrors = errors.New("too many consecutive episode failures")
)

const (
	DefaultMaxStepsPerEpisode     = 1000
	DefaultConsecutiveErrorsAbort = 10
	DefaultCheckpointFrequency    = 1
	DefaultKeepCheckpoints        = 5
	DefaultPollInterval           = 10 * time.Second
)

// phaseStats aggregates the episodes of one iteration
type phaseStats struct {
	episodes      int
	validEpisodes int
	steps         int
	errors        int
	timeouts      int
	rewards       []float64
	lengths       []float64
	duration      time.Duration
}

func newPhaseStats() *phaseStats {
	return &phaseStats{
		rewards: make([]float64, 0),
		lengths: make([]float64, 0),
	}
}

func (s *phaseStats) add(eCtx *types.EpisodeContext) {
	s.episodes++
	s.steps += eCtx.Steps
	switch {
	case eCtx.TimedOut:
		s.timeouts++
	case eCtx.Err != nil:
		s.errors++
	default:
		s.validEpisodes++
		s.rewards = append(s.rewards, eCtx.Trace.TotalReward())
		s.lengths = append(s.lengths, float64(eCtx.Steps))
	}
}

func (s *phaseStats) averageReward() float64 {
	if len(s.rewards) == 0 {
		return 0
	}
	return stat.Mean(s.rewards, nil)
}

func (s *phaseStats) averageLength() float64 {
	if len(s.lengths) == 0 {
		return 0
	}
	return stat.Mean(s.lengths, nil)
}

func (s *phaseStats) rewardStd() float64 {
	if len(s.rewards) < 2 {
		return 0
	}
	return stat.StdDev(s.rewards, nil)
}

func (s *phaseStats) stepsPerSecond() float64 {
	if s.duration <= 0 {
		return 0
	}
	return float64(s.steps) / s.duration.Seconds()
}

// scalars returns the summaries of the iteration under the given tag prefix
func (s *phaseStats) scalars(prefix string) map[string]float64 {
	return map[string]float64{
		prefix + "/AverageEpisodeLength":  s.averageLength(),
		prefix + "/AverageEpisodeRewards": s.averageReward(),
		prefix + "/EpisodeRewardStd":      s.rewardStd(),
		prefix + "/NumEpisodes":           float64(s.validEpisodes),
	}
}

// episodeLoop runs episodes for one phase and feeds the outcomes to the log,
// the analyzers and the metrics
type episodeLoop struct {
	phase                  types.Phase
	runID                  string
	env                    types.Environment
	agent                  types.Agent
	maxStepsPerEpisode     int
	episodeTimeout         time.Duration
	consecutiveErrorsAbort int
	episodeLogPath         string
	analyzers              []types.Analyzer
	logger                 logrus.FieldLogger
	metrics                *Metrics

	// episodes run so far over all iterations
	episodeCount int
}

// run plays episodes until done reports true for the current stats
func (l *episodeLoop) run(ctx context.Context, iteration int, done func(*phaseStats) bool) (*phaseStats, error) {
	stats := newPhaseStats()
	consecutiveFailures := 0
	start := time.Now()
	defer func() {
		stats.duration = time.Since(start)
	}()

	for !done(stats) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		eCtx := types.NewEpisodeContext(ctx, l.phase, iteration, l.episodeCount, l.maxStepsPerEpisode, l.episodeTimeout)
		runOneEpisode(eCtx, l.env, l.agent)
		eCtx.Cancel()
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		l.episodeCount++

		stats.add(eCtx)
		l.metrics.ObserveEpisode(eCtx)
		// analyzers summarize the same episodes as the averaged scalars
		if eCtx.Valid() {
			for _, a := range l.analyzers {
				a.Analyze(eCtx)
			}
		}
		if l.episodeLogPath != "" {
			if err := util.AppendJSONLine(l.episodeLogPath, newEpisodeRecord(l.runID, eCtx)); err != nil {
				l.logger.WithError(err).Warn("failed to write episode log")
			}
		}

		if eCtx.Valid() {
			consecutiveFailures = 0
			continue
		}
		consecutiveFailures++
		entry := l.logger.WithFields(logrus.Fields{
			"phase":     l.phase,
			"iteration": iteration,
			"episode":   eCtx.Episode,
			"steps":     eCtx.Steps,
		})
		if eCtx.TimedOut {
			entry.Warn("episode timed out")
		} else {
			entry.WithError(eCtx.Err).Warn("episode failed")
		}
		if l.consecutiveErrorsAbort > 0 && consecutiveFailures >= l.consecutiveErrorsAbort {
			cause := eCtx.Err
			if cause == nil {
				cause = context.DeadlineExceeded
			}
			return stats, fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyEpisodeErrors, consecutiveFailures, cause)
		}
	}
	return stats, nil
}

// analyzerScalars collects the analyzer summaries under prefix and resets the analyzers
func (l *episodeLoop) analyzerScalars(prefix string) map[string]float64 {
	out := make(map[string]float64)
	for _, a := range l.analyzers {
		for k, v := range a.Scalars() {
			out[prefix+"/"+k] = v
		}
		a.Reset()
	}
	return out
}

func writeScalars(sw types.SummaryWriter, step int, scalars ...map[string]float64) error {
	for _, m := range scalars {
		for tag, v := range m {
			if err := sw.Scalar(tag, step, v); err != nil {
				return err
			}
		}
	}
	return sw.Flush()
}

func episodeLogPath(dir, name string) string {
	if name == "" {
		return ""
	}
	return filepath.Join(dir, name)
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
