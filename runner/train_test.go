package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeu5/recsim-rl/agents"
	"github.com/zeu5/recsim-rl/interest"
	"github.com/zeu5/recsim-rl/types"
)

func trainOptions(t *testing.T, base string, factory types.AgentFactory, env types.Environment) TrainOptions {
	t.Helper()
	return TrainOptions{
		BaseDir:          base,
		CreateAgent:      factory,
		Env:              env,
		EpisodeLogFile:   "episodes.jsonl",
		MaxTrainingSteps: 10,
		NumIterations:    3,
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	lines := make([]string, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestTrainOptionsValidation(t *testing.T) {
	factory := &countingFactory{}
	env := &countingEnv{length: 2}
	valid := trainOptions(t, t.TempDir(), factory.create, env)

	cases := map[string]func(o *TrainOptions){
		"no base dir":    func(o *TrainOptions) { o.BaseDir = "" },
		"no factory":     func(o *TrainOptions) { o.CreateAgent = nil },
		"no env":         func(o *TrainOptions) { o.Env = nil },
		"no steps":       func(o *TrainOptions) { o.MaxTrainingSteps = 0 },
		"no iterations":  func(o *TrainOptions) { o.NumIterations = 0 },
		"negative keep":  func(o *TrainOptions) { o.KeepCheckpoints = -1 },
		"negative delay": func(o *TrainOptions) { o.EpisodeTimeout = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := valid
			mutate(&opts)
			_, err := NewTrainRunner(opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}

	_, err := NewTrainRunner(valid)
	assert.NoError(t, err)
}

func TestTrainRunner(t *testing.T) {
	base := t.TempDir()
	factory := &countingFactory{}
	env := &countingEnv{length: 4}
	reg := prometheus.NewRegistry()
	metrics := MustNewMetrics(reg)
	logger, hook := test.NewNullLogger()

	opts := trainOptions(t, base, factory.create, env)
	opts.KeepCheckpoints = 2
	opts.Metrics = metrics
	opts.Logger = logger
	opts.Plots = true
	runner, err := NewTrainRunner(opts)
	require.NoError(t, err)
	require.NoError(t, runner.RunExperiment(context.Background()))

	// 10 steps per iteration need 3 episodes of 4 steps
	assert.Equal(t, 9, factory.last.Episodes)
	assert.Equal(t, 36, factory.last.Steps)

	events, err := ReadSummaries(filepath.Join(base, "train", "summaries"))
	require.NoError(t, err)
	for _, tag := range []string{
		"Train/AverageEpisodeLength",
		"Train/AverageEpisodeRewards",
		"Train/EpisodeRewardStd",
		"Train/NumEpisodes",
		"Train/StepsPerSecond",
	} {
		series := Series(events, tag)
		require.Len(t, series, 3, tag)
		assert.Equal(t, 2, series[2].Step)
	}
	rewards := Series(events, "Train/AverageEpisodeRewards")
	assert.Equal(t, 4.0, rewards[0].Value)
	assert.Equal(t, 3.0, Series(events, "Train/NumEpisodes")[0].Value)
	assert.Equal(t, 0.0, Series(events, "Train/EpisodeRewardStd")[0].Value)
	assert.FileExists(t, filepath.Join(base, "train", "summaries", "plots", "Train_AverageEpisodeRewards.png"))

	store, err := NewFileStore(filepath.Join(base, "train", "checkpoints"), "ckpt")
	require.NoError(t, err)
	iterations, err := store.Iterations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, iterations)
	ckpt, err := store.Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 36, ckpt.TotalSteps)
	assert.Equal(t, runner.RunID(), ckpt.RunID)

	lines := readLines(t, filepath.Join(base, "train", "episodes.jsonl"))
	require.Len(t, lines, 9)
	var record EpisodeRecord
	require.NoError(t, json.Unmarshal([]byte(lines[8]), &record))
	assert.Equal(t, 2, record.Iteration)
	assert.Equal(t, 8, record.Episode)
	assert.Equal(t, 4, record.Length)
	assert.True(t, record.Terminal)
	assert.Len(t, record.Steps, 4)

	assert.FileExists(t, filepath.Join(base, "train", "runner_config.json"))
	assert.Equal(t, 9.0, testutil.ToFloat64(metrics.episodes.WithLabelValues("train")))
	assert.Equal(t, 36.0, testutil.ToFloat64(metrics.steps.WithLabelValues("train")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.iteration.WithLabelValues("train")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.checkpoints))

	infos := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.InfoLevel && entry.Message == "iteration complete" {
			infos++
		}
	}
	assert.Equal(t, 3, infos)
}

func TestTrainRunnerResumes(t *testing.T) {
	base := t.TempDir()
	env := &countingEnv{length: 5}

	first := &countingFactory{}
	opts := trainOptions(t, base, first.create, env)
	opts.NumIterations = 2
	runner, err := NewTrainRunner(opts)
	require.NoError(t, err)
	require.NoError(t, runner.RunExperiment(context.Background()))
	assert.Equal(t, 4, first.last.Episodes)

	second := &countingFactory{}
	opts = trainOptions(t, base, second.create, env)
	opts.NumIterations = 3
	runner, err = NewTrainRunner(opts)
	require.NoError(t, err)
	require.NoError(t, runner.RunExperiment(context.Background()))

	// restored 4 episodes from the checkpoint, then ran iteration 2 only
	assert.Equal(t, 6, second.last.Episodes)
	store, err := NewFileStore(filepath.Join(base, "train", "checkpoints"), "ckpt")
	require.NoError(t, err)
	ckpt, err := store.Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 30, ckpt.TotalSteps)

	events, err := ReadSummaries(filepath.Join(base, "train", "summaries"))
	require.NoError(t, err)
	assert.Len(t, Series(events, "Train/NumEpisodes"), 3)

	// nothing left to do
	third := &countingFactory{}
	opts = trainOptions(t, base, third.create, env)
	opts.NumIterations = 3
	runner, err = NewTrainRunner(opts)
	require.NoError(t, err)
	require.NoError(t, runner.RunExperiment(context.Background()))
	assert.Equal(t, 6, third.last.Episodes)
}

func TestTrainRunnerAbortsOnConsecutiveErrors(t *testing.T) {
	factory := &countingFactory{}
	env := &countingEnv{stepErr: errors.New("backend down")}
	opts := trainOptions(t, t.TempDir(), factory.create, env)
	opts.ConsecutiveErrorsAbort = 3
	runner, err := NewTrainRunner(opts)
	require.NoError(t, err)

	err = runner.RunExperiment(context.Background())
	assert.ErrorIs(t, err, ErrTooManyEpisodeErrors)
	assert.Contains(t, err.Error(), "backend down")
	assert.Equal(t, 3, env.resets)
}

func TestTrainRunnerCancelled(t *testing.T) {
	factory := &countingFactory{}
	opts := trainOptions(t, t.TempDir(), factory.create, &countingEnv{length: 2})
	runner, err := NewTrainRunner(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, runner.RunExperiment(ctx), context.Canceled)
}

func TestTrainRunnerWithRecommenderAgent(t *testing.T) {
	config := interest.DefaultConfig()
	config.Seed = 3
	env, err := interest.CreateEnvironment(config)
	require.NoError(t, err)

	agentOpts := agents.DefaultOptions()
	agentOpts.Seed = 3
	base := t.TempDir()
	opts := trainOptions(t, base, agents.Factory(agentOpts), env)
	opts.MaxTrainingSteps = 50
	opts.NumIterations = 2
	opts.Analyzers = []types.Analyzer{interest.NewMetricsAnalyzer()}
	runner, err := NewTrainRunner(opts)
	require.NoError(t, err)
	require.NoError(t, runner.RunExperiment(context.Background()))

	events, err := ReadSummaries(filepath.Join(base, "train", "summaries"))
	require.NoError(t, err)
	assert.Len(t, Series(events, "Train/Impressions"), 2)
	assert.Len(t, Series(events, "Train/TopicCoverage"), 2)

	store, err := NewFileStore(filepath.Join(base, "train", "checkpoints"), "ckpt")
	require.NoError(t, err)
	ckpt, err := store.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ckpt.TotalSteps, 100)

	restored, err := agents.Factory(agentOpts)(env, true, types.NoopSummaryWriter{})
	require.NoError(t, err)
	assert.NoError(t, restored.Unbundle(ckpt.Agent))
}
