package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeu5/recsim-rl/types"
)

func evalOptions(base string, factory types.AgentFactory, env types.Environment) EvalOptions {
	return EvalOptions{
		BaseDir:            base,
		CreateAgent:        factory,
		Env:                env,
		MaxEvalEpisodes:    4,
		PollInterval:       5 * time.Millisecond,
		StopAfterIteration: -1,
		EpisodeLogFile:     "episodes.jsonl",
	}
}

func TestEvalOptionsValidation(t *testing.T) {
	factory := &countingFactory{}
	opts := evalOptions(t.TempDir(), factory.create, &countingEnv{length: 2})
	opts.MaxEvalEpisodes = 0
	_, err := NewEvalRunner(opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	opts.MaxEvalEpisodes = 1
	opts.CreateAgent = nil
	_, err = NewEvalRunner(opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestEvalRunnerTestModeWithoutCheckpoint(t *testing.T) {
	base := t.TempDir()
	factory := &countingFactory{}
	env := &countingEnv{length: 3}
	opts := evalOptions(base, factory.create, env)
	opts.TestMode = true
	runner, err := NewEvalRunner(opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "eval_4"), runner.Dir())
	assert.True(t, factory.last.EvalMode)

	require.NoError(t, runner.RunExperiment(context.Background()))

	events, err := ReadSummaries(filepath.Join(base, "eval_4", "summaries"))
	require.NoError(t, err)
	episodes := Series(events, "Eval/NumEpisodes")
	require.Len(t, episodes, 1)
	assert.Equal(t, 0, episodes[0].Step)
	assert.Equal(t, 4.0, episodes[0].Value)
	assert.Equal(t, 3.0, Series(events, "Eval/AverageEpisodeRewards")[0].Value)
	assert.Equal(t, 1, env.samplers)
	assert.Len(t, readLines(t, filepath.Join(base, "eval_4", "episodes.jsonl")), 4)
}

func TestEvalRunnerEvaluatesLatestCheckpoint(t *testing.T) {
	base := t.TempDir()
	train := &countingFactory{}
	trainer, err := NewTrainRunner(trainOptions(t, base, train.create, &countingEnv{length: 5}))
	require.NoError(t, err)
	require.NoError(t, trainer.RunExperiment(context.Background()))

	factory := &countingFactory{}
	env := &countingEnv{length: 2}
	opts := evalOptions(base, factory.create, env)
	opts.StopAfterIteration = 2
	runner, err := NewEvalRunner(opts)
	require.NoError(t, err)
	require.NoError(t, runner.RunExperiment(context.Background()))

	// the eval agent was restored from the last checkpoint and did not learn
	assert.Equal(t, train.last.Episodes, factory.last.Episodes)
	assert.Equal(t, train.last.Steps, factory.last.Steps)

	events, err := ReadSummaries(filepath.Join(base, "eval_4", "summaries"))
	require.NoError(t, err)
	rewards := Series(events, "Eval/AverageEpisodeRewards")
	require.Len(t, rewards, 1)
	assert.Equal(t, 2, rewards[0].Step)
	assert.Equal(t, 2.0, rewards[0].Value)
}

func TestEvalRunnerCheckpointPrefix(t *testing.T) {
	base := t.TempDir()
	train := &countingFactory{}
	trainOpts := trainOptions(t, base, train.create, &countingEnv{length: 5})
	trainOpts.CheckpointPrefix = "slateq"
	trainer, err := NewTrainRunner(trainOpts)
	require.NoError(t, err)
	require.NoError(t, trainer.RunExperiment(context.Background()))
	assert.FileExists(t, filepath.Join(base, "train", "checkpoints", "slateq.2.json"))

	factory := &countingFactory{}
	opts := evalOptions(base, factory.create, &countingEnv{length: 2})
	opts.TestMode = true
	opts.CheckpointPrefix = "slateq"
	runner, err := NewEvalRunner(opts)
	require.NoError(t, err)
	require.NoError(t, runner.RunExperiment(context.Background()))
	assert.Equal(t, train.last.Episodes, factory.last.Episodes)

	// the default prefix sees no checkpoints
	store, err := NewFileStore(filepath.Join(base, "train", "checkpoints"), "")
	require.NoError(t, err)
	_, err = store.Latest(context.Background())
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestEvalRunnerPollsForNewCheckpoints(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileStore(filepath.Join(base, "train", "checkpoints"), "ckpt")
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), &Checkpoint{
		Iteration: 0,
		Agent:     []byte(`{"episodes":1,"steps":2}`),
	}))

	factory := &countingFactory{}
	env := &countingEnv{length: 1}
	opts := evalOptions(base, factory.create, env)
	opts.Store = store
	opts.StopAfterIteration = 1
	runner, err := NewEvalRunner(opts)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- runner.RunExperiment(context.Background()) }()

	require.Eventually(t, func() bool {
		events, err := ReadSummaries(filepath.Join(base, "eval_4", "summaries"))
		return err == nil && len(Series(events, "Eval/NumEpisodes")) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Save(context.Background(), &Checkpoint{
		Iteration: 1,
		Agent:     []byte(`{"episodes":2,"steps":4}`),
	}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("eval runner did not stop after the final iteration")
	}

	events, err := ReadSummaries(filepath.Join(base, "eval_4", "summaries"))
	require.NoError(t, err)
	series := Series(events, "Eval/NumEpisodes")
	require.Len(t, series, 2)
	assert.Equal(t, 0, series[0].Step)
	assert.Equal(t, 1, series[1].Step)
	assert.Equal(t, 2, factory.last.Episodes)
	assert.Equal(t, 2, env.samplers)
}

func TestEvalRunnerStopsWhenCancelled(t *testing.T) {
	factory := &countingFactory{}
	runner, err := NewEvalRunner(evalOptions(t.TempDir(), factory.create, &countingEnv{length: 1}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, runner.RunExperiment(ctx), context.DeadlineExceeded)
}
