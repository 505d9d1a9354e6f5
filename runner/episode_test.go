package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeu5/recsim-rl/types"
)

func TestRunOneEpisodeTerminal(t *testing.T) {
	env := &countingEnv{length: 3}
	agent := &countingAgent{}
	eCtx := types.NewEpisodeContext(context.Background(), types.PhaseTrain, 0, 0, 10, 0)
	defer eCtx.Cancel()

	runOneEpisode(eCtx, env, agent)

	require.NoError(t, eCtx.Err)
	assert.True(t, eCtx.Valid())
	assert.True(t, eCtx.Terminal)
	assert.False(t, eCtx.HorizonEnd)
	assert.Equal(t, 3, eCtx.Steps)
	assert.Equal(t, 3, eCtx.Trace.Len())
	assert.Equal(t, 3.0, eCtx.Trace.TotalReward())
	assert.Equal(t, 1, agent.Episodes)
	assert.Equal(t, 3, agent.Steps)
}

func TestRunOneEpisodeHorizon(t *testing.T) {
	env := &countingEnv{}
	agent := &countingAgent{}
	eCtx := types.NewEpisodeContext(context.Background(), types.PhaseTrain, 0, 0, 5, 0)
	defer eCtx.Cancel()

	runOneEpisode(eCtx, env, agent)

	require.NoError(t, eCtx.Err)
	assert.True(t, eCtx.HorizonEnd)
	assert.False(t, eCtx.Terminal)
	assert.Equal(t, 5, eCtx.Steps)
	assert.Equal(t, 1, agent.Episodes)
}

func TestRunOneEpisodeErrors(t *testing.T) {
	stepErr := errors.New("step failed")
	eCtx := types.NewEpisodeContext(context.Background(), types.PhaseTrain, 0, 0, 5, 0)
	runOneEpisode(eCtx, &countingEnv{stepErr: stepErr}, &countingAgent{})
	eCtx.Cancel()
	assert.ErrorIs(t, eCtx.Err, stepErr)
	assert.False(t, eCtx.Valid())

	eCtx = types.NewEpisodeContext(context.Background(), types.PhaseTrain, 0, 7, 5, 0)
	runOneEpisode(eCtx, &countingEnv{panicStep: true}, &countingAgent{})
	eCtx.Cancel()
	require.Error(t, eCtx.Err)
	assert.Contains(t, eCtx.Err.Error(), "episode 7 panicked")
	assert.False(t, eCtx.TimedOut)

	eCtx = types.NewEpisodeContext(context.Background(), types.PhaseTrain, 0, 8, 5, 0)
	runOneEpisode(eCtx, &countingEnv{panicStep: true, delay: 5 * time.Millisecond}, &countingAgent{})
	eCtx.Cancel()
	require.Error(t, eCtx.Err)
	assert.GreaterOrEqual(t, eCtx.RunDuration, 5*time.Millisecond)

	endErr := errors.New("end failed")
	for name, env := range map[string]*countingEnv{
		"terminal": {length: 2},
		"horizon":  {},
	} {
		t.Run(name, func(t *testing.T) {
			eCtx := types.NewEpisodeContext(context.Background(), types.PhaseTrain, 0, 0, 2, 0)
			defer eCtx.Cancel()
			runOneEpisode(eCtx, env, &countingAgent{endErr: endErr})

			assert.ErrorIs(t, eCtx.Err, endErr)
			assert.False(t, eCtx.Terminal)
			assert.False(t, eCtx.HorizonEnd)
			assert.False(t, eCtx.TimedOut)
			assert.Equal(t, 2, eCtx.Steps)

			record := newEpisodeRecord("run", eCtx)
			assert.False(t, record.Terminal)
			assert.Contains(t, record.Error, "end failed")
		})
	}
}

func TestRunOneEpisodeTimeout(t *testing.T) {
	agent := &countingAgent{delay: 20 * time.Millisecond}
	eCtx := types.NewEpisodeContext(context.Background(), types.PhaseEval, 0, 0, 1000, 5*time.Millisecond)
	defer eCtx.Cancel()

	runOneEpisode(eCtx, &countingEnv{}, agent)

	assert.True(t, eCtx.TimedOut)
	assert.NoError(t, eCtx.Err)
	assert.False(t, eCtx.Valid())
	assert.Less(t, eCtx.Steps, 1000)
}

func TestEpisodeRecord(t *testing.T) {
	eCtx := types.NewEpisodeContext(context.Background(), types.PhaseEval, 4, 9, 2, 0)
	defer eCtx.Cancel()
	runOneEpisode(eCtx, &countingEnv{}, &countingAgent{})

	record := newEpisodeRecord("run", eCtx)
	assert.Equal(t, "run", record.RunID)
	assert.Equal(t, types.PhaseEval, record.Phase)
	assert.Equal(t, 4, record.Iteration)
	assert.Equal(t, 9, record.Episode)
	assert.Equal(t, 2, record.Length)
	assert.Len(t, record.Steps, 2)
	assert.Equal(t, []int{0, 1}, record.Steps[0].DocumentIDs)
	assert.Equal(t, types.Slate{0}, record.Steps[0].Slate)
	assert.Equal(t, 2.0, record.TotalReward)
	assert.Empty(t, record.Error)
}
