package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeu5/recsim-rl/types"
)

// flakyEnv fails the step of every other episode
type flakyEnv struct {
	countingEnv
}

func (e *flakyEnv) Step(slate types.Slate) (*types.Observation, float64, bool, error) {
	if e.resets%2 == 0 {
		return nil, 0, false, errors.New("flaky backend")
	}
	return e.countingEnv.Step(slate)
}

type episodeCounter struct {
	episodes []int
}

func (c *episodeCounter) Analyze(eCtx *types.EpisodeContext) {
	c.episodes = append(c.episodes, eCtx.Episode)
}

func (c *episodeCounter) Scalars() map[string]float64 {
	return map[string]float64{"Analyzed": float64(len(c.episodes))}
}

func (c *episodeCounter) Reset() {
	c.episodes = c.episodes[:0]
}

func TestEpisodeLoopAnalyzesValidEpisodesOnly(t *testing.T) {
	counter := &episodeCounter{}
	loop := &episodeLoop{
		phase:                  types.PhaseTrain,
		env:                    &flakyEnv{countingEnv{length: 2}},
		agent:                  &countingAgent{},
		maxStepsPerEpisode:     10,
		consecutiveErrorsAbort: 3,
		analyzers:              []types.Analyzer{counter},
		logger:                 discardLogger(),
	}

	stats, err := loop.run(context.Background(), 0, func(s *phaseStats) bool { return s.episodes >= 6 })
	require.NoError(t, err)

	assert.Equal(t, 6, stats.episodes)
	assert.Equal(t, 3, stats.errors)
	assert.Equal(t, 3, stats.validEpisodes)
	assert.Equal(t, []int{0, 2, 4}, counter.episodes)
	assert.Equal(t, float64(stats.validEpisodes), counter.Scalars()["Analyzed"])
}
