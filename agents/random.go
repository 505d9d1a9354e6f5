package agents

import (
	"github.com/zeu5/recsim-rl/types"
)

// RandomAgent recommends uniformly random slates
type RandomAgent struct {
	*base
}

var _ types.Agent = &RandomAgent{}

func NewRandomAgent(params types.AgentParams, opts Options) *RandomAgent {
	return &RandomAgent{base: newBase(RandomAgentName, params, opts)}
}

func (r *RandomAgent) BeginEpisode(_ *types.Observation) (types.Slate, error) {
	return r.randomSlate(), nil
}

func (r *RandomAgent) Step(_ float64, _ *types.Observation) (types.Slate, error) {
	if err := r.stepTaken(0); err != nil {
		return nil, err
	}
	return r.randomSlate(), nil
}

func (r *RandomAgent) EndEpisode(_ float64, _ *types.Observation) error {
	if r.learning() {
		r.episodes += 1
	}
	return r.stepTaken(0)
}

func (r *RandomAgent) Bundle() ([]byte, error) {
	return r.bundle(nil, nil)
}

func (r *RandomAgent) Unbundle(data []byte) error {
	_, err := r.unbundle(data)
	return err
}
