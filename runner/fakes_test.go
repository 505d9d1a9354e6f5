package runner

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/zeu5/recsim-rl/types"
)

// countingEnv ends every episode after length steps with a reward of 1 per step
type countingEnv struct {
	length    int
	steps     int
	resets    int
	samplers  int
	stepErr   error
	panicStep bool
	delay     time.Duration
}

func (e *countingEnv) ObservationSpace() types.ObservationSpace {
	return types.ObservationSpace{NumCandidates: 2, DocumentDim: 1}
}

func (e *countingEnv) ActionSpace() types.ActionSpace {
	return types.ActionSpace{SlateSize: 1, NumCandidates: 2}
}

func (e *countingEnv) Reset() (*types.Observation, error) {
	e.resets++
	e.steps = 0
	return e.observation(), nil
}

func (e *countingEnv) Step(slate types.Slate) (*types.Observation, float64, bool, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.panicStep {
		panic("broken environment")
	}
	if e.stepErr != nil {
		return nil, 0, false, e.stepErr
	}
	e.steps++
	return e.observation(), 1, e.length > 0 && e.steps >= e.length, nil
}

func (e *countingEnv) ResetSampler() {
	e.samplers++
}

func (e *countingEnv) observation() *types.Observation {
	return &types.Observation{
		Documents: []types.DocumentObservation{
			{ID: 0, Features: []float64{1}},
			{ID: 1, Features: []float64{1}},
		},
	}
}

// countingAgent always recommends the first document and counts what it saw
type countingAgent struct {
	EvalMode bool `json:"-"`
	Episodes int  `json:"episodes"`
	Steps    int  `json:"steps"`
	delay    time.Duration
	endErr   error
}

func (a *countingAgent) BeginEpisode(*types.Observation) (types.Slate, error) {
	return types.Slate{0}, nil
}

func (a *countingAgent) Step(float64, *types.Observation) (types.Slate, error) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if !a.EvalMode {
		a.Steps++
	}
	return types.Slate{0}, nil
}

func (a *countingAgent) EndEpisode(float64, *types.Observation) error {
	if a.endErr != nil {
		return a.endErr
	}
	if !a.EvalMode {
		a.Steps++
		a.Episodes++
	}
	return nil
}

func (a *countingAgent) Bundle() ([]byte, error) {
	return json.Marshal(a)
}

func (a *countingAgent) Unbundle(bs []byte) error {
	if len(bs) == 0 {
		return errors.New("empty bundle")
	}
	return json.Unmarshal(bs, a)
}

// countingFactory hands out countingAgents and remembers the last one
type countingFactory struct {
	last *countingAgent
}

func (f *countingFactory) create(_ types.Environment, evalMode bool, _ types.SummaryWriter) (types.Agent, error) {
	f.last = &countingAgent{EvalMode: evalMode}
	return f.last, nil
}
