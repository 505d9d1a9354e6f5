package interest

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/zeu5/recsim-rl/types"
)

// Environment simulates a user whose interests evolve with what they watch
type Environment struct {
	config     Config
	rng        *rand.Rand
	docs       *documentSampler
	users      *userModel
	candidates []*Document
	done       bool
}

var _ types.Environment = &Environment{}

// CreateEnvironment validates the config and samples the initial candidate set
func CreateEnvironment(config Config) (*Environment, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(uint64(config.Seed)))
	e := &Environment{
		config: config,
		rng:    rng,
		docs:   newDocumentSampler(config, rng),
		users:  newUserModel(config, rng),
		done:   true,
	}
	e.candidates = e.docs.sampleCandidates()
	return e, nil
}

// CreateEnvironmentFromMap is CreateEnvironment for a flat option mapping
func CreateEnvironmentFromMap(options map[string]interface{}) (*Environment, error) {
	config, err := ConfigFromMap(options)
	if err != nil {
		return nil, err
	}
	return CreateEnvironment(config)
}

func (e *Environment) Config() Config {
	return e.config
}

func (e *Environment) ObservationSpace() types.ObservationSpace {
	return types.ObservationSpace{
		NumCandidates: e.config.NumCandidates,
		DocumentDim:   e.config.NumTopics,
		UserDim:       0,
	}
}

func (e *Environment) ActionSpace() types.ActionSpace {
	return types.ActionSpace{
		SlateSize:     e.config.SlateSize,
		NumCandidates: e.config.NumCandidates,
	}
}

// ResetSampler reseeds the environment, the next episodes replay the ones
// sampled right after creation
func (e *Environment) ResetSampler() {
	e.rng.Seed(uint64(e.config.Seed))
	e.docs.reset()
	e.candidates = e.docs.sampleCandidates()
	e.done = true
}

func (e *Environment) Reset() (*types.Observation, error) {
	e.users.sample()
	if e.config.ResampleDocuments {
		e.candidates = e.docs.sampleCandidates()
	}
	e.done = false
	return e.observation(nil), nil
}

func (e *Environment) Step(slate types.Slate) (*types.Observation, float64, bool, error) {
	if e.done {
		return nil, 0, true, fmt.Errorf("%w: call Reset before Step", types.ErrEpisodeDone)
	}
	if err := e.ActionSpace().Contains(slate); err != nil {
		return nil, 0, false, err
	}

	docs := make([]*Document, len(slate))
	for i, idx := range slate {
		docs[i] = e.candidates[idx]
	}
	responses := e.users.simulate(docs)

	reward := 0.0
	for _, r := range responses {
		if r.Clicked {
			reward += r.WatchTime
		}
	}

	if e.config.ResampleDocuments {
		e.candidates = e.docs.sampleCandidates()
	}
	e.done = e.users.terminal()
	return e.observation(responses), reward, e.done, nil
}

// User returns a copy of the hidden user state
func (e *Environment) User() User {
	if e.users.user == nil {
		return User{}
	}
	interests := make([]float64, len(e.users.user.Interests))
	copy(interests, e.users.user.Interests)
	return User{Interests: interests, TimeBudget: e.users.user.TimeBudget}
}

// Candidates currently offered to the recommender
func (e *Environment) Candidates() []*Document {
	return e.candidates
}

func (e *Environment) observation(responses []types.Response) *types.Observation {
	docs := make([]types.DocumentObservation, len(e.candidates))
	for i, d := range e.candidates {
		docs[i] = d.Observation()
	}
	return &types.Observation{
		User:      []float64{},
		Documents: docs,
		Responses: responses,
	}
}
