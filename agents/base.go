package agents

import (
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"

	"github.com/zeu5/recsim-rl/types"
)

const noClickState = "none"

// base holds the episode bookkeeping common to all agents
type base struct {
	name   string
	params types.AgentParams
	opts   Options
	rng    *rand.Rand

	trainingSteps int
	episodes      int

	lastState string
	lastObs   *types.Observation
	lastSlate types.Slate
}

func newBase(name string, params types.AgentParams, opts Options) *base {
	return &base{
		name:   name,
		params: params,
		opts:   opts,
		rng:    rand.New(rand.NewSource(uint64(opts.Seed))),
	}
}

func (b *base) learning() bool {
	return !b.params.EvalMode
}

func (b *base) remember(state string, obs *types.Observation, slate types.Slate) {
	b.lastState = state
	b.lastObs = obs
	b.lastSlate = slate
}

// epsilon decays linearly from 1 to epsilon_train over epsilon_decay_steps
func (b *base) epsilon() float64 {
	if b.params.EvalMode {
		return b.opts.EpsilonEval
	}
	return linearlyDecayingEpsilon(b.opts.EpsilonDecaySteps, b.trainingSteps, b.opts.EpsilonTrain)
}

func linearlyDecayingEpsilon(decaySteps, step int, epsilon float64) float64 {
	if decaySteps <= 0 {
		return epsilon
	}
	stepsLeft := float64(decaySteps - step)
	bonus := (1 - epsilon) * stepsLeft / float64(decaySteps)
	if bonus < 0 {
		bonus = 0
	}
	if bonus > 1-epsilon {
		bonus = 1 - epsilon
	}
	return epsilon + bonus
}

func (b *base) explore() bool {
	eps := b.epsilon()
	return eps > 0 && b.rng.Float64() < eps
}

func (b *base) randomSlate() types.Slate {
	return randomSlate(b.rng, b.params.ActionSpace)
}

// stepTaken advances the training step counter and writes the periodic summaries
func (b *base) stepTaken(tableSize int) error {
	if !b.learning() {
		return nil
	}
	b.trainingSteps += 1
	sw := b.params.SummaryWriter
	if sw == nil || b.opts.SummaryFrequency <= 0 || b.trainingSteps%b.opts.SummaryFrequency != 0 {
		return nil
	}
	if err := sw.Scalar("Agent/Epsilon", b.trainingSteps, b.epsilon()); err != nil {
		return fmt.Errorf("writing agent summaries: %w", err)
	}
	if err := sw.Scalar("Agent/QTableSize", b.trainingSteps, float64(tableSize)); err != nil {
		return fmt.Errorf("writing agent summaries: %w", err)
	}
	return nil
}

// stateOf abstracts the observation to the topic clicked in the previous step
func stateOf(obs *types.Observation) string {
	pos, ok := obs.Clicked()
	if !ok {
		return noClickState
	}
	return "t" + strconv.Itoa(obs.Responses[pos].Topic)
}

// topicOf is the dominant feature of the document
func topicOf(doc types.DocumentObservation) int {
	if len(doc.Features) == 0 {
		return 0
	}
	return floats.MaxIdx(doc.Features)
}

func topicKey(doc types.DocumentObservation) string {
	return strconv.Itoa(topicOf(doc))
}

type bundle struct {
	Agent         string      `json:"agent"`
	TrainingSteps int         `json:"training_steps"`
	Episodes      int         `json:"episodes"`
	QTable        *QTable     `json:"q_table,omitempty"`
	ClickModel    *ClickModel `json:"click_model,omitempty"`
}

func (b *base) bundle(qTable *QTable, clicks *ClickModel) ([]byte, error) {
	return json.Marshal(&bundle{
		Agent:         b.name,
		TrainingSteps: b.trainingSteps,
		Episodes:      b.episodes,
		QTable:        qTable,
		ClickModel:    clicks,
	})
}

// unbundle restores the counters and returns the decoded bundle for the agent specific parts
func (b *base) unbundle(data []byte) (*bundle, error) {
	bd := &bundle{}
	if err := json.Unmarshal(data, bd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleBundle, err)
	}
	if bd.Agent != b.name {
		return nil, fmt.Errorf("%w: bundle written by %q, restoring %q", ErrIncompatibleBundle, bd.Agent, b.name)
	}
	b.trainingSteps = bd.TrainingSteps
	b.episodes = bd.Episodes
	if bd.ClickModel != nil {
		if bd.ClickModel.Impressions == nil {
			bd.ClickModel.Impressions = make(map[string]map[string]int)
		}
		if bd.ClickModel.Clicks == nil {
			bd.ClickModel.Clicks = make(map[string]map[string]int)
		}
	}
	return bd, nil
}
