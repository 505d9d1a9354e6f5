package agents

import (
	"github.com/zeu5/recsim-rl/types"
)

// SlateDecompQAgent learns the long term value of recommending a topic in a state
// and composes slates from the per item values (SlateQ decomposition)
type SlateDecompQAgent struct {
	*base
	qTable *QTable
	clicks *ClickModel
}

var _ types.Agent = &SlateDecompQAgent{}

func NewSlateDecompQAgent(params types.AgentParams, opts Options) *SlateDecompQAgent {
	return &SlateDecompQAgent{
		base:   newBase(SlateDecompQAgentName, params, opts),
		qTable: NewQTable(),
		clicks: NewClickModel(),
	}
}

func (s *SlateDecompQAgent) BeginEpisode(obs *types.Observation) (types.Slate, error) {
	state := stateOf(obs)
	slate := s.selectSlate(state, obs)
	s.remember(state, obs, slate)
	return slate, nil
}

func (s *SlateDecompQAgent) Step(reward float64, obs *types.Observation) (types.Slate, error) {
	state := stateOf(obs)
	slate := s.selectSlate(state, obs)

	if s.learning() {
		scores, qValues := s.itemValues(state, obs)
		nextValue := ExpectedSlateValue(scores, qValues, slate, s.opts.NoClickMass)
		s.learn(reward, obs, nextValue)
	}
	if err := s.stepTaken(s.qTable.Size()); err != nil {
		return nil, err
	}

	s.remember(state, obs, slate)
	return slate, nil
}

func (s *SlateDecompQAgent) EndEpisode(reward float64, obs *types.Observation) error {
	if s.learning() {
		s.learn(reward, obs, 0)
		s.episodes += 1
	}
	return s.stepTaken(s.qTable.Size())
}

// learn moves the value of the clicked item toward reward + gamma*nextValue.
// Only the clicked item is updated, the others did not contribute to the reward.
func (s *SlateDecompQAgent) learn(reward float64, next *types.Observation, nextValue float64) {
	observeSlateClicks(s.clicks, s.lastState, s.lastObs, s.lastSlate, next)

	pos, ok := next.Clicked()
	if !ok || pos >= len(s.lastSlate) {
		return
	}
	topic := topicKey(s.lastObs.Documents[s.lastSlate[pos]])
	curVal := s.qTable.Get(s.lastState, topic, 0)
	target := reward + s.opts.Gamma*nextValue
	s.qTable.Set(s.lastState, topic, curVal+s.opts.Alpha*(target-curVal))
}

func (s *SlateDecompQAgent) itemValues(state string, obs *types.Observation) ([]float64, []float64) {
	scores := make([]float64, len(obs.Documents))
	qValues := make([]float64, len(obs.Documents))
	for i, doc := range obs.Documents {
		topic := topicKey(doc)
		scores[i] = s.clicks.PCTR(state, topic)
		qValues[i] = s.qTable.Get(state, topic, 0)
	}
	return scores, qValues
}

func (s *SlateDecompQAgent) selectSlate(state string, obs *types.Observation) types.Slate {
	if s.explore() {
		return s.randomSlate()
	}
	scores, qValues := s.itemValues(state, obs)
	k := s.params.ActionSpace.SlateSize
	if s.opts.SlateSelection == SelectionGreedy {
		return SelectGreedy(scores, qValues, k, s.opts.NoClickMass)
	}
	return SelectTopK(scores, qValues, k)
}

// QTable exposes the learned item values
func (s *SlateDecompQAgent) QTable() *QTable {
	return s.qTable
}

func (s *SlateDecompQAgent) Bundle() ([]byte, error) {
	return s.bundle(s.qTable, s.clicks)
}

func (s *SlateDecompQAgent) Unbundle(data []byte) error {
	bd, err := s.unbundle(data)
	if err != nil {
		return err
	}
	if bd.QTable != nil {
		s.qTable = bd.QTable
	}
	if bd.ClickModel != nil {
		s.clicks = bd.ClickModel
	}
	return nil
}
