package agents

import (
	"github.com/zeu5/recsim-rl/types"
)

// GreedyPCTRAgent recommends the documents with the highest estimated click probability
type GreedyPCTRAgent struct {
	*base
	clicks *ClickModel
}

var _ types.Agent = &GreedyPCTRAgent{}

func NewGreedyPCTRAgent(params types.AgentParams, opts Options) *GreedyPCTRAgent {
	return &GreedyPCTRAgent{
		base:   newBase(GreedyPCTRAgentName, params, opts),
		clicks: NewClickModel(),
	}
}

func (g *GreedyPCTRAgent) BeginEpisode(obs *types.Observation) (types.Slate, error) {
	state := stateOf(obs)
	slate := g.selectSlate(state, obs)
	g.remember(state, obs, slate)
	return slate, nil
}

func (g *GreedyPCTRAgent) Step(_ float64, obs *types.Observation) (types.Slate, error) {
	g.observeClicks(obs)
	if err := g.stepTaken(0); err != nil {
		return nil, err
	}

	state := stateOf(obs)
	slate := g.selectSlate(state, obs)
	g.remember(state, obs, slate)
	return slate, nil
}

func (g *GreedyPCTRAgent) EndEpisode(_ float64, obs *types.Observation) error {
	g.observeClicks(obs)
	if g.learning() {
		g.episodes += 1
	}
	return g.stepTaken(0)
}

func (g *GreedyPCTRAgent) selectSlate(state string, obs *types.Observation) types.Slate {
	if g.explore() {
		return g.randomSlate()
	}
	scores := make([]float64, len(obs.Documents))
	ones := make([]float64, len(obs.Documents))
	for i, doc := range obs.Documents {
		scores[i] = g.clicks.PCTR(state, topicKey(doc))
		ones[i] = 1
	}
	return SelectTopK(scores, ones, g.params.ActionSpace.SlateSize)
}

func (g *GreedyPCTRAgent) observeClicks(obs *types.Observation) {
	if g.learning() {
		observeSlateClicks(g.clicks, g.lastState, g.lastObs, g.lastSlate, obs)
	}
}

func (g *GreedyPCTRAgent) Bundle() ([]byte, error) {
	return g.bundle(nil, g.clicks)
}

func (g *GreedyPCTRAgent) Unbundle(data []byte) error {
	bd, err := g.unbundle(data)
	if err != nil {
		return err
	}
	if bd.ClickModel != nil {
		g.clicks = bd.ClickModel
	}
	return nil
}

// observeSlateClicks records an impression for every document of the slate
// and a click for the one the user clicked
func observeSlateClicks(clicks *ClickModel, state string, obs *types.Observation, slate types.Slate, next *types.Observation) {
	if obs == nil || next == nil {
		return
	}
	for pos, idx := range slate {
		clicked := pos < len(next.Responses) && next.Responses[pos].Clicked
		clicks.Observe(state, topicKey(obs.Documents[idx]), clicked)
	}
}
