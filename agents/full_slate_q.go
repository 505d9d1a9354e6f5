package agents

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/zeu5/recsim-rl/types"
)

// MaxFullSlates bounds the number of slates the full slate agent enumerates
const MaxFullSlates = 10000

// FullSlateQAgent learns a value per (state, slate) where slates are identified
// by the topics they contain, and picks the best of all candidate combinations
type FullSlateQAgent struct {
	*base
	qTable *QTable
	slates [][]int
}

var _ types.Agent = &FullSlateQAgent{}

func NewFullSlateQAgent(params types.AgentParams, opts Options) (*FullSlateQAgent, error) {
	n := params.ActionSpace.NumCandidates
	k := params.ActionSpace.SlateSize
	if k < 1 || k > n {
		return nil, fmt.Errorf("%w: slate size %d with %d candidates", ErrInvalidOptions, k, n)
	}
	if combin.Binomial(n, k) > MaxFullSlates {
		return nil, fmt.Errorf("%w: %d candidates choose %d exceeds %d slates", ErrInvalidOptions, n, k, MaxFullSlates)
	}
	return &FullSlateQAgent{
		base:   newBase(FullSlateQAgentName, params, opts),
		qTable: NewQTable(),
		slates: combin.Combinations(n, k),
	}, nil
}

func (f *FullSlateQAgent) BeginEpisode(obs *types.Observation) (types.Slate, error) {
	state := stateOf(obs)
	slate := f.selectSlate(state, obs)
	f.remember(state, obs, slate)
	return slate, nil
}

func (f *FullSlateQAgent) Step(reward float64, obs *types.Observation) (types.Slate, error) {
	state := stateOf(obs)
	if f.learning() {
		_, nextValue := f.best(state, obs)
		f.learn(reward, f.opts.Gamma*nextValue)
	}
	if err := f.stepTaken(f.qTable.Size()); err != nil {
		return nil, err
	}

	slate := f.selectSlate(state, obs)
	f.remember(state, obs, slate)
	return slate, nil
}

func (f *FullSlateQAgent) EndEpisode(reward float64, _ *types.Observation) error {
	if f.learning() {
		f.learn(reward, 0)
		f.episodes += 1
	}
	return f.stepTaken(f.qTable.Size())
}

func (f *FullSlateQAgent) learn(reward, discountedNext float64) {
	if f.lastObs == nil {
		return
	}
	key := slateKey(f.lastObs, f.lastSlate)
	curVal := f.qTable.Get(f.lastState, key, 0)
	f.qTable.Set(f.lastState, key, curVal+f.opts.Alpha*(reward+discountedNext-curVal))
}

// best returns the combination with the highest value, the first one on ties.
// Combinations with the same topics share a value.
func (f *FullSlateQAgent) best(state string, obs *types.Observation) (types.Slate, float64) {
	keys := make([]string, len(f.slates))
	for i, combination := range f.slates {
		keys[i] = slateKey(obs, combination)
	}
	bestKey, bestVal := f.qTable.MaxAmong(state, keys, 0)
	for i, key := range keys {
		if key == bestKey {
			return types.Slate(f.slates[i]), bestVal
		}
	}
	return nil, bestVal
}

func (f *FullSlateQAgent) selectSlate(state string, obs *types.Observation) types.Slate {
	if f.explore() {
		return f.randomSlate()
	}
	best, _ := f.best(state, obs)
	slate := make(types.Slate, len(best))
	copy(slate, best)
	return slate
}

func (f *FullSlateQAgent) Bundle() ([]byte, error) {
	return f.bundle(f.qTable, nil)
}

func (f *FullSlateQAgent) Unbundle(data []byte) error {
	bd, err := f.unbundle(data)
	if err != nil {
		return err
	}
	if bd.QTable != nil {
		f.qTable = bd.QTable
	}
	return nil
}

// slateKey identifies a slate by the sorted topics of its documents
func slateKey(obs *types.Observation, slate types.Slate) string {
	topics := make([]int, len(slate))
	for i, idx := range slate {
		topics[i] = topicOf(obs.Documents[idx])
	}
	sort.Ints(topics)
	parts := make([]string, len(topics))
	for i, t := range topics {
		parts[i] = strconv.Itoa(t)
	}
	return strings.Join(parts, ",")
}
