package types

// Trace of an episode as (observation, slate, reward, nextObservation) steps
type Trace struct {
	observations     []*Observation
	slates           []Slate
	rewards          []float64
	nextObservations []*Observation
}

func NewTrace() *Trace {
	return &Trace{
		observations:     make([]*Observation, 0),
		slates:           make([]Slate, 0),
		rewards:          make([]float64, 0),
		nextObservations: make([]*Observation, 0),
	}
}

func (t *Trace) Append(obs *Observation, slate Slate, reward float64, nextObs *Observation) {
	t.observations = append(t.observations, obs)
	t.slates = append(t.slates, slate)
	t.rewards = append(t.rewards, reward)
	t.nextObservations = append(t.nextObservations, nextObs)
}

func (t *Trace) Len() int {
	return len(t.observations)
}

func (t *Trace) Get(i int) (*Observation, Slate, float64, *Observation, bool) {
	if i < 0 || i >= len(t.observations) {
		return nil, nil, 0, nil, false
	}
	return t.observations[i], t.slates[i], t.rewards[i], t.nextObservations[i], true
}

func (t *Trace) Last() (*Observation, Slate, float64, *Observation, bool) {
	return t.Get(len(t.observations) - 1)
}

func (t *Trace) TotalReward() float64 {
	total := 0.0
	for _, r := range t.rewards {
		total += r
	}
	return total
}

// TraceStep is the serialized form of a single step
type TraceStep struct {
	DocumentIDs []int      `json:"document_ids"`
	Slate       Slate      `json:"slate"`
	Responses   []Response `json:"responses"`
	Reward      float64    `json:"reward"`
}

// Steps flattens the trace into its serializable steps.
// Responses are read from the next observation.
func (t *Trace) Steps() []TraceStep {
	steps := make([]TraceStep, t.Len())
	for i := range t.observations {
		obs := t.observations[i]
		ids := make([]int, 0)
		if obs != nil {
			for _, d := range obs.Documents {
				ids = append(ids, d.ID)
			}
		}
		var responses []Response
		if next := t.nextObservations[i]; next != nil {
			responses = next.Responses
		}
		steps[i] = TraceStep{
			DocumentIDs: ids,
			Slate:       t.slates[i],
			Responses:   responses,
			Reward:      t.rewards[i],
		}
	}
	return steps
}
