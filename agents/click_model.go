package agents

// ClickModel counts impressions and clicks per (state, topic) and estimates
// click probabilities with a uniform Beta prior
type ClickModel struct {
	Impressions map[string]map[string]int `json:"impressions"`
	Clicks      map[string]map[string]int `json:"clicks"`
}

func NewClickModel() *ClickModel {
	return &ClickModel{
		Impressions: make(map[string]map[string]int),
		Clicks:      make(map[string]map[string]int),
	}
}

func (c *ClickModel) Observe(state, topic string, clicked bool) {
	increment(c.Impressions, state, topic)
	if clicked {
		increment(c.Clicks, state, topic)
	}
}

// PCTR is (clicks + 1) / (impressions + 2)
func (c *ClickModel) PCTR(state, topic string) float64 {
	return float64(c.Clicks[state][topic]+1) / float64(c.Impressions[state][topic]+2)
}

func increment(counts map[string]map[string]int, state, topic string) {
	if _, ok := counts[state]; !ok {
		counts[state] = make(map[string]int)
	}
	counts[state][topic] += 1
}
