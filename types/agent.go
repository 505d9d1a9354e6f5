package types

// Agent selecting slates over episodes
type Agent interface {
	// BeginEpisode returns the first slate of the episode
	BeginEpisode(*Observation) (Slate, error)
	// Step receives the reward of the last slate and returns the next slate
	Step(float64, *Observation) (Slate, error)
	// EndEpisode receives the final reward of the episode
	EndEpisode(float64, *Observation) error
	// Bundle serializes the learned state of the agent
	Bundle() ([]byte, error)
	// Unbundle restores the state produced by Bundle
	Unbundle([]byte) error
}

// AgentParams are handed unchanged to every agent constructor
type AgentParams struct {
	ObservationSpace ObservationSpace
	ActionSpace      ActionSpace
	SummaryWriter    SummaryWriter
	EvalMode         bool
}

// AgentFactory creates agents for an environment
type AgentFactory func(env Environment, evalMode bool, summaryWriter SummaryWriter) (Agent, error)

// SummaryWriter records scalar summaries indexed by step
type SummaryWriter interface {
	Scalar(tag string, step int, value float64) error
	Flush() error
}

// NoopSummaryWriter drops every summary
type NoopSummaryWriter struct{}

var _ SummaryWriter = NoopSummaryWriter{}

func (NoopSummaryWriter) Scalar(string, int, float64) error { return nil }

func (NoopSummaryWriter) Flush() error { return nil }
