package agents

import (
	"errors"
	"fmt"

	"github.com/zeu5/recsim-rl/types"
)

var (
	// ErrUnknownAgent is returned for agent names that are not registered
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrInvalidOptions is returned for agent options out of range
	ErrInvalidOptions = errors.New("invalid agent options")
	// ErrIncompatibleBundle is returned when restoring a bundle written by another agent
	ErrIncompatibleBundle = errors.New("incompatible agent bundle")
)

const (
	RandomAgentName       = "random"
	GreedyPCTRAgentName   = "greedy_pctr"
	SlateDecompQAgentName = "slate_decomp_q"
	FullSlateQAgentName   = "full_slate_q"

	SelectionTopK   = "topk"
	SelectionGreedy = "greedy"
)

// Options shared by the agents, each agent reads the ones it needs
type Options struct {
	Name              string  `mapstructure:"name" yaml:"name" json:"name"`
	Alpha             float64 `mapstructure:"alpha" yaml:"alpha" json:"alpha"`
	Gamma             float64 `mapstructure:"gamma" yaml:"gamma" json:"gamma"`
	EpsilonTrain      float64 `mapstructure:"epsilon_train" yaml:"epsilon_train" json:"epsilon_train"`
	EpsilonDecaySteps int     `mapstructure:"epsilon_decay_steps" yaml:"epsilon_decay_steps" json:"epsilon_decay_steps"`
	EpsilonEval       float64 `mapstructure:"epsilon_eval" yaml:"epsilon_eval" json:"epsilon_eval"`
	SlateSelection    string  `mapstructure:"slate_selection" yaml:"slate_selection" json:"slate_selection"`
	NoClickMass       float64 `mapstructure:"no_click_mass" yaml:"no_click_mass" json:"no_click_mass"`
	SummaryFrequency  int     `mapstructure:"summary_frequency" yaml:"summary_frequency" json:"summary_frequency"`
	Seed              int64   `mapstructure:"seed" yaml:"seed" json:"seed"`
}

func DefaultOptions() Options {
	return Options{
		Name:              SlateDecompQAgentName,
		Alpha:             0.1,
		Gamma:             0.9,
		EpsilonTrain:      0.01,
		EpsilonDecaySteps: 2000,
		EpsilonEval:       0,
		SlateSelection:    SelectionTopK,
		NoClickMass:       1.0,
		SummaryFrequency:  100,
		Seed:              0,
	}
}

func (o Options) Validate() error {
	switch {
	case o.Alpha <= 0 || o.Alpha > 1:
		return fmt.Errorf("%w: alpha must be in (0, 1], got %v", ErrInvalidOptions, o.Alpha)
	case o.Gamma < 0 || o.Gamma > 1:
		return fmt.Errorf("%w: gamma must be in [0, 1], got %v", ErrInvalidOptions, o.Gamma)
	case o.EpsilonTrain < 0 || o.EpsilonTrain > 1:
		return fmt.Errorf("%w: epsilon_train must be in [0, 1], got %v", ErrInvalidOptions, o.EpsilonTrain)
	case o.EpsilonEval < 0 || o.EpsilonEval > 1:
		return fmt.Errorf("%w: epsilon_eval must be in [0, 1], got %v", ErrInvalidOptions, o.EpsilonEval)
	case o.EpsilonDecaySteps < 0:
		return fmt.Errorf("%w: epsilon_decay_steps must not be negative, got %d", ErrInvalidOptions, o.EpsilonDecaySteps)
	case o.NoClickMass < 0:
		return fmt.Errorf("%w: no_click_mass must not be negative, got %v", ErrInvalidOptions, o.NoClickMass)
	case o.SlateSelection != SelectionTopK && o.SlateSelection != SelectionGreedy:
		return fmt.Errorf("%w: slate_selection must be %q or %q, got %q", ErrInvalidOptions, SelectionTopK, SelectionGreedy, o.SlateSelection)
	}
	return nil
}

// NewAgent builds the agent named in the options
func NewAgent(params types.AgentParams, opts Options) (types.Agent, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	switch opts.Name {
	case RandomAgentName:
		return NewRandomAgent(params, opts), nil
	case GreedyPCTRAgentName:
		return NewGreedyPCTRAgent(params, opts), nil
	case SlateDecompQAgentName:
		return NewSlateDecompQAgent(params, opts), nil
	case FullSlateQAgentName:
		agent, err := NewFullSlateQAgent(params, opts)
		if err != nil {
			return nil, err
		}
		return agent, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, opts.Name)
}

// Factory returns the agent factory handed to the runners
func Factory(opts Options) types.AgentFactory {
	return func(env types.Environment, evalMode bool, summaryWriter types.SummaryWriter) (types.Agent, error) {
		return NewAgent(types.AgentParams{
			ObservationSpace: env.ObservationSpace(),
			ActionSpace:      env.ActionSpace(),
			SummaryWriter:    summaryWriter,
			EvalMode:         evalMode,
		}, opts)
	}
}
