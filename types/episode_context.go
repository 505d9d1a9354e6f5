package types

import (
	"context"
	"time"
)

// Phase of the experiment an episode belongs to
type Phase string

const (
	PhaseTrain Phase = "train"
	PhaseEval  Phase = "eval"
)

// EpisodeContext wraps the static information about an episode and
// the outcome collected while running it
type EpisodeContext struct {
	// Context used to stop the episode, carries the episode timeout if any
	Context context.Context
	cancel  context.CancelFunc

	Phase     Phase
	Iteration int
	Episode   int
	Horizon   int

	Trace *Trace
	Steps int

	Err         error
	TimedOut    bool
	HorizonEnd  bool // stopped by the horizon before the user left
	Terminal    bool // the user session ended
	RunDuration time.Duration
}

// NewEpisodeContext creates the context for one episode. A zero timeout means no timeout.
func NewEpisodeContext(ctx context.Context, phase Phase, iteration, episode, horizon int, timeout time.Duration) *EpisodeContext {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	return &EpisodeContext{
		Context:   ctx,
		cancel:    cancel,
		Phase:     phase,
		Iteration: iteration,
		Episode:   episode,
		Horizon:   horizon,
		Trace:     NewTrace(),
	}
}

func (e *EpisodeContext) SetError(err error) {
	e.Err = err
}

func (e *EpisodeContext) SetTimedOut() {
	e.TimedOut = true
}

// Cancel releases the resources of the episode context
func (e *EpisodeContext) Cancel() {
	e.cancel()
}

// Valid is true when the episode ended without errors or timeouts
func (e *EpisodeContext) Valid() bool {
	return e.Err == nil && !e.TimedOut
}

// Analyzer folds finished episodes into scalar summaries
type Analyzer interface {
	Analyze(*EpisodeContext)
	// Scalars since the last reset, keyed by summary tag suffix
	Scalars() map[string]float64
	Reset()
}
