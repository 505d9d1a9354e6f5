package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeu5/recsim-rl/types"
)

// runOneEpisode plays one episode of agent on env. The outcome is stored in eCtx.
// The episode goroutine checks the episode context between steps, so a timed out
// episode returns at the next step boundary.
func runOneEpisode(eCtx *types.EpisodeContext, env types.Environment, agent types.Agent) {
	select {
	case <-eCtx.Context.Done():
		eCtx.SetError(eCtx.Context.Err())
		return
	default:
	}

	done := make(chan struct{})
	start := time.Now()
	go func() {
		defer close(done)
		defer func() {
			eCtx.RunDuration = time.Since(start)
			if r := recover(); r != nil {
				eCtx.SetError(fmt.Errorf("episode %d panicked: %v", eCtx.Episode, r))
			}
			if eCtx.Err != nil {
				eCtx.Terminal = false
				eCtx.HorizonEnd = false
			}
		}()
		if err := playEpisode(eCtx, env, agent); err != nil {
			eCtx.SetError(err)
		}
	}()
	<-done

	if errors.Is(eCtx.Err, context.DeadlineExceeded) {
		eCtx.Err = nil
		eCtx.SetTimedOut()
	}
}

func playEpisode(eCtx *types.EpisodeContext, env types.Environment, agent types.Agent) error {
	obs, err := env.Reset()
	if err != nil {
		return fmt.Errorf("resetting environment: %w", err)
	}
	slate, err := agent.BeginEpisode(obs)
	if err != nil {
		return fmt.Errorf("beginning episode: %w", err)
	}

	for {
		select {
		case <-eCtx.Context.Done():
			return eCtx.Context.Err()
		default:
		}

		next, reward, terminal, err := env.Step(slate)
		if err != nil {
			return fmt.Errorf("step %d: %w", eCtx.Steps, err)
		}
		eCtx.Trace.Append(obs, slate, reward, next)
		eCtx.Steps++

		if terminal || (eCtx.Horizon > 0 && eCtx.Steps >= eCtx.Horizon) {
			if err := agent.EndEpisode(reward, next); err != nil {
				return fmt.Errorf("ending episode: %w", err)
			}
			eCtx.Terminal = terminal
			eCtx.HorizonEnd = !terminal
			return nil
		}

		slate, err = agent.Step(reward, next)
		if err != nil {
			return fmt.Errorf("agent step %d: %w", eCtx.Steps, err)
		}
		obs = next
	}
}

// EpisodeRecord is one line of the episode log
type EpisodeRecord struct {
	RunID       string            `json:"run_id"`
	Phase       types.Phase       `json:"phase"`
	Iteration   int               `json:"iteration"`
	Episode     int               `json:"episode"`
	Steps       []types.TraceStep `json:"steps"`
	Length      int               `json:"length"`
	TotalReward float64           `json:"total_reward"`
	Terminal    bool              `json:"terminal"`
	TimedOut    bool              `json:"timed_out,omitempty"`
	Error       string            `json:"error,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
}

func newEpisodeRecord(runID string, eCtx *types.EpisodeContext) EpisodeRecord {
	record := EpisodeRecord{
		RunID:       runID,
		Phase:       eCtx.Phase,
		Iteration:   eCtx.Iteration,
		Episode:     eCtx.Episode,
		Steps:       eCtx.Trace.Steps(),
		Length:      eCtx.Steps,
		TotalReward: eCtx.Trace.TotalReward(),
		Terminal:    eCtx.Terminal,
		TimedOut:    eCtx.TimedOut,
		DurationMs:  eCtx.RunDuration.Milliseconds(),
	}
	if eCtx.Err != nil {
		record.Error = eCtx.Err.Error()
	}
	return record
}
