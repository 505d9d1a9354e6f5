package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSlate is returned when a slate does not belong to the action space
	ErrInvalidSlate = errors.New("invalid slate")
	// ErrEpisodeDone is returned when stepping an environment whose episode has ended
	ErrEpisodeDone = errors.New("episode already done")
)

// Slate of recommended documents, as indices into the candidate list
// of the observation the slate was selected from
type Slate []int

// DocumentObservation is what the recommender sees of a candidate document
type DocumentObservation struct {
	ID       int       `json:"id"`
	Features []float64 `json:"features"`
}

// Response of the user to a single slate position
type Response struct {
	Clicked   bool    `json:"clicked"`
	WatchTime float64 `json:"watch_time"`
	Liked     bool    `json:"liked"`
	Quality   float64 `json:"quality"`
	Topic     int     `json:"topic"`
}

// Observation returned by the environment after Reset and Step
type Observation struct {
	User      []float64             `json:"user"`
	Documents []DocumentObservation `json:"documents"`
	// Responses to the previous slate, nil right after a reset
	Responses []Response `json:"responses,omitempty"`
}

// Clicked returns the slate position that was clicked in the previous step
func (o *Observation) Clicked() (int, bool) {
	if o == nil {
		return -1, false
	}
	for i, r := range o.Responses {
		if r.Clicked {
			return i, true
		}
	}
	return -1, false
}

// ObservationSpace describes the shape of observations
type ObservationSpace struct {
	NumCandidates int `json:"num_candidates"`
	DocumentDim   int `json:"document_dim"`
	UserDim       int `json:"user_dim"`
}

// ActionSpace describes the valid slates
type ActionSpace struct {
	SlateSize     int `json:"slate_size"`
	NumCandidates int `json:"num_candidates"`
}

// Contains checks that the slate has the right size and holds distinct in-range indices
func (a ActionSpace) Contains(slate Slate) error {
	if len(slate) != a.SlateSize {
		return fmt.Errorf("%w: expected %d documents, got %d", ErrInvalidSlate, a.SlateSize, len(slate))
	}
	seen := make(map[int]bool, len(slate))
	for _, idx := range slate {
		if idx < 0 || idx >= a.NumCandidates {
			return fmt.Errorf("%w: index %d out of range [0, %d)", ErrInvalidSlate, idx, a.NumCandidates)
		}
		if seen[idx] {
			return fmt.Errorf("%w: duplicate index %d", ErrInvalidSlate, idx)
		}
		seen[idx] = true
	}
	return nil
}

// Environment simulating a user session that the recommender interacts with
type Environment interface {
	ObservationSpace() ObservationSpace
	ActionSpace() ActionSpace
	// Reset starts a new episode with a freshly sampled user
	Reset() (*Observation, error)
	// Step shows the slate to the user and returns the next observation,
	// the reward and whether the episode ended
	Step(Slate) (*Observation, float64, bool, error)
	// ResetSampler reseeds the environment randomness to its initial seed
	ResetSampler()
}
