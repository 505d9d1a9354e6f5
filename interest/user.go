package interest

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/zeu5/recsim-rl/types"
)

// User is the hidden state of the simulated user
type User struct {
	Interests  []float64
	TimeBudget float64
}

type userModel struct {
	config Config
	rng    *rand.Rand
	user   *User
}

func newUserModel(config Config, rng *rand.Rand) *userModel {
	return &userModel{config: config, rng: rng}
}

// sample draws a new user with uniform interests in [-1, 1]
func (m *userModel) sample() {
	interests := make([]float64, m.config.NumTopics)
	dist := distuv.Uniform{Min: -1, Max: 1, Src: m.rng}
	for i := range interests {
		interests[i] = dist.Rand()
	}
	m.user = &User{
		Interests:  interests,
		TimeBudget: m.config.TimeBudget,
	}
}

func (m *userModel) score(doc *Document) float64 {
	return floats.Dot(m.user.Interests, doc.Features)
}

// choose picks the clicked slate position with a multinomial proportional
// choice model, -1 when the user does not click
func (m *userModel) choose(docs []*Document) int {
	weights := make([]float64, len(docs)+1)
	for i, doc := range docs {
		weights[i] = math.Max(0, m.score(doc)-m.config.MinNormalizer)
	}
	weights[len(docs)] = m.config.NoClickMass
	if floats.Sum(weights) <= 0 {
		return -1
	}
	i, ok := sampleuv.NewWeighted(weights, m.rng).Take()
	if !ok || i == len(docs) {
		return -1
	}
	return i
}

// simulate the response of the user to the slate and update the user state
func (m *userModel) simulate(docs []*Document) []types.Response {
	responses := make([]types.Response, len(docs))
	for i, doc := range docs {
		responses[i] = types.Response{Topic: doc.Topic}
	}

	clicked := m.choose(docs)
	if clicked < 0 {
		m.user.TimeBudget -= m.config.StepPenalty
		return responses
	}

	doc := docs[clicked]
	utility := m.config.UserQualityFactor*m.score(doc) + m.config.DocumentQualityFactor*doc.Quality
	watch := math.Min(m.user.TimeBudget, doc.Length)
	responses[clicked] = types.Response{
		Clicked:   true,
		WatchTime: watch,
		Liked:     utility > 0,
		Quality:   doc.Quality,
		Topic:     doc.Topic,
	}

	m.user.TimeBudget -= m.config.StepPenalty + watch
	m.user.TimeBudget += m.config.BudgetUpdateRate * watch * utility
	m.evolveInterest(doc.Topic)
	return responses
}

// evolveInterest moves the interest in the topic up with probability
// proportional to the current interest, and down otherwise
func (m *userModel) evolveInterest(topic int) {
	interest := m.user.Interests[topic]
	update := m.config.InterestUpdateRate * (1 - interest)
	if m.rng.Float64() < (interest+1)/2 {
		interest += update
	} else {
		interest -= update
	}
	m.user.Interests[topic] = math.Max(-1, math.Min(1, interest))
}

func (m *userModel) terminal() bool {
	return m.user.TimeBudget <= 0
}
