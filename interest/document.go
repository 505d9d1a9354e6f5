package interest

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/zeu5/recsim-rl/types"
)

// Document is a video that can be recommended
type Document struct {
	ID       int
	Topic    int
	Features []float64
	Quality  float64
	Length   float64
}

func (d *Document) Observation() types.DocumentObservation {
	features := make([]float64, len(d.Features))
	copy(features, d.Features)
	return types.DocumentObservation{ID: d.ID, Features: features}
}

// TopicQualityMeans spreads the first 70% of the topics over [-3, 0]
// and the rest over [0, 3]
func TopicQualityMeans(numTopics int) []float64 {
	trashy := numTopics * 7 / 10
	nutritious := numTopics - trashy
	means := make([]float64, 0, numTopics)
	means = append(means, span(trashy, -3, 0)...)
	means = append(means, span(nutritious, 0, 3)...)
	return means
}

func span(n int, l, u float64) []float64 {
	switch n {
	case 0:
		return nil
	case 1:
		return []float64{l}
	}
	return floats.Span(make([]float64, n), l, u)
}

type documentSampler struct {
	config     Config
	topicMeans []float64
	rng        *rand.Rand
	nextID     int
}

func newDocumentSampler(config Config, rng *rand.Rand) *documentSampler {
	return &documentSampler{
		config:     config,
		topicMeans: TopicQualityMeans(config.NumTopics),
		rng:        rng,
	}
}

func (s *documentSampler) reset() {
	s.nextID = 0
}

func (s *documentSampler) sample() *Document {
	topic := s.rng.Intn(s.config.NumTopics)
	quality := s.topicMeans[topic]
	if s.config.QualityStddev > 0 {
		quality = distuv.Normal{Mu: s.topicMeans[topic], Sigma: s.config.QualityStddev, Src: s.rng}.Rand()
	}
	features := make([]float64, s.config.NumTopics)
	features[topic] = 1

	doc := &Document{
		ID:       s.nextID,
		Topic:    topic,
		Features: features,
		Quality:  quality,
		Length:   s.config.DocumentLength,
	}
	s.nextID += 1
	return doc
}

func (s *documentSampler) sampleCandidates() []*Document {
	docs := make([]*Document, s.config.NumCandidates)
	for i := range docs {
		docs[i] = s.sample()
	}
	return docs
}
