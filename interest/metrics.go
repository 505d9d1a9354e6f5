package interest

import (
	"github.com/zeu5/recsim-rl/types"
)

// MetricsAnalyzer aggregates user responses of the analyzed episodes
type MetricsAnalyzer struct {
	impressions    int
	clicks         int
	liked          int
	watchTime      float64
	clickedQuality float64
	clickedTopics  map[int]bool
}

var _ types.Analyzer = &MetricsAnalyzer{}

func NewMetricsAnalyzer() *MetricsAnalyzer {
	return &MetricsAnalyzer{
		clickedTopics: make(map[int]bool),
	}
}

func (m *MetricsAnalyzer) Analyze(eCtx *types.EpisodeContext) {
	for _, step := range eCtx.Trace.Steps() {
		for _, r := range step.Responses {
			m.impressions += 1
			if !r.Clicked {
				continue
			}
			m.clicks += 1
			m.watchTime += r.WatchTime
			m.clickedQuality += r.Quality
			m.clickedTopics[r.Topic] = true
			if r.Liked {
				m.liked += 1
			}
		}
	}
}

func (m *MetricsAnalyzer) Scalars() map[string]float64 {
	out := map[string]float64{
		"Impressions":   float64(m.impressions),
		"Clicks":        float64(m.clicks),
		"TopicCoverage": float64(len(m.clickedTopics)),
	}
	if m.impressions > 0 {
		out["CTR"] = float64(m.clicks) / float64(m.impressions)
	}
	if m.clicks > 0 {
		out["AverageWatchTime"] = m.watchTime / float64(m.clicks)
		out["LikeRate"] = float64(m.liked) / float64(m.clicks)
		out["AverageClickedQuality"] = m.clickedQuality / float64(m.clicks)
	}
	return out
}

func (m *MetricsAnalyzer) Reset() {
	m.impressions = 0
	m.clicks = 0
	m.liked = 0
	m.watchTime = 0
	m.clickedQuality = 0
	m.clickedTopics = make(map[int]bool)
}
