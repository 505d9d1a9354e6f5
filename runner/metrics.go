package runner

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zeu5/recsim-rl/types"
)

// Metrics exposes Prometheus collectors reporting runner activity per phase
type Metrics struct {
	episodes      *prometheus.CounterVec
	steps         *prometheus.CounterVec
	episodeErrors *prometheus.CounterVec
	episodeReward *prometheus.HistogramVec
	iteration     *prometheus.GaugeVec
	checkpoints   prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics registered with the global Prometheus registry
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the runner collectors with reg, reusing collectors
// that are already registered. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		episodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recsim",
			Subsystem: "runner",
			Name:      "episodes_total",
			Help:      "Episodes run, by phase.",
		}, []string{"phase"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recsim",
			Subsystem: "runner",
			Name:      "steps_total",
			Help:      "Environment steps taken, by phase.",
		}, []string{"phase"}),
		episodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recsim",
			Subsystem: "runner",
			Name:      "episode_failures_total",
			Help:      "Episodes that ended with an error or a timeout, by phase and reason.",
		}, []string{"phase", "reason"}),
		episodeReward: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "recsim",
			Subsystem: "runner",
			Name:      "episode_reward",
			Help:      "Total reward of valid episodes, by phase.",
			Buckets:   prometheus.LinearBuckets(0, 25, 12),
		}, []string{"phase"}),
		iteration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "recsim",
			Subsystem: "runner",
			Name:      "iteration",
			Help:      "Last completed iteration, by phase.",
		}, []string{"phase"}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recsim",
			Subsystem: "runner",
			Name:      "checkpoints_total",
			Help:      "Checkpoints written by the train runner.",
		}),
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}
	m.episodes = register(m.episodes).(*prometheus.CounterVec)
	m.steps = register(m.steps).(*prometheus.CounterVec)
	m.episodeErrors = register(m.episodeErrors).(*prometheus.CounterVec)
	m.episodeReward = register(m.episodeReward).(*prometheus.HistogramVec)
	m.iteration = register(m.iteration).(*prometheus.GaugeVec)
	m.checkpoints = register(m.checkpoints).(prometheus.Counter)
	return m
}

// ObserveEpisode records a finished episode
func (m *Metrics) ObserveEpisode(eCtx *types.EpisodeContext) {
	if m == nil {
		return
	}
	phase := string(eCtx.Phase)
	m.episodes.WithLabelValues(phase).Inc()
	m.steps.WithLabelValues(phase).Add(float64(eCtx.Steps))
	switch {
	case eCtx.TimedOut:
		m.episodeErrors.WithLabelValues(phase, "timeout").Inc()
	case eCtx.Err != nil:
		m.episodeErrors.WithLabelValues(phase, "error").Inc()
	default:
		m.episodeReward.WithLabelValues(phase).Observe(eCtx.Trace.TotalReward())
	}
}

func (m *Metrics) SetIteration(phase types.Phase, iteration int) {
	if m == nil {
		return
	}
	m.iteration.WithLabelValues(string(phase)).Set(float64(iteration))
}

func (m *Metrics) IncCheckpoints() {
	if m == nil {
		return
	}
	m.checkpoints.Inc()
}
