package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/zeu5/recsim-rl/runner"
)

const defaultCacheSize = 64

var errUnknownPhase = errors.New("unknown phase")

// Options configures the dashboard server
type Options struct {
	BaseDir string
	Addr    string
	// Store defaults to the file store under <base>/train/checkpoints
	Store            runner.CheckpointStore
	CheckpointPrefix string
	// Gatherer defaults to the global Prometheus registry
	Gatherer  prometheus.Gatherer
	CacheSize int
	Logger    logrus.FieldLogger
}

type cachedSummaries struct {
	modTime time.Time
	size    int64
	events  []runner.SummaryEvent
}

// Server serves the summaries, plots and checkpoints of an experiment base dir
type Server struct {
	baseDir string
	store   runner.CheckpointStore
	logger  logrus.FieldLogger
	cache   *lru.Cache[string, cachedSummaries]
	router  *gin.Engine
	server  *http.Server
}

func NewServer(opts Options) (*Server, error) {
	if opts.BaseDir == "" {
		return nil, fmt.Errorf("dashboard needs a base dir")
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	store := opts.Store
	if store == nil {
		fs, err := runner.NewFileStore(filepath.Join(opts.BaseDir, "train", "checkpoints"), opts.CheckpointPrefix)
		if err != nil {
			return nil, err
		}
		store = fs
	}
	cache, err := lru.New[string, cachedSummaries](opts.CacheSize)
	if err != nil {
		return nil, err
	}

	s := &Server{
		baseDir: opts.BaseDir,
		store:   store,
		logger:  opts.Logger.WithField("component", "dashboard"),
		cache:   cache,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	api := r.Group("/api")
	api.GET("/phases", s.handlePhases)
	api.GET("/phases/:phase/tags", s.handleTags)
	api.GET("/phases/:phase/scalars", s.handleScalars)
	api.GET("/phases/:phase/plot", s.handlePlot)
	api.GET("/checkpoints", s.handleCheckpoints)
	s.router = r

	s.server = &http.Server{
		Addr:    opts.Addr,
		Handler: r,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background until ctx is done
func (s *Server) Start(ctx context.Context) {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("dashboard server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()
}

// Run serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()
	s.logger.WithField("addr", s.server.Addr).Info("serving dashboard")

	select {
	case <-ctx.Done():
		s.shutdown()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
}

// Phases lists the sub directories of the base dir that hold summaries
func (s *Server) Phases() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	phases := make([]string, 0)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.baseDir, e.Name(), "summaries", runner.SummaryFile)); err == nil {
			phases = append(phases, e.Name())
		}
	}
	sort.Strings(phases)
	return phases, nil
}

// summaries returns the parsed events of a phase, re-reading the file only when it changed
func (s *Server) summaries(phase string) ([]runner.SummaryEvent, error) {
	if phase == "" || strings.ContainsAny(phase, `/\`) || strings.HasPrefix(phase, ".") {
		return nil, errUnknownPhase
	}
	dir := filepath.Join(s.baseDir, phase, "summaries")
	path := filepath.Join(dir, runner.SummaryFile)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errUnknownPhase
		}
		return nil, err
	}
	if cached, ok := s.cache.Get(path); ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.events, nil
	}
	events, err := runner.ReadSummaries(dir)
	if err != nil {
		return nil, err
	}
	s.cache.Add(path, cachedSummaries{
		modTime: info.ModTime(),
		size:    info.Size(),
		events:  events,
	})
	return events, nil
}

func (s *Server) phaseSummaries(c *gin.Context) ([]runner.SummaryEvent, bool) {
	phase := c.Param("phase")
	events, err := s.summaries(phase)
	if errors.Is(err, errUnknownPhase) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown phase " + phase})
		return nil, false
	} else if err != nil {
		s.logger.WithError(err).WithField("phase", phase).Error("failed to read summaries")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read summaries"})
		return nil, false
	}
	return events, true
}

func (s *Server) tagSeries(c *gin.Context) ([]runner.SummaryEvent, string, bool) {
	tag := c.Query("tag")
	if tag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing tag"})
		return nil, "", false
	}
	events, ok := s.phaseSummaries(c)
	if !ok {
		return nil, "", false
	}
	series := runner.Series(events, tag)
	if len(series) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown tag " + tag})
		return nil, "", false
	}
	return series, tag, true
}

func (s *Server) handlePhases(c *gin.Context) {
	phases, err := s.Phases()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list phases"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"phases": phases})
}

func (s *Server) handleTags(c *gin.Context) {
	events, ok := s.phaseSummaries(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"phase": c.Param("phase"), "tags": runner.Tags(events)})
}

type point struct {
	Step     int     `json:"step"`
	Value    float64 `json:"value"`
	WallTime float64 `json:"wall_time"`
}

func (s *Server) handleScalars(c *gin.Context) {
	series, tag, ok := s.tagSeries(c)
	if !ok {
		return
	}
	points := make([]point, len(series))
	for i, e := range series {
		points[i] = point{Step: e.Step, Value: e.Value, WallTime: e.WallTime}
	}
	c.JSON(http.StatusOK, gin.H{"phase": c.Param("phase"), "tag": tag, "points": points})
}

func (s *Server) handlePlot(c *gin.Context) {
	series, tag, ok := s.tagSeries(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := runner.WritePNG(&buf, series, tag); err != nil {
		s.logger.WithError(err).WithField("tag", tag).Error("failed to render plot")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render plot"})
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) handleCheckpoints(c *gin.Context) {
	iterations, err := s.store.Iterations(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Error("failed to list checkpoints")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list checkpoints"})
		return
	}
	out := gin.H{"iterations": iterations, "latest": nil}
	if len(iterations) > 0 {
		out["latest"] = iterations[len(iterations)-1]
	}
	c.JSON(http.StatusOK, out)
}
