package runner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/zeu5/recsim-rl/types"
	"github.com/zeu5/recsim-rl/util"
)

// SummaryFile is the name of the events file inside a summary directory
const SummaryFile = "events.jsonl"

// SummaryEvent is a single scalar summary line
type SummaryEvent struct {
	Tag      string  `json:"tag"`
	Step     int     `json:"step"`
	Value    float64 `json:"value"`
	WallTime float64 `json:"wall_time"`
}

// FileSummaryWriter buffers scalars and appends them to <dir>/events.jsonl on Flush
type FileSummaryWriter struct {
	dir    string
	path   string
	lock   *sync.Mutex
	buffer []SummaryEvent
}

var _ types.SummaryWriter = &FileSummaryWriter{}

func NewFileSummaryWriter(dir string) (*FileSummaryWriter, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("creating summary dir: %w", err)
	}
	return &FileSummaryWriter{
		dir:    dir,
		path:   filepath.Join(dir, SummaryFile),
		lock:   new(sync.Mutex),
		buffer: make([]SummaryEvent, 0),
	}, nil
}

func (w *FileSummaryWriter) Dir() string {
	return w.dir
}

func (w *FileSummaryWriter) Scalar(tag string, step int, value float64) error {
	if tag == "" {
		return fmt.Errorf("empty summary tag")
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	w.buffer = append(w.buffer, SummaryEvent{
		Tag:      tag,
		Step:     step,
		Value:    value,
		WallTime: float64(time.Now().UnixNano()) / 1e9,
	})
	return nil
}

func (w *FileSummaryWriter) Flush() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if len(w.buffer) == 0 {
		return nil
	}
	lines := make([]string, 0, len(w.buffer))
	for _, e := range w.buffer {
		if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
			// not representable in JSON
			continue
		}
		bs, err := json.Marshal(e)
		if err != nil {
			return err
		}
		lines = append(lines, string(bs))
	}
	if err := util.AppendToFile(w.path, lines...); err != nil {
		return err
	}
	w.buffer = w.buffer[:0]
	return nil
}

// ReadSummaries parses the events file in dir. Malformed lines are skipped.
func ReadSummaries(dir string) ([]SummaryEvent, error) {
	f, err := os.Open(filepath.Join(dir, SummaryFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readSummaries(f)
}

func readSummaries(r io.Reader) ([]SummaryEvent, error) {
	events := make([]SummaryEvent, 0)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e SummaryEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.Tag == "" {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Tags returns the sorted distinct tags of the events
func Tags(events []SummaryEvent) []string {
	seen := make(map[string]bool)
	tags := make([]string, 0)
	for _, e := range events {
		if !seen[e.Tag] {
			seen[e.Tag] = true
			tags = append(tags, e.Tag)
		}
	}
	sort.Strings(tags)
	return tags
}

// Series returns the events of one tag ordered by step. For repeated steps the last written value wins.
func Series(events []SummaryEvent, tag string) []SummaryEvent {
	byStep := make(map[int]SummaryEvent)
	for _, e := range events {
		if e.Tag == tag {
			byStep[e.Step] = e
		}
	}
	series := make([]SummaryEvent, 0, len(byStep))
	for _, e := range byStep {
		series = append(series, e)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Step < series[j].Step })
	return series
}

// PlotTag creates a line plot of one tag against the step
func PlotTag(events []SummaryEvent, tag string) (*plot.Plot, error) {
	series := Series(events, tag)
	if len(series) == 0 {
		return nil, fmt.Errorf("no summaries for tag %q", tag)
	}
	p := plot.New()
	p.Title.Text = tag
	p.X.Label.Text = stepLabel(tag)
	p.Y.Label.Text = tagName(tag)

	points := make(plotter.XYs, len(series))
	for i, e := range series {
		points[i] = plotter.XY{
			X: float64(e.Step),
			Y: e.Value,
		}
	}
	line, err := plotter.NewLine(points)
	if err != nil {
		return nil, err
	}
	line.Color = plotutil.Color(0)
	p.Add(line)
	return p, nil
}

// WritePNG renders the plot of a tag as PNG into w
func WritePNG(w io.Writer, events []SummaryEvent, tag string) error {
	p, err := PlotTag(events, tag)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// PlotSummaries renders one PNG per tag into <dir>/plots
func PlotSummaries(dir string) error {
	events, err := ReadSummaries(dir)
	if err != nil {
		return err
	}
	plotPath := filepath.Join(dir, "plots")
	if err := util.EnsureDir(plotPath); err != nil {
		return err
	}
	for _, tag := range Tags(events) {
		p, err := PlotTag(events, tag)
		if err != nil {
			return err
		}
		if err := p.Save(8*vg.Inch, 5*vg.Inch, filepath.Join(plotPath, PlotFileName(tag))); err != nil {
			return fmt.Errorf("saving plot for %s: %w", tag, err)
		}
	}
	return nil
}

// PlotFileName maps a tag such as Train/AverageEpisodeRewards to Train_AverageEpisodeRewards.png
func PlotFileName(tag string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(tag) + ".png"
}

// stepLabel names the x axis, agent summaries are written per training step
func stepLabel(tag string) string {
	if strings.HasPrefix(tag, "Agent/") {
		return "Training step"
	}
	return "Iteration"
}

func tagName(tag string) string {
	if i := strings.LastIndex(tag, "/"); i >= 0 {
		return tag[i+1:]
	}
	return tag
}
