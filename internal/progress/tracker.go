package progress

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Well-known stat names.
const (
	StatWorkers      = "p"
	StatErrors       = "errors"
	StatScrapedItems = "scraped-items"
)

// TrackerConfig configures the live progress display.
type TrackerConfig struct {
	Title           string
	Output          io.Writer
	Render          bool
	UpdateFrequency time.Duration
	Total           int64
	// Exit terminates the process from Die; defaults to os.Exit.
	Exit func(code int)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Processed int64            `json:"processed"`
	Total     int64            `json:"total"`
	Stats     map[string]int64 `json:"stats"`
}

// Tracker counts processed items and named stats and renders them as a
// single progress line. Mutators are meant for the consuming goroutine;
// Snapshot may be called from anywhere.
type Tracker struct {
	cfg TrackerConfig

	mu        sync.Mutex
	processed int64
	total     int64
	stats     map[string]int64

	writer   progress.Writer
	bar      *progress.Tracker
	rendered chan struct{}
	started  bool
	closed   bool
}

// NewTracker builds a tracker. Nothing is drawn until Start.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Title == "" {
		cfg.Title = "Scraping"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.UpdateFrequency <= 0 {
		cfg.UpdateFrequency = 100 * time.Millisecond
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	return &Tracker{
		cfg:   cfg,
		total: cfg.Total,
		stats: make(map[string]int64),
	}
}

// Start begins rendering on a background goroutine when rendering is enabled.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.closed || !t.cfg.Render {
		return
	}
	t.started = true
	t.writer = progress.NewWriter()
	t.writer.SetOutputWriter(t.cfg.Output)
	t.writer.SetUpdateFrequency(t.cfg.UpdateFrequency)
	t.writer.SetAutoStop(false)
	t.writer.SetMessageLength(64)
	t.writer.SetTrackerPosition(progress.PositionRight)
	t.writer.Style().Visibility.ETA = t.total > 0
	t.bar = &progress.Tracker{
		Message: t.messageLocked(),
		Total:   t.total,
		Units:   progress.UnitsDefault,
	}
	t.writer.AppendTracker(t.bar)
	t.rendered = make(chan struct{})
	go func(w progress.Writer, done chan struct{}) {
		defer close(done)
		w.Render()
	}(t.writer, t.rendered)
}

// Advance counts n more processed items.
func (t *Tracker) Advance(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed += int64(n)
	if t.bar != nil {
		t.bar.Increment(int64(n))
	}
}

// Inc adds one to a named stat.
func (t *Tracker) Inc(stat string) { t.IncBy(stat, 1) }

// IncBy adds n to a named stat.
func (t *Tracker) IncBy(stat string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats[stat] += int64(n)
	t.refreshLocked()
}

// SetStat overwrites a named stat.
func (t *Tracker) SetStat(stat string, v int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats[stat] = v
	t.refreshLocked()
}

// SetTotal records the expected number of items.
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
	if t.bar != nil {
		t.bar.UpdateTotal(total)
	}
}

// Snapshot copies the counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := make(map[string]int64, len(t.stats))
	for k, v := range t.stats {
		stats[k] = v
	}
	return Snapshot{Processed: t.processed, Total: t.total, Stats: stats}
}

// Message renders the stats the way the progress line shows them.
func (t *Tracker) Message() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messageLocked()
}

func (t *Tracker) messageLocked() string {
	if len(t.stats) == 0 {
		return t.cfg.Title
	}
	names := make([]string, 0, len(t.stats))
	for name := range t.stats {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		// The worker count leads, the rest follow alphabetically.
		if names[i] == StatWorkers || names[j] == StatWorkers {
			return names[i] == StatWorkers
		}
		return names[i] < names[j]
	})
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, t.stats[name])
	}
	return fmt.Sprintf("%s (%s)", t.cfg.Title, strings.Join(parts, ", "))
}

func (t *Tracker) refreshLocked() {
	if t.bar != nil {
		t.bar.UpdateMessage(t.messageLocked())
	}
}

// Close stops rendering. failed marks the bar as errored.
func (t *Tracker) Close(failed bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	writer, bar, rendered := t.writer, t.bar, t.rendered
	t.mu.Unlock()

	if writer == nil {
		return
	}
	if failed {
		bar.MarkAsErrored()
	} else {
		bar.MarkAsDone()
	}
	// Give the renderer one tick to draw the final state.
	time.Sleep(t.cfg.UpdateFrequency)
	writer.Stop()
	<-rendered
}

// Die stops rendering, prints lines in red, and exits with status 1.
func (t *Tracker) Die(lines ...string) {
	t.Close(true)
	for _, line := range lines {
		_, _ = fmt.Fprintln(t.cfg.Output, text.FgRed.Sprint(line))
	}
	t.cfg.Exit(1)
}
