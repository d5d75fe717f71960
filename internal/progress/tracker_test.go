package progress

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestTrackerCounters verifies counters without rendering.
func TestTrackerCounters(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(TrackerConfig{Total: 3})
	tracker.Start()
	tracker.Advance(1)
	tracker.Advance(2)
	tracker.Inc(StatErrors)
	tracker.IncBy(StatScrapedItems, 7)
	tracker.SetStat(StatWorkers, 2)

	snap := tracker.Snapshot()
	require.EqualValues(t, 3, snap.Processed)
	require.EqualValues(t, 3, snap.Total)
	require.Equal(t, map[string]int64{"errors": 1, "scraped-items": 7, "p": 2}, snap.Stats)

	snap.Stats["errors"] = 99
	require.EqualValues(t, 1, tracker.Snapshot().Stats["errors"])
	tracker.Close(false)
}

// TestTrackerRenders draws to the configured writer and stops on Close.
func TestTrackerRenders(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	tracker := NewTracker(TrackerConfig{
		Title:           "Scraping",
		Output:          out,
		Render:          true,
		UpdateFrequency: 5 * time.Millisecond,
	})
	tracker.Start()
	tracker.Start()
	tracker.SetStat(StatWorkers, 3)
	tracker.Advance(5)

	require.Eventually(t, func() bool {
		return bytes.Contains(out.Bytes(), []byte("p=3"))
	}, time.Second, 5*time.Millisecond)

	tracker.Close(false)
	tracker.Close(false)
}

// TestTrackerDie prints the diagnostic and calls the exit hook.
func TestTrackerDie(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	code := -1
	tracker := NewTracker(TrackerConfig{Output: out, Exit: func(c int) { code = c }})
	tracker.Die("Could not find scraper file!", "second line")

	require.Equal(t, 1, code)
	require.Contains(t, out.String(), "Could not find scraper file!")
	require.Contains(t, out.String(), "second line")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *syncBuffer) String() string { return string(b.Bytes()) }
