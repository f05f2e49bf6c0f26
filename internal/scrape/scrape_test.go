package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/config"
	"campusevents/internal/ics"
	"campusevents/internal/ingest"
	"campusevents/internal/store"
)

var scrapeNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	id   string
	raws []ingest.RawEvent
	err  error
}

func (f fakeSource) Info() ingest.SourceConfig {
	return ingest.SourceConfig{ID: f.id, Name: f.id, School: "Engineering"}
}

func (f fakeSource) Fetch(context.Context) ([]ingest.RawEvent, error) {
	return f.raws, f.err
}

func newRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "scrape.db"))
	require.NoError(t, err)
	st.SetClock(func() time.Time { return scrapeNow })
	t.Cleanup(func() { st.Close() })
	return &Runner{
		Store:      st,
		Normalizer: ingest.Normalizer{Location: time.UTC},
		Now:        func() time.Time { return scrapeNow },
	}, st
}

func TestRunner_IsolatesFailuresAndCounts(t *testing.T) {
	r, st := newRunner(t)
	good := fakeSource{id: "good", raws: []ingest.RawEvent{
		{Name: "Startup Pitch Night", Date: "March 12, 2025", Description: "Meet founders"},
		{Name: "", Date: "March 12, 2025"},
		{Name: "Mystery", Date: "someday"},
		{Name: "Career Fair", Date: "2025-03-20", Location: "Union"},
	}}
	bad := fakeSource{id: "bad", err: errors.New("timeout")}

	results := r.Run(context.Background(), []Source{bad, good})
	require.Len(t, results, 2)

	assert.Equal(t, "bad", results[0].SourceID)
	assert.False(t, results[0].Success)
	assert.Equal(t, "timeout", results[0].Error)

	assert.True(t, results[1].Success)
	assert.Equal(t, 4, results[1].Total)
	assert.Equal(t, 2, results[1].Valid)
	assert.Equal(t, 2, results[1].Created)

	events, err := st.EventsBySource(context.Background(), "good")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Startup Pitch Night", events[0].Name)
	assert.Contains(t, events[0].Category, "entrepreneurship")
	assert.Equal(t, "Engineering", events[1].School)

	again := r.Run(context.Background(), []Source{good})
	assert.Equal(t, 0, again[0].Created)
	assert.Equal(t, 2, again[0].Updated)
}

func TestRunner_TryRunSkipsWhenBusy(t *testing.T) {
	r, _ := newRunner(t)
	r.mu.Lock()
	_, err := r.TryRun(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	r.mu.Unlock()
	res, err := r.TryRun(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

// gatedSource blocks in Fetch until release is closed.
type gatedSource struct {
	fakeSource
	entered chan struct{}
	release chan struct{}
}

func (g gatedSource) Fetch(ctx context.Context) ([]ingest.RawEvent, error) {
	close(g.entered)
	<-g.release
	return g.raws, g.err
}

func TestRunner_RunAndTryRunNeverOverlap(t *testing.T) {
	r, _ := newRunner(t)
	src := gatedSource{
		fakeSource: fakeSource{id: "slow"},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), []Source{src})
		close(done)
	}()
	<-src.entered

	_, err := r.TryRun(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning, "TryRun during Run")

	close(src.release)
	<-done

	_, err = r.TryRun(context.Background(), nil)
	assert.NoError(t, err, "lock released after Run")
}

func TestRunner_PrunesWithdrawnListings(t *testing.T) {
	r, st := newRunner(t)
	ctx := context.Background()
	first := fakeSource{id: "club", raws: []ingest.RawEvent{
		{Name: "Robotics Demo", Date: "2025-03-20"},
		{Name: "Hack Night", Date: "2025-03-21"},
	}}
	res := r.Run(ctx, []Source{first})
	require.Equal(t, 2, res[0].Created)

	second := fakeSource{id: "club", raws: []ingest.RawEvent{
		{Name: "Robotics Demo", Date: "2025-03-20"},
	}}
	res = r.Run(ctx, []Source{second})
	assert.Equal(t, 1, res[0].Updated)
	assert.Equal(t, 1, res[0].Removed)

	events, err := st.EventsBySource(ctx, "club")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Robotics Demo", events[0].Name)

	empty := r.Run(ctx, []Source{fakeSource{id: "club"}})
	assert.True(t, empty[0].Success)
	assert.Zero(t, empty[0].Removed, "an empty listing never prunes")
	events, err = st.EventsBySource(ctx, "club")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRunner_CancelledContextRecordsEverySource(t *testing.T) {
	r, _ := newRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Run(ctx, []Source{fakeSource{id: "a"}, fakeSource{id: "b"}})
	require.Len(t, res, 2)
	assert.False(t, res[0].Success)
	assert.NotEmpty(t, res[1].Error)
}

func TestICSSource(t *testing.T) {
	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:club-1",
		"DTSTART:20250311T220000Z",
		"DTEND:20250311T230000Z",
		"RRULE:FREQ=WEEKLY;COUNT=3",
		"SUMMARY:Robotics Club",
		"LOCATION:Zoom",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:fair",
		"DTSTART;VALUE=DATE:20250314",
		"SUMMARY:Spring Career Fair",
		"CATEGORIES:Career,Recruiting",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n") + "\r\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	src := &ICSSource{
		Config:   ingest.SourceConfig{ID: "cal", URL: srv.URL + "/feed.ics"},
		Fetcher:  ics.NewFetcher(t.TempDir(), "test"),
		Horizon:  14 * 24 * time.Hour,
		Location: time.UTC,
		Now:      func() time.Time { return scrapeNow },
	}
	raws, err := src.Fetch(context.Background())
	require.NoError(t, err)

	// Weekly instances on 3/11, 3/18 fall inside the two-week horizon; 3/25 does not.
	require.Len(t, raws, 3)
	assert.Equal(t, "Robotics Club", raws[0].Name)
	assert.Equal(t, "2025-03-11T22:00:00Z", raws[0].Date)
	assert.Equal(t, "10:00 PM - 11:00 PM", raws[0].Time)
	assert.Equal(t, "club-1@20250311T220000Z", raws[0].Key)
	assert.Equal(t, "Spring Career Fair", raws[1].Name)
	assert.Equal(t, "2025-03-14", raws[1].Date)
	assert.Equal(t, "All day", raws[1].Time)
	assert.Equal(t, []string{"Career", "Recruiting"}, raws[1].Categories)

	n := ingest.Normalizer{Location: time.UTC}
	ev, err := n.Normalize(raws[0], src.Info(), scrapeNow)
	require.NoError(t, err)
	assert.Equal(t, "virtual", ev.LocationType)
	assert.Equal(t, "club-1@20250311T220000Z", ev.SourceKey)

	fair, err := n.Normalize(raws[1], src.Info(), scrapeNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"career", "recruiting"}, fair.Category, "feed categories are merged")
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.Sources = []config.SourceConfig{
		{ID: "cal", Type: config.SourceICS, URL: "https://x.edu/feed.ics"},
		{ID: "page", Type: config.SourceHTML, URL: "https://x.edu/events", Selectors: &config.Selectors{Item: ".e", Title: "h3", Date: "time"}},
	}
	sources, err := FromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.IsType(t, &ICSSource{}, sources[0])
	assert.IsType(t, &HTMLSource{}, sources[1])

	cfg.Sources = []config.SourceConfig{{ID: "page", Type: config.SourceHTML, URL: "https://x.edu"}}
	_, err = FromConfig(cfg)
	assert.Error(t, err)
}

func TestHTMLSource_ScriptEmbedsSelectors(t *testing.T) {
	h := &HTMLSource{Selectors: config.Selectors{Item: ".event-card", Title: "h3 a", Date: "time"}}
	js, err := h.script()
	require.NoError(t, err)
	assert.Contains(t, js, `"item":".event-card"`)
	assert.Contains(t, js, `"title":"h3 a"`)
	assert.Contains(t, js, "registrationLink")
}
