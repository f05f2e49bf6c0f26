package scrape

import (
	"context"
	"errors"
	"sync"
	"time"

	"campusevents/internal/ingest"
	appLog "campusevents/internal/log"
	"campusevents/internal/metrics"
	"campusevents/internal/model"
)

// ErrAlreadyRunning is returned by TryRun while a previous run is active.
var ErrAlreadyRunning = errors.New("scrape: a run is already in progress")

// Upserter is the store surface the runner writes through.
type Upserter interface {
	UpsertScraped(ctx context.Context, ev model.Event) (model.Event, bool, error)
	DeactivatePast(ctx context.Context, now time.Time) (int, error)
	PruneSource(ctx context.Context, sourceID string, keep []string, now time.Time) (int, error)
}

// Result summarizes one source's scrape.
type Result struct {
	SourceID string `json:"source_id"`
	Success  bool   `json:"success"`
	Total    int    `json:"total"`
	Valid    int    `json:"valid"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Removed  int    `json:"removed"`
	Error    string `json:"error,omitempty"`
}

// Runner scrapes sources one after another. A failing source is recorded in
// its Result and never stops the others.
type Runner struct {
	Store      Upserter
	Normalizer ingest.Normalizer
	Now        func() time.Time

	// mu is held for the whole of a run.
	mu sync.Mutex
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// TryRun is Run unless another run is in progress, in which case it returns
// ErrAlreadyRunning immediately.
func (r *Runner) TryRun(ctx context.Context, sources []Source) ([]Result, error) {
	if !r.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer r.mu.Unlock()
	return r.run(ctx, sources), nil
}

// Run scrapes every source, then deactivates events whose date has passed.
// It waits for any run already in progress.
func (r *Runner) Run(ctx context.Context, sources []Source) []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx, sources)
}

func (r *Runner) run(ctx context.Context, sources []Source) []Result {
	results := make([]Result, 0, len(sources))
	for _, src := range sources {
		if ctx.Err() != nil {
			results = append(results, Result{SourceID: src.Info().ID, Error: ctx.Err().Error()})
			continue
		}
		results = append(results, r.RunOne(ctx, src))
	}
	if ctx.Err() == nil {
		if n, err := r.Store.DeactivatePast(ctx, r.now()); err != nil {
			appLog.Error("deactivate past events failed", err)
		} else if n > 0 {
			appLog.Info("deactivated past events", "count", n)
		}
	}
	return results
}

// RunOne scrapes a single source.
func (r *Runner) RunOne(ctx context.Context, src Source) Result {
	info := src.Info()
	res := Result{SourceID: info.ID}
	start := time.Now()
	defer func() {
		metrics.ScrapeDuration.WithLabelValues(info.ID).Observe(time.Since(start).Seconds())
	}()

	raws, err := src.Fetch(ctx)
	if err != nil {
		res.Error = err.Error()
		metrics.IngestEvents.WithLabelValues(info.ID, metrics.OutcomeFailed).Inc()
		appLog.Error("scrape source failed", err, "source", info.ID)
		return res
	}
	res.Total = len(raws)

	batch := r.Normalizer.NormalizeBatch(raws, info, r.now())
	metrics.IngestEvents.WithLabelValues(info.ID, metrics.OutcomeRejected).Add(float64(len(batch.Rejected)))

	keep := make([]string, 0, len(batch.Accepted))
	storeFailed := false
	for _, ev := range batch.Accepted {
		keep = append(keep, ev.SourceKey)
		_, created, err := r.Store.UpsertScraped(ctx, ev)
		if err != nil {
			storeFailed = true
			metrics.IngestEvents.WithLabelValues(info.ID, metrics.OutcomeFailed).Inc()
			appLog.Error("store scraped event failed", err, "source", info.ID, "name", ev.Name)
			continue
		}
		res.Valid++
		if created {
			res.Created++
			metrics.IngestEvents.WithLabelValues(info.ID, metrics.OutcomeCreated).Inc()
		} else {
			res.Updated++
			metrics.IngestEvents.WithLabelValues(info.ID, metrics.OutcomeUpdated).Inc()
		}
	}
	// Upcoming listings that vanished from a healthy scrape were withdrawn.
	// An empty listing is more likely a broken page than a cleared calendar.
	if len(keep) > 0 && !storeFailed {
		n, err := r.Store.PruneSource(ctx, info.ID, keep, r.now())
		if err != nil {
			appLog.Error("prune withdrawn events failed", err, "source", info.ID)
		}
		res.Removed = n
	}
	res.Success = true
	appLog.Info("scrape source done", "source", info.ID, "total", res.Total, "valid", res.Valid,
		"created", res.Created, "updated", res.Updated, "removed", res.Removed, "rejected", len(batch.Rejected))
	return res
}
