// Package scrape pulls raw listings from configured sources, normalizes
// them and upserts the results into the store.
package scrape

import (
	"context"
	"fmt"
	"time"

	"campusevents/internal/config"
	"campusevents/internal/ics"
	"campusevents/internal/ingest"
)

// Source yields raw listings for one configured origin.
type Source interface {
	Info() ingest.SourceConfig
	Fetch(ctx context.Context) ([]ingest.RawEvent, error)
}

func infoFrom(sc config.SourceConfig) ingest.SourceConfig {
	return ingest.SourceConfig{
		ID:       sc.ID,
		Name:     sc.Name,
		URL:      sc.URL,
		School:   sc.School,
		Category: sc.Category,
	}
}

// FromConfig builds one Source per configured entry.
func FromConfig(cfg *config.Config) ([]Source, error) {
	fetcher := ics.NewFetcher(cfg.CacheDir, cfg.UserAgent)
	horizon := time.Duration(cfg.HorizonDays) * 24 * time.Hour
	out := make([]Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		switch sc.Type {
		case config.SourceHTML:
			if sc.Selectors == nil {
				return nil, fmt.Errorf("scrape: source %q has no selectors", sc.ID)
			}
			out = append(out, &HTMLSource{
				Config:    infoFrom(sc),
				Selectors: *sc.Selectors,
				UserAgent: cfg.UserAgent,
			})
		case config.SourceICS:
			out = append(out, &ICSSource{
				Config:   infoFrom(sc),
				Fetcher:  fetcher,
				Horizon:  horizon,
				Location: cfg.Location(),
			})
		default:
			return nil, fmt.Errorf("scrape: source %q: unknown type %q", sc.ID, sc.Type)
		}
	}
	return out, nil
}
