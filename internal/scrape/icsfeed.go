package scrape

import (
	"context"
	"time"

	"campusevents/internal/ics"
	"campusevents/internal/ingest"
)

// ICSSource reads a published calendar feed and expands recurrences over
// [now, now+Horizon).
type ICSSource struct {
	Config   ingest.SourceConfig
	Fetcher  *ics.Fetcher
	Horizon  time.Duration
	Location *time.Location
	Now      func() time.Time
}

func (s *ICSSource) Info() ingest.SourceConfig { return s.Config }

func (s *ICSSource) Fetch(ctx context.Context) ([]ingest.RawEvent, error) {
	res, err := s.Fetcher.Fetch(ctx, ics.Feed{ID: s.Config.ID, URL: s.Config.URL})
	if err != nil {
		return nil, err
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	comps, err := ics.Parse(s.Config.ID, res.Body, loc)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	horizon := s.Horizon
	if horizon <= 0 {
		horizon = 60 * 24 * time.Hour
	}
	occ, err := ics.Expand(comps, ics.Window{Start: now, End: now.Add(horizon), Location: loc})
	if err != nil {
		return nil, err
	}

	out := make([]ingest.RawEvent, 0, len(occ))
	for _, o := range occ {
		out = append(out, rawFromOccurrence(o))
	}
	return out, nil
}

func rawFromOccurrence(o ics.Occurrence) ingest.RawEvent {
	raw := ingest.RawEvent{
		Name:             o.Summary,
		Description:      o.Description,
		Location:         o.Location,
		RegistrationLink: o.URL,
		Categories:       o.Categories,
		Key:              o.Key,
	}
	if o.AllDay {
		raw.Date = o.Start.Format("2006-01-02")
		raw.Time = "All day"
		return raw
	}
	raw.Date = o.Start.Format(time.RFC3339)
	raw.Time = o.Start.Format("3:04 PM")
	if o.End.After(o.Start) {
		raw.Time += " - " + o.End.Format("3:04 PM")
	}
	return raw
}
