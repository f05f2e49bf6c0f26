// Package store is the document store behind the app: two JSON document
// collections (events, users) kept in an embedded sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	appLog "campusevents/internal/log"
	"campusevents/internal/model"
)

// DefaultQueryLimit bounds the active-events query, like the page size of
// the hosted backend the app was designed around.
const DefaultQueryLimit = 100

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		doc        TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_active_date
		ON events (json_extract(doc, '$.isActive'), json_extract(doc, '$.date'))`,
	`CREATE INDEX IF NOT EXISTS events_source
		ON events (json_extract(doc, '$.sourceId'), json_extract(doc, '$.sourceKey'))`,
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		doc        TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// Store owns the database handle and the two collections.
type Store struct {
	db     *sql.DB
	Events *Collection
	Users  *Collection

	now func() time.Time
}

// Open opens (creating if necessary) the sqlite database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: database path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}

	s := &Store{db: db, now: time.Now}
	clock := func() time.Time { return s.now() }
	s.Events = &Collection{db: db, table: "events", now: clock}
	s.Users = &Collection{db: db, table: "users", now: clock}

	appLog.Info("store opened", "path", path)
	return s, nil
}

// SetClock overrides the time source used for timestamps (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetEvent loads one event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (model.Event, error) {
	var ev model.Event
	if err := s.Events.Get(ctx, id, &ev); err != nil {
		return model.Event{}, err
	}
	ev.ID = id
	return ev, nil
}

// PutEvent writes ev, assigning a new id when ev.ID is empty.
func (s *Store) PutEvent(ctx context.Context, ev model.Event) (model.Event, error) {
	now := s.now()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	ev = canonicalDate(ev)
	if err := s.Events.Set(ctx, ev.ID, ev); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// canonicalDate stores dates in UTC at second precision so that ordering
// by the JSON text matches ordering by instant.
func canonicalDate(ev model.Event) model.Event {
	if ev.Date != nil {
		d := ev.Date.UTC().Truncate(time.Second)
		ev.Date = &d
	}
	return ev
}

// UpsertScraped inserts ev or updates the event previously scraped from the
// same source listing (matched on SourceID + SourceKey). The stored id and
// CreatedAt survive updates.
func (s *Store) UpsertScraped(ctx context.Context, ev model.Event) (model.Event, bool, error) {
	if ev.SourceID == "" || ev.SourceKey == "" {
		return model.Event{}, false, errors.New("store: scraped event needs sourceId and sourceKey")
	}
	docs, err := s.Events.Find(ctx, Query{
		Where: []Cond{{Field: "sourceId", Value: ev.SourceID}, {Field: "sourceKey", Value: ev.SourceKey}},
		Limit: 1,
	})
	if err != nil {
		return model.Event{}, false, err
	}
	created := true
	if len(docs) > 0 {
		var prev model.Event
		if err := json.Unmarshal(docs[0].Data, &prev); err != nil {
			return model.Event{}, false, fmt.Errorf("store: decode events/%s: %w", docs[0].ID, err)
		}
		ev.ID = docs[0].ID
		ev.CreatedAt = prev.CreatedAt
		created = false
	} else {
		ev.ID = ""
		ev.CreatedAt = time.Time{}
	}
	saved, err := s.PutEvent(ctx, ev)
	return saved, created, err
}

// ListActiveEvents returns active events by ascending date, undated events
// last, capped at limit (DefaultQueryLimit when <= 0).
func (s *Store) ListActiveEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	docs, err := s.Events.Find(ctx, Query{
		Where:   []Cond{{Field: "isActive", Value: true}},
		OrderBy: "date",
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return decodeEvents(docs)
}

// EventsBySource returns every event scraped from sourceID.
func (s *Store) EventsBySource(ctx context.Context, sourceID string) ([]model.Event, error) {
	docs, err := s.Events.Find(ctx, Query{
		Where:   []Cond{{Field: "sourceId", Value: sourceID}},
		OrderBy: "date",
	})
	if err != nil {
		return nil, err
	}
	return decodeEvents(docs)
}

// PruneSource deletes upcoming events from sourceID whose source key is not
// in keep. Past and undated events are left alone.
func (s *Store) PruneSource(ctx context.Context, sourceID string, keep []string, now time.Time) (int, error) {
	events, err := s.EventsBySource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}
	n := 0
	for _, ev := range events {
		if kept[ev.SourceKey] || !ev.HasDate() || !ev.Date.After(now) {
			continue
		}
		if err := s.Events.Delete(ctx, ev.ID); err != nil {
			return n, err
		}
		appLog.Debug("pruned withdrawn event", "source", sourceID, "id", ev.ID, "name", ev.Name)
		n++
	}
	return n, nil
}

// GetEvents resolves ids in order, skipping ids that no longer exist.
func (s *Store) GetEvents(ctx context.Context, ids []string) ([]model.Event, error) {
	out := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := s.GetEvent(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// DeactivatePast clears isActive on active events dated before now.
func (s *Store) DeactivatePast(ctx context.Context, now time.Time) (int, error) {
	active, err := s.Events.Find(ctx, Query{Where: []Cond{{Field: "isActive", Value: true}}})
	if err != nil {
		return 0, err
	}
	events, err := decodeEvents(active)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range events {
		if !ev.HasDate() || !ev.Date.Before(now) {
			continue
		}
		err := s.Events.Update(ctx, ev.ID, Update{"isActive": false, "updatedAt": ServerTimestamp()})
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func decodeEvents(docs []Doc) ([]model.Event, error) {
	out := make([]model.Event, 0, len(docs))
	for _, d := range docs {
		var ev model.Event
		if err := json.Unmarshal(d.Data, &ev); err != nil {
			return nil, fmt.Errorf("store: decode events/%s: %w", d.ID, err)
		}
		ev.ID = d.ID
		out = append(out, ev)
	}
	return out, nil
}

// GetUser loads a profile by uid.
func (s *Store) GetUser(ctx context.Context, uid string) (model.User, error) {
	var u model.User
	if err := s.Users.Get(ctx, uid, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// SetUser writes a whole profile.
func (s *Store) SetUser(ctx context.Context, u model.User) error {
	if u.UID == "" {
		return errors.New("store: user uid is empty")
	}
	return s.Users.Set(ctx, u.UID, u)
}

// UpdateUser applies field updates / ops to a profile.
func (s *Store) UpdateUser(ctx context.Context, uid string, upd Update) error {
	return s.Users.Update(ctx, uid, upd)
}

// RecordView moves eventID to the front of the user's viewed list, keeping
// at most model.MaxViewedEvents entries.
func (s *Store) RecordView(ctx context.Context, uid, eventID string) error {
	u, err := s.GetUser(ctx, uid)
	if err != nil {
		return err
	}
	viewed := make([]string, 0, len(u.ViewedEvents)+1)
	viewed = append(viewed, eventID)
	for _, id := range u.ViewedEvents {
		if id != eventID {
			viewed = append(viewed, id)
		}
	}
	if len(viewed) > model.MaxViewedEvents {
		viewed = viewed[:model.MaxViewedEvents]
	}
	return s.UpdateUser(ctx, uid, Update{"viewedEvents": viewed})
}
