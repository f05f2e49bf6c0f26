package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/model"
)

var storeNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	s.SetClock(func() time.Time { return storeNow })
	t.Cleanup(func() { s.Close() })
	return s
}

func dayOffset(days int) *time.Time {
	d := storeNow.AddDate(0, 0, days)
	return &d
}

func TestPutAndGetEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saved, err := s.PutEvent(ctx, model.Event{Name: "Career Fair", Date: dayOffset(1), Category: []string{"career"}, IsActive: true})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	assert.Equal(t, storeNow, saved.CreatedAt)

	got, err := s.GetEvent(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Career Fair", got.Name)
	require.NotNil(t, got.Date)
	assert.True(t, dayOffset(1).Equal(*got.Date))

	_, err = s.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListActiveEvents_OrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	loc, _ := time.LoadLocation("America/Detroit")
	if loc == nil {
		loc = time.FixedZone("EST", -5*3600)
	}
	inDetroit := storeNow.AddDate(0, 0, 2).In(loc)

	fixtures := []model.Event{
		{Name: "third", Date: dayOffset(5), IsActive: true},
		{Name: "undated", IsActive: true},
		{Name: "first", Date: dayOffset(1), IsActive: true},
		{Name: "inactive", Date: dayOffset(0), IsActive: false},
		{Name: "second", Date: &inDetroit, IsActive: true},
	}
	for _, ev := range fixtures {
		_, err := s.PutEvent(ctx, ev)
		require.NoError(t, err)
	}

	events, err := s.ListActiveEvents(ctx, 0)
	require.NoError(t, err)
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"first", "second", "third", "undated"}, names)

	limited, err := s.ListActiveEvents(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestUpsertScraped_UpdatesSameListing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := model.Event{Name: "Pitch Night", Date: dayOffset(3), SourceID: "src", SourceKey: "k1", IsActive: true}
	first, created, err := s.UpsertScraped(ctx, ev)
	require.NoError(t, err)
	assert.True(t, created)

	s.SetClock(func() time.Time { return storeNow.Add(time.Hour) })
	ev.Description = "updated"
	second, created, err := s.UpsertScraped(ctx, ev)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, storeNow, second.CreatedAt)
	assert.Equal(t, storeNow.Add(time.Hour), second.UpdatedAt)

	bySource, err := s.EventsBySource(ctx, "src")
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "updated", bySource[0].Description)

	_, _, err = s.UpsertScraped(ctx, model.Event{Name: "no key"})
	assert.Error(t, err)
}

func TestPruneSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	put := func(name, key string, date *time.Time) model.Event {
		ev, _, err := s.UpsertScraped(ctx, model.Event{Name: name, Date: date, SourceID: "src", SourceKey: key, IsActive: true})
		require.NoError(t, err)
		return ev
	}
	kept := put("kept", "k1", dayOffset(2))
	withdrawn := put("withdrawn", "k2", dayOffset(3))
	past := put("past", "k3", dayOffset(-2))
	other, err := s.PutEvent(ctx, model.Event{Name: "other source", Date: dayOffset(4), SourceID: "elsewhere", SourceKey: "k9"})
	require.NoError(t, err)

	n, err := s.PruneSource(ctx, "src", []string{"k1"}, storeNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetEvent(ctx, withdrawn.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, id := range []string{kept.ID, past.ID, other.ID} {
		_, err := s.GetEvent(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestDeactivatePast(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	past, err := s.PutEvent(ctx, model.Event{Name: "past", Date: dayOffset(-1), IsActive: true})
	require.NoError(t, err)
	_, err = s.PutEvent(ctx, model.Event{Name: "future", Date: dayOffset(1), IsActive: true})
	require.NoError(t, err)
	_, err = s.PutEvent(ctx, model.Event{Name: "undated", IsActive: true})
	require.NoError(t, err)

	n, err := s.DeactivatePast(ctx, storeNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetEvent(ctx, past.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	active, err := s.ListActiveEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestUserUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetUser(ctx, model.User{
		UID:              "u1",
		Email:            "wolverine@umich.edu",
		SavedEvents:      []string{"a"},
		EmailPreferences: model.DefaultEmailPreferences(),
		IsActive:         true,
	}))

	require.NoError(t, s.UpdateUser(ctx, "u1", Update{"savedEvents": ArrayUnion("b", "a", "c")}))
	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, u.SavedEvents)

	require.NoError(t, s.UpdateUser(ctx, "u1", Update{"savedEvents": ArrayRemove("a", "zzz")}))
	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, u.SavedEvents)

	require.NoError(t, s.UpdateUser(ctx, "u1", Update{
		"lastLogin":                       ServerTimestamp(),
		"emailPreferences.reminderBefore": 48,
		"interests":                       ArrayUnion("tech"),
	}))
	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, storeNow, u.LastLogin)
	assert.Equal(t, 48, u.EmailPreferences.ReminderBefore)
	assert.Equal(t, "weekly", u.EmailPreferences.DigestFrequency)
	assert.Equal(t, []string{"tech"}, u.Interests)

	assert.ErrorIs(t, s.UpdateUser(ctx, "nobody", Update{"year": "2"}), ErrNotFound)
}

func TestRecordView_MostRecentFirstAndCapped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, model.User{UID: "u1"}))

	for i := 0; i < 60; i++ {
		require.NoError(t, s.RecordView(ctx, "u1", fmt.Sprintf("e%d", i)))
	}
	require.NoError(t, s.RecordView(ctx, "u1", "e30"))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, u.ViewedEvents, model.MaxViewedEvents)
	assert.Equal(t, "e30", u.ViewedEvents[0])
	assert.Equal(t, "e59", u.ViewedEvents[1])
	count := 0
	for _, id := range u.ViewedEvents {
		if id == "e30" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestGetEvents_SkipsMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a, err := s.PutEvent(ctx, model.Event{Name: "a"})
	require.NoError(t, err)

	got, err := s.GetEvents(ctx, []string{"gone", a.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Name)
}

func TestFind_RejectsBadFieldNames(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Events.Find(context.Background(), Query{Where: []Cond{{Field: "name') OR 1=1 --", Value: "x"}}})
	assert.Error(t, err)
}
