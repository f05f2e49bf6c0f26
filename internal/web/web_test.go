package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/auth"
	"campusevents/internal/config"
	"campusevents/internal/dates"
	"campusevents/internal/metrics"
	"campusevents/internal/model"
	"campusevents/internal/store"
)

var webNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	srv   *Server
	h     http.Handler
	store *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PageSize = 2

	st, err := store.Open(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	st.SetClock(func() time.Time { return webNow })
	t.Cleanup(func() { st.Close() })

	sessions := auth.NewSessions(time.Hour)
	gate := &auth.Gate{
		Policy:   auth.DomainPolicy{Domain: cfg.AllowedDomain},
		Sessions: sessions,
		Profiles: st,
		Now:      func() time.Time { return webNow },
	}
	srv := NewServer(Options{
		Config:   cfg,
		Store:    st,
		Provider: auth.DevProvider{},
		Gate:     gate,
		Sessions: sessions,
		Registry: metrics.NewRegistry(),
		Now:      func() time.Time { return webNow },
	})
	return &fixture{srv: srv, h: srv.Handler(), store: st}
}

func (f *fixture) seed(t *testing.T, evs ...model.Event) []model.Event {
	t.Helper()
	out := make([]model.Event, 0, len(evs))
	for _, ev := range evs {
		saved, err := f.store.PutEvent(context.Background(), ev)
		require.NoError(t, err)
		out = append(out, saved)
	}
	f.srv.InvalidateEvents()
	return out
}

func (f *fixture) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.MaxAge >= 0 {
			return c
		}
	}
	return nil
}

// signIn walks the dev provider flow and returns the response of the final
// step.
func (f *fixture) signIn(t *testing.T, email string) *httptest.ResponseRecorder {
	t.Helper()
	login := f.do(t, http.MethodGet, "/auth/login", "")
	require.Equal(t, http.StatusFound, login.Code)
	loc, err := url.Parse(login.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	stateC := cookieNamed(login, stateCookie)
	require.NotNil(t, stateC)

	form := url.Values{"state": {state}, "email": {email}}
	req := httptest.NewRequest(http.MethodPost, "/auth/dev", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(stateC)
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) session(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := f.signIn(t, email)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	c := cookieNamed(rec, sessionCookie)
	require.NotNil(t, c)
	return c
}

func day(days int) *time.Time {
	d := webNow.AddDate(0, 0, days)
	return &d
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestEvents_PaginationContract(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 5; i++ {
		f.seed(t, model.Event{Name: fmt.Sprintf("Event %d", i), Date: day(i), Category: []string{"general"}, IsActive: true})
	}

	page1 := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events", ""))
	assert.Len(t, page1.Events, 2)
	assert.Equal(t, 5, page1.Total)
	assert.Equal(t, 1, page1.Page)
	assert.Equal(t, 2, page1.PageSize)
	assert.True(t, page1.HasMore)
	assert.Equal(t, "Event 1", page1.Events[0].Name)
	assert.Equal(t, "Tomorrow", page1.Events[0].RelativeLabel)
	assert.Equal(t, dates.FormatShort(page1.Events[0].Date, f.srv.loc), page1.Events[0].ShortDateLabel)
	assert.NotEqual(t, model.DateTBD, page1.Events[0].ShortDateLabel)

	page3 := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?page=3", ""))
	assert.Len(t, page3.Events, 5)
	assert.False(t, page3.HasMore)

	bogus := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?page=abc", ""))
	assert.Equal(t, 1, bogus.Page)

	huge := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?page=9223372036854775807", ""))
	assert.Len(t, huge.Events, 5)
	assert.False(t, huge.HasMore)
	assert.Equal(t, 3, huge.Page, "page is clamped to the last page")
}

func TestEvents_Filters(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		model.Event{Name: "Career Fair", Date: day(2), Category: []string{"career"}, School: "Ross School of Business", IsActive: true},
		model.Event{Name: "Robotics Demo", Date: day(3), Category: []string{"technology"}, School: "College of Engineering", IsActive: true},
		model.Event{Name: "Undated Mixer", Category: []string{"networking"}, IsActive: true},
	)

	career := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?category=career", ""))
	require.Len(t, career.Events, 1)
	assert.Equal(t, "Career Fair", career.Events[0].Name)
	assert.Equal(t, "career", career.Filters.Category)

	tech := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?category=tech&school=engineering", ""))
	require.Len(t, tech.Events, 1)
	assert.Equal(t, "Robotics Demo", tech.Events[0].Name)

	all := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events", ""))
	require.Len(t, all.Events, 2, "page size 2")
	assert.Equal(t, 3, all.Total)

	week := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?date=week", ""))
	assert.Equal(t, 2, week.Total, "undated events never match a date filter")

	search := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?search=mixer&page=2", ""))
	require.Len(t, search.Events, 1)
	assert.Equal(t, model.DateTBD, search.Events[0].DateLabel)
	assert.Equal(t, model.DateTBD, search.Events[0].ShortDateLabel)
	assert.Equal(t, model.DateTBD, search.Events[0].RelativeLabel)
}

func TestEvent_NotFoundAndICS(t *testing.T) {
	f := newFixture(t)
	evs := f.seed(t,
		model.Event{Name: "Pitch Night: Spring", Date: day(4), Description: "Bring, your; deck", IsActive: true},
		model.Event{Name: "Someday", IsActive: true},
	)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/events/nope", "").Code)

	rec := f.do(t, http.MethodGet, "/api/events/"+evs[0].ID+"/ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="Pitch-Night-Spring.ics"`)
	assert.Contains(t, rec.Body.String(), "DTSTART:20250314T150000Z")
	assert.Contains(t, rec.Body.String(), "DTEND:20250314T170000Z")
	assert.Contains(t, rec.Body.String(), `Bring\, your\; deck`)

	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodGet, "/api/events/"+evs[1].ID+"/ics", "").Code)
}

func TestSignIn_RejectsForeignDomain(t *testing.T) {
	f := newFixture(t)
	rec := f.signIn(t, "someone@gmail.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "@umich.edu")
	assert.Nil(t, cookieNamed(rec, sessionCookie))
	assert.Zero(t, f.srv.sessions.Len())

	id, err := auth.DevProvider{}.Exchange(context.Background(), "someone@gmail.com")
	require.NoError(t, err)
	_, err = f.store.GetUser(context.Background(), id.UID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSignIn_StateMismatch(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=abc&code=x", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "different"})
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfileSavedAndViewed(t *testing.T) {
	f := newFixture(t)
	evs := f.seed(t,
		model.Event{Name: "Resume Review", Date: day(1), IsActive: true},
		model.Event{Name: "Case Workshop", Date: day(2), IsActive: true},
	)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/me", "").Code)

	sc := f.session(t, "ada@umich.edu")

	me := decode[model.User](t, f.do(t, http.MethodGet, "/api/me", "", sc))
	assert.Equal(t, "ada@umich.edu", me.Email)
	assert.Equal(t, "ada", me.FirstName)
	assert.Equal(t, "weekly", me.EmailPreferences.DigestFrequency)

	bad := f.do(t, http.MethodPut, "/api/me", `{"firstName":"Ada","lastName":"","school":"Engineering"}`, sc)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Contains(t, bad.Body.String(), "lastName")
	assert.Contains(t, bad.Body.String(), "program")

	ok := f.do(t, http.MethodPut, "/api/me",
		`{"firstName":"Ada","lastName":"Lovelace","school":"Engineering","program":"CS","year":"Senior","interests":["ai"]}`, sc)
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	updated := decode[model.User](t, ok)
	assert.Equal(t, "Lovelace", updated.LastName)
	require.NotNil(t, updated.UpdatedAt)

	prefs := f.do(t, http.MethodPut, "/api/me/preferences", `{"digestFrequency":"daily","eventAlerts":false,"reminderBefore":2}`, sc)
	assert.Equal(t, http.StatusOK, prefs.Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPut, "/api/me/preferences", `{"digestFrequency":"hourly","eventAlerts":true,"reminderBefore":1}`, sc).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/me/saved/"+evs[1].ID, "", sc).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/me/saved/"+evs[1].ID, "", sc).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/me/saved/missing", "", sc).Code)

	saved := decode[struct {
		Events []eventDTO `json:"events"`
		Total  int        `json:"total"`
	}](t, f.do(t, http.MethodGet, "/api/me/saved", "", sc))
	require.Len(t, saved.Events, 1)
	assert.Equal(t, 1, saved.Total)
	assert.Equal(t, "Case Workshop", saved.Events[0].Name)

	cal := f.do(t, http.MethodGet, "/api/me/saved.ics", "", sc)
	assert.Equal(t, 1, strings.Count(cal.Body.String(), "BEGIN:VEVENT"))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/events/"+evs[0].ID, "", sc).Code)
	u, err := f.store.GetUser(context.Background(), me.UID)
	require.NoError(t, err)
	assert.Equal(t, []string{evs[0].ID}, u.ViewedEvents)
	assert.Equal(t, "daily", u.EmailPreferences.DigestFrequency)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/me/saved/"+evs[1].ID, "", sc).Code)
	u, err = f.store.GetUser(context.Background(), me.UID)
	require.NoError(t, err)
	assert.Empty(t, u.SavedEvents)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/auth/logout", "", sc).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/me", "", sc).Code)
}

func TestStaticAndUnknownAPI(t *testing.T) {
	f := newFixture(t)
	root := f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, root.Code)
	assert.Contains(t, root.Body.String(), "Campus Events")

	api := f.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, api.Code)
	assert.Contains(t, api.Header().Get("Content-Type"), "application/json")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", "")
	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "campusevents_http_requests_total")
}
