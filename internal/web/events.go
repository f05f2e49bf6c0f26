package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"campusevents/internal/browse"
	"campusevents/internal/dates"
	"campusevents/internal/ics"
	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/store"
)

type eventsCache struct {
	events    []model.Event
	updatedAt time.Time
}

// eventDTO is an event plus the labels the UI shows on a card.
type eventDTO struct {
	model.Event
	DateLabel      string `json:"dateLabel"`
	ShortDateLabel string `json:"shortDateLabel"`
	RelativeLabel  string `json:"relativeLabel"`
	TimeLabel      string `json:"timeLabel"`
	LocationLabel  string `json:"locationLabel"`
	Emoji          string `json:"emoji"`
}

type eventsResponse struct {
	Events   []eventDTO     `json:"events"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	HasMore  bool           `json:"has_more"`
	Filters  browse.Filters `json:"filters"`
}

// InvalidateEvents drops the cached active-event list.
func (s *Server) InvalidateEvents() {
	s.eventsMu.Lock()
	s.eventsCache = nil
	s.eventsMu.Unlock()
}

func (s *Server) activeEvents(ctx context.Context) ([]model.Event, error) {
	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && time.Since(ec.updatedAt) < eventsCacheTTL {
		return ec.events, nil
	}

	events, err := s.store.ListActiveEvents(ctx, s.cfg.QueryLimit)
	if err != nil {
		return nil, err
	}
	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{events: events, updatedAt: time.Now()}
	s.eventsMu.Unlock()
	return events, nil
}

func (s *Server) toDTO(ev model.Event, now time.Time) eventDTO {
	emoji := s.classifier.Emoji(model.DefaultCategory)
	if len(ev.Category) > 0 {
		emoji = s.classifier.Emoji(ev.Category[0])
	}
	return eventDTO{
		Event:          ev,
		DateLabel:      dates.FormatLong(ev.Date, s.loc),
		ShortDateLabel: dates.FormatShort(ev.Date, s.loc),
		RelativeLabel:  dates.Describe(ev.Date, now),
		TimeLabel:      ev.TimeOrTBD(),
		LocationLabel:  ev.LocationOrTBD(),
		Emoji:          emoji,
	}
}

func (s *Server) toDTOs(evs []model.Event, now time.Time) []eventDTO {
	out := make([]eventDTO, 0, len(evs))
	for _, ev := range evs {
		out = append(out, s.toDTO(ev, now))
	}
	return out
}

// handleEvents lists active events through the filter engine.
//
// GET /api/events?date=&category=&school=&search=&page=
//   - date:     all | today | week | month
//   - category: all | substring of a category
//   - school:   all | substring of the school
//   - search:   free text over name, description, short description, location and school
//   - page:     cumulative page, 1-based; page N returns the first N pages
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := browse.AllFilters()
	if v := strings.TrimSpace(q.Get("date")); v != "" {
		filters.Date = v
	}
	if v := strings.TrimSpace(q.Get("category")); v != "" {
		filters.Category = v
	}
	if v := strings.TrimSpace(q.Get("school")); v != "" {
		filters.School = v
	}
	filters.Search = strings.TrimSpace(q.Get("search"))

	state := browse.NewState(s.cfg.PageSize).WithFilters(filters)
	if page := parseIntDefault(q.Get("page"), 1); page > 1 {
		state.Page = page
	}

	events, err := s.activeEvents(r.Context())
	if err != nil {
		appLog.Error("api events: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	now := s.now().In(s.loc)
	view := state.Evaluate(events, now)
	appLog.Debug("api events", "filters", filters, "page", view.State.Page,
		"input", view.Stats.Input, "matched", view.Stats.Matched)

	writeJSON(w, http.StatusOK, eventsResponse{
		Events:   s.toDTOs(view.Visible, now),
		Total:    len(view.Filtered),
		Page:     view.State.Page,
		PageSize: view.State.PageSize,
		HasMore:  view.HasMore,
		Filters:  view.State.Filters,
	})
}

// handleEvent returns one event and, for a signed-in user, records the view.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.loadEvent(w, r)
	if !ok {
		return
	}
	if id, _ := s.currentIdentity(w, r); id != nil {
		if err := s.store.RecordView(r.Context(), id.UID, ev.ID); err != nil {
			appLog.Error("record view failed", err, "uid", id.UID, "event", ev.ID)
		}
	}
	writeJSON(w, http.StatusOK, s.toDTO(ev, s.now().In(s.loc)))
}

// handleEventICS downloads one event as an .ics file.
func (s *Server) handleEventICS(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.loadEvent(w, r)
	if !ok {
		return
	}
	if !ev.HasDate() {
		writeError(w, http.StatusUnprocessableEntity, "event has no date to export")
		return
	}
	s.writeCalendar(w, ics.Filename(ev.Name), []model.Event{ev})
}

func (s *Server) loadEvent(w http.ResponseWriter, r *http.Request) (model.Event, bool) {
	ev, err := s.store.GetEvent(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return model.Event{}, false
	}
	if err != nil {
		appLog.Error("load event failed", err, "id", r.PathValue("id"))
		writeError(w, http.StatusInternalServerError, "failed to load event")
		return model.Event{}, false
	}
	return ev, true
}

func (s *Server) writeCalendar(w http.ResponseWriter, filename string, evs []model.Event) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	err := ics.ExportEvents(w, evs, ics.ExportOptions{UIDDomain: s.cfg.UIDDomain, Now: s.now()})
	if err != nil {
		appLog.Error("ics export failed", err, "filename", filename)
	}
}
