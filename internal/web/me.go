package web

import (
	"errors"
	"net/http"
	"strings"

	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/store"
)

// profileUpdate is the editable part of a profile.
type profileUpdate struct {
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	School      string   `json:"school"`
	Program     string   `json:"program"`
	Year        string   `json:"year"`
	Interests   []string `json:"interests"`
	CareerGoals []string `json:"careerGoals"`
}

func (p profileUpdate) missing() []string {
	var out []string
	for _, f := range []struct{ name, val string }{
		{"firstName", p.FirstName},
		{"lastName", p.LastName},
		{"school", p.School},
		{"program", p.Program},
		{"year", p.Year},
	} {
		if strings.TrimSpace(f.val) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

var digestFrequencies = map[string]bool{"daily": true, "weekly": true, "monthly": true, "never": true}

func (s *Server) loadUser(w http.ResponseWriter, r *http.Request, uid string) (model.User, bool) {
	u, err := s.store.GetUser(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile not found")
		return model.User{}, false
	}
	if err != nil {
		appLog.Error("load profile failed", err, "uid", uid)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return model.User{}, false
	}
	return u, true
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request, uid string, upd store.Update) bool {
	if err := s.store.UpdateUser(r.Context(), uid, upd); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return false
		}
		appLog.Error("update profile failed", err, "uid", uid)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return false
	}
	return true
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	id := s.requireIdentity(w, r)
	if id == nil {
		return
	}
	if u, ok := s.loadUser(w, r, id.UID); ok {
		writeJSON(w, http.StatusOK, u)
	}
}

// handlePutMe saves the profile form. Name, school, program and year are
// required.
func (s *Server) handlePutMe(w http.ResponseWriter, r *http.Request) {
	id := s.requireIdentity(w, r)
	if id == nil {
		return
	}
	var p profileUpdate
	if err := readJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if missing := p.missing(); len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "missing required fields: "+strings.Join(missing, ", "))
		return
	}
	upd := store.Update{
		"firstName":   strings.TrimSpace(p.FirstName),
		"lastName":    strings.TrimSpace(p.LastName),
		"school":      strings.TrimSpace(p.School),
		"program":     strings.TrimSpace(p.Program),
		"year":        strings.TrimSpace(p.Year),
		"interests":   nonNil(p.Interests),
		"careerGoals": nonNil(p.CareerGoals),
		"updatedAt":   store.ServerTimestamp(),
	}
	if !s.updateUser(w, r, id.UID, upd) {
		return
	}
	if u, ok := s.loadUser(w, r, id.UID); ok {
		writeJSON(w, http.StatusOK, u)
	}
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	id := s.requireIdentity(w, r)
	if id == nil {
		return
	}
	var prefs model.EmailPreferences
	if err := readJSON(w, r, &prefs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !digestFrequencies[prefs.DigestFrequency] {
		writeError(w, http.StatusBadRequest, "digestFrequency must be daily, weekly, monthly or never")
		return
	}
	if prefs.ReminderBefore < 0 {
		writeError(w, http.StatusBadRequest, "reminderBefore must not be negative")
		return
	}
	if !s.updateUser(w, r, id.UID, store.Update{"emailPreferences": prefs, "updatedAt": store.ServerTimestamp()}) {
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// handleListSaved resolves the first saved events for the profile page.
// Events deleted since they were saved are skipped.
func (s *Server) handleListSaved(w http.ResponseWriter, r *http.Request) {
	id := s.requireIdentity(w, r)
	if id == nil {
		return
	}
	u, ok := s.loadUser(w, r, id.UID)
	if !ok {
		return
	}
	ids := u.SavedEvents
	if len(ids) > model.MaxSavedEventsShown {
		ids = ids[:model.MaxSavedEventsShown]
	}
	evs, err := s.store.GetEvents(r.Context(), ids)
	if err != nil {
		appLog.Error("load saved events failed", err, "uid", id.UID)
		writeError(w, http.StatusInternalServerError, "failed to load saved events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": s.toDTOs(evs, s.now().In(s.loc)),
		"total":  len(u.SavedEvents),
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	id := s.requireIdentity(w, r)
	if id == nil {
		return
	}
	ev, ok := s.loadEvent(w, r)
	if !ok {
		return
	}
	if s.updateUser(w, r, id.UID, store.Update{"savedEvents": store.ArrayUnion(ev.ID)}) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleUnsave(w http.ResponseWriter, r *http.Request) {
	id := s.requireIdentity(w, r)
	if id == nil {
		return
	}
	if s.updateUser(w, r, id.UID, store.Update{"savedEvents": store.ArrayRemove(r.PathValue("id"))}) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSavedICS exports every saved event as one calendar.
func (s *Server) handleSavedICS(w http.ResponseWriter, r *http.Request) {
	id := s.requireIdentity(w, r)
	if id == nil {
		return
	}
	u, ok := s.loadUser(w, r, id.UID)
	if !ok {
		return
	}
	evs, err := s.store.GetEvents(r.Context(), u.SavedEvents)
	if err != nil {
		appLog.Error("load saved events failed", err, "uid", id.UID)
		writeError(w, http.StatusInternalServerError, "failed to load saved events")
		return
	}
	s.writeCalendar(w, "saved-events.ics", evs)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
