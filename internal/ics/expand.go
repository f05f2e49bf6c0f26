package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "campusevents/internal/log"
)

const defaultMaxPerEvent = 500

// Window bounds recurrence expansion.
type Window struct {
	Start time.Time
	End   time.Time
	// Location is the zone occurrences are reported in; nil means time.Local.
	Location *time.Location
	// MaxPerEvent caps instances generated from one RRULE.
	MaxPerEvent int
}

// Occurrence is one concrete instance of a feed event.
type Occurrence struct {
	FeedID string
	UID    string
	// Key is stable across fetches: UID plus the instance start.
	Key string

	Summary     string
	Description string
	Location    string
	URL         string
	Categories  []string

	Start  time.Time
	End    time.Time
	AllDay bool
}

// Expand turns components into occurrences overlapping [w.Start, w.End).
// RRULEs are expanded with EXDATEs removed, RECURRENCE-ID overrides replace
// the instance they name, and cancelled events or instances are dropped.
// The result is ordered by start time.
func Expand(components []Component, w Window) ([]Occurrence, error) {
	if w.End.Before(w.Start) {
		return nil, errors.New("ics: window end before start")
	}
	if w.Location == nil {
		w.Location = time.Local
	}
	if w.MaxPerEvent <= 0 {
		w.MaxPerEvent = defaultMaxPerEvent
	}

	bases := make(map[string][]Component)
	overrides := make(map[string][]Component)
	var uids []string
	for _, c := range components {
		if c.IsOverride() {
			overrides[c.UID] = append(overrides[c.UID], c)
			continue
		}
		if _, seen := bases[c.UID]; !seen {
			uids = append(uids, c.UID)
		}
		bases[c.UID] = append(bases[c.UID], c)
	}

	var out []Occurrence
	for _, uid := range uids {
		for _, base := range bases[uid] {
			if base.Cancelled() {
				continue
			}
			out = append(out, expandOne(base, overrides[uid], w)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func expandOne(base Component, ovs []Component, w Window) []Occurrence {
	var starts []time.Time
	if base.RRule == "" {
		starts = []time.Time{base.Start}
	} else {
		opt, err := rrule.StrToROption(base.RRule)
		if err != nil {
			appLog.Warn("ics rrule unreadable", "uid", base.UID, "rrule", base.RRule, "err", err)
			return nil
		}
		opt.Dtstart = base.Start
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			appLog.Warn("ics rrule invalid", "uid", base.UID, "err", err)
			return nil
		}
		var set rrule.Set
		set.RRule(r)
		for _, ex := range base.ExDates {
			set.ExDate(ex.In(base.Start.Location()))
		}
		// Widen the lower bound by the event length so instances already in
		// progress at w.Start are kept.
		length := base.End.Sub(base.Start)
		starts = set.Between(w.Start.Add(-length), w.End, true)
		if len(starts) > w.MaxPerEvent {
			appLog.Warn("ics occurrences truncated", "uid", base.UID, "cap", w.MaxPerEvent)
			starts = starts[:w.MaxPerEvent]
		}
	}

	out := make([]Occurrence, 0, len(starts))
	length := base.End.Sub(base.Start)
	for _, s := range starts {
		inst := base
		inst.Start = s
		inst.End = s.Add(length)
		if ov, ok := overrideFor(ovs, s); ok {
			if ov.Cancelled() {
				continue
			}
			inst = ov
		}
		if !overlaps(inst.Start, inst.End, w.Start, w.End) {
			continue
		}
		out = append(out, occurrence(inst, s, w.Location))
	}
	return out
}

func overrideFor(ovs []Component, start time.Time) (Component, bool) {
	for _, ov := range ovs {
		if ov.RecurrenceID != nil && ov.RecurrenceID.Equal(start) {
			return ov, true
		}
	}
	return Component{}, false
}

// overlaps treats zero-length events as points.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// occurrence keys on the original slot so a moved override keeps its key.
func occurrence(c Component, slot time.Time, loc *time.Location) Occurrence {
	start, end := c.Start, c.End
	if !c.AllDay {
		start, end = start.In(loc), end.In(loc)
	}
	return Occurrence{
		FeedID:      c.FeedID,
		UID:         c.UID,
		Key:         c.UID + "@" + slot.UTC().Format("20060102T150405Z"),
		Summary:     c.Summary,
		Description: c.Description,
		Location:    c.Location,
		URL:         c.URL,
		Categories:  c.Categories,
		Start:       start,
		End:         end,
		AllDay:      c.AllDay,
	}
}
