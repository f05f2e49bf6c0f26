package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "campusevents/internal/log"
)

// Component is one VEVENT read from a feed, before recurrence expansion.
type Component struct {
	FeedID string

	UID      string
	Sequence int
	Status   string

	Summary     string
	Description string
	Location    string
	URL         string
	Categories  []string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule        string
	ExDates      []time.Time
	RecurrenceID *time.Time
}

// IsOverride reports whether c replaces one instance of a recurring event.
func (c Component) IsOverride() bool {
	return c.RecurrenceID != nil
}

// Cancelled reports STATUS:CANCELLED.
func (c Component) Cancelled() bool {
	return strings.EqualFold(c.Status, "CANCELLED")
}

// Parse reads every VEVENT in body. A malformed VEVENT is logged and skipped;
// only an unreadable calendar is an error. Date-only values without a TZID
// are read in loc.
func Parse(feedID string, body []byte, loc *time.Location) ([]Component, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}
	if loc == nil {
		loc = time.Local
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]Component, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		c, err := readEvent(feedID, ve, loc)
		if err != nil {
			appLog.Warn("ics vevent skipped", "feed", feedID, "err", err)
			continue
		}
		out = append(out, c)
	}
	appLog.Debug("ics parsed", "feed", feedID, "events", len(out))
	return out, nil
}

func readEvent(feedID string, ve *ical.VEvent, loc *time.Location) (Component, error) {
	c := Component{FeedID: feedID}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return c, errors.New("missing UID")
	}
	c.UID = strings.TrimSpace(uid.Value)

	c.Summary = textValue(ve, ical.ComponentPropertySummary)
	c.Description = textValue(ve, ical.ComponentPropertyDescription)
	c.Location = textValue(ve, ical.ComponentPropertyLocation)
	c.URL = textValue(ve, ical.ComponentPropertyUrl)
	c.Status = textValue(ve, ical.ComponentPropertyStatus)
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		c.Sequence, _ = strconv.Atoi(strings.TrimSpace(p.Value))
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, cat := range strings.Split(p.Value, ",") {
			if cat = strings.TrimSpace(unescapeText(cat)); cat != "" {
				c.Categories = append(c.Categories, cat)
			}
		}
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return c, errors.New("missing DTSTART")
	}
	c.AllDay = isDateValue(dtstart)
	if c.AllDay {
		start, err := time.ParseInLocation("20060102", strings.TrimSpace(dtstart.Value), loc)
		if err != nil {
			return c, err
		}
		c.Start = start
		c.End = start.AddDate(0, 0, 1)
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			if end, err := time.ParseInLocation("20060102", strings.TrimSpace(p.Value), loc); err == nil && end.After(start) {
				c.End = end
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return c, err
		}
		c.Start = start
		c.End = start
		if end, err := ve.GetEndAt(); err == nil && end.After(start) {
			c.End = end
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		c.RRule = strings.TrimSpace(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		pl := paramLocation(p, c.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, pl); err == nil {
				c.ExDates = append(c.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, err := parseICSTime(p.Value, paramLocation(p, c.Start.Location())); err == nil {
			c.RecurrenceID = &t
		}
	}
	return c, nil
}

func textValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return strings.TrimSpace(unescapeText(p.Value))
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func paramLocation(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	return fallback
}

// parseICSTime reads DATE, floating DATE-TIME and UTC DATE-TIME values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textUnescaper.Replace(s)
}
