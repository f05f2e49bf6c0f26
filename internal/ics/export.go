package ics

import (
	"io"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"campusevents/internal/model"
)

// DefaultEventDuration is used for DTEND since stored events carry no end.
const DefaultEventDuration = 2 * time.Hour

// ExportOptions controls calendar export.
type ExportOptions struct {
	ProdID    string
	UIDDomain string
	Now       time.Time
	Duration  time.Duration
}

func (o ExportOptions) withDefaults() ExportOptions {
	if o.ProdID == "" {
		o.ProdID = "-//campusevents//Campus Events//EN"
	}
	if o.UIDDomain == "" {
		o.UIDDomain = "campusevents.local"
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	if o.Duration <= 0 {
		o.Duration = DefaultEventDuration
	}
	return o
}

// ExportEvent renders one event as a VCALENDAR with a single VEVENT.
// Undated events cannot be exported.
func ExportEvent(w io.Writer, ev model.Event, opts ExportOptions) error {
	return ExportEvents(w, []model.Event{ev}, opts)
}

// ExportEvents renders a calendar of the dated events in evs, skipping
// undated ones. An empty calendar is still valid output.
func ExportEvents(w io.Writer, evs []model.Event, opts ExportOptions) error {
	opts = opts.withDefaults()
	cal := ical.NewCalendar()
	cal.SetProductId(opts.ProdID)
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ical.MethodPublish)
	for _, ev := range evs {
		if !ev.HasDate() {
			continue
		}
		addEvent(cal, ev, opts)
	}
	_, err := io.WriteString(w, cal.Serialize())
	return err
}

func addEvent(cal *ical.Calendar, ev model.Event, opts ExportOptions) {
	ve := cal.AddEvent(ev.ID + "@" + opts.UIDDomain)
	ve.SetDtStampTime(opts.Now.UTC())
	start := ev.Date.UTC()
	ve.SetStartAt(start)
	ve.SetEndAt(start.Add(opts.Duration))
	ve.SetSummary(ev.Name)
	if desc := firstNonEmpty(ev.Description, ev.ShortDescription); desc != "" {
		ve.SetDescription(desc)
	}
	ve.SetLocation(ev.LocationOrTBD())
	if link := firstNonEmpty(ev.RegistrationLink, ev.SourceURL); link != "" {
		ve.SetURL(link)
	}
	ve.SetStatus(ical.ObjectStatusConfirmed)
	ve.SetProperty(ical.ComponentPropertySequence, "0")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var nonFilenameRe = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Filename derives a download name from an event title: runs of
// non-alphanumerics become "-", trimmed, at most 50 characters, plus .ics.
func Filename(title string) string {
	s := strings.Trim(nonFilenameRe.ReplaceAllString(title, "-"), "-")
	if len(s) > 50 {
		s = strings.TrimRight(s[:50], "-")
	}
	if s == "" {
		s = "event"
	}
	return s + ".ics"
}
