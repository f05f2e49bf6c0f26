// Package dates parses scraped date strings and derives day-relative labels.
package dates

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"campusevents/internal/model"
)

// layouts are tried in order. Layouts without a zone are interpreted in the
// caller's location.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"20060102T150405Z",
	"20060102T150405",
	"20060102",
	"01/02/2006 3:04 PM",
	"01/02/2006 3:04PM",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006 3:04 PM",
	"1/2/2006 15:04",
	"1/2/2006",
	"Monday, January 2, 2006 3:04 PM",
	"Monday, January 2, 2006",
	"Monday, Jan 2, 2006 3:04 PM",
	"Monday, Jan 2, 2006",
	"Mon, January 2, 2006",
	"Mon, Jan 2, 2006 3:04 PM",
	"Mon, Jan 2, 2006",
	"Mon Jan 2 2006",
	"January 2, 2006 3:04 PM",
	"January 2, 2006 3:04PM",
	"January 2, 2006 15:04",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04PM",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
}

var (
	ordinalRe = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// Parse attempts to read raw as a date or date-time. It never fails loudly:
// an unparseable value returns ok=false and callers treat it as "TBD".
func Parse(raw string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	s = spaceRe.ReplaceAllString(s, " ")
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, " at ", " ")
	s = strings.ReplaceAll(strings.ReplaceAll(s, "a.m.", "AM"), "p.m.", "PM")

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
		// Month and meridiem names are case sensitive in time.Parse.
		if t, err := time.ParseInLocation(layout, normalizeCase(s), loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeCase title-cases words and upper-cases am/pm so that "JAN 5, 2025
// 3:00 pm" matches the layouts above.
func normalizeCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		lw := strings.ToLower(w)
		switch {
		case lw == "am" || lw == "pm":
			words[i] = strings.ToUpper(w)
		case strings.HasSuffix(lw, "am") || strings.HasSuffix(lw, "pm"):
			words[i] = lw[:len(lw)-2] + strings.ToUpper(lw[len(lw)-2:])
		default:
			words[i] = strings.ToUpper(lw[:1]) + lw[1:]
		}
	}
	return strings.Join(words, " ")
}

// Midnight truncates t to 00:00 of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysUntil returns the whole-day difference between t's day and now's day,
// both evaluated in now's location. Today is 0, tomorrow 1, yesterday -1.
func DaysUntil(t, now time.Time) int {
	a := Midnight(t.In(now.Location()))
	b := Midnight(now)
	// Compare calendar dates rather than durations so DST days count as one.
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ad.Sub(bd).Hours() / 24)
}

// RelativeLabel renders a day difference for event cards.
func RelativeLabel(days int) string {
	switch {
	case days < 0:
		return "Past event"
	case days == 0:
		return "Today"
	case days == 1:
		return "Tomorrow"
	case days <= 7:
		return fmt.Sprintf("In %d days", days)
	case days <= 30:
		return fmt.Sprintf("In %d weeks", days/7)
	default:
		return fmt.Sprintf("In %d months", days/30)
	}
}

// Describe is RelativeLabel for an optional date.
func Describe(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return model.DateTBD
	}
	return RelativeLabel(DaysUntil(*t, now))
}

// FormatLong renders "Monday, January 15, 2025".
func FormatLong(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return model.DateTBD
	}
	return inLoc(*t, loc).Format("Monday, January 2, 2006")
}

// FormatShort renders "Mon, Jan 15".
func FormatShort(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return model.DateTBD
	}
	return inLoc(*t, loc).Format("Mon, Jan 2")
}

func inLoc(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t
	}
	return t.In(loc)
}
