// Package browse implements the in-memory event filter and the cumulative
// "load more" pagination used by the event list.
package browse

import (
	"strings"
	"time"

	"campusevents/internal/dates"
	"campusevents/internal/model"
)

// Wildcard is the "no restriction" value for the date, category and school
// filters. An empty string is treated the same way.
const Wildcard = "all"

// Date filter keys.
const (
	DateToday = "today"
	DateWeek  = "week"
	DateMonth = "month"
)

// Filters is the four-key filter state. Keys combine with AND.
type Filters struct {
	Date     string `json:"date"`
	Category string `json:"category"`
	School   string `json:"school"`
	Search   string `json:"search"`
}

// AllFilters returns the all-wildcard state.
func AllFilters() Filters {
	return Filters{Date: Wildcard, Category: Wildcard, School: Wildcard, Search: ""}
}

// IsWildcard reports whether every key is unrestricted.
func (f Filters) IsWildcard() bool {
	return isWild(f.Date) && isWild(f.Category) && isWild(f.School) && strings.TrimSpace(f.Search) == ""
}

func isWild(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, Wildcard)
}

// Stats counts, per predicate, how many events it removed. An event is
// attributed to the first predicate it failed.
type Stats struct {
	Input          int
	Matched        int
	FilteredDate   int
	FilteredCat    int
	FilteredSchool int
	FilteredSearch int
}

// Apply returns the order-preserving subsequence of events matching f.
// The input slice is never modified. Date ranges are evaluated relative to
// midnight of now's day in now's location.
func Apply(events []model.Event, f Filters, now time.Time) []model.Event {
	out, _ := ApplyWithStats(events, f, now)
	return out
}

// ApplyWithStats is Apply plus per-predicate counters.
func ApplyWithStats(events []model.Event, f Filters, now time.Time) ([]model.Event, Stats) {
	p := compile(f, now)
	stats := Stats{Input: len(events)}
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		switch {
		case !p.matchDate(ev):
			stats.FilteredDate++
		case !p.matchCategory(ev):
			stats.FilteredCat++
		case !p.matchSchool(ev):
			stats.FilteredSchool++
		case !p.matchSearch(ev):
			stats.FilteredSearch++
		default:
			out = append(out, ev)
		}
	}
	stats.Matched = len(out)
	return out, stats
}

// predicate is Filters pre-lowered and with the date window resolved.
type predicate struct {
	dateActive bool
	from, to   time.Time // [from, to); zero to means open ended

	category string
	school   string
	search   string
}

func compile(f Filters, now time.Time) predicate {
	var p predicate
	if !isWild(f.Date) {
		p.dateActive = true
		today := dates.Midnight(now)
		p.from = today
		switch strings.ToLower(strings.TrimSpace(f.Date)) {
		case DateToday:
			p.to = today.AddDate(0, 0, 1)
		case DateWeek:
			p.to = today.AddDate(0, 0, 7)
		case DateMonth:
			p.to = today.AddDate(0, 1, 0)
		default:
			// Unknown key: only require that a date exists.
			p.from = time.Time{}
		}
	}
	if !isWild(f.Category) {
		p.category = strings.ToLower(strings.TrimSpace(f.Category))
	}
	if !isWild(f.School) {
		p.school = strings.ToLower(strings.TrimSpace(f.School))
	}
	p.search = strings.ToLower(strings.TrimSpace(f.Search))
	return p
}

func (p predicate) matchDate(ev model.Event) bool {
	if !p.dateActive {
		return true
	}
	if !ev.HasDate() {
		return false
	}
	d := *ev.Date
	if !p.from.IsZero() && d.Before(p.from) {
		return false
	}
	if !p.to.IsZero() && !d.Before(p.to) {
		return false
	}
	return true
}

func (p predicate) matchCategory(ev model.Event) bool {
	if p.category == "" {
		return true
	}
	for _, cat := range ev.Category {
		if strings.Contains(strings.ToLower(cat), p.category) {
			return true
		}
	}
	return false
}

func (p predicate) matchSchool(ev model.Event) bool {
	if p.school == "" {
		return true
	}
	return strings.Contains(strings.ToLower(ev.School), p.school)
}

func (p predicate) matchSearch(ev model.Event) bool {
	if p.search == "" {
		return true
	}
	for _, field := range [...]string{ev.Name, ev.Description, ev.ShortDescription, ev.Location, ev.School} {
		if strings.Contains(strings.ToLower(field), p.search) {
			return true
		}
	}
	return false
}
