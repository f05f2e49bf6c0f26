package browse

import (
	"time"

	"campusevents/internal/model"
)

// DefaultPageSize is how many events one "page" reveals.
const DefaultPageSize = 20

// VisibleSlice returns filtered[0 : page*pageSize], clamped to the input
// length. Pages are cumulative: page 2 shows the first 2*pageSize items.
func VisibleSlice(filtered []model.Event, page, pageSize int) []model.Event {
	end := visibleEnd(len(filtered), page, pageSize)
	return filtered[:end:end]
}

// HasMore reports whether advancing would reveal more items.
func HasMore(filtered []model.Event, page, pageSize int) bool {
	if page < 1 || pageSize < 1 {
		return len(filtered) > 0
	}
	return page < Pages(len(filtered), pageSize)
}

// Pages is the number of pages needed to reveal n items.
func Pages(n, pageSize int) int {
	if n <= 0 || pageSize < 1 {
		return 0
	}
	return (n-1)/pageSize + 1
}

func visibleEnd(n, page, pageSize int) int {
	if page < 1 || pageSize < 1 {
		return 0
	}
	if page >= Pages(n, pageSize) {
		return n
	}
	return page * pageSize
}

// State is the explicit browsing state: the filters plus the cumulative page.
// Operations return a new State; nothing is shared between callers.
type State struct {
	Filters  Filters
	Page     int
	PageSize int
}

// NewState returns all-wildcard filters on page 1.
func NewState(pageSize int) State {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return State{Filters: AllFilters(), Page: 1, PageSize: pageSize}
}

// WithFilters replaces the filters and resets to page 1.
func (s State) WithFilters(f Filters) State {
	s.Filters = f
	s.Page = 1
	return s
}

// Clear resets every filter to its wildcard and the page to 1.
func (s State) Clear() State {
	return s.WithFilters(AllFilters())
}

// Advance reveals one more page when more data exists for filtered;
// otherwise it returns s unchanged.
func (s State) Advance(filtered []model.Event) State {
	if !HasMore(filtered, s.Page, s.PageSize) {
		return s
	}
	s.Page++
	return s
}

// View is the result of evaluating a State against a full event list.
type View struct {
	State    State
	Filtered []model.Event
	Visible  []model.Event
	HasMore  bool
	Stats    Stats
}

// Evaluate filters events and slices the visible prefix for s. A page past
// the end is clamped to the last page.
func (s State) Evaluate(events []model.Event, now time.Time) View {
	if s.PageSize <= 0 {
		s.PageSize = DefaultPageSize
	}
	if s.Page < 1 {
		s.Page = 1
	}
	filtered, stats := ApplyWithStats(events, s.Filters, now)
	if last := Pages(len(filtered), s.PageSize); s.Page > last {
		s.Page = max(last, 1)
	}
	return View{
		State:    s,
		Filtered: filtered,
		Visible:  VisibleSlice(filtered, s.Page, s.PageSize),
		HasMore:  HasMore(filtered, s.Page, s.PageSize),
		Stats:    stats,
	}
}
