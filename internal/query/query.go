// Package query filters, sorts and paginates an in-memory event collection.
// Everything here is pure: inputs are never mutated.
package query

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"agendacomic/internal/apierr"
	"agendacomic/internal/geo"
	"agendacomic/internal/model"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ErrNoMatches is returned by Search when the filters match nothing. Callers
// surface it as not-found rather than an empty page.
var ErrNoMatches = apierr.NotFound("no events found for the given criteria")

// Page selects a window of a sorted result.
type Page struct {
	Limit  int
	Offset int
}

// DefaultPage is limit 20, offset 0.
func DefaultPage() Page {
	return Page{Limit: DefaultLimit}
}

func (p Page) Validate() error {
	if p.Limit < 1 || p.Limit > MaxLimit {
		return apierr.Validation("limit must be between 1 and 100")
	}
	if p.Offset < 0 {
		return apierr.Validation("offset must be >= 0")
	}
	return nil
}

// Paginate returns events[offset:offset+limit], clamped. An offset past the
// end yields an empty, non-nil page.
func Paginate(events []model.Event, p Page) []model.Event {
	if p.Offset >= len(events) {
		return []model.Event{}
	}
	end := min(p.Offset+p.Limit, len(events))
	return events[p.Offset:end]
}

// SortByStartDesc returns a copy of events ordered by start date, most recent
// first. Ties keep collection order; records whose start date cannot be
// parsed go last.
func SortByStartDesc(events []model.Event, loc *time.Location) []model.Event {
	type keyed struct {
		ev model.Event
		at time.Time
		ok bool
	}
	ks := make([]keyed, len(events))
	for i, ev := range events {
		t, err := model.ParseDate(ev.StartDate, loc)
		ks[i] = keyed{ev: ev, at: t, ok: err == nil}
	}
	slices.SortStableFunc(ks, func(a, b keyed) int {
		switch {
		case a.ok && !b.ok:
			return -1
		case !a.ok && b.ok:
			return 1
		case !a.ok && !b.ok:
			return 0
		}
		return b.at.Compare(a.at)
	})
	out := make([]model.Event, len(ks))
	for i, k := range ks {
		out[i] = k.ev
	}
	return out
}

// FindByID returns the first event with the given id.
func FindByID(events []model.Event, id int) (model.Event, error) {
	for _, ev := range events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return model.Event{}, apierr.NotFound("event not found")
}

// Criteria are the search filters. Empty strings and nil dates mean "not
// filtered".
type Criteria struct {
	Province  string
	Community string
	City      string
	Type      string
	StartDate *model.Date
	EndDate   *model.Date
}

func (c Criteria) hasRegion() bool {
	return c.Province != "" || c.Community != "" || c.City != ""
}

// Search applies c to events and returns the matches sorted by start date
// descending. now and loc resolve the current-month default and dates
// without an offset.
func Search(events []model.Event, c Criteria, now time.Time, loc *time.Location) ([]model.Event, error) {
	if loc == nil {
		loc = time.UTC
	}
	from, to, ranged := dateWindow(events, c, now.In(loc), loc)

	province, community, city := geo.Fold(c.Province), geo.Fold(c.Community), geo.Fold(c.City)
	typ := strings.ToLower(c.Type)

	matched := make([]model.Event, 0)
	for _, ev := range events {
		if ranged && !overlapsDay(ev, from, to, loc) {
			continue
		}
		if province != "" && !strings.Contains(geo.Fold(ev.Province), province) {
			continue
		}
		if community != "" && !strings.Contains(geo.Fold(ev.Community), community) {
			continue
		}
		if city != "" && !strings.Contains(geo.Fold(ev.City), city) {
			continue
		}
		if typ != "" && !strings.Contains(strings.ToLower(ev.Type), typ) {
			continue
		}
		matched = append(matched, ev)
	}
	if len(matched) == 0 {
		return nil, ErrNoMatches
	}
	return SortByStartDesc(matched, loc), nil
}

// dateWindow resolves the inclusive date range to filter on. A missing bound
// falls back to the earliest/latest date in the whole collection; no bounds
// and no region filter fall back to the current month.
func dateWindow(events []model.Event, c Criteria, now time.Time, loc *time.Location) (model.Date, model.Date, bool) {
	switch {
	case c.StartDate != nil && c.EndDate != nil:
		return *c.StartDate, *c.EndDate, true
	case c.StartDate != nil || c.EndDate != nil:
		lo, hi, ok := collectionBounds(events, loc)
		from, to := lo, hi
		if c.StartDate != nil {
			from = *c.StartDate
		}
		if c.EndDate != nil {
			to = *c.EndDate
		}
		if !ok {
			// No parsable dates anywhere; only the supplied bound is usable.
			if c.StartDate != nil {
				to = *c.StartDate
			} else {
				from = *c.EndDate
			}
		}
		return from, to, true
	case !c.hasRegion():
		first, last := model.MonthBounds(now)
		return first, last, true
	default:
		return model.Date{}, model.Date{}, false
	}
}

func collectionBounds(events []model.Event, loc *time.Location) (model.Date, model.Date, bool) {
	var lo, hi model.Date
	found := false
	for _, ev := range events {
		for _, s := range []string{ev.StartDate, ev.EndDate} {
			t, err := model.ParseDate(s, loc)
			if err != nil {
				continue
			}
			d := model.DateOf(t)
			if !found || d.Before(lo) {
				lo = d
			}
			if !found || d.After(hi) {
				hi = d
			}
			found = true
		}
	}
	return lo, hi, found
}

// overlapsDay reports whether the event's start or end date lies in
// [from, to].
func overlapsDay(ev model.Event, from, to model.Date, loc *time.Location) bool {
	for _, s := range []string{ev.StartDate, ev.EndDate} {
		t, err := model.ParseDate(s, loc)
		if err != nil {
			continue
		}
		if model.DateOf(t).Within(from, to) {
			return true
		}
	}
	return false
}

// ParsePage reads limit/offset query parameters, applying defaults.
func ParsePage(q url.Values) (Page, error) {
	p := DefaultPage()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Page{}, apierr.Validation("limit must be an integer")
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Page{}, apierr.Validation("offset must be an integer")
		}
		p.Offset = n
	}
	if err := p.Validate(); err != nil {
		return Page{}, err
	}
	return p, nil
}

// ParseCriteria reads the search filters from query parameters.
func ParseCriteria(q url.Values) (Criteria, error) {
	c := Criteria{
		Province:  strings.TrimSpace(q.Get("province")),
		Community: strings.TrimSpace(q.Get("community")),
		City:      strings.TrimSpace(q.Get("city")),
		Type:      strings.TrimSpace(q.Get("type")),
	}
	for _, f := range []struct {
		name string
		dst  **model.Date
	}{
		{"start_date", &c.StartDate},
		{"end_date", &c.EndDate},
	} {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		d, err := model.ParseDay(v)
		if err != nil {
			return Criteria{}, apierr.Validation(f.name + " must use the YYYY-MM-DD format")
		}
		*f.dst = &d
	}
	return c, nil
}
