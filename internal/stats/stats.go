// Package stats aggregates the collection into per-year counts for the
// /stats endpoint and the rendered graph.
package stats

import (
	"slices"
	"time"

	"agendacomic/internal/model"
)

// YearCounts maps year → number of events.
type YearCounts map[int]int

// Report holds every aggregation. Each YearCounts is filled with zeroes over
// the full [FirstYear, LastYear] range.
type Report struct {
	FirstYear int `json:"first_year"`
	LastYear  int `json:"last_year"`
	Total     int `json:"total"`

	ByCommunity     map[string]YearCounts            `json:"by_community"`
	ByProvince      map[string]YearCounts            `json:"by_province"`
	ByCommunityType map[string]map[string]YearCounts `json:"by_community_type"`
	ByProvinceType  map[string]map[string]YearCounts `json:"by_province_type"`
}

// Compute builds a Report. Events whose start date cannot be parsed are not
// counted.
func Compute(events []model.Event, loc *time.Location) Report {
	r := Report{
		ByCommunity:     map[string]YearCounts{},
		ByProvince:      map[string]YearCounts{},
		ByCommunityType: map[string]map[string]YearCounts{},
		ByProvinceType:  map[string]map[string]YearCounts{},
	}

	seen := false
	for _, ev := range events {
		t, err := model.ParseDate(ev.StartDate, loc)
		if err != nil {
			continue
		}
		y := t.Year()
		if !seen || y < r.FirstYear {
			r.FirstYear = y
		}
		if !seen || y > r.LastYear {
			r.LastYear = y
		}
		seen = true
		r.Total++

		inc(r.ByCommunity, ev.Community, y)
		inc(r.ByProvince, ev.Province, y)
		inc(nested(r.ByCommunityType, ev.Community), ev.Type, y)
		inc(nested(r.ByProvinceType, ev.Province), ev.Type, y)
	}
	if !seen {
		return r
	}

	for _, yc := range r.ByCommunity {
		fill(yc, r.FirstYear, r.LastYear)
	}
	for _, yc := range r.ByProvince {
		fill(yc, r.FirstYear, r.LastYear)
	}
	for _, types := range r.ByCommunityType {
		for _, yc := range types {
			fill(yc, r.FirstYear, r.LastYear)
		}
	}
	for _, types := range r.ByProvinceType {
		for _, yc := range types {
			fill(yc, r.FirstYear, r.LastYear)
		}
	}
	return r
}

// Years lists the report's year range in order.
func (r Report) Years() []int {
	if r.Total == 0 {
		return nil
	}
	out := make([]int, 0, r.LastYear-r.FirstYear+1)
	for y := r.FirstYear; y <= r.LastYear; y++ {
		out = append(out, y)
	}
	return out
}

// Series is one named row of a chart.
type Series struct {
	Name   string
	Counts []int
	Total  int
}

// TopCommunities returns the n communities with the most events, with
// per-year counts aligned to Years(). Ties sort by name.
func (r Report) TopCommunities(n int) []Series {
	return top(r.ByCommunity, r.Years(), n)
}

// TopProvinces is TopCommunities for provinces.
func (r Report) TopProvinces(n int) []Series {
	return top(r.ByProvince, r.Years(), n)
}

func top(m map[string]YearCounts, years []int, n int) []Series {
	out := make([]Series, 0, len(m))
	for name, yc := range m {
		s := Series{Name: name, Counts: make([]int, len(years))}
		for i, y := range years {
			s.Counts[i] = yc[y]
			s.Total += yc[y]
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Series) int {
		if a.Total != b.Total {
			return b.Total - a.Total
		}
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func inc(m map[string]YearCounts, key string, year int) {
	yc, ok := m[key]
	if !ok {
		yc = YearCounts{}
		m[key] = yc
	}
	yc[year]++
}

func nested(m map[string]map[string]YearCounts, key string) map[string]YearCounts {
	inner, ok := m[key]
	if !ok {
		inner = map[string]YearCounts{}
		m[key] = inner
	}
	return inner
}

func fill(yc YearCounts, first, last int) {
	for y := first; y <= last; y++ {
		if _, ok := yc[y]; !ok {
			yc[y] = 0
		}
	}
}
