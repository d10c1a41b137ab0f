package ics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agendacomic/internal/events"
	"agendacomic/internal/geo"
	"agendacomic/internal/store"
)

var fixture = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//agendacomic//test//ES",
	"BEGIN:VEVENT",
	"UID:single-1",
	"DTSTAMP:20240101T000000Z",
	"DTSTART:20240510T160000Z",
	"DTEND:20240510T180000Z",
	"SUMMARY:Firma de autores",
	"LOCATION:Librería Central 29006 Málaga",
	"CATEGORIES:Firma",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:weekly-1",
	"DTSTAMP:20240101T000000Z",
	"DTSTART:20240506T170000Z",
	"DTEND:20240506T190000Z",
	"RRULE:FREQ=WEEKLY;COUNT=4",
	"EXDATE:20240513T170000Z",
	"SUMMARY:Club de lectura",
	"LOCATION:Biblioteca Zaragoza",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:allday-1",
	"DTSTAMP:20240101T000000Z",
	"DTSTART;VALUE=DATE:20240601",
	"DTEND;VALUE=DATE:20240603",
	"SUMMARY:Salón",
	"LOCATION:Recinto Ferial Valencia",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"DTSTAMP:20240101T000000Z",
	"DTSTART:20240510T160000Z",
	"SUMMARY:No UID",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

var testSource = Source{ID: "test", URL: "fixture.ics", DefaultType: "Club"}

func parseFixture(t *testing.T) []ParsedEvent {
	t.Helper()
	evs, err := ParseICS(testSource, []byte(fixture))
	if err != nil {
		t.Fatal(err)
	}
	return evs
}

func TestParseICS(t *testing.T) {
	evs := parseFixture(t)
	if len(evs) != 3 {
		t.Fatalf("parsed %d events, want 3 (UID-less skipped)", len(evs))
	}
	single := evs[0]
	if single.UID != "single-1" || single.Summary != "Firma de autores" {
		t.Fatalf("single = %+v", single)
	}
	if len(single.Categories) != 1 || single.Categories[0] != "Firma" {
		t.Fatalf("categories = %v", single.Categories)
	}
	if !single.End.Equal(time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)) {
		t.Fatalf("end = %v", single.End)
	}
	if evs[1].RawRRule == "" || len(evs[1].ExDates) != 1 {
		t.Fatalf("weekly = %+v", evs[1])
	}
	if !evs[2].AllDay {
		t.Fatal("VALUE=DATE event should be all-day")
	}

	if _, err := ParseICS(testSource, nil); err == nil {
		t.Fatal("empty body should fail")
	}
}

func TestExpandOccurrences(t *testing.T) {
	occs, err := ExpandOccurrences(parseFixture(t), ExpandConfig{
		Location:   time.UTC,
		RangeStart: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(occs) != 5 {
		t.Fatalf("got %d occurrences, want 5", len(occs))
	}

	var weekly []int
	for _, o := range occs {
		if o.Event.UID == "weekly-1" {
			weekly = append(weekly, o.Start.Day())
			if o.End.Sub(o.Start) != 2*time.Hour {
				t.Errorf("duration = %v", o.End.Sub(o.Start))
			}
		}
	}
	if len(weekly) != 3 || weekly[0] != 6 || weekly[1] != 20 || weekly[2] != 27 {
		t.Fatalf("weekly days = %v, want [6 20 27] (13 excluded)", weekly)
	}

	allDay := occs[len(occs)-1]
	if allDay.Start.Day() != 1 || allDay.End.Day() != 2 {
		t.Fatalf("all-day = %v .. %v, want Jun 1 .. Jun 2", allDay.Start, allDay.End)
	}

	if _, err := ExpandOccurrences(nil, ExpandConfig{
		RangeStart: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err == nil {
		t.Fatal("inverted range should fail")
	}
}

func TestToDrafts(t *testing.T) {
	occs, err := ExpandOccurrences(parseFixture(t), ExpandConfig{
		Location:   time.UTC,
		RangeStart: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	drafts := ToDrafts(occs)

	first := drafts[0]
	if first.Province != "Málaga" || first.Community != "Andalucía" || first.City != "Málaga" {
		t.Fatalf("location = %q / %q / %q", first.Province, first.Community, first.City)
	}
	if first.Type != "Firma" || first.StartDate != "2024-05-10 16:00:00" {
		t.Fatalf("first = %+v", first)
	}
	if drafts[1].Type != "Club" || drafts[1].Community != "Aragón" {
		t.Fatalf("weekly draft = %+v", drafts[1])
	}
	last := drafts[len(drafts)-1]
	if last.StartDate != "2024-06-01 00:00:00" || last.EndDate != "2024-06-02 00:00:00" {
		t.Fatalf("all-day draft = %q .. %q", last.StartDate, last.EndDate)
	}
}

func TestCityOf(t *testing.T) {
	tests := []struct {
		location, province, want string
	}{
		{"Palacio de Ferias, 29006 Málaga", "Málaga", "Málaga"},
		{"Calle Mayor 3, 28801 Alcalá de Henares, Madrid", "Madrid", "Alcalá de Henares"},
		{"Recinto Ferial Valencia", "Valencia", "Valencia"},
	}
	for _, tt := range tests {
		if got := cityOf(tt.location, tt.province); got != tt.want {
			t.Errorf("cityOf(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestImporterRun(t *testing.T) {
	dir := t.TempDir()
	feed := filepath.Join(dir, "feed.ics")
	if err := os.WriteFile(feed, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	fs := store.New(filepath.Join(dir, "events.json"))
	ctx := context.Background()
	if err := fs.EnsureExists(ctx); err != nil {
		t.Fatal(err)
	}
	svc := events.NewService(fs, nil)

	im := &Importer{
		Fetcher:  NewFetcher(filepath.Join(dir, "cache")),
		Sources:  []Source{{ID: "local", URL: feed}, {ID: "gone", URL: filepath.Join(dir, "missing.ics")}},
		Sink:     svc,
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC) },
	}
	sum, err := im.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Drafts != 5 || sum.Created != 5 || len(sum.FetchErr) != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	// A second run finds only duplicates.
	sum, err = im.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Created != 0 || sum.Skipped != 5 {
		t.Fatalf("second run = %+v", sum)
	}
	stored, _ := fs.Load(ctx)
	if len(stored) != 5 || stored[4].ID != 5 {
		t.Fatalf("stored = %d events", len(stored))
	}
}

type fakeEnricher struct {
	classified []string
	located    []string
	places     map[string]geo.Place
}

func (f *fakeEnricher) Classify(_ context.Context, summary, _ string) (string, error) {
	f.classified = append(f.classified, summary)
	if summary == "Misterio" {
		return "", errors.New("model unavailable")
	}
	return "Taller", nil
}

func (f *fakeEnricher) Locate(_ context.Context, address string) (geo.Place, error) {
	f.located = append(f.located, address)
	p, ok := f.places[address]
	if !ok {
		return geo.Place{}, errors.New("unknown address")
	}
	return p, nil
}

func TestImporterEnrich(t *testing.T) {
	at := func(day int) time.Time { return time.Date(2024, 5, day, 17, 0, 0, 0, time.UTC) }
	occ := func(ev ParsedEvent, day int) Occurrence {
		return Occurrence{Event: ev, Start: at(day), End: at(day).Add(time.Hour)}
	}
	workshop := ParsedEvent{UID: "w", Summary: "Taller de dibujo", Location: "Sala Polivalente, Villarriba"}
	signing := ParsedEvent{UID: "s", Summary: "Firma", Location: "Fnac Callao Madrid", Categories: []string{"Firma"}}
	unknown := ParsedEvent{UID: "u", Summary: "Misterio", Location: "Atlántida"}
	bogus := ParsedEvent{UID: "b", Summary: "Feria", Location: "Villabajo", Categories: []string{"Feria"}}

	occs := []Occurrence{occ(workshop, 6), occ(workshop, 13), occ(signing, 7), occ(unknown, 8), occ(bogus, 9)}
	drafts := ToDrafts(occs)
	enricher := &fakeEnricher{places: map[string]geo.Place{
		"Sala Polivalente, Villarriba": {Province: "Teruel", Community: "Aragón", City: "Villarriba"},
		"Villabajo":                    {Province: "Teruel", Community: "Cataluña", City: "Villabajo"},
	}}
	im := &Importer{Enricher: enricher}

	n, err := im.enrich(context.Background(), occs, drafts)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("enriched = %d, want 2", n)
	}
	for _, d := range drafts[:2] {
		if d.Type != "Taller" || d.Province != "Teruel" || d.Community != "Aragón" || d.City != "Villarriba" {
			t.Fatalf("workshop draft = %+v", d)
		}
	}
	// Categorised and detectable events never reach the model.
	if drafts[2].Type != "Firma" || drafts[2].Province != "Madrid" {
		t.Fatalf("signing draft = %+v", drafts[2])
	}
	if drafts[3].Type != DefaultEventType || drafts[3].Province != "" {
		t.Fatalf("unknown draft = %+v", drafts[3])
	}
	// A pairing that fails geo.Valid is dropped.
	if drafts[4].Province != "" || drafts[4].Community != "" {
		t.Fatalf("bogus draft = %+v", drafts[4])
	}
	if len(enricher.classified) != 2 || len(enricher.located) != 3 {
		t.Fatalf("calls: classify %v, locate %v", enricher.classified, enricher.located)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := im.enrich(ctx, occs, ToDrafts(occs)); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled: err = %v", err)
	}
}
