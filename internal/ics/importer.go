package ics

import (
	"context"
	"errors"
	"time"

	"agendacomic/internal/events"
	"agendacomic/internal/geo"
	appLog "agendacomic/internal/log"
	"agendacomic/internal/model"
)

// Sink receives the drafts of one import run; implemented by the mutation
// pipeline.
type Sink interface {
	Import(ctx context.Context, drafts []model.EventDraft) (events.ImportResult, error)
}

// Enricher fills in what a feed leaves out. Both answers must already be
// valid for the agenda; an error leaves the draft as it was.
type Enricher interface {
	Classify(ctx context.Context, summary, description string) (string, error)
	Locate(ctx context.Context, address string) (geo.Place, error)
}

// Importer fetches, parses and expands the configured feeds and hands the
// resulting drafts to a Sink.
type Importer struct {
	Fetcher  *Fetcher
	Sources  []Source
	Sink     Sink
	Location *time.Location

	// Enricher is optional. It classifies events without CATEGORIES and
	// locates addresses geo.Detect cannot place.
	Enricher Enricher

	// Window around now in which recurring events are expanded.
	Backfill time.Duration
	Horizon  time.Duration

	Now func() time.Time
}

// Summary reports what one Run did.
type Summary struct {
	Sources  int
	Parsed   int
	Drafts   int
	Enriched int
	Created  int
	Skipped  int
	FetchErr []error
}

// Run performs one import cycle. Per-source fetch or parse failures do not
// abort the run; a Sink failure does.
func (im *Importer) Run(ctx context.Context) (Summary, error) {
	sum := Summary{Sources: len(im.Sources)}
	if im.Sink == nil || im.Fetcher == nil {
		return sum, errors.New("ics importer is not configured")
	}
	now := time.Now
	if im.Now != nil {
		now = im.Now
	}
	loc := im.Location
	if loc == nil {
		loc = time.Local
	}
	backfill, horizon := im.Backfill, im.Horizon
	if backfill <= 0 {
		backfill = 30 * 24 * time.Hour
	}
	if horizon <= 0 {
		horizon = 365 * 24 * time.Hour
	}

	results, fetchErrs := im.Fetcher.FetchAll(ctx, im.Sources)
	sum.FetchErr = fetchErrs

	var parsed []ParsedEvent
	for _, res := range results {
		evs, err := ParseICS(res.Source, res.Body)
		if err != nil {
			continue
		}
		parsed = append(parsed, evs...)
	}
	sum.Parsed = len(parsed)

	t := now().In(loc)
	occs, err := ExpandOccurrences(parsed, ExpandConfig{
		Location:   loc,
		RangeStart: t.Add(-backfill),
		RangeEnd:   t.Add(horizon),
	})
	if err != nil {
		return sum, err
	}

	drafts := ToDrafts(occs)
	sum.Drafts = len(drafts)
	if im.Enricher != nil {
		n, err := im.enrich(ctx, occs, drafts)
		if err != nil {
			return sum, err
		}
		sum.Enriched = n
	}
	if len(drafts) == 0 {
		appLog.Info("ics import: nothing to import", "sources", sum.Sources, "parsed", sum.Parsed)
		return sum, nil
	}

	res, err := im.Sink.Import(ctx, drafts)
	if err != nil {
		return sum, err
	}
	sum.Created, sum.Skipped = len(res.Created), len(res.Skipped)
	for _, sk := range res.Skipped {
		appLog.Debug("ics import: draft skipped", "summary", sk.Draft.Summary, "start", sk.Draft.StartDate, "reason", sk.Reason)
	}
	appLog.Info("ics import finished",
		"sources", sum.Sources,
		"fetch_errors", len(fetchErrs),
		"parsed", sum.Parsed,
		"drafts", sum.Drafts,
		"enriched", sum.Enriched,
		"created", sum.Created,
		"skipped", sum.Skipped,
	)
	return sum, nil
}

// enrich updates drafts in place; drafts[i] was built from occs[i]. Answers
// are memoised per UID and per address since a recurring event yields many
// occurrences with the same text. Only a canceled context aborts the run.
func (im *Importer) enrich(ctx context.Context, occs []Occurrence, drafts []model.EventDraft) (int, error) {
	types := make(map[string]string)
	places := make(map[string]*geo.Place)
	changed := 0
	for i := range drafts {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		ev := occs[i].Event
		d := &drafts[i]
		touched := false

		if len(ev.Categories) == 0 {
			t, seen := types[ev.UID]
			if !seen {
				var err error
				t, err = im.Enricher.Classify(ctx, ev.Summary, ev.Description)
				if err != nil {
					appLog.Warn("ics enrich: classify failed", err, "uid", ev.UID)
					t = ""
				}
				types[ev.UID] = t
			}
			if t != "" {
				d.Type = t
				touched = true
			}
		}

		if d.Province == "" && ev.Location != "" {
			pl, seen := places[ev.Location]
			if !seen {
				got, err := im.Enricher.Locate(ctx, ev.Location)
				switch {
				case err != nil:
					appLog.Warn("ics enrich: locate failed", err, "uid", ev.UID)
				case !geo.Valid(got.Province, got.Community):
					appLog.Warn("ics enrich: invalid location", nil, "uid", ev.UID, "province", got.Province, "community", got.Community)
				default:
					pl = &got
				}
				places[ev.Location] = pl
			}
			if pl != nil {
				d.Province, d.Community, d.City = pl.Province, pl.Community, pl.City
				touched = true
			}
		}

		if touched {
			changed++
		}
	}
	return changed, nil
}
