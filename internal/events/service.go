// Package events implements the mutation pipeline for the event collection:
// validate, load the current store state, apply the change, persist, then
// reload the read cache.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agendacomic/internal/apierr"
	"agendacomic/internal/geo"
	appLog "agendacomic/internal/log"
	"agendacomic/internal/model"
)

// Store is the durable collection.
type Store interface {
	Load(ctx context.Context) ([]model.Event, error)
	Save(ctx context.Context, events []model.Event) error
}

// Invalidator is the write-side view of the read cache.
type Invalidator interface {
	InvalidateAndReload(ctx context.Context) error
}

// Service serializes create/update/delete against the store. Reads never go
// through it.
type Service struct {
	store Store
	cache Invalidator
	now   func() time.Time

	// mu is held from LoadCurrent through InvalidateCache so two writers can
	// never interleave their load-modify-persist sequences.
	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now for bookkeeping timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, cache Invalidator, opts ...Option) *Service {
	s := &Service{store: store, cache: cache, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ValidateLocation checks the province/community pairing.
func ValidateLocation(province, community string) error {
	if geo.Valid(province, community) {
		return nil
	}
	if c, ok := geo.CommunityOf(province); ok {
		return apierr.Validation(fmt.Sprintf("province %q belongs to %q, not %q", province, c, community))
	}
	return apierr.Validation(fmt.Sprintf("unknown province %q", province))
}

// Create assigns the next id (max+1, or 1 when empty), appends and persists.
func (s *Service) Create(ctx context.Context, d model.EventDraft) (model.Event, error) {
	if err := ValidateLocation(d.Province, d.Community); err != nil {
		return model.Event{}, err
	}

	var created model.Event
	err := s.mutate(ctx, "create", func(events []model.Event) ([]model.Event, error) {
		created = d.Event(nextID(events), s.now())
		return append(events, created), nil
	})
	if err != nil {
		return model.Event{}, err
	}
	appLog.Info("event created", "id", created.ID, "summary", created.Summary)
	return created, nil
}

// Update merges patch onto the event with the given id.
func (s *Service) Update(ctx context.Context, id int, patch model.EventPatch) (model.Event, error) {
	var updated model.Event
	err := s.mutate(ctx, "update", func(events []model.Event) ([]model.Event, error) {
		i := indexOf(events, id)
		if i < 0 {
			return nil, apierr.NotFound("event not found")
		}
		ev := events[i]
		patch.ApplyTo(&ev)
		// The pair is only checked when the patch carries both halves; a
		// lone province or community is merged as is.
		if patch.Province.Set && patch.Community.Set {
			if err := ValidateLocation(ev.Province, ev.Community); err != nil {
				return nil, err
			}
		}
		ev.UpdateDate = s.now().Format(model.DateLayout)
		events[i] = ev
		updated = ev
		return events, nil
	})
	if err != nil {
		return model.Event{}, err
	}
	appLog.Info("event updated", "id", id)
	return updated, nil
}

// Delete removes the event with the given id. Remaining ids are not
// renumbered.
func (s *Service) Delete(ctx context.Context, id int) error {
	err := s.mutate(ctx, "delete", func(events []model.Event) ([]model.Event, error) {
		i := indexOf(events, id)
		if i < 0 {
			return nil, apierr.NotFound("event not found")
		}
		return append(events[:i:i], events[i+1:]...), nil
	})
	if err != nil {
		return err
	}
	appLog.Info("event deleted", "id", id)
	return nil
}

// ImportResult reports the outcome of a batch import.
type ImportResult struct {
	Created []model.Event
	Skipped []SkippedDraft
}

// SkippedDraft is a draft rejected by validation or de-duplication.
type SkippedDraft struct {
	Draft  model.EventDraft
	Reason string
}

// Import creates every valid draft in one load/persist cycle. Drafts that
// fail location validation, or whose (summary, start_date) already exists,
// are skipped.
func (s *Service) Import(ctx context.Context, drafts []model.EventDraft) (ImportResult, error) {
	var res ImportResult
	valid := make([]model.EventDraft, 0, len(drafts))
	for _, d := range drafts {
		if err := ValidateLocation(d.Province, d.Community); err != nil {
			res.Skipped = append(res.Skipped, SkippedDraft{Draft: d, Reason: err.Error()})
			continue
		}
		valid = append(valid, d)
	}
	if len(valid) == 0 {
		return res, nil
	}

	err := s.mutate(ctx, "import", func(events []model.Event) ([]model.Event, error) {
		seen := make(map[[2]string]bool, len(events))
		for _, ev := range events {
			seen[[2]string{ev.Summary, ev.StartDate}] = true
		}
		now := s.now()
		next := nextID(events)
		for _, d := range valid {
			key := [2]string{d.Summary, d.StartDate}
			if seen[key] {
				res.Skipped = append(res.Skipped, SkippedDraft{Draft: d, Reason: "duplicate"})
				continue
			}
			seen[key] = true
			ev := d.Event(next, now)
			next++
			events = append(events, ev)
			res.Created = append(res.Created, ev)
		}
		if len(res.Created) == 0 {
			return nil, errNothingToDo
		}
		return events, nil
	})
	if errors.Is(err, errNothingToDo) {
		return res, nil
	}
	if err != nil {
		return ImportResult{Skipped: res.Skipped}, err
	}
	appLog.Info("events imported", "created", len(res.Created), "skipped", len(res.Skipped))
	return res, nil
}

var errNothingToDo = errors.New("nothing to persist")

// mutate runs LoadCurrent → Apply → Persist → InvalidateCache under the write
// lock. apply works on a private copy; if it or the persist fails, nothing
// is written and the cache is left alone. A cache reload failure after a
// successful persist does not fail the write.
func (s *Service) mutate(ctx context.Context, op string, apply func([]model.Event) ([]model.Event, error)) error {
	// A client going away must not abort a write halfway.
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Load(ctx)
	if err != nil {
		appLog.Error("mutation aborted: load failed", err, "op", op)
		return err
	}
	working := make([]model.Event, len(current), len(current)+1)
	copy(working, current)

	next, err := apply(working)
	if err != nil {
		return err
	}

	if err := s.store.Save(ctx, next); err != nil {
		appLog.Error("mutation aborted: persist failed", err, "op", op)
		if apierr.KindOf(err) == apierr.KindInternal {
			err = apierr.StorePersist("persist events", err)
		}
		return err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateAndReload(ctx); err != nil {
			appLog.Warn("cache reload after write failed; cache will self-heal", err, "op", op)
		}
	}
	return nil
}

func nextID(events []model.Event) int {
	maxID := 0
	for _, ev := range events {
		maxID = max(maxID, ev.ID)
	}
	return maxID + 1
}

func indexOf(events []model.Event, id int) int {
	for i, ev := range events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}
