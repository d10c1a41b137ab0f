package events

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"agendacomic/internal/apierr"
	"agendacomic/internal/cache"
	"agendacomic/internal/model"
	"agendacomic/internal/store"
)

type memStore struct {
	mu      sync.Mutex
	events  []model.Event
	saveErr error
	saves   int
}

func (m *memStore) Load(context.Context) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Event, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *memStore) Save(_ context.Context, events []model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.events = append([]model.Event(nil), events...)
	return nil
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) InvalidateAndReload(context.Context) error {
	c.n++
	return nil
}

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func draft(summary, province, community string) model.EventDraft {
	return model.EventDraft{
		Summary:   summary,
		StartDate: "2024-04-01",
		EndDate:   "2024-04-02",
		Province:  province,
		Community: community,
		City:      province,
		Type:      "Convención",
	}
}

func newService(st Store, inv Invalidator) *Service {
	return NewService(st, inv, WithClock(func() time.Time { return fixedNow }))
}

func TestCreateOnEmptyCollectionGetsIDOne(t *testing.T) {
	st := &memStore{}
	inv := &countingInvalidator{}
	svc := newService(st, inv)

	ev, err := svc.Create(context.Background(), draft("Salón", "Barcelona", "Cataluña"))
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != 1 {
		t.Fatalf("id = %d, want 1", ev.ID)
	}
	if ev.CreateDate != "2024-03-01 09:30:00" || ev.UpdateDate != ev.CreateDate {
		t.Fatalf("bookkeeping = %q / %q", ev.CreateDate, ev.UpdateDate)
	}
	if inv.n != 1 {
		t.Fatalf("cache invalidations = %d, want 1", inv.n)
	}
}

func TestCreateAssignsMaxPlusOne(t *testing.T) {
	st := &memStore{events: []model.Event{{ID: 4}, {ID: 9}, {ID: 2}}}
	svc := newService(st, nil)

	ev, err := svc.Create(context.Background(), draft("Firma", "Madrid", "Comunidad de Madrid"))
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != 10 {
		t.Fatalf("id = %d, want 10", ev.ID)
	}
}

func TestConcurrentCreatesGetUniqueIDs(t *testing.T) {
	st := &memStore{}
	svc := newService(st, nil)

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Create(context.Background(), draft("x", "Madrid", "Comunidad de Madrid")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, ev := range st.events {
		if seen[ev.ID] {
			t.Fatalf("duplicate id %d", ev.ID)
		}
		seen[ev.ID] = true
	}
	if len(seen) != n {
		t.Fatalf("stored %d events, want %d", len(seen), n)
	}
}

func TestCreateRejectsMismatchedLocation(t *testing.T) {
	st := &memStore{}
	svc := newService(st, nil)

	_, err := svc.Create(context.Background(), draft("x", "Barcelona", "Andalucía"))
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if st.saves != 0 {
		t.Fatal("rejected create must not persist")
	}

	_, err = svc.Create(context.Background(), draft("x", "Gotham", "Andalucía"))
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("unknown province: err = %v", err)
	}
}

func TestUpdate(t *testing.T) {
	st := &memStore{events: []model.Event{{
		ID: 1, Summary: "old", Province: "Sevilla", Community: "Andalucía", City: "Sevilla",
		CreateDate: "2023-01-01 00:00:00", UpdateDate: "2023-01-01 00:00:00",
	}}}
	svc := newService(st, nil)
	ctx := context.Background()

	ev, err := svc.Update(ctx, 1, model.EventPatch{Summary: model.Some("new")})
	if err != nil {
		t.Fatal(err)
	}
	if ev.Summary != "new" || ev.City != "Sevilla" {
		t.Fatalf("updated = %+v", ev)
	}
	if ev.CreateDate != "2023-01-01 00:00:00" || ev.UpdateDate != "2024-03-01 09:30:00" {
		t.Fatalf("bookkeeping = %q / %q", ev.CreateDate, ev.UpdateDate)
	}

	// A lone province is merged without checking the stored community.
	ev, err = svc.Update(ctx, 1, model.EventPatch{Province: model.Some("Barcelona")})
	if err != nil {
		t.Fatalf("province-only patch rejected: %v", err)
	}
	if ev.Province != "Barcelona" || ev.Community != "Andalucía" {
		t.Fatalf("merged pair = %q / %q", ev.Province, ev.Community)
	}
	_, err = svc.Update(ctx, 1, model.EventPatch{Province: model.Some("Sevilla"), Community: model.Some("Cataluña")})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	_, err = svc.Update(ctx, 1, model.EventPatch{Province: model.Some("Barcelona"), Community: model.Some("Cataluña")})
	if err != nil {
		t.Fatalf("consistent pair rejected: %v", err)
	}

	if _, err := svc.Update(ctx, 99, model.EventPatch{Summary: model.Some("x")}); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("missing id: err = %v", err)
	}
}

func TestDeleteKeepsRemainingIDs(t *testing.T) {
	st := &memStore{events: []model.Event{{ID: 1}, {ID: 2}, {ID: 3}}}
	svc := newService(st, nil)
	ctx := context.Background()

	if err := svc.Delete(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if len(st.events) != 2 || st.events[0].ID != 1 || st.events[1].ID != 3 {
		t.Fatalf("remaining = %+v, want ids [1 3]", st.events)
	}
	if err := svc.Delete(ctx, 2); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("second delete: err = %v", err)
	}

	// New ids are max+1 of what remains.
	if err := svc.Delete(ctx, 3); err != nil {
		t.Fatal(err)
	}
	ev, err := svc.Create(ctx, draft("x", "Madrid", "Comunidad de Madrid"))
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != 2 {
		t.Fatalf("id = %d, want max+1 = 2", ev.ID)
	}
}

func TestPersistFailureLeavesStoreAndCacheUntouched(t *testing.T) {
	st := &memStore{events: []model.Event{{ID: 1, Summary: "keep"}}, saveErr: errors.New("disk full")}
	inv := &countingInvalidator{}
	svc := newService(st, inv)
	ctx := context.Background()

	_, err := svc.Create(ctx, draft("x", "Madrid", "Comunidad de Madrid"))
	if !errors.Is(err, apierr.ErrStorePersist) {
		t.Fatalf("err = %v, want store_persist", err)
	}
	if _, err := svc.Update(ctx, 1, model.EventPatch{Summary: model.Some("changed")}); err == nil {
		t.Fatal("update should fail")
	}
	if len(st.events) != 1 || st.events[0].Summary != "keep" {
		t.Fatalf("store changed: %+v", st.events)
	}
	if inv.n != 0 {
		t.Fatal("cache must not be invalidated after a failed persist")
	}
}

func TestImportSkipsDuplicatesAndInvalid(t *testing.T) {
	st := &memStore{events: []model.Event{{ID: 5, Summary: "Salón", StartDate: "2024-04-01"}}}
	svc := newService(st, nil)

	res, err := svc.Import(context.Background(), []model.EventDraft{
		draft("Salón", "Barcelona", "Cataluña"),
		draft("Firma", "Málaga", "Andalucía"),
		draft("Firma", "Málaga", "Andalucía"),
		draft("Taller", "Lugo", "Andalucía"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 1 || res.Created[0].ID != 6 || res.Created[0].Summary != "Firma" {
		t.Fatalf("created = %+v", res.Created)
	}
	if len(res.Skipped) != 3 {
		t.Fatalf("skipped = %+v", res.Skipped)
	}

	// Nothing new: no write at all.
	saves := st.saves
	res, err = svc.Import(context.Background(), []model.EventDraft{draft("Firma", "Málaga", "Andalucía")})
	if err != nil || len(res.Created) != 0 {
		t.Fatalf("re-import = %+v, %v", res, err)
	}
	if st.saves != saves {
		t.Fatal("no-op import must not persist")
	}
}

// Read-after-write through the real store and cache, inside the TTL window.
func TestWriteVisibleThroughCacheWithinTTL(t *testing.T) {
	ctx := context.Background()
	fs := store.New(filepath.Join(t.TempDir(), "events.json"))
	if err := fs.Save(ctx, []model.Event{{ID: 1, Summary: "first", StartDate: "2024-01-01"}}); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := func() time.Time { return now }
	c := cache.New(fs, time.Hour, cache.WithClock(clk))
	svc := NewService(fs, c, WithClock(clk))

	if got, err := c.Get(ctx); err != nil || len(got) != 1 {
		t.Fatalf("t=0 read: %d events, %v", len(got), err)
	}

	now = now.Add(10 * time.Second)
	if _, err := svc.Create(ctx, draft("second", "Madrid", "Comunidad de Madrid")); err != nil {
		t.Fatal(err)
	}

	now = now.Add(10 * time.Second)
	got, err := c.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("t=20 read saw %d events, want the post-write state", len(got))
	}
}
