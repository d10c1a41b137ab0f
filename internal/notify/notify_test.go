package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agendacomic/internal/config"
	"agendacomic/internal/model"
)

type staticReader struct{ events []model.Event }

func (s *staticReader) Get(context.Context) ([]model.Event, error) { return s.events, nil }

type sent struct {
	chatID int64
	text   string
}

type fakeSender struct {
	msgs   []sent
	failAt int // 1-based; 0 never fails
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string) error {
	if f.failAt > 0 && len(f.msgs)+1 == f.failAt {
		return errors.New("telegram unavailable")
	}
	f.msgs = append(f.msgs, sent{chatID, text})
	return nil
}

var subs = []config.Subscription{
	{ChatID: 100, Type: AnyType, Community: AnyRegion, Province: AnyRegion},
	{ChatID: 200, Type: "Firma", Community: "Andalucía", Province: AnyRegion},
	{ChatID: 300, Type: AnyType, Community: AnyRegion, Province: "Madrid"},
}

func seeded(t *testing.T, subs []config.Subscription) *Prefs {
	t.Helper()
	p := NewPrefs(filepath.Join(t.TempDir(), "prefs.json"))
	if _, err := p.Seed(subs); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMatches(t *testing.T) {
	firma := model.Event{Type: "Firma", Community: "Andalucía", Province: "Málaga"}
	conv := model.Event{Type: "Convención", Community: "Comunidad de Madrid", Province: "Madrid"}

	tests := []struct {
		sub  config.Subscription
		ev   model.Event
		want bool
	}{
		{subs[0], firma, true},
		{subs[1], firma, true},
		{subs[1], conv, false},
		{subs[2], conv, true},
		{subs[2], firma, false},
		{config.Subscription{Type: "TODOS"}, conv, true},
	}
	for i, tt := range tests {
		if got := Matches(tt.sub, tt.ev); got != tt.want {
			t.Errorf("case %d: Matches = %v, want %v", i, got, tt.want)
		}
	}
}

func TestFirstRunInitialisesWatermark(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")
	reader := &staticReader{events: []model.Event{{ID: 3}, {ID: 7}}}
	sender := &fakeSender{}

	n, err := New(reader, sender, state, seeded(t, subs)).Run(context.Background())
	if err != nil || n != 0 || len(sender.msgs) != 0 {
		t.Fatalf("first run sent %d, %v", n, err)
	}
	st, found, err := loadState(state)
	if err != nil || !found || st.LastID != 7 {
		t.Fatalf("state = %+v, %v, %v", st, found, err)
	}
}

func TestRunSendsNewEventsInIDOrder(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")
	if err := saveState(state, State{LastID: 5}); err != nil {
		t.Fatal(err)
	}
	reader := &staticReader{events: []model.Event{
		{ID: 9, Summary: "Heroes", Type: "Convención", Community: "Comunidad de Madrid", Province: "Madrid"},
		{ID: 4, Summary: "old", Type: "Firma", Community: "Andalucía", Province: "Sevilla"},
		{ID: 6, Summary: "Firma Málaga", Type: "Firma", Community: "Andalucía", Province: "Málaga", Address: "Calle Larios 1"},
	}}
	sender := &fakeSender{}
	n := New(reader, sender, state, seeded(t, subs))

	count, err := n.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// id 6 → chats 100, 200; id 9 → chats 100, 300.
	want := []int64{100, 200, 100, 300}
	if count != len(want) || len(sender.msgs) != len(want) {
		t.Fatalf("sent %d messages, want %d", len(sender.msgs), len(want))
	}
	for i, m := range sender.msgs {
		if m.chatID != want[i] {
			t.Errorf("msg %d to %d, want %d", i, m.chatID, want[i])
		}
	}
	if !strings.Contains(sender.msgs[0].text, "Firma Málaga") || !strings.Contains(sender.msgs[0].text, "Calle Larios 1") {
		t.Errorf("message text = %q", sender.msgs[0].text)
	}

	st, _, _ := loadState(state)
	if st.LastID != 9 {
		t.Fatalf("watermark = %d, want 9", st.LastID)
	}

	// Nothing new on the next cycle.
	sender.msgs = nil
	if count, err := n.Run(context.Background()); err != nil || count != 0 {
		t.Fatalf("second run = %d, %v", count, err)
	}
}

func TestSendFailureHoldsWatermark(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")
	if err := saveState(state, State{LastID: 1}); err != nil {
		t.Fatal(err)
	}
	reader := &staticReader{events: []model.Event{
		{ID: 2, Type: "Firma", Community: "Andalucía", Province: "Málaga"},
		{ID: 3, Type: "Firma", Community: "Andalucía", Province: "Málaga"},
	}}
	// Event 2 goes to chats 100 and 200; event 3's first send fails.
	sender := &fakeSender{failAt: 3}

	_, err := New(reader, sender, state, seeded(t, subs)).Run(context.Background())
	if err == nil {
		t.Fatal("expected send error")
	}
	st, _, _ := loadState(state)
	if st.LastID != 2 {
		t.Fatalf("watermark = %d, want 2", st.LastID)
	}
}

func TestCorruptStateIsAnError(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(state, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(&staticReader{}, &fakeSender{}, state, seeded(t, subs)).Run(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFormat(t *testing.T) {
	text := Format(model.Event{Summary: "Expocómic", StartDate: "2024-12-01", EndDate: "2024-12-03", City: "Madrid"})
	if !strings.HasPrefix(text, "Nuevo evento: Expocómic\n") || strings.Contains(text, "Dirección") {
		t.Fatalf("text = %q", text)
	}
}

func TestRunReadsPreferencesEveryCycle(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")
	if err := saveState(state, State{LastID: 1}); err != nil {
		t.Fatal(err)
	}
	reader := &staticReader{events: []model.Event{{ID: 2, Type: "Taller", Community: "Galicia", Province: "Lugo"}}}
	sender := &fakeSender{}
	prefs := seeded(t, nil)
	n := New(reader, sender, state, prefs)

	if count, err := n.Run(context.Background()); err != nil || count != 0 {
		t.Fatalf("no subscribers: %d, %v", count, err)
	}

	// A preference added through the bot is seen by the next cycle.
	if _, err := prefs.Add(config.Subscription{ChatID: 42, Type: AnyType, Community: "Galicia", Province: AnyRegion}); err != nil {
		t.Fatal(err)
	}
	reader.events = append(reader.events, model.Event{ID: 3, Type: "Taller", Community: "Galicia", Province: "Ourense"})
	count, err := n.Run(context.Background())
	if err != nil || count != 1 || sender.msgs[0].chatID != 42 {
		t.Fatalf("second cycle = %d, %v, %+v", count, err, sender.msgs)
	}
}
