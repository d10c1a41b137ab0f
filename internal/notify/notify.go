// Package notify pushes newly added events to Telegram subscribers. It is a
// read-only consumer of the collection: it tracks the highest event id
// already pushed (the watermark) and only looks at events above it.
// Subscribers manage their own preferences through an interactive bot.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"agendacomic/internal/config"
	appLog "agendacomic/internal/log"
	"agendacomic/internal/model"
)

// Wildcards accepted in subscriptions.
const (
	AnyType   = "todos"
	AnyRegion = "todas"
)

// Reader serves the current collection.
type Reader interface {
	Get(ctx context.Context) ([]model.Event, error)
}

// Sender delivers one message to one chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Subscriptions supplies the current preferences on every cycle.
type Subscriptions interface {
	List(ctx context.Context) ([]config.Subscription, error)
}

// State is persisted between runs.
type State struct {
	LastID    int       `json:"last_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notifier matches new events against subscriptions and sends messages.
type Notifier struct {
	reader    Reader
	sender    Sender
	statePath string
	subs      Subscriptions
}

func New(reader Reader, sender Sender, statePath string, subs Subscriptions) *Notifier {
	return &Notifier{reader: reader, sender: sender, statePath: statePath, subs: subs}
}

// Run performs one polling cycle and returns the number of messages sent.
//
// Without a state file the watermark is initialised to the current maximum
// id and nothing is sent, so enabling the notifier on an existing collection
// does not flood subscribers. The watermark only advances past events whose
// messages were all delivered.
func (n *Notifier) Run(ctx context.Context) (int, error) {
	events, err := n.reader.Get(ctx)
	if err != nil {
		return 0, err
	}

	st, found, err := loadState(n.statePath)
	if err != nil {
		return 0, err
	}
	if !found {
		st.LastID = maxID(events)
		appLog.Info("notify: initialised watermark", "last_id", st.LastID)
		return 0, saveState(n.statePath, st)
	}

	fresh := newerThan(events, st.LastID)
	var subs []config.Subscription
	if len(fresh) > 0 {
		if subs, err = n.subs.List(ctx); err != nil {
			return 0, err
		}
	}
	sent := 0
	var sendErr error
	for _, ev := range fresh {
		if err := n.deliver(ctx, subs, ev, &sent); err != nil {
			sendErr = err
			break
		}
		st.LastID = ev.ID
	}

	if len(fresh) > 0 {
		st.UpdatedAt = time.Now().UTC()
		if err := saveState(n.statePath, st); err != nil {
			return sent, errors.Join(sendErr, err)
		}
	}
	appLog.Info("notify: cycle done", "new_events", len(fresh), "subscriptions", len(subs), "sent", sent, "last_id", st.LastID)
	return sent, sendErr
}

func (n *Notifier) deliver(ctx context.Context, subs []config.Subscription, ev model.Event, sent *int) error {
	text := Format(ev)
	for _, sub := range subs {
		if !Matches(sub, ev) {
			continue
		}
		if err := n.sender.Send(ctx, sub.ChatID, text); err != nil {
			appLog.Error("notify: send failed", err, "chat_id", sub.ChatID, "event_id", ev.ID)
			return err
		}
		*sent++
	}
	return nil
}

// Matches reports whether ev satisfies sub. Comparison is exact except for
// the "todos"/"todas" wildcards and empty fields.
func Matches(sub config.Subscription, ev model.Event) bool {
	return field(sub.Type, AnyType, ev.Type) &&
		field(sub.Community, AnyRegion, ev.Community) &&
		field(sub.Province, AnyRegion, ev.Province)
}

func field(want, wildcard, got string) bool {
	return want == "" || strings.EqualFold(want, wildcard) || want == got
}

// Format renders the message body for one event.
func Format(ev model.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Nuevo evento: %s\n", ev.Summary)
	fmt.Fprintf(&b, "Fecha de inicio: %s\n", ev.StartDate)
	fmt.Fprintf(&b, "Fecha de fin: %s\n", ev.EndDate)
	fmt.Fprintf(&b, "Tipo: %s\n", ev.Type)
	fmt.Fprintf(&b, "Ciudad: %s\n", ev.City)
	fmt.Fprintf(&b, "Provincia: %s\n", ev.Province)
	fmt.Fprintf(&b, "Comunidad: %s\n", ev.Community)
	if ev.Address != "" {
		fmt.Fprintf(&b, "Dirección: %s\n", ev.Address)
	}
	if ev.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", ev.Description)
	}
	return b.String()
}

func newerThan(events []model.Event, watermark int) []model.Event {
	out := make([]model.Event, 0)
	for _, ev := range events {
		if ev.ID > watermark {
			out = append(out, ev)
		}
	}
	slices.SortFunc(out, func(a, b model.Event) int { return a.ID - b.ID })
	return out
}

func maxID(events []model.Event) int {
	m := 0
	for _, ev := range events {
		m = max(m, ev.ID)
	}
	return m
}

func loadState(path string) (State, bool, error) {
	var st State
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, false, fmt.Errorf("notify: decode state %s: %w", path, err)
	}
	return st, true, nil
}

func saveState(path string, st State) error {
	return writeJSON(path, st)
}

// writeJSON replaces path atomically (temp file + rename).
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".notify-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
