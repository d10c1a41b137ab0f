package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"agendacomic/internal/config"
	appLog "agendacomic/internal/log"
)

// Prefs is the JSON file of subscriptions managed through the bot. Every
// call reads the file, so edits made while the process runs are picked up.
type Prefs struct {
	mu   sync.Mutex
	path string
}

func NewPrefs(path string) *Prefs {
	return &Prefs{path: path}
}

// Seed writes subs when the file does not exist yet and reports whether it
// did. An existing file is never touched.
func (p *Prefs) Seed(subs []config.Subscription) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := os.Stat(p.path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if subs == nil {
		subs = []config.Subscription{}
	}
	if err := writeJSON(p.path, subs); err != nil {
		return false, err
	}
	appLog.Info("notify: preferences seeded", "path", p.path, "count", len(subs))
	return true, nil
}

// List returns every stored subscription.
func (p *Prefs) List(_ context.Context) ([]config.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

// ForChat returns the subscriptions of one chat in stored order.
func (p *Prefs) ForChat(chatID int64) ([]config.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	all, err := p.load()
	if err != nil {
		return nil, err
	}
	return ofChat(all, chatID), nil
}

// Add stores sub. It returns false when an identical subscription exists.
func (p *Prefs) Add(sub config.Subscription) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	all, err := p.load()
	if err != nil {
		return false, err
	}
	for _, s := range all {
		if s == sub {
			return false, nil
		}
	}
	return true, writeJSON(p.path, append(all, sub))
}

// Remove deletes the n-th (0-based) subscription of chatID as ordered by
// ForChat.
func (p *Prefs) Remove(chatID int64, n int) (config.Subscription, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	all, err := p.load()
	if err != nil {
		return config.Subscription{}, false, err
	}
	seen := -1
	for i, s := range all {
		if s.ChatID != chatID {
			continue
		}
		if seen++; seen == n {
			out := append(all[:i:i], all[i+1:]...)
			return s, true, writeJSON(p.path, out)
		}
	}
	return config.Subscription{}, false, nil
}

// Clear deletes every subscription of chatID and returns how many there were.
func (p *Prefs) Clear(chatID int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	all, err := p.load()
	if err != nil {
		return 0, err
	}
	keep := make([]config.Subscription, 0, len(all))
	for _, s := range all {
		if s.ChatID != chatID {
			keep = append(keep, s)
		}
	}
	removed := len(all) - len(keep)
	if removed == 0 {
		return 0, nil
	}
	return removed, writeJSON(p.path, keep)
}

func (p *Prefs) load() ([]config.Subscription, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []config.Subscription{}, nil
	}
	if err != nil {
		return nil, err
	}
	var subs []config.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("notify: decode preferences %s: %w", p.path, err)
	}
	return subs, nil
}

func ofChat(all []config.Subscription, chatID int64) []config.Subscription {
	out := make([]config.Subscription, 0)
	for _, s := range all {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}
