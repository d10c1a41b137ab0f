// Package store persists the event collection as a single JSON document.
//
// Every Save rewrites the whole collection through a temp file + rename, so
// readers never observe a partially written document. The cost of a write is
// bounded by the collection size, which is fine for the hundreds to low
// thousands of events the agenda holds.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"agendacomic/internal/apierr"
	appLog "agendacomic/internal/log"
	"agendacomic/internal/model"
)

// DefaultBookkeepingDate backfills create_date/update_date on records that
// predate those fields.
const DefaultBookkeepingDate = "1970-01-01 00:00:00"

// FileStore is the file-backed system of record.
type FileStore struct {
	path string
}

// New returns a FileStore for path. The file is not touched until Load,
// Save or EnsureExists is called.
func New(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// EnsureExists creates an empty collection document on first run.
func (s *FileStore) EnsureExists(ctx context.Context) error {
	_, err := os.Stat(s.path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return apierr.StoreUnavailable("stat events file", err)
	}
	appLog.Info("events file missing; creating empty collection", "path", s.path)
	return s.Save(ctx, []model.Event{})
}

// Load reads and decodes the full collection.
func (s *FileStore) Load(ctx context.Context) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, apierr.StoreUnavailable("read events file", err)
	}

	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, apierr.StoreCorrupt("decode events file", err)
	}
	if events == nil {
		// "null" document
		events = []model.Event{}
	}
	for i := range events {
		backfill(&events[i])
	}
	appLog.Debug("events loaded", "path", s.path, "count", len(events))
	return events, nil
}

func backfill(ev *model.Event) {
	if ev.CreateDate == "" {
		ev.CreateDate = DefaultBookkeepingDate
	}
	if ev.UpdateDate == "" {
		ev.UpdateDate = ev.CreateDate
	}
	if ev.EndDate == "" {
		ev.EndDate = ev.StartDate
	}
}

// Save overwrites the file with events. Once the temp file is being written
// the operation runs to completion regardless of ctx.
func (s *FileStore) Save(ctx context.Context, events []model.Event) error {
	if err := ctx.Err(); err != nil {
		return apierr.StorePersist("save aborted before write", err)
	}
	if events == nil {
		events = []model.Event{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(events); err != nil {
		return apierr.StorePersist("encode events", err)
	}

	if err := writeAtomic(s.path, buf.Bytes()); err != nil {
		return apierr.StorePersist("write events file", err)
	}
	appLog.Debug("events saved", "path", s.path, "count", len(events))
	return nil
}

// ModTime is the collection's "last updated" signal.
func (s *FileStore) ModTime() (time.Time, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, apierr.StoreUnavailable("stat events file", err)
	}
	return fi.ModTime(), nil
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".events-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	// No-op after a successful rename.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
