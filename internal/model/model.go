// Package model defines the event record, its create and update payloads and
// the date handling shared by the store, the query evaluator and the API.
package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// DateLayout is the layout used when the service itself stamps a date
// (create_date, update_date, ICS imports).
const DateLayout = "2006-01-02 15:04:05"

// Event is one calendar entry of the agenda. The JSON shape is the on-disk
// record format and the API response format.
type Event struct {
	ID      int    `json:"id"`
	Summary string `json:"summary"`

	// StartDate / EndDate are date or date-time strings; see ParseDate.
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`

	CreateDate string `json:"create_date"`
	UpdateDate string `json:"update_date"`

	Province  string `json:"province"`
	Community string `json:"community"`
	City      string `json:"city"`

	// Type is the free-text category tag ("Convención", "Firma", "Taller", ...).
	Type        string `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

// Optional is a value that may be absent. JSON null decodes as absent.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Optional[T]{Value: v, Set: true}
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// EventPatch is a partial update. Absent and null fields leave the event
// untouched.
type EventPatch struct {
	Summary     Optional[string] `json:"summary"`
	StartDate   Optional[string] `json:"start_date"`
	EndDate     Optional[string] `json:"end_date"`
	Province    Optional[string] `json:"province"`
	Community   Optional[string] `json:"community"`
	City        Optional[string] `json:"city"`
	Type        Optional[string] `json:"type"`
	Address     Optional[string] `json:"address"`
	Description Optional[string] `json:"description"`
}

// ApplyTo merges the present fields onto ev.
func (p EventPatch) ApplyTo(ev *Event) {
	apply := func(dst *string, o Optional[string]) {
		if v, ok := o.Get(); ok {
			*dst = v
		}
	}
	apply(&ev.Summary, p.Summary)
	apply(&ev.StartDate, p.StartDate)
	apply(&ev.EndDate, p.EndDate)
	apply(&ev.Province, p.Province)
	apply(&ev.Community, p.Community)
	apply(&ev.City, p.City)
	apply(&ev.Type, p.Type)
	apply(&ev.Address, p.Address)
	apply(&ev.Description, p.Description)
}

// IsEmpty reports whether no field is present.
func (p EventPatch) IsEmpty() bool {
	return !p.Summary.Set && !p.StartDate.Set && !p.EndDate.Set &&
		!p.Province.Set && !p.Community.Set && !p.City.Set &&
		!p.Type.Set && !p.Address.Set && !p.Description.Set
}

// EventDraft is a fully-formed event that has not been assigned an id yet.
type EventDraft struct {
	Summary     string
	StartDate   string
	EndDate     string
	Province    string
	Community   string
	City        string
	Type        string
	Address     string
	Description string
}

// MissingFieldError names the first required field absent from a create
// payload.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return "missing required field: " + e.Field
}

// Draft turns a create payload into an EventDraft. Summary, start_date,
// end_date, province and community are required and must be non-empty; the
// remaining fields must be present but may be empty.
func (p EventPatch) Draft() (EventDraft, error) {
	fields := []struct {
		name     string
		val      Optional[string]
		nonEmpty bool
	}{
		{"summary", p.Summary, true},
		{"start_date", p.StartDate, true},
		{"end_date", p.EndDate, true},
		{"province", p.Province, true},
		{"community", p.Community, true},
		{"city", p.City, false},
		{"type", p.Type, false},
		{"address", p.Address, false},
		{"description", p.Description, false},
	}
	for _, f := range fields {
		if !f.val.Set || (f.nonEmpty && f.val.Value == "") {
			return EventDraft{}, &MissingFieldError{Field: f.name}
		}
	}
	return EventDraft{
		Summary:     p.Summary.Value,
		StartDate:   p.StartDate.Value,
		EndDate:     p.EndDate.Value,
		Province:    p.Province.Value,
		Community:   p.Community.Value,
		City:        p.City.Value,
		Type:        p.Type.Value,
		Address:     p.Address.Value,
		Description: p.Description.Value,
	}, nil
}

// Event materializes the draft with the given id and bookkeeping timestamp.
func (d EventDraft) Event(id int, now time.Time) Event {
	stamp := now.Format(DateLayout)
	return Event{
		ID:          id,
		Summary:     d.Summary,
		StartDate:   d.StartDate,
		EndDate:     d.EndDate,
		CreateDate:  stamp,
		UpdateDate:  stamp,
		Province:    d.Province,
		Community:   d.Community,
		City:        d.City,
		Type:        d.Type,
		Address:     d.Address,
		Description: d.Description,
	}
}

// EventTypes are the categories automatic classification chooses from.
var EventTypes = []string{
	"Convención",
	"Feria",
	"Firma",
	"Presentación",
	"Taller",
	"Exposición",
	"Club de lectura",
	"Otros",
}
