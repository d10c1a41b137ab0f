package ics

import (
	"regexp"
	"strings"

	"agendacomic/internal/geo"
	"agendacomic/internal/model"
)

// DefaultEventType is used when neither CATEGORIES nor the source provide
// one.
const DefaultEventType = "Evento"

var postalCity = regexp.MustCompile(`^\d{5}\s+(.+)$`)

// ToDrafts converts occurrences into agenda drafts. Province and community
// are derived from the LOCATION text; an undetected province leaves both
// empty so the import pipeline rejects the draft.
func ToDrafts(occs []Occurrence) []model.EventDraft {
	out := make([]model.EventDraft, 0, len(occs))
	for _, o := range occs {
		out = append(out, toDraft(o))
	}
	return out
}

func toDraft(o Occurrence) model.EventDraft {
	ev := o.Event
	d := model.EventDraft{
		Summary:     ev.Summary,
		StartDate:   o.Start.Format(model.DateLayout),
		EndDate:     o.End.Format(model.DateLayout),
		Address:     ev.Location,
		Description: ev.Description,
		Type:        eventType(ev),
	}
	if p, ok := geo.Detect(ev.Location); ok {
		d.Province = p.Name
		d.Community = p.Community
		d.City = cityOf(ev.Location, p.Name)
	}
	return d
}

func eventType(ev ParsedEvent) string {
	if len(ev.Categories) > 0 {
		return ev.Categories[0]
	}
	if ev.Source.DefaultType != "" {
		return ev.Source.DefaultType
	}
	return DefaultEventType
}

// cityOf picks the locality from a Spanish postal address: the text after a
// five-digit postal code ("29006 Málaga"). Without one, the province name is
// the best available guess.
func cityOf(location, province string) string {
	for _, seg := range strings.Split(location, ",") {
		if m := postalCity.FindStringSubmatch(strings.TrimSpace(seg)); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return province
}
