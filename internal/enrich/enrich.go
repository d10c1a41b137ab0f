// Package enrich asks a chat model for the event fields a calendar feed
// leaves out: the event category and the province/community/city of an
// address. Every answer is checked against the local tables before it is
// returned, so callers never receive a category or a province pairing the
// rest of the service would reject.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"agendacomic/internal/geo"
	appLog "agendacomic/internal/log"
	"agendacomic/internal/model"
)

// ErrUnresolved is returned when the model's answer cannot be mapped onto a
// known category or province.
var ErrUnresolved = errors.New("enrich: answer not recognised")

// Completer runs one system+user chat exchange and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Client classifies events and resolves addresses through a Completer.
type Client struct {
	llm Completer
}

// New wraps llm.
func New(llm Completer) *Client {
	return &Client{llm: llm}
}

const classifySystem = "Eres un asistente experto en eventos relacionados con el mundo del cómic. " +
	"Tu tarea es analizar descripciones de eventos y clasificarlos con precisión en una de las " +
	"categorías indicadas, devolviendo el resultado en formato JSON con un solo campo 'type'."

var typeHints = map[string]string{
	"Convención":      "grandes eventos o salones dedicados al cómic, manga o cultura pop (Salón del Cómic, Comic-Con, Japan Weekend).",
	"Feria":           "venta o intercambio de cómics, fanzines o merchandising, normalmente con puestos.",
	"Firma":           "sesión de firmas o encuentro con autores/as.",
	"Presentación":    "acto en el que se presenta una obra, cómic o libro.",
	"Taller":          "actividad formativa o práctica (dibujo, guion, ilustración).",
	"Exposición":      "muestra o exhibición de obras relacionadas con el cómic.",
	"Club de lectura": "grupo que se reúne para leer o comentar cómics.",
	"Otros":           "cualquier evento que no encaje en las anteriores.",
}

// Classify returns one of model.EventTypes for the event.
func (c *Client) Classify(ctx context.Context, summary, description string) (string, error) {
	var b strings.Builder
	b.WriteString("Clasifica el siguiente evento de cómic en una de estas categorías:\n\n")
	for i, t := range model.EventTypes {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, t, typeHints[t])
	}
	b.WriteString("\nDevuelve únicamente un JSON con el formato:\n{ \"type\": \"<categoría>\" }\n\n")
	fmt.Fprintf(&b, "Título: %s\nDescripción del evento:\n%s", summary, description)

	reply, err := c.llm.Complete(ctx, classifySystem, b.String())
	if err != nil {
		return "", err
	}
	var ans struct {
		Type string `json:"type"`
	}
	if err := decodeReply(reply, &ans); err != nil {
		return "", err
	}
	for _, t := range model.EventTypes {
		if geo.Fold(t) == geo.Fold(strings.TrimSpace(ans.Type)) {
			return t, nil
		}
	}
	appLog.Debug("enrich: unknown category", "answer", ans.Type)
	return "", fmt.Errorf("%w: type %q", ErrUnresolved, ans.Type)
}

const locateSystem = "You are a helpful assistant."

// Locate resolves address to a Spanish province, its community and a city.
// The province is normalised through the local table and the pairing must
// pass geo.Valid. A missing city falls back to the province name.
func (c *Client) Locate(ctx context.Context, address string) (geo.Place, error) {
	table := make(map[string][]string)
	for _, comm := range geo.Communities() {
		table[comm] = geo.ProvincesIn(comm)
	}
	tableJSON, err := json.Marshal(table)
	if err != nil {
		return geo.Place{}, err
	}
	prompt := fmt.Sprintf("Determina la provincia, comunidad y ciudad del siguiente evento basado en su dirección:\n\n%s\n\n"+
		"Usa la siguiente lista de comunidades y provincias:\n\n%s\n\n"+
		"Proporciona el resultado en formato JSON con los campos 'province', 'community' y 'city'.",
		address, tableJSON)

	reply, err := c.llm.Complete(ctx, locateSystem, prompt)
	if err != nil {
		return geo.Place{}, err
	}
	var ans struct {
		Province  string `json:"province"`
		Community string `json:"community"`
		City      string `json:"city"`
	}
	if err := decodeReply(reply, &ans); err != nil {
		return geo.Place{}, err
	}

	p, ok := geo.Detect(ans.Province)
	if !ok {
		return geo.Place{}, fmt.Errorf("%w: province %q", ErrUnresolved, ans.Province)
	}
	community := strings.TrimSpace(ans.Community)
	if geo.Fold(community) == geo.Fold(p.Community) {
		community = p.Community
	}
	if !geo.Valid(p.Name, community) {
		return geo.Place{}, fmt.Errorf("%w: %q is not in %q", ErrUnresolved, p.Name, ans.Community)
	}
	city := strings.TrimSpace(ans.City)
	if city == "" {
		city = p.Name
	}
	return geo.Place{Province: p.Name, Community: community, City: city}, nil
}

// decodeReply extracts the first JSON object from reply; models often wrap
// it in prose or a code fence.
func decodeReply(reply string, v any) error {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no JSON object in %q", ErrUnresolved, reply)
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnresolved, err)
	}
	return nil
}
