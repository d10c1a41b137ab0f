// Package geo holds the fixed province → autonomous community mapping of
// Spain used to validate event locations.
package geo

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Province is one entry of the lookup table.
type Province struct {
	Name      string
	Community string
}

var provinces = []Province{
	{"Albacete", "Castilla-La Mancha"},
	{"Alicante", "Comunidad Valenciana"},
	{"Almería", "Andalucía"},
	{"Álava", "País Vasco"},
	{"Asturias", "Principado de Asturias"},
	{"Ávila", "Castilla y León"},
	{"Badajoz", "Extremadura"},
	{"Illes Balears", "Illes Balears"},
	{"Barcelona", "Cataluña"},
	{"Bizkaia", "País Vasco"},
	{"Burgos", "Castilla y León"},
	{"Cáceres", "Extremadura"},
	{"Cádiz", "Andalucía"},
	{"Cantabria", "Cantabria"},
	{"Castellón", "Comunidad Valenciana"},
	{"Ciudad Real", "Castilla-La Mancha"},
	{"Córdoba", "Andalucía"},
	{"A Coruña", "Galicia"},
	{"Cuenca", "Castilla-La Mancha"},
	{"Gipuzkoa", "País Vasco"},
	{"Girona", "Cataluña"},
	{"Granada", "Andalucía"},
	{"Guadalajara", "Castilla-La Mancha"},
	{"Huelva", "Andalucía"},
	{"Huesca", "Aragón"},
	{"Jaén", "Andalucía"},
	{"León", "Castilla y León"},
	{"Lleida", "Cataluña"},
	{"Lugo", "Galicia"},
	{"Madrid", "Comunidad de Madrid"},
	{"Málaga", "Andalucía"},
	{"Murcia", "Región de Murcia"},
	{"Navarra", "Comunidad Foral de Navarra"},
	{"Ourense", "Galicia"},
	{"Palencia", "Castilla y León"},
	{"Las Palmas", "Canarias"},
	{"Pontevedra", "Galicia"},
	{"La Rioja", "La Rioja"},
	{"Salamanca", "Castilla y León"},
	{"Santa Cruz de Tenerife", "Canarias"},
	{"Segovia", "Castilla y León"},
	{"Sevilla", "Andalucía"},
	{"Soria", "Castilla y León"},
	{"Tarragona", "Cataluña"},
	{"Teruel", "Aragón"},
	{"Toledo", "Castilla-La Mancha"},
	{"Valencia", "Comunidad Valenciana"},
	{"Valladolid", "Castilla y León"},
	{"Zamora", "Castilla y León"},
	{"Zaragoza", "Aragón"},
	{"Ceuta", "Ceuta"},
	{"Melilla", "Melilla"},
}

// aliases maps older or Castilian spellings that appear in ICS locations to
// the canonical province name.
var aliases = map[string]string{
	"Baleares":     "Illes Balears",
	"Gerona":       "Girona",
	"Lérida":       "Lleida",
	"Vizcaya":      "Bizkaia",
	"Guipúzcoa":    "Gipuzkoa",
	"La Coruña":    "A Coruña",
	"Orense":       "Ourense",
	"Araba":        "Álava",
	"Tenerife":     "Santa Cruz de Tenerife",
	"Gran Canaria": "Las Palmas",
}

var byName = func() map[string]Province {
	m := make(map[string]Province, len(provinces))
	for _, p := range provinces {
		m[p.Name] = p
	}
	return m
}()

// Provinces returns a copy of the table in its canonical order.
func Provinces() []Province {
	out := make([]Province, len(provinces))
	copy(out, provinces)
	return out
}

// Communities lists the autonomous communities in first-seen table order.
func Communities() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range provinces {
		if !seen[p.Community] {
			seen[p.Community] = true
			out = append(out, p.Community)
		}
	}
	return out
}

// ProvincesIn lists the provinces of community in table order.
func ProvincesIn(community string) []string {
	var out []string
	for _, p := range provinces {
		if p.Community == community {
			out = append(out, p.Name)
		}
	}
	return out
}

// Place is a resolved event location.
type Place struct {
	Province  string
	Community string
	City      string
}

// CommunityOf returns the community a province belongs to.
func CommunityOf(province string) (string, bool) {
	p, ok := byName[province]
	return p.Community, ok
}

// Valid reports whether province exists and belongs to community. The
// comparison is exact, matching how records are stored.
func Valid(province, community string) bool {
	c, ok := CommunityOf(province)
	return ok && c == community
}

// Detect scans free text (typically an ICS LOCATION) for a province name or
// alias and returns the canonical province. The longest matching name wins.
func Detect(text string) (Province, bool) {
	folded := Fold(text)
	best := Province{}
	bestLen := 0
	consider := func(name, canonical string) {
		n := Fold(name)
		if len(n) > bestLen && strings.Contains(folded, n) {
			best = byName[canonical]
			bestLen = len(n)
		}
	}
	for _, p := range provinces {
		consider(p.Name, p.Name)
	}
	for alias, canonical := range aliases {
		consider(alias, canonical)
	}
	return best, bestLen > 0
}

// Fold lower-cases s and strips combining marks, so "Málaga" and "malaga"
// compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
