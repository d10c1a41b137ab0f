package web

import (
	"embed"
	"html/template"
	"net/http"

	"agendacomic/internal/apierr"
	appLog "agendacomic/internal/log"
	"agendacomic/internal/stats"
)

// graphTemplates holds the server-rendered chart page captured by
// internal/capture.
//
//go:embed templates/graph.html.tmpl
var graphTemplates embed.FS

var graphTmpl = template.Must(template.ParseFS(graphTemplates, "templates/graph.html.tmpl"))

const graphTopN = 10

type graphRow struct {
	Name  string
	Total int
	Width int
}

type graphPage struct {
	FirstYear   int
	LastYear    int
	Total       int
	Communities []graphRow
	Provinces   []graphRow
}

// handleGraph renders the top communities/provinces as horizontal bars. The
// root element carries data-ready="true" once rendered so headless capture
// knows when to shoot.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Reader.Get(r.Context())
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	rep := stats.Compute(events, s.deps.Location)

	page := graphPage{
		FirstYear:   rep.FirstYear,
		LastYear:    rep.LastYear,
		Total:       rep.Total,
		Communities: rows(rep.TopCommunities(graphTopN)),
		Provinces:   rows(rep.TopProvinces(graphTopN)),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := graphTmpl.Execute(w, page); err != nil {
		appLog.Error("graph template failed", err)
	}
}

func rows(series []stats.Series) []graphRow {
	out := make([]graphRow, 0, len(series))
	maxTotal := 0
	for _, s := range series {
		maxTotal = max(maxTotal, s.Total)
	}
	for _, s := range series {
		out = append(out, graphRow{Name: s.Name, Total: s.Total, Width: barWidth(s.Total, maxTotal)})
	}
	return out
}

// barWidth scales n against maxN onto 0..600 px.
func barWidth(n, maxN int) int {
	if maxN <= 0 {
		return 0
	}
	return n * 600 / maxN
}
