package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"agendacomic/internal/apierr"
	"agendacomic/internal/auth"
	appLog "agendacomic/internal/log"
	"agendacomic/internal/model"
	"agendacomic/internal/query"
	"agendacomic/internal/stats"
)

// EventReader serves the (cached) collection.
type EventReader interface {
	Get(ctx context.Context) ([]model.Event, error)
}

// EventWriter is the mutation pipeline.
type EventWriter interface {
	Create(ctx context.Context, d model.EventDraft) (model.Event, error)
	Update(ctx context.Context, id int, patch model.EventPatch) (model.Event, error)
	Delete(ctx context.Context, id int) error
}

// ModTimer exposes the store's "last updated" signal.
type ModTimer interface {
	ModTime() (time.Time, error)
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Reader   EventReader
	Writer   EventWriter
	Store    ModTimer
	Auth     *auth.Authenticator
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server exposes the event API over HTTP.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// NewServer constructs a Server and registers its routes.
func NewServer(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// Handler returns the root handler with request logging and tracing.
func (s *Server) Handler() http.Handler {
	root := http.NewServeMux()
	root.Handle("/v1/", http.StripPrefix("/v1", s.mux))
	root.Handle("/", s.mux)
	return otelhttp.NewHandler(requestLogger(root), "agendacomic",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /events/{$}", s.handleList)
	s.mux.HandleFunc("GET /events/search/{$}", s.handleSearch)
	s.mux.HandleFunc("GET /events/search", s.handleSearch)
	s.mux.HandleFunc("GET /events/{id}", s.handleGet)

	s.mux.Handle("POST /events/{$}", s.requireAuth(http.HandlerFunc(s.handleCreate)))
	s.mux.Handle("PUT /events/{id}/{$}", s.requireAuth(http.HandlerFunc(s.handleUpdate)))
	s.mux.Handle("PUT /events/{id}", s.requireAuth(http.HandlerFunc(s.handleUpdate)))
	s.mux.Handle("DELETE /events/{id}", s.requireAuth(http.HandlerFunc(s.handleDelete)))

	s.mux.HandleFunc("POST /token", s.handleToken)

	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /stats/graph", s.handleGraph)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// listResponse is the JSON shape for listing and search.
type listResponse struct {
	Total       int           `json:"total"`
	LastUpdated string        `json:"last_updated,omitempty"`
	Events      []model.Event `json:"events"`
}

// handleList returns the whole collection sorted by start date, most recent
// first.
//
// GET /events/?limit=20&offset=0
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := query.ParsePage(r.URL.Query())
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}

	events, err := s.deps.Reader.Get(r.Context())
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}

	sorted := query.SortByStartDesc(events, s.deps.Location)
	writeJSON(w, http.StatusOK, listResponse{
		Total:       len(events),
		LastUpdated: s.lastUpdated(),
		Events:      query.Paginate(sorted, page),
	})
}

// handleSearch filters by region, type and date range. An empty match set
// is a 404, not an empty page.
//
// GET /events/search/?province=&community=&city=&type=&start_date=&end_date=&limit=&offset=
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := query.ParsePage(q)
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	criteria, err := query.ParseCriteria(q)
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}

	events, err := s.deps.Reader.Get(r.Context())
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}

	matched, err := query.Search(events, criteria, s.deps.Now(), s.deps.Location)
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}

	appLog.Debug("search",
		"province", criteria.Province,
		"community", criteria.Community,
		"city", criteria.City,
		"type", criteria.Type,
		"matched", len(matched),
	)

	writeJSON(w, http.StatusOK, listResponse{
		Total:       len(matched),
		LastUpdated: s.lastUpdated(),
		Events:      query.Paginate(matched, page),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	events, err := s.deps.Reader.Get(r.Context())
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	ev, err := query.FindByID(events, id)
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var patch model.EventPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	draft, err := patch.Draft()
	if err != nil {
		apierr.WriteHTTP(w, r, apierr.Validation(err.Error()))
		return
	}

	ev, err := s.deps.Writer.Create(r.Context(), draft)
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	appLog.Info("api create", "id", ev.ID, "user", actor(r))
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	var patch model.EventPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}

	ev, err := s.deps.Writer.Update(r.Context(), id, patch)
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	appLog.Info("api update", "id", id, "user", actor(r))
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	if err := s.deps.Writer.Delete(r.Context(), id); err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	appLog.Info("api delete", "id", id, "user", actor(r))
	w.WriteHeader(http.StatusNoContent)
}

// handleToken exchanges form-encoded username/password for a bearer token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		apierr.WriteHTTP(w, r, apierr.Authentication("authentication is not configured"))
		return
	}
	if err := r.ParseForm(); err != nil {
		apierr.WriteHTTP(w, r, apierr.Validation("invalid form body"))
		return
	}
	tok, err := s.deps.Auth.IssueToken(r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		appLog.Info("token request rejected", "username", r.PostForm.Get("username"))
		apierr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Reader.Get(r.Context())
	if err != nil {
		apierr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Compute(events, s.deps.Location))
}

// lastUpdated formats the store mtime as UTC RFC 3339 ("...Z"). A stat
// failure is logged and leaves the field empty.
func (s *Server) lastUpdated() string {
	if s.deps.Store == nil {
		return ""
	}
	mt, err := s.deps.Store.ModTime()
	if err != nil {
		appLog.Warn("stat events file failed", err)
		return ""
	}
	return mt.UTC().Format(time.RFC3339)
}

func actor(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p.Username
	}
	return ""
}

func pathID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return 0, apierr.Validation("event id must be a positive integer")
	}
	return id, nil
}

const maxBodyBytes = 1 << 20

// decodeJSON decodes the request body into v. Unknown fields (such as an
// "id" sent by ingestion scripts) are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apierr.Validation("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}
