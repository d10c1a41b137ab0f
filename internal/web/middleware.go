package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"agendacomic/internal/apierr"
	"agendacomic/internal/auth"
	appLog "agendacomic/internal/log"
)

// requireAuth accepts either "Authorization: Bearer <token>" or HTTP Basic
// credentials and stores the principal in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Auth == nil {
			apierr.WriteHTTP(w, r, apierr.Authentication("authentication is not configured"))
			return
		}

		var (
			p   auth.Principal
			err error
		)
		header := r.Header.Get("Authorization")
		if token, ok := bearerToken(header); ok {
			p, err = s.deps.Auth.VerifyToken(token)
		} else if u, pw, ok := r.BasicAuth(); ok {
			p, err = s.deps.Auth.CheckPassword(u, pw)
		} else {
			err = apierr.Authentication("missing credentials")
		}
		if err != nil {
			apierr.WriteHTTP(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags each request with an X-Request-ID and logs one line
// when it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		appLog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Microsecond).String(),
			"request_id", reqID,
		)
	})
}
