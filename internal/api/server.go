package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/feedback"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
	"github.com/TeacherLi07/essayhelper/internal/search"
	"github.com/TeacherLi07/essayhelper/internal/store"
)

// requestTimeout caps every request end to end; a remote embedding call
// on a cold cache is the slowest path behind it.
const requestTimeout = 60 * time.Second

// readyTimeout bounds each individual readiness probe.
const readyTimeout = 2 * time.Second

// Searcher answers reference queries. *search.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]search.Result, error)
}

// Articles loads single article records. *redis.ArticleStore satisfies it.
type Articles interface {
	Get(ctx context.Context, id string) (article.Article, bool, error)
}

// Feedback accepts user feedback submissions. *feedback.Service satisfies it.
type Feedback interface {
	Submit(ctx context.Context, content, contact string) error
}

// ReadyCheck probes one downstream dependency for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server wires HTTP handlers to the search, article, feedback, and run
// history services.
type Server struct {
	router   chi.Router
	searcher Searcher
	articles Articles
	feedback Feedback
	runs     *RunHandler
	checks   []ReadyCheck
	log      *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runs may be
// nil when no run history store is configured; the run endpoints then
// answer 503.
func NewServer(
	searcher Searcher,
	articles Articles,
	fb Feedback,
	runs store.RunRepository,
	checks []ReadyCheck,
	cfg config.Config,
	log *zap.Logger,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		searcher: searcher,
		articles: articles,
		feedback: fb,
		runs:     NewRunHandler(runs, log),
		checks:   checks,
		log:      log.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.log))
	r.Use(recoverMiddleware(s.log))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.searchReferences)
		r.Get("/articles/{article_id}", s.getArticle)
		r.Post("/feedback", s.submitFeedback)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.runs.ListRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.runs.GetRun)
				r.Get("/sources", s.runs.ListRunSources)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			s.log.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, c.Name+" unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

func (s *Server) searchReferences(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	results, err := s.searcher.Search(r.Context(), req.Query, req.K)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrEmptyQuery):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusRequestTimeout, "search timed out")
		default:
			s.log.Error("search failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "search failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "article_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "article_id is required")
		return
	}
	a, found, err := s.articles.Get(r.Context(), id)
	if err != nil {
		s.log.Error("load article failed", zap.String("article_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load article")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"article": a})
}

type feedbackRequest struct {
	Message string `json:"message"`
	Contact string `json:"contact"`
}

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.feedback.Submit(r.Context(), req.Message, req.Contact); err != nil {
		if errors.Is(err, feedback.ErrEmptyContent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("store feedback failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store feedback")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			log.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("write JSON response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
