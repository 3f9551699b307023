package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"carbon-reports/internal/artifact"
	"carbon-reports/internal/jobs"
	"carbon-reports/internal/models"
	"carbon-reports/internal/ratelimit"
	"carbon-reports/internal/store"
	"carbon-reports/internal/telemetry"
)

// Reports is the job manager surface exposed over HTTP.
type Reports interface {
	Enqueue(ctx context.Context, year, month int) (models.ReportJob, bool, error)
	Get(ctx context.Context, id string) (models.ReportJob, error)
	List(ctx context.Context) ([]models.ReportJob, error)
	Requeue(ctx context.Context, id string) (models.ReportJob, error)
}

// Limiter throttles enqueue requests per caller.
type Limiter interface {
	Allow(ctx context.Context, caller string) (ratelimit.Decision, error)
}

// Pinger backs the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Server needs. Limiter and Health may be nil.
type Deps struct {
	Reports Reports
	Links   artifact.Linker
	Limiter Limiter
	Health  Pinger
	Logger  logrus.FieldLogger
}

// Server wires HTTP handlers for the report API.
type Server struct {
	reports Reports
	links   artifact.Linker
	limiter Limiter
	health  Pinger
	log     logrus.FieldLogger
}

// New constructs the API server.
func New(d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		reports: d.Reports,
		links:   d.Links,
		limiter: d.Limiter,
		health:  d.Health,
		log:     log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/reports", func(r chi.Router) {
		r.With(s.rateLimit).Post("/", s.handleEnqueue)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Get("/{id}/download", s.handleDownload)
		r.Post("/{id}/retry", s.handleRetry)
	})
	return r
}

type enqueueRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

type enqueueResponse struct {
	Job     models.ReportJob `json:"job"`
	Created bool             `json:"created"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	job, created, err := s.reports.Enqueue(r.Context(), req.Year, req.Month)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Job: job, Created: created})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.reports.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.reports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, err := s.reports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if job.Status != models.StatusComplete || job.ArtifactKey == nil {
		writeError(w, http.StatusConflict, "report is "+string(job.Status))
		return
	}
	link, err := s.links.URL(r.Context(), *job.ArtifactKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, link, http.StatusFound)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.reports.Requeue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		d, err := s.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			s.log.WithError(err).Error("rate limiter unavailable")
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

// fail maps manager errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case jobs.KindOf(err) == jobs.KindValidation:
		status = http.StatusBadRequest
	case jobs.KindOf(err) == jobs.KindContract:
		status = http.StatusConflict
	}
	entry := s.log.WithError(err).WithFields(logrus.Fields{"path": r.URL.Path, "kind": jobs.KindOf(err)})
	if status >= http.StatusInternalServerError || status == http.StatusConflict {
		entry.Error("request failed")
		if status >= http.StatusInternalServerError {
			writeError(w, status, "internal error")
			return
		}
	}
	writeError(w, status, err.Error())
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
