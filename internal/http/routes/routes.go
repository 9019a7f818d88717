package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/vidyback/templatestore/internal/config"
	"github.com/vidyback/templatestore/internal/github"
	"github.com/vidyback/templatestore/internal/http/middleware"
	"github.com/vidyback/templatestore/internal/jobs"
	"github.com/vidyback/templatestore/internal/store"
	"github.com/vidyback/templatestore/internal/templates"
)

const maxBodyBytes = 10 << 20

// Pusher mirrors the document to the remote file
type Pusher interface {
	Push(ctx context.Context, doc store.Document) (*github.CommitResult, error)
}

// PushQueue schedules background pushes
type PushQueue interface {
	EnqueuePush(ctx context.Context) (*asynq.TaskInfo, error)
}

type Server struct {
	Router    *chi.Mux
	Templates *templates.Service
	Remote    Pusher    // nil when GitHub sync is not configured
	Queue     PushQueue // nil when jobs are disabled
}

type ServerOptions struct {
	Templates *templates.Service
	Remote    Pusher
	Queue     PushQueue
	Cfg       config.Config
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics // optional
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if opts.Cfg.HTTP.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(chimw.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Instrument)
	}
	r.Use(middleware.CORS)
	if opts.Cfg.HTTP.RateLimitRPS > 0 {
		r.Use(middleware.NewRateLimiter(opts.Cfg.HTTP.RateLimitRPS, opts.Cfg.HTTP.RateLimitBurst).Handler)
	}
	r.Use(middleware.Headers(opts.Cfg.HTTP.CacheControl, opts.Cfg.HTTP.ResponseHeaders))
	if opts.Cfg.HTTP.ETag {
		r.Use(middleware.ETag)
	}
	r.Use(chimw.GetHead)

	s := &Server{Router: r, Templates: opts.Templates, Remote: opts.Remote, Queue: opts.Queue}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/db", s.handleDocument)
	r.Post("/add-template", s.handleAddTemplate)
	r.Put("/update-template", s.handleUpdateTemplate)
	r.Post("/push-to-github", s.handlePush)

	r.Post("/{category}", s.handleAppend)
	r.Get("/{category}", s.handleList)
	r.Get("/{category}/{id}", s.handleGet)
	r.Put("/{category}/{id}", s.handleReplace)
	r.Patch("/{category}/{id}", s.handlePatch)
	r.Delete("/{category}/{id}", s.handleDelete)

	return s
}

// requestIDLogger tags the request logger with the chi request id
func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Stringer("url", r.URL).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// fail maps service errors onto responses
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, templates.ErrEmptyTemplate):
		writeError(w, r, http.StatusBadRequest, "Template body cannot be empty")
	case errors.Is(err, templates.ErrMissingCategory):
		writeError(w, r, http.StatusBadRequest, "Template must have a 'category' field")
	case errors.Is(err, templates.ErrMissingID):
		writeError(w, r, http.StatusBadRequest, "Template must have an 'id' field")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Not Found")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

// decodeBody reads a JSON body into v, answering 400 itself on failure. An
// empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "Request body must be a JSON object")
		return false
	}
	return true
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Templates.Document(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, doc)
}

type templateRequest struct {
	Template store.Record `json:"template"`
}

func (s *Server) handleAddTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	category, tmpl, err := s.Templates.AddTemplate(r.Context(), req.Template)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Str("category", category).Interface("template_id", tmpl["id"]).Msg("added template")
	writeJSON(w, r, http.StatusOK, map[string]any{
		"message":  fmt.Sprintf("Template added to category '%s'.", category),
		"template": tmpl,
	})
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	category, tmpl, err := s.Templates.UpdateTemplate(r.Context(), req.Template)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Str("category", category).Interface("template_id", tmpl["id"]).Msg("updated template")
	writeJSON(w, r, http.StatusOK, map[string]any{
		"message":  fmt.Sprintf("Template updated in category '%s'.", category),
		"template": tmpl,
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async && s.Queue != nil {
		info, err := s.Queue.EnqueuePush(r.Context())
		switch {
		case errors.Is(err, jobs.ErrAlreadyQueued):
			writeJSON(w, r, http.StatusAccepted, map[string]any{"message": "Push already queued."})
		case err != nil:
			log.Error().Err(err).Msg("enqueue push failed")
			writeError(w, r, http.StatusInternalServerError, "Failed to queue push")
		default:
			log.Info().Str("task_id", info.ID).Str("queue", info.Queue).Msg("push queued")
			writeJSON(w, r, http.StatusAccepted, map[string]any{"message": "Push queued.", "task_id": info.ID})
		}
		return
	}

	if s.Remote == nil {
		writeError(w, r, http.StatusServiceUnavailable, "GitHub sync is not configured")
		return
	}

	doc, err := s.Templates.Document(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.Remote.Push(r.Context(), doc)
	var commitErr *github.CommitError
	switch {
	case errors.Is(err, github.ErrNoSHA):
		log.Error().Err(err).Msg("could not get file sha from GitHub")
		writeError(w, r, http.StatusInternalServerError, "Failed to get file SHA from GitHub")
	case errors.As(err, &commitErr):
		log.Error().Int("status", commitErr.StatusCode).RawJSON("response", commitErr.Response).Msg("GitHub commit failed")
		writeJSON(w, r, http.StatusInternalServerError, map[string]any{
			"error":          "GitHub commit failed",
			"commitResponse": commitErr.Response,
		})
	case err != nil:
		log.Error().Err(err).Msg("push to GitHub failed")
		writeError(w, r, http.StatusInternalServerError, "Internal Server Error")
	default:
		log.Info().Str("commit", res.SHA).Msg("document pushed to GitHub")
		writeJSON(w, r, http.StatusOK, map[string]any{
			"message": "db.json successfully pushed to GitHub.",
			"commit":  res.Commit,
		})
	}
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var rec store.Record
	if !decodeBody(w, r, &rec) {
		return
	}
	category := chi.URLParam(r, "category")
	stored, err := s.Templates.Append(r.Context(), category, rec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Str("category", category).Msg("appended record")
	writeJSON(w, r, http.StatusOK, stored)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.Templates.List(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, records)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Templates.Get(r.Context(), chi.URLParam(r, "category"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	var rec store.Record
	if !decodeBody(w, r, &rec) {
		return
	}
	updated, err := s.Templates.Replace(r.Context(), chi.URLParam(r, "category"), chi.URLParam(r, "id"), rec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	var rec store.Record
	if !decodeBody(w, r, &rec) {
		return
	}
	updated, err := s.Templates.Patch(r.Context(), chi.URLParam(r, "category"), chi.URLParam(r, "id"), rec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Templates.Delete(r.Context(), chi.URLParam(r, "category"), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{})
}
