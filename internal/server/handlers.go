package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/raphaelgruber/wikibatch/internal/parser"
	"github.com/raphaelgruber/wikibatch/internal/service"
	"github.com/raphaelgruber/wikibatch/internal/store"
)

// maxBodyBytes bounds submitted scripts.
const maxBodyBytes = 32 << 20

const defaultListLimit = 50

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string           `json:"error"`
	Message string           `json:"message"`
	Errors  parser.ErrorList `json:"errors,omitempty"`
}

// PreviewRequest is the body of a preview call.
type PreviewRequest struct {
	Script string        `json:"script"`
	Syntax models.Syntax `json:"syntax"`
}

// PreviewResponse lists the commands a script would create.
type PreviewResponse struct {
	Commands []models.Command `json:"commands"`
}

// ListResponse is one page of batches.
type ListResponse struct {
	Batches []models.Summary `json:"batches"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.svc.Submit(r.Context(), r.Header.Get(UserHeader), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	cmds, err := s.svc.Preview(r.Context(), req.Script, req.Syntax)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{Commands: cmds})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	batches, err := s.svc.List(r.Context(), store.BatchFilter{
		Owner:  q.Get("owner"),
		Status: models.BatchStatus(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Batches: batches})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.batchID(w, r)
	if !ok {
		return
	}
	sum, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	id, ok := s.batchID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	size, err := intParam(q.Get("page_size"), service.DefaultPageSize)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.svc.Commands(r.Context(), id, service.CommandQuery{
		Page:       page,
		PageSize:   size,
		OnlyErrors: boolParam(q.Get("only_errors")),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAllow(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.svc.Allow)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.svc.Stop)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.svc.Restart)
}

func (s *Server) handleRerun(w http.ResponseWriter, r *http.Request) {
	uncombine := boolParam(r.URL.Query().Get("uncombine"))
	s.action(w, r, func(ctx context.Context, user string, id int64) (*models.Batch, error) {
		return s.svc.Rerun(ctx, user, id, uncombine)
	})
}

type actionFunc func(ctx context.Context, user string, id int64) (*models.Batch, error)

func (s *Server) action(w http.ResponseWriter, r *http.Request, fn actionFunc) {
	id, ok := s.batchID(w, r)
	if !ok {
		return
	}
	b, err := fn(r.Context(), r.Header.Get(UserHeader), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.batchID(w, r)
	if !ok {
		return
	}
	// Resolve the batch before committing to a CSV response.
	if _, err := s.svc.Get(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="batch_%d.csv"`, id))
	if err := s.svc.Report(r.Context(), id, w); err != nil {
		s.logger.Error("write report", "batch", id, "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode body: %v", service.ErrInvalidRequest, err))
		return false
	}
	return true
}

func (s *Server) batchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, fmt.Errorf("%w: invalid batch id %q", service.ErrInvalidRequest, r.PathValue("id")))
		return 0, false
	}
	return id, true
}

// writeError maps service, store and parser errors to HTTP responses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var list parser.ErrorList
	var resp ErrorResponse
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &list):
		status, resp.Error, resp.Errors = http.StatusUnprocessableEntity, "parse_error", list
	case errors.Is(err, parser.ErrUnknownSyntax):
		status, resp.Error = http.StatusUnprocessableEntity, "parse_error"
	case errors.Is(err, models.ErrInvalidTransition):
		status, resp.Error = http.StatusConflict, "invalid_transition"
	case errors.Is(err, store.ErrConflict):
		status, resp.Error = http.StatusConflict, "conflict"
	case errors.Is(err, store.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrForbidden):
		status, resp.Error = http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrUnknownWikibase):
		status, resp.Error = http.StatusBadRequest, "unknown_wikibase"
	case errors.Is(err, service.ErrInvalidRequest):
		status, resp.Error = http.StatusBadRequest, "invalid_request"
	default:
		resp.Error = "internal_error"
		s.logger.Error("request error", "error", err)
	}
	resp.Message = err.Error()
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid number %q", service.ErrInvalidRequest, raw)
	}
	return n, nil
}

func boolParam(raw string) bool {
	b, _ := strconv.ParseBool(raw)
	return b
}
