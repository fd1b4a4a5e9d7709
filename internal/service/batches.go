// Package service provides the batch operations exposed by the HTTP API.
package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/raphaelgruber/wikibatch/internal/parser"
	"github.com/raphaelgruber/wikibatch/internal/store"
)

// Sentinel errors returned by BatchService. Store and parser errors are
// passed through wrapped.
var (
	// ErrForbidden indicates the acting user may not perform the request.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidRequest indicates missing or malformed request fields.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownWikibase indicates a submission against an unregistered
	// knowledge base.
	ErrUnknownWikibase = errors.New("unknown wikibase")
)

// DefaultPageSize is used when a command listing does not name one.
const DefaultPageSize = 25

const maxPageSize = 500

// Registry reports which knowledge bases batches may target.
type Registry interface {
	Has(id string) bool
}

// SubmitRequest is a script submission.
type SubmitRequest struct {
	Script   string              `json:"script"`
	Syntax   models.Syntax       `json:"syntax"`
	Name     string              `json:"name,omitempty"`
	Wikibase string              `json:"wikibase,omitempty"`
	Options  models.BatchOptions `json:"options"`
}

// CommandQuery selects one page of a batch's commands. Page is 1-based.
type CommandQuery struct {
	Page       int
	PageSize   int
	OnlyErrors bool
}

// CommandPage is one page of commands plus the size of the full selection.
type CommandPage struct {
	Commands []models.Command `json:"commands"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Total    int              `json:"total"`
}

// BatchService implements submission and the owner-facing batch actions.
type BatchService struct {
	store           store.Store
	auth            Authorizer
	registry        Registry
	defaultWikibase string
	now             func() time.Time
}

// NewBatchService creates a batch service. registry may be nil, in which
// case every knowledge-base id is accepted.
func NewBatchService(st store.Store, auth Authorizer, registry Registry, defaultWikibase string) *BatchService {
	return &BatchService{
		store:           st,
		auth:            auth,
		registry:        registry,
		defaultWikibase: defaultWikibase,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Preview parses a script without storing anything.
func (s *BatchService) Preview(_ context.Context, script string, syntax models.Syntax) ([]models.Command, error) {
	cmds, err := parser.Parse(script, syntax)
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("%w: script has no commands", ErrInvalidRequest)
	}
	return cmds, nil
}

// Submit parses and stores a batch owned by user. The batch starts in
// PREVIEW unless user is authorized to execute.
func (s *BatchService) Submit(ctx context.Context, user string, req SubmitRequest) (*models.Batch, error) {
	if user == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidRequest)
	}
	wikibase := req.Wikibase
	if wikibase == "" {
		wikibase = s.defaultWikibase
	}
	if s.registry != nil && !s.registry.Has(wikibase) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWikibase, wikibase)
	}
	syntax := req.Syntax
	if syntax == "" {
		syntax = models.SyntaxV1
	}

	cmds, err := s.Preview(ctx, req.Script, syntax)
	if err != nil {
		return nil, err
	}

	authorized, err := s.auth.IsAuthorized(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("check authorization: %w", err)
	}

	b, err := s.store.CreateBatch(ctx, models.Batch{
		Owner:    user,
		Wikibase: wikibase,
		Name:     strings.TrimSpace(req.Name),
		Syntax:   syntax,
		Options:  req.Options,
		Flags:    models.BatchFlags{Authorized: authorized},
	}, cmds)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	slog.Info("batch submitted",
		"batch", b.ID,
		"owner", user,
		"wikibase", wikibase,
		"commands", len(cmds),
		"status", b.Status,
	)
	return b, nil
}

// Get returns a batch and its command counts.
func (s *BatchService) Get(ctx context.Context, id int64) (*models.Summary, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountCommands(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count commands: %w", err)
	}
	return &models.Summary{Batch: *b, Counts: counts}, nil
}

// List returns batches matching f, newest first, with their counts.
func (s *BatchService) List(ctx context.Context, f store.BatchFilter) ([]models.Summary, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, f.Status)
	}
	batches, err := s.store.ListBatches(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	out := make([]models.Summary, 0, len(batches))
	for _, b := range batches {
		counts, err := s.store.CountCommands(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("count commands of batch %d: %w", b.ID, err)
		}
		out = append(out, models.Summary{Batch: b, Counts: counts})
	}
	return out, nil
}

// Commands returns one page of a batch's commands in index order.
func (s *BatchService) Commands(ctx context.Context, id int64, q CommandQuery) (*CommandPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = DefaultPageSize
	case q.PageSize > maxPageSize:
		q.PageSize = maxPageSize
	}

	counts, err := s.store.CountCommands(ctx, id)
	if err != nil {
		return nil, err
	}

	cmds, err := s.store.ListCommands(ctx, id, store.CommandFilter{
		OnlyErrors: q.OnlyErrors,
		Offset:     (q.Page - 1) * q.PageSize,
		Limit:      q.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}

	total := counts.Total
	if q.OnlyErrors {
		total = counts.Error
	}
	return &CommandPage{Commands: cmds, Page: q.Page, PageSize: q.PageSize, Total: total}, nil
}

// Allow authorizes a PREVIEW batch for execution.
func (s *BatchService) Allow(ctx context.Context, user string, id int64) (*models.Batch, error) {
	admin, err := s.checkActor(ctx, user)
	if err != nil {
		return nil, err
	}

	return s.act(ctx, "allow", user, store.Update{
		BatchID: id,
		Require: func(b *models.Batch, _ models.Counts) error {
			if err := mayActOn(b, user, admin); err != nil {
				return err
			}
			if b.Status != models.BatchPreview {
				return fmt.Errorf("%w: status is %s", models.ErrInvalidTransition, b.Status)
			}
			return nil
		},
		Batch: func(b *models.Batch) {
			b.Flags.Authorized = true
			b.Message = "Batch authorized by " + user
		},
	})
}

// Stop asks the executing worker to halt between units. A batch that has
// not started yet stops immediately.
func (s *BatchService) Stop(ctx context.Context, user string, id int64) (*models.Batch, error) {
	admin, err := s.checkActor(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return s.act(ctx, "stop", user, store.Update{
		BatchID: id,
		Require: func(b *models.Batch, _ models.Counts) error {
			if err := mayActOn(b, user, admin); err != nil {
				return err
			}
			if !b.Status.IsActive() {
				return fmt.Errorf("%w: status is %s", models.ErrInvalidTransition, b.Status)
			}
			return nil
		},
		Batch: func(b *models.Batch) {
			b.Flags.StopRequested = true
			b.Message = "Batch stop requested at " + now.Format(time.RFC3339)
		},
	})
}

// Restart resumes a STOPPED or BLOCKED batch from its first pending command.
func (s *BatchService) Restart(ctx context.Context, user string, id int64) (*models.Batch, error) {
	admin, err := s.checkActor(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return s.act(ctx, "restart", user, store.Update{
		BatchID: id,
		Require: func(b *models.Batch, counts models.Counts) error {
			if err := mayActOn(b, user, admin); err != nil {
				return err
			}
			if b.Status != models.BatchStopped && b.Status != models.BatchBlocked {
				return fmt.Errorf("%w: status is %s", models.ErrInvalidTransition, b.Status)
			}
			if counts.Pending() == 0 {
				return fmt.Errorf("%w: no pending commands", models.ErrInvalidTransition)
			}
			return nil
		},
		Batch: func(b *models.Batch) {
			b.Flags.Started = true
			b.Flags.StopRequested = false
			b.Flags.Blocked = false
			b.Message = "Batch restarted at " + now.Format(time.RFC3339)
		},
	})
}

// Rerun resets the ERROR commands of a DONE batch and starts a new pass.
// With uncombine set the new pass sends every command on its own.
func (s *BatchService) Rerun(ctx context.Context, user string, id int64, uncombine bool) (*models.Batch, error) {
	admin, err := s.checkActor(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var failed int
	return s.act(ctx, "rerun", user, store.Update{
		BatchID:     id,
		ResetErrors: true,
		Require: func(b *models.Batch, counts models.Counts) error {
			if err := mayActOn(b, user, admin); err != nil {
				return err
			}
			if b.Status != models.BatchDone {
				return fmt.Errorf("%w: status is %s", models.ErrInvalidTransition, b.Status)
			}
			if counts.Error == 0 {
				return fmt.Errorf("%w: no failed commands", models.ErrInvalidTransition)
			}
			failed = counts.Error
			return nil
		},
		Batch: func(b *models.Batch) {
			b.Flags.Started = true
			b.Flags.StopRequested = false
			b.Flags.Blocked = false
			if uncombine {
				b.Options.CombineCommands = false
			}
			b.Message = fmt.Sprintf("Rerun of %d failed commands requested at %s", failed, now.Format(time.RFC3339))
		},
	})
}

// ReportHeader is the first row of every batch report.
var ReportHeader = []string{"batch_id", "index", "operation", "status", "error", "message", "entity_id", "raw_input"}

// Report writes the batch's commands to w as CSV.
func (s *BatchService) Report(ctx context.Context, id int64, w io.Writer) error {
	if _, err := s.store.GetBatch(ctx, id); err != nil {
		return err
	}
	cmds, err := s.store.ListCommands(ctx, id, store.CommandFilter{})
	if err != nil {
		return fmt.Errorf("list commands: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ReportHeader); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	batchID := strconv.FormatInt(id, 10)
	for _, c := range cmds {
		row := models.ReportRowOf(c)
		err := cw.Write([]string{
			batchID,
			strconv.Itoa(row.Index),
			string(row.Operation),
			string(row.Status),
			string(row.Error),
			row.Message,
			row.EntityID,
			strings.ReplaceAll(row.Raw, "\t", "|"),
		})
		if err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// checkActor rejects users who may not act on batches at all and reports
// whether user may act on batches owned by others.
func (s *BatchService) checkActor(ctx context.Context, user string) (bool, error) {
	if user == "" {
		return false, fmt.Errorf("%w: missing user", ErrForbidden)
	}
	ok, err := s.auth.IsAuthorized(ctx, user)
	if err != nil {
		return false, fmt.Errorf("check authorization: %w", err)
	}
	if !ok {
		return false, fmt.Errorf("%w: %s is not authorized", ErrForbidden, user)
	}
	admin, err := s.auth.IsAdmin(ctx, user)
	if err != nil {
		return false, fmt.Errorf("check authorization: %w", err)
	}
	return admin, nil
}

func mayActOn(b *models.Batch, user string, admin bool) error {
	if admin || b.Owner == user {
		return nil
	}
	return fmt.Errorf("%w: %s does not own batch %d", ErrForbidden, user, b.ID)
}

func (s *BatchService) act(ctx context.Context, action, user string, u store.Update) (*models.Batch, error) {
	b, err := s.store.Commit(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("%s batch %d: %w", action, u.BatchID, err)
	}
	slog.Info("batch "+action,
		"batch", b.ID,
		"user", user,
		"status", b.Status,
	)
	return b, nil
}
