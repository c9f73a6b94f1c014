// Package audithttp serves the audit trail over HTTP.
package audithttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teamaccess/team-access-manager/internal/audit"
	"github.com/teamaccess/team-access-manager/internal/platform/httpx"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

const maxDateRange = 366 * 24 * time.Hour

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
	Authorize(ctx context.Context, actor shared.Principal, filters audit.TimelineFilters) error
}

// Exporter writes audit timeline exports.
type Exporter interface {
	WriteCSV(rows []audit.TimelineRow) ([]byte, error)
}

// Handler serves audit timeline requests.
type Handler struct {
	logger   *slog.Logger
	service  TimelineService
	exporter Exporter
	rbac     rbac.Middleware
}

// NewHandler creates an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService, exporter Exporter, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, exporter: exporter, rbac: rbac}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.authorizedFilters(w, r)
	if !ok {
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.authorizedFilters(w, r)
	if !ok {
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	csvBytes, err := h.exporter.WriteCSV(rows)
	if err != nil {
		h.fail(w, r, fmt.Errorf("encode csv: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-log.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) authorizedFilters(w http.ResponseWriter, r *http.Request) (audit.TimelineFilters, bool) {
	filters, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return audit.TimelineFilters{}, false
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.Authorize(r.Context(), actor, filters); err != nil {
		h.fail(w, r, err)
		return audit.TimelineFilters{}, false
	}
	return filters, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, audit.ErrInvalidFilter) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	httpx.Error(w, r, h.logger, err)
}

func parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	var filters audit.TimelineFilters
	var err error
	if filters.TeamID, err = optionalID(q.Get("teamId")); err != nil {
		return filters, err
	}
	if filters.UserID, err = optionalID(q.Get("userId")); err != nil {
		return filters, err
	}
	if filters.From, err = optionalDate(q.Get("from")); err != nil {
		return filters, err
	}
	if filters.To, err = optionalDate(q.Get("to")); err != nil {
		return filters, err
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.To.Sub(filters.From) > maxDateRange {
		return filters, fmt.Errorf("%w: date range exceeds one year", audit.ErrInvalidFilter)
	}
	filters.Page, filters.PageSize = shared.PageFromRequest(r)
	return filters, nil
}

func optionalID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", audit.ErrInvalidFilter, raw)
	}
	return id, nil
}

func optionalDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", audit.ErrInvalidFilter, raw)
	}
	return t, nil
}
