package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/devrev/softmatch/internal/errors"
	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/scenario"
	"github.com/devrev/softmatch/internal/service"
	"github.com/devrev/softmatch/internal/stats"
	"github.com/devrev/softmatch/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AdminHandlers serve the operator surface under /v1/admin.
type AdminHandlers struct {
	svc          *service.MatchmakingService
	runner       *scenario.Runner
	brackets     *validation.Brackets
	recorder     stats.Recorder
	schedule     stats.Schedule
	errorHandler *ErrorHandler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewAdminHandlers creates the administrative handlers. recorder is consulted
// for weekly summaries when it implements stats.Summarizer.
func NewAdminHandlers(
	svc *service.MatchmakingService,
	runner *scenario.Runner,
	brackets *validation.Brackets,
	recorder stats.Recorder,
	schedule stats.Schedule,
	errorHandler *ErrorHandler,
	logger *zap.Logger,
	timeout time.Duration,
) *AdminHandlers {
	return &AdminHandlers{
		svc:          svc,
		runner:       runner,
		brackets:     brackets,
		recorder:     recorder,
		schedule:     schedule,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

// ListQueues handles GET /v1/admin/queue.
func (h *AdminHandlers) ListQueues(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.Snapshots()
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []model.TenantSnapshot{}
	}
	writeJSONResponse(w, http.StatusOK, snaps)
}

// GetQueue handles GET /v1/admin/tenants/{tenant}/queue.
func (h *AdminHandlers) GetQueue(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(h.errorHandler, w, r)
	if !ok {
		return
	}
	snap, err := h.svc.Snapshot(tenantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, snap)
}

// ClearAll handles DELETE /v1/admin/queue.
func (h *AdminHandlers) ClearAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	removed, err := h.svc.ClearAll(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.logger.Info("All queues cleared", zap.Int("removed", removed))
	writeJSONResponse(w, http.StatusOK, map[string]int{"removed": removed})
}

// Clear handles DELETE /v1/admin/tenants/{tenant}/queue.
func (h *AdminHandlers) Clear(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(h.errorHandler, w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()

	removed, err := h.svc.Clear(ctx, tenantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"removed": removed})
}

// RemoveEntry handles DELETE /v1/admin/tenants/{tenant}/entries/{participant}.
func (h *AdminHandlers) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	tenantID, participantID, ok := h.entryPath(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()

	removed, err := h.svc.RemoveEntry(ctx, tenantID, participantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if !removed {
		h.errorHandler.HandleError(w, r, apperrors.EntryNotFound(tenantID, participantID))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"removed": true})
}

// Partition handles POST /v1/admin/tenants/{tenant}/partition.
func (h *AdminHandlers) Partition(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(h.errorHandler, w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()

	views, err := h.svc.Partition(ctx, tenantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if views == nil {
		views = []model.SessionView{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"sessions": views})
}

// ForceMatch handles POST /v1/admin/tenants/{tenant}/entries/{participant}/match.
func (h *AdminHandlers) ForceMatch(w http.ResponseWriter, r *http.Request) {
	tenantID, participantID, ok := h.entryPath(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()

	view, err := h.svc.ForceMatch(ctx, tenantID, participantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"matched": view != nil, "session": view})
}

// AddSynthetic handles POST /v1/admin/tenants/{tenant}/synthetic.
func (h *AdminHandlers) AddSynthetic(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(h.errorHandler, w, r)
	if !ok {
		return
	}
	var req DeclarationRequest
	if !decodeBody(h.errorHandler, w, r, &req) {
		return
	}
	decl, err := req.Declaration(h.brackets)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	result, err := h.svc.AddSynthetic(ctx, tenantID, decl)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, result)
}

// CleanupSynthetic handles DELETE /v1/admin/tenants/{tenant}/synthetic.
func (h *AdminHandlers) CleanupSynthetic(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(h.errorHandler, w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()

	removed, err := h.svc.CleanupSynthetic(ctx, tenantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"removed": removed})
}

// ListScenarios handles GET /v1/admin/scenarios.
func (h *AdminHandlers) ListScenarios(w http.ResponseWriter, r *http.Request) {
	all, err := scenario.Builtins()
	if err != nil {
		h.errorHandler.HandleError(w, r, apperrors.InternalError("failed to load scenarios", err))
		return
	}
	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Mode        string `json:"mode"`
		Players     int    `json:"players"`
	}
	out := make([]entry, 0, len(all))
	for _, sc := range all {
		out = append(out, entry{Name: sc.Name, Description: sc.Description, Mode: string(sc.Mode), Players: len(sc.Players)})
	}
	writeJSONResponse(w, http.StatusOK, out)
}

// RunScenario handles POST /v1/admin/tenants/{tenant}/scenarios/{name}.
func (h *AdminHandlers) RunScenario(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(h.errorHandler, w, r)
	if !ok {
		return
	}
	sc, err := scenario.Get(mux.Vars(r)["name"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	result, err := h.runner.Run(ctx, tenantID, sc)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp := map[string]interface{}{"result": result, "passed": true}
	if err := result.Check(sc.Expect); err != nil {
		resp["passed"] = false
		resp["mismatch"] = err.Error()
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// Stats handles GET /v1/admin/tenants/{tenant}/stats?week=YYYYWW.
func (h *AdminHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(h.errorHandler, w, r)
	if !ok {
		return
	}
	summarizer, ok := h.recorder.(stats.Summarizer)
	if !ok {
		h.errorHandler.HandleError(w, r, apperrors.Unavailable("configured stats backend keeps no summaries", nil))
		return
	}

	week := h.schedule.WeekNumber(time.Now())
	if raw := r.URL.Query().Get("week"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.errorHandler.HandleError(w, r, apperrors.InvalidArgument(fmt.Sprintf("invalid week %q", raw), nil))
			return
		}
		week = n
	}

	ctx, cancel := h.context(r)
	defer cancel()

	summary, err := summarizer.WeeklySummary(ctx, tenantID, week)
	if err != nil {
		h.errorHandler.HandleError(w, r, apperrors.Unavailable("failed to read stats", err))
		return
	}
	writeJSONResponse(w, http.StatusOK, summary)
}

func (h *AdminHandlers) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *AdminHandlers) entryPath(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID, ok := tenantParam(h.errorHandler, w, r)
	if !ok {
		return 0, 0, false
	}
	raw := mux.Vars(r)["participant"]
	participantID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || participantID <= 0 {
		h.errorHandler.HandleError(w, r, apperrors.InvalidArgument(fmt.Sprintf("invalid participant id %q", raw), nil))
		return 0, 0, false
	}
	return tenantID, participantID, true
}
