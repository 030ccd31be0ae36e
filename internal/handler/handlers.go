// Package handler provides HTTP request handlers for the matchmaker.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/devrev/softmatch/internal/errors"
	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/service"
	"github.com/devrev/softmatch/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// Handlers contains the participant-facing handlers and their dependencies.
type Handlers struct {
	svc          *service.MatchmakingService
	presence     *service.PresenceService
	brackets     *validation.Brackets
	errorHandler *ErrorHandler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	svc *service.MatchmakingService,
	presence *service.PresenceService,
	brackets *validation.Brackets,
	errorHandler *ErrorHandler,
	logger *zap.Logger,
	timeout time.Duration,
) *Handlers {
	return &Handlers{
		svc:          svc,
		presence:     presence,
		brackets:     brackets,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

// DeclarationRequest is the body of a join. Bracket, when set, replaces
// level_min and level_max.
type DeclarationRequest struct {
	DisplayName   string         `json:"display_name"`
	Roles         []string       `json:"roles,omitempty"`
	Composition   map[string]int `json:"composition,omitempty"`
	LevelMin      int            `json:"level_min"`
	LevelMax      int            `json:"level_max"`
	Bracket       string         `json:"bracket,omitempty"`
	HasKeystone   bool           `json:"has_keystone"`
	KeystoneLevel *int           `json:"keystone_level,omitempty"`
	ChannelRef    string         `json:"channel_ref,omitempty"`
}

// Declaration converts the request into an engine declaration
func (req DeclarationRequest) Declaration(brackets *validation.Brackets) (model.Declaration, error) {
	decl := model.Declaration{
		DisplayName:   req.DisplayName,
		LevelMin:      req.LevelMin,
		LevelMax:      req.LevelMax,
		HasKeystone:   req.HasKeystone,
		KeystoneLevel: req.KeystoneLevel,
		ChannelRef:    req.ChannelRef,
	}
	if req.Bracket != "" {
		r, err := brackets.Range(req.Bracket)
		if err != nil {
			return model.Declaration{}, err
		}
		decl.LevelMin, decl.LevelMax = r.Min, r.Max
	}
	for _, role := range req.Roles {
		decl.Roles = append(decl.Roles, model.Role(role))
	}
	if req.Composition != nil {
		decl.Composition = make(model.Composition, len(req.Composition))
		for role, n := range req.Composition {
			decl.Composition[model.Role(role)] = n
		}
	}
	return decl, nil
}

// PresenceRequest answers a presence prompt
type PresenceRequest struct {
	Stay *bool `json:"stay"`
}

// SessionActionRequest identifies who confirms or rejects
type SessionActionRequest struct {
	ParticipantID int64 `json:"participant_id"`
}

// Join handles POST /v1/tenants/{tenant}/entries/{participant}.
func (h *Handlers) Join(w http.ResponseWriter, r *http.Request) {
	tenantID, participantID, ok := h.entryPath(w, r)
	if !ok {
		return
	}

	var req DeclarationRequest
	if !h.decode(w, r, &req) {
		return
	}
	decl, err := req.Declaration(h.brackets)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	result, err := h.svc.Join(ctx, tenantID, participantID, decl)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

// Leave handles DELETE /v1/tenants/{tenant}/entries/{participant}.
func (h *Handlers) Leave(w http.ResponseWriter, r *http.Request) {
	tenantID, participantID, ok := h.entryPath(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	removed, err := h.svc.Leave(ctx, tenantID, participantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"removed": removed})
}

// Presence handles POST /v1/tenants/{tenant}/entries/{participant}/presence.
func (h *Handlers) Presence(w http.ResponseWriter, r *http.Request) {
	tenantID, participantID, ok := h.entryPath(w, r)
	if !ok {
		return
	}

	var req PresenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Stay == nil {
		h.errorHandler.WriteValidationError(w, r, "stay is required")
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	outcome, err := h.presence.Respond(ctx, tenantID, participantID, *req.Stay)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]service.PresenceOutcome{"outcome": outcome})
}

// GetSession handles GET /v1/sessions/{session}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Session(mux.Vars(r)["session"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// Confirm handles POST /v1/sessions/{session}/confirm.
func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.svc.Confirm)
}

// Reject handles POST /v1/sessions/{session}/reject.
func (h *Handlers) Reject(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.svc.Reject)
}

func (h *Handlers) sessionAction(w http.ResponseWriter, r *http.Request,
	action func(context.Context, string, int64) (*service.ConfirmResult, error)) {
	var req SessionActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ParticipantID <= 0 {
		h.errorHandler.WriteValidationError(w, r, "participant_id must be positive")
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	result, err := action(ctx, mux.Vars(r)["session"], req.ParticipantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

// BracketView is one level preset as served to clients
type BracketView struct {
	Name     string `json:"name"`
	LevelMin int    `json:"level_min"`
	LevelMax int    `json:"level_max"`
}

// ListBrackets handles GET /v1/brackets.
func (h *Handlers) ListBrackets(w http.ResponseWriter, r *http.Request) {
	list := h.brackets.List()
	out := make([]BracketView, 0, len(list))
	for _, b := range list {
		out = append(out, BracketView{Name: b.Name, LevelMin: b.Range.Min, LevelMax: b.Range.Max})
	}
	writeJSONResponse(w, http.StatusOK, out)
}

func (h *Handlers) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *Handlers) entryPath(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID, ok := tenantParam(h.errorHandler, w, r)
	if !ok {
		return 0, 0, false
	}
	participantID, err := strconv.ParseInt(mux.Vars(r)["participant"], 10, 64)
	if err != nil || participantID <= 0 {
		h.errorHandler.HandleError(w, r, apperrors.InvalidArgument(
			fmt.Sprintf("invalid participant id %q", mux.Vars(r)["participant"]), nil))
		return 0, 0, false
	}
	return tenantID, participantID, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	return decodeBody(h.errorHandler, w, r, v)
}

func tenantParam(eh *ErrorHandler, w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["tenant"]
	tenantID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || tenantID <= 0 {
		eh.HandleError(w, r, apperrors.InvalidTenantID(tenantID, fmt.Sprintf("invalid tenant id %q", raw)))
		return 0, false
	}
	return tenantID, true
}

func decodeBody(eh *ErrorHandler, w http.ResponseWriter, r *http.Request, v interface{}) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		eh.WriteValidationError(w, r, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeJSONResponse writes a JSON response.
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
