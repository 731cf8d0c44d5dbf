package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/goclaw/recall/pkg/api/models"
	"github.com/goclaw/recall/pkg/api/response"
	"github.com/goclaw/recall/pkg/consolidation"
	"github.com/goclaw/recall/pkg/engine"
	"github.com/goclaw/recall/pkg/formatter"
	"github.com/goclaw/recall/pkg/logger"
	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/relevance"
)

// RelevanceEngine is the part of the engine the HTTP API exposes.
type RelevanceEngine interface {
	RetrieveMemories(ctx context.Context, scope, query string, opts engine.RetrieveOptions) (*engine.RetrieveResult, error)
	GetWorkingMemory(ctx context.Context, scope string, excludeIDs []string) ([]memory.Item, error)
	RecordTurn(ctx context.Context, item memory.Item) (memory.Item, error)
	ConsolidateWorkingMemory(ctx context.Context, scope string, items []memory.Item, opts *consolidation.Options) (*consolidation.Result, error)
	ConsolidateAsync(scope string, items []memory.Item, opts *consolidation.Options) error
	Scorer() *relevance.Scorer
	SetScorerConfig(cfg relevance.Config) error
	FlushCache()
}

// MemoryHandler handles retrieval, working memory and scorer endpoints.
type MemoryHandler struct {
	engine        RelevanceEngine
	format        formatter.Options
	consolidation consolidation.Options
	logger        logger.Logger
	validator     *validator.Validate
}

// NewMemoryHandler creates a new memory handler. format holds the context
// block defaults and consolidate the default pass options.
func NewMemoryHandler(eng RelevanceEngine, format formatter.Options, consolidate consolidation.Options, log logger.Logger) *MemoryHandler {
	if log == nil {
		log = logger.Global()
	}
	return &MemoryHandler{
		engine:        eng,
		format:        format,
		consolidation: consolidate,
		logger:        log,
		validator:     validator.New(),
	}
}

// Retrieve handles POST /api/v1/memories/retrieve
func (h *MemoryHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req models.RetrieveRequest
	if !decodeAndValidate(w, r, &req, h.validator, h.logger) {
		return
	}

	res, err := h.engine.RetrieveMemories(r.Context(), req.Scope, req.Query, req.Options())
	if err != nil {
		writeEngineError(w, r, h.logger, "Failed to retrieve memories", err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

// FormatContext handles POST /api/v1/memories/context
func (h *MemoryHandler) FormatContext(w http.ResponseWriter, r *http.Request) {
	var req models.FormatContextRequest
	if !decodeAndValidate(w, r, &req, h.validator, h.logger) {
		return
	}

	res, err := h.engine.RetrieveMemories(r.Context(), req.Scope, req.Query, req.Options())
	if err != nil {
		writeEngineError(w, r, h.logger, "Failed to retrieve memories", err)
		return
	}

	response.JSON(w, http.StatusOK, models.NewFormatContextResponse(res, req.Apply(h.format)))
}

// WorkingMemory handles GET /api/v1/scopes/{scope}/working-memory
func (h *MemoryHandler) WorkingMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := models.WorkingMemoryRequest{
		Scope:      chi.URLParam(r, "scope"),
		ExcludeIDs: splitList(r.URL.Query().Get("exclude")),
	}
	if !validateRequest(w, r, &req, h.validator, h.logger) {
		return
	}

	items, err := h.engine.GetWorkingMemory(ctx, req.Scope, req.ExcludeIDs)
	if err != nil {
		writeEngineError(w, r, h.logger, "Failed to read working memory", err)
		return
	}
	if items == nil {
		items = []memory.Item{}
	}

	response.JSON(w, http.StatusOK, models.WorkingMemoryResponse{Scope: req.Scope, Items: items})
}

// RecordTurn handles POST /api/v1/scopes/{scope}/turns
func (h *MemoryHandler) RecordTurn(w http.ResponseWriter, r *http.Request) {
	var req models.RecordTurnRequest
	if err := response.Decode(w, r, maxBodyBytes, &req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(r.Context()))
		return
	}
	req.Scope = chi.URLParam(r, "scope")
	if !validateRequest(w, r, &req, h.validator, h.logger) {
		return
	}

	item, err := h.engine.RecordTurn(r.Context(), req.Item())
	if err != nil {
		writeEngineError(w, r, h.logger, "Failed to record turn", err)
		return
	}

	response.JSON(w, http.StatusCreated, item)
}

// Consolidate handles POST /api/v1/scopes/{scope}/consolidate. The body is
// optional.
func (h *MemoryHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req models.ConsolidateRequest
	if r.ContentLength != 0 {
		if err := response.Decode(w, r, maxBodyBytes, &req); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
			return
		}
	}
	req.Scope = chi.URLParam(r, "scope")
	if !validateRequest(w, r, &req, h.validator, h.logger) {
		return
	}

	opts := req.Apply(h.consolidation)
	if req.Async {
		if err := h.engine.ConsolidateAsync(req.Scope, nil, &opts); err != nil {
			writeEngineError(w, r, h.logger, "Failed to start consolidation", err)
			return
		}
		response.JSON(w, http.StatusAccepted, models.ConsolidateAccepted{Scope: req.Scope, Accepted: true})
		return
	}

	res, err := h.engine.ConsolidateWorkingMemory(ctx, req.Scope, nil, &opts)
	if err != nil {
		writeEngineError(w, r, h.logger, "Consolidation failed", err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

// GetScorerConfig handles GET /api/v1/scorer/config
func (h *MemoryHandler) GetScorerConfig(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, models.NewScorerConfig(h.engine.Scorer().Config()))
}

// UpdateScorerConfig handles PUT /api/v1/scorer/config. The new table takes
// effect for subsequent retrievals and drops cached results.
func (h *MemoryHandler) UpdateScorerConfig(w http.ResponseWriter, r *http.Request) {
	var req models.ScorerConfig
	if !decodeAndValidate(w, r, &req, h.validator, h.logger) {
		return
	}

	cfg, err := req.ToScorerConfig()
	if err == nil {
		err = h.engine.SetScorerConfig(cfg)
	}
	if err != nil {
		writeEngineError(w, r, h.logger, "Failed to update scorer config", err)
		return
	}

	response.JSON(w, http.StatusOK, models.NewScorerConfig(h.engine.Scorer().Config()))
}

// FlushCache handles POST /api/v1/cache/flush
func (h *MemoryHandler) FlushCache(w http.ResponseWriter, r *http.Request) {
	h.engine.FlushCache()
	w.WriteHeader(http.StatusNoContent)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
