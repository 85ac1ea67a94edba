package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/procurehq/spendguard/internal/config"
	"github.com/procurehq/spendguard/internal/database"
	"github.com/procurehq/spendguard/internal/domain"
	"github.com/procurehq/spendguard/internal/modules/audit"
	"github.com/procurehq/spendguard/internal/modules/metrics"
	"github.com/procurehq/spendguard/internal/modules/optimization"
	"github.com/procurehq/spendguard/internal/modules/rules"
	"github.com/procurehq/spendguard/internal/modules/strategy"
	"github.com/procurehq/spendguard/internal/modules/validation"
)

// Handler exposes the compliance engine over HTTP.
type Handler struct {
	catalog         *rules.Catalog
	rulesRepo       *rules.Repository
	validator       *validation.Validator
	optimizer       *optimization.Optimizer
	runStore        *audit.RunStore
	tunables        config.Tunables
	highRiskDefault []string
	configDB        *database.DB
	dataDB          *database.DB
	log             zerolog.Logger
}

// HandlerConfig holds the dependencies of the API handler.
type HandlerConfig struct {
	Catalog         *rules.Catalog
	RulesRepo       *rules.Repository
	Validator       *validation.Validator
	Optimizer       *optimization.Optimizer
	RunStore        *audit.RunStore
	Tunables        config.Tunables
	HighRiskDefault []string
	ConfigDB        *database.DB
	DataDB          *database.DB
	Log             zerolog.Logger
}

// NewHandler creates the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		catalog:         cfg.Catalog,
		rulesRepo:       cfg.RulesRepo,
		validator:       cfg.Validator,
		optimizer:       cfg.Optimizer,
		runStore:        cfg.RunStore,
		tunables:        cfg.Tunables,
		highRiskDefault: cfg.HighRiskDefault,
		configDB:        cfg.ConfigDB,
		dataDB:          cfg.DataDB,
		log:             cfg.Log.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes mounts the API routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.HandleListRules)
		r.Get("/errors", h.HandleListLoadErrors)
	})

	r.Post("/validate", h.HandleValidate)
	r.Post("/optimize", h.HandleOptimize)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.HandleListRuns)
		r.Get("/{id}", h.HandleGetRun)
	})
}

// evaluationRequest is the shared request body for validation and
// optimization calls.
type evaluationRequest struct {
	Allocation        domain.Allocation `json:"allocation"`
	EntityType        string            `json:"entity_type"`
	ClientID          string            `json:"client_id"`
	Category          string            `json:"category"`
	HighRiskEntities  []string          `json:"high_risk_entities"`
	CandidateEntities []string          `json:"candidate_entities"`
}

type optimizeRequest struct {
	evaluationRequest
	MaxIterations int `json:"max_iterations"`
}

// evalContext builds the domain evaluation context from a request. When
// the request names no high-risk entities, the configured default set is
// used instead; if both are empty the set stays nil, so composite rules
// report "not evaluated" instead of silently passing.
func (req *evaluationRequest) evalContext(defaultHighRisk []string) domain.EvaluationContext {
	ctx := domain.EvaluationContext{
		ClientID:          req.ClientID,
		Category:          req.Category,
		CandidateEntities: req.CandidateEntities,
	}

	highRisk := req.HighRiskEntities
	if len(highRisk) == 0 {
		highRisk = defaultHighRisk
	}
	if len(highRisk) > 0 {
		ctx.HighRiskEntities = make(map[string]bool, len(highRisk))
		for _, entity := range highRisk {
			ctx.HighRiskEntities[entity] = true
		}
	}
	return ctx
}

func (req *evaluationRequest) entityType() (metrics.EntityType, bool) {
	switch metrics.EntityType(req.EntityType) {
	case metrics.EntityTypeRegion:
		return metrics.EntityTypeRegion, true
	case metrics.EntityTypeSupplier, "":
		return metrics.EntityTypeSupplier, true
	}
	return "", false
}

// HandleListRules returns the loaded rule catalog.
// GET /api/rules
func (h *Handler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	type ruleView struct {
		domain.RuleDefinition
		Strategy strategy.Strategy `json:"strategy"`
	}

	views := make([]ruleView, 0, h.catalog.Len())
	for _, rule := range h.catalog.Rules() {
		views = append(views, ruleView{
			RuleDefinition: rule,
			Strategy:       strategy.Select(rule.Category),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": views,
		"count": len(views),
	})
}

// HandleListLoadErrors returns the rows rejected during catalog loading.
// GET /api/rules/errors
func (h *Handler) HandleListLoadErrors(w http.ResponseWriter, r *http.Request) {
	loadErrors, err := h.rulesRepo.ListLoadErrors()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list load errors", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"errors": loadErrors,
		"count":  len(loadErrors),
	})
}

// HandleValidate validates an allocation against the rule catalog.
// POST /api/validate
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req evaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Allocation) == 0 {
		h.writeError(w, http.StatusBadRequest, "allocation is required", nil)
		return
	}
	entityType, ok := req.entityType()
	if !ok {
		h.writeError(w, http.StatusBadRequest, "unknown entity type "+req.EntityType, nil)
		return
	}

	provider := metrics.NewProvider(entityType, req.evalContext(h.highRiskDefault), h.log)
	result := h.validator.Validate(h.catalog, provider.Snapshot(req.Allocation))

	h.writeJSON(w, http.StatusOK, result)
}

// HandleOptimize runs allocation repair and records the run.
// POST /api/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Allocation) == 0 {
		h.writeError(w, http.StatusBadRequest, "allocation is required", nil)
		return
	}
	entityType, ok := req.entityType()
	if !ok {
		h.writeError(w, http.StatusBadRequest, "unknown entity type "+req.EntityType, nil)
		return
	}

	maxIterations := req.MaxIterations
	if maxIterations == 0 {
		maxIterations = h.tunables.MaxIterations
	}

	evalCtx := req.evalContext(h.highRiskDefault)
	provider := metrics.NewProvider(entityType, evalCtx, h.log)

	result, err := h.optimizer.Optimize(r.Context(), req.Allocation, h.catalog, provider.Snapshot, evalCtx, maxIterations)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "optimization rejected", err)
		return
	}

	runID, err := h.runStore.SaveRun(audit.RunRecord{
		ClientID:      req.ClientID,
		Category:      domain.ParseRuleCategory(req.Category),
		EntityType:    string(entityType),
		CreatedAt:     time.Now().UTC(),
		MaxIterations: maxIterations,
		Initial:       req.Allocation,
		Context:       evalCtx,
		Result:        result,
	})
	if err != nil {
		// The run itself succeeded; losing the audit row is not a reason
		// to fail the request.
		h.log.Error().Err(err).Msg("Failed to store optimization run")
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"result": result,
	})
}

// HandleListRuns returns recent optimization run summaries.
// GET /api/runs?limit=N
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit "+raw, nil)
			return
		}
		limit = parsed
	}

	summaries, err := h.runStore.ListRuns(limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  summaries,
		"count": len(summaries),
	})
}

// HandleGetRun returns one optimization run with its full history.
// GET /api/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.runStore.GetRun(id)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load run", err)
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

// HandleHealth handles health check requests
// GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := h.systemStats()

	dbStatus := map[string]interface{}{}
	for _, db := range []*database.DB{h.configDB, h.dataDB} {
		if db == nil {
			continue
		}
		if stats, err := db.GetStats(); err == nil {
			dbStatus[db.Name()] = map[string]interface{}{
				"size_bytes":     stats.SizeBytes,
				"wal_size_bytes": stats.WALSizeBytes,
			}
		} else {
			dbStatus[db.Name()] = map[string]interface{}{"error": err.Error()}
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"service":     "spendguard",
		"rules":       h.catalog.Len(),
		"cpu_percent": cpuAvg,
		"ram_percent": ramPercent,
		"databases":   dbStatus,
	})
}

// systemStats calculates CPU and RAM usage percentages.
// Uses a short interval so the health endpoint stays fast.
func (h *Handler) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		h.log.Warn().Err(err).Str("message", message).Msg("Request failed")
		message = message + ": " + err.Error()
	}

	h.writeJSON(w, status, map[string]interface{}{
		"error": message,
	})
}
