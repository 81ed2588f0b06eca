package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/worker"
)

// defaultResultTTL controls how long analysis results stay cached.
const defaultResultTTL = time.Hour

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	policy  scoring.Policy
	chain   *audit.Chain
	version string

	// latest retains the most recent run per tenant so ring and account
	// projections are served without recomputation.
	mu     sync.RWMutex
	latest map[string]*scoring.Run
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, pol scoring.Policy, chain *audit.Chain, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		policy:  pol,
		chain:   chain,
		version: version,
		latest:  make(map[string]*scoring.Run),
	}
}

// Upload handles POST /upload requests. The CSV is parsed, analyzed, and
// the full result returned in one round trip. The run is also archived,
// cached, audited, and announced on the bus.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "multipart field 'file' is required",
		})
		return
	}
	defer file.Close()

	txs, err := ingest.ParseCSV(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	g, err := graph.Build(txs)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	run, err := scoring.Analyze(g, h.policy)
	if err != nil {
		slog.Error("analysis failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}

	runID := uuid.New().String()
	run.Result.RunID = runID
	run.Result.Summary.ProcessingTimeSecs = math.Round(time.Since(start).Seconds()*100) / 100

	h.mu.Lock()
	h.latest[tenantID] = run
	h.mu.Unlock()

	// Persistence and eventing are best-effort, the caller already has
	// the result in hand.
	if h.cache != nil {
		if err := h.cache.SetResult(ctx, tenantID, runID, run.Result, defaultResultTTL); err != nil {
			slog.Error("failed to cache result", "run_id", runID, "error", err)
		}
	}

	if h.repo != nil {
		archived := &domain.Run{
			ID:        runID,
			TenantID:  tenantID,
			Filename:  header.Filename,
			Summary:   run.Result.Summary,
			Result:    run.Result,
			CreatedAt: time.Now().UTC(),
		}
		if err := h.repo.SaveRun(ctx, tenantID, archived); err != nil {
			slog.Error("failed to archive run", "run_id", runID, "error", err)
		}
	}

	if h.chain != nil {
		if _, err := h.chain.Append(map[string]any{
			"event":              "run_completed",
			"runId":              runID,
			"tenantId":           tenantID,
			"filename":           header.Filename,
			"transactions":       len(txs),
			"suspiciousAccounts": run.Result.Summary.SuspiciousAccounts,
			"fraudRings":         run.Result.Summary.FraudRings,
		}); err != nil {
			slog.Error("failed to append audit block", "run_id", runID, "error", err)
		}
	}

	if h.bus != nil {
		msg := worker.RunCompletedMessage{
			RunID:              runID,
			TenantID:           tenantID,
			Filename:           header.Filename,
			SuspiciousAccounts: run.Result.Summary.SuspiciousAccounts,
			FraudRings:         run.Result.Summary.FraudRings,
		}
		payload, _ := json.Marshal(msg)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicRunCompleted, payload); err != nil {
			slog.Error("failed to publish run completed", "run_id", runID, "error", err)
		}
	}

	slog.Info("run completed",
		"run_id", runID,
		"tenant_id", tenantID,
		"filename", header.Filename,
		"transactions", len(txs),
		"accounts", run.Result.Summary.TotalAccounts,
		"suspicious", run.Result.Summary.SuspiciousAccounts,
		"rings", run.Result.Summary.FraudRings,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("X-Run-ID", runID)
	writeJSON(w, http.StatusOK, run.Result)
}

// GetRun retrieves an archived run result by ID, cache first.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	if h.cache != nil {
		result, err := h.cache.GetResult(ctx, tenantID, runID)
		if err != nil {
			slog.Warn("cache lookup failed", "run_id", runID, "error", err)
		} else if result != nil {
			writeJSON(w, http.StatusOK, result)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load run",
		})
		return
	}

	if h.cache != nil && run.Result != nil {
		_ = h.cache.SetResult(ctx, tenantID, runID, run.Result, defaultResultTTL)
	}

	writeJSON(w, http.StatusOK, run.Result)
}

// ListRuns returns run headers for the tenant, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list runs", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRing returns one fraud ring from the tenant's latest run, including
// rings the output policy filtered from the external result.
func (h *Handler) GetRing(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	ringID := chi.URLParam(r, "id")

	if ringID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ring id is required",
		})
		return
	}

	run := h.latestRun(tenantID)
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no completed run for tenant",
		})
		return
	}

	ring := run.Ring(ringID)
	if ring == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("ring %s not found", ringID),
		})
		return
	}

	// Member detail and the money movement inside the ring ride along so
	// analysts see the full ring at once.
	members := make([]*domain.SuspicionRecord, 0, len(ring.MemberAccounts))
	for _, id := range ring.MemberAccounts {
		if rec := run.Account(id); rec != nil {
			members = append(members, rec)
		}
	}

	var internal []domain.Transaction
	for _, from := range ring.MemberAccounts {
		for _, to := range ring.MemberAccounts {
			if edge := run.Graph.Edge(from, to); edge != nil {
				internal = append(internal, edge.Transactions...)
			}
		}
	}
	sort.Slice(internal, func(i, j int) bool {
		return internal[i].Timestamp.Before(internal[j].Timestamp)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"ring":         ring,
		"members":      members,
		"transactions": internal,
	})
}

// GetAccount returns the suspicion record for one account from the
// tenant's latest run.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	accountID := chi.URLParam(r, "id")

	if accountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "account id is required",
		})
		return
	}

	run := h.latestRun(tenantID)
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no completed run for tenant",
		})
		return
	}

	rec := run.Account(accountID)
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("account %s not found", accountID),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account":      rec,
		"transactions": accountTransactions(run, accountID),
	})
}

// accountTransactions collects every transfer touching the account, newest
// first, capped to keep the payload bounded on hot hubs.
func accountTransactions(run *scoring.Run, accountID string) []domain.Transaction {
	const maxTransactions = 100

	var txs []domain.Transaction
	for _, edge := range run.Graph.OutEdges(accountID) {
		txs = append(txs, edge.Transactions...)
	}
	for _, edge := range run.Graph.InEdges(accountID) {
		if edge.From == edge.To {
			continue // self transfer already collected above
		}
		txs = append(txs, edge.Transactions...)
	}

	sort.Slice(txs, func(i, j int) bool {
		return txs[i].Timestamp.After(txs[j].Timestamp)
	})
	if len(txs) > maxTransactions {
		txs = txs[:maxTransactions]
	}
	return txs
}

// GetAudit returns the audit chain and its integrity status.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "audit chain not available",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"blocks": h.chain.Blocks(),
		"length": h.chain.Len(),
		"valid":  h.chain.Valid(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) latestRun(tenantID string) *scoring.Run {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest[tenantID]
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
