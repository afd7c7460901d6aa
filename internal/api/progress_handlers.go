package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/warc-langfilter/internal/corpus"
	"github.com/JakeFAU/warc-langfilter/internal/store"
)

const (
	defaultShardLimit = 100
	maxShardLimit     = 1000
	progressTimeout   = 3 * time.Second
)

// ProgressHandler exposes read-only run ledger endpoints.
type ProgressHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.RunRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}} on success,
// 400 for malformed IDs, 404 when the repository reports store.ErrNotFound,
// 503 if no repository is configured, or 500 otherwise.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// ListShards handles GET /v1/runs/{run_id}/shards?status=&limit=&offset=.
// It returns {"shards": [...]} on success, 400 for invalid query parameters,
// 503 when the repository is missing, or 500 for repository errors.
func (h *ProgressHandler) ListShards(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultShardLimit, maxShardLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *string
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseShardStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	shards, err := h.repo.ListShards(ctx, runID, status, limit, offset)
	if err != nil {
		h.logger.Error("list shards failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list shards")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shards": toShardDTOs(shards),
	})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseShardStatus(input string) (string, error) {
	switch strings.ToLower(input) {
	case "running":
		return "running", nil
	case string(corpus.ShardSucceeded), "success":
		return string(corpus.ShardSucceeded), nil
	case string(corpus.ShardFailed), "error":
		return string(corpus.ShardFailed), nil
	case string(corpus.ShardCanceled):
		return string(corpus.ShardCanceled), nil
	default:
		return "", errors.New("invalid status")
	}
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Error:      run.ErrorMessage,
	}
}

func toShardDTOs(in []store.ShardRun) []shardDTO {
	out := make([]shardDTO, 0, len(in))
	for _, s := range in {
		out = append(out, shardDTO{
			ShardID:    s.ShardID,
			Batch:      s.Batch,
			Status:     s.Status,
			Source:     s.Source,
			Bytes:      s.Bytes,
			Records:    s.Records,
			Emitted:    s.Emitted,
			Failed:     s.Failed,
			ElapsedMs:  s.ElapsedMs,
			Error:      s.Error,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		})
	}
	return out
}

type runDTO struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Error      *string    `json:"error,omitempty"`
}

type shardDTO struct {
	ShardID    string     `json:"shard_id"`
	Batch      int        `json:"batch"`
	Status     string     `json:"status"`
	Source     string     `json:"source,omitempty"`
	Bytes      int64      `json:"bytes"`
	Records    int64      `json:"records"`
	Emitted    int64      `json:"emitted"`
	Failed     int64      `json:"failed"`
	ElapsedMs  int64      `json:"elapsed_ms"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
