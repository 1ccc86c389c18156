// Package server exposes the data tracker to workers over a thin
// JSON-over-HTTP surface and manages the server lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LumiOpen/translation-dispatcher/internal/tracker"
	"github.com/LumiOpen/translation-dispatcher/pkg/api"
	"github.com/LumiOpen/translation-dispatcher/pkg/observability"
)

// Operation names used for request metrics.
const (
	opGetWork      = "get_work"
	opSubmitResult = "submit_result"
	opStatus       = "status"
)

// maxRetryHint caps the retry_in hint derived from the issuance heap.
const maxRetryHint = 300 * time.Second

// Handler translates worker HTTP requests into tracker operations.
// JSON decoding and encoding happen outside the tracker lock.
type Handler struct {
	tracker *tracker.Tracker
	logger  *slog.Logger
	metrics *observability.RequestMetrics

	retryHint    time.Duration
	maxBatchSize int

	// fatal is invoked when a tracker operation hits a fatal I/O error.
	// The server logs and shuts down; the handler only reports it.
	fatal func(error)
}

// NewHandler creates a request handler bound to the given tracker.
func NewHandler(
	tr *tracker.Tracker,
	logger *slog.Logger,
	metrics *observability.RequestMetrics,
	retryHint time.Duration,
	maxBatchSize int,
	fatal func(error),
) *Handler {
	return &Handler{
		tracker:      tr,
		logger:       logger,
		metrics:      metrics,
		retryHint:    retryHint,
		maxBatchSize: maxBatchSize,
		fatal:        fatal,
	}
}

// Register installs the worker-facing routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /get_work", h.handleGetWork)
	mux.HandleFunc("POST /submit_result", h.handleSubmitResult)
	mux.HandleFunc("GET /status", h.handleStatus)
}

func (h *Handler) handleGetWork(rw http.ResponseWriter, hr *http.Request) {
	done := h.observe(hr.Context(), opGetWork)

	batchSize, err := parseBatchSize(hr.URL.Query().Get("batch_size"), h.maxBatchSize)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		done(statusClient)

		return
	}

	complete, err := h.tracker.AllWorkComplete()
	if err != nil {
		h.fatalError(rw, err)
		done(statusErr)

		return
	}

	if complete {
		writeJSON(rw, http.StatusOK, api.WorkResponse{Status: api.StatusAllWorkComplete})
		done(statusOK)

		return
	}

	items, err := h.tracker.GetWorkBatch(batchSize)
	if err != nil {
		h.fatalError(rw, err)
		done(statusErr)

		return
	}

	if len(items) == 0 {
		hint := h.tracker.NextRetryHint(h.retryHint, maxRetryHint)
		writeJSON(rw, http.StatusOK, api.WorkResponse{
			Status:  api.StatusRetry,
			RetryIn: int64(hint / time.Second),
		})
		done(statusOK)

		return
	}

	resp := api.WorkResponse{
		Status: api.StatusOK,
		Items:  make([]api.WorkItem, 0, len(items)),
	}

	for _, item := range items {
		resp.Items = append(resp.Items, api.WorkItem{
			WorkID:     item.WorkID,
			RowContent: item.Content,
		})
	}

	writeJSON(rw, http.StatusOK, resp)
	done(statusOK)
}

func (h *Handler) handleSubmitResult(rw http.ResponseWriter, hr *http.Request) {
	done := h.observe(hr.Context(), opSubmitResult)

	var req api.SubmitRequest

	decodeErr := json.NewDecoder(hr.Body).Decode(&req)
	if decodeErr != nil {
		writeError(rw, http.StatusBadRequest, "malformed request body")
		done(statusClient)

		return
	}

	if len(req.Items) == 0 {
		writeError(rw, http.StatusBadRequest, "empty items")
		done(statusClient)

		return
	}

	results := make([]tracker.Result, 0, len(req.Items))

	for _, item := range req.Items {
		// A newline inside a result would shift every later output line
		// off its input row.
		if strings.ContainsRune(item.Result, '\n') {
			writeError(rw, http.StatusBadRequest, "result must not contain newline")
			done(statusClient)

			return
		}

		results = append(results, tracker.Result{
			WorkID: item.RowID,
			Data:   []byte(item.Result),
		})
	}

	completeErr := h.tracker.CompleteWorkBatch(results)
	if completeErr != nil {
		if errors.Is(completeErr, tracker.ErrUnknownWorkID) {
			writeError(rw, http.StatusBadRequest, completeErr.Error())
			done(statusClient)

			return
		}

		h.fatalError(rw, completeErr)
		done(statusErr)

		return
	}

	writeJSON(rw, http.StatusOK, api.SubmitResponse{Status: api.StatusOK})
	done(statusOK)
}

func (h *Handler) handleStatus(rw http.ResponseWriter, hr *http.Request) {
	done := h.observe(hr.Context(), opStatus)

	stats, err := h.tracker.Stats()
	if err != nil {
		h.fatalError(rw, err)
		done(statusErr)

		return
	}

	writeJSON(rw, http.StatusOK, api.Status{
		Issued:               stats.Issued,
		PendingWrite:         stats.PendingWrite,
		LastProcessedWorkID:  stats.LastProcessedWorkID,
		NextWorkID:           stats.NextWorkID,
		HeapSize:             stats.HeapSize,
		ExpiredReissues:      stats.ExpiredReissues,
		DuplicateCompletions: stats.DuplicateCompletions,
		InputEOF:             stats.InputEOF,
	})
	done(statusOK)
}

// fatalError reports a fatal tracker I/O error to the client and
// triggers server shutdown.
func (h *Handler) fatalError(rw http.ResponseWriter, err error) {
	h.logger.Error("fatal tracker error", "error", err)
	writeError(rw, http.StatusInternalServerError, "internal error")

	if h.fatal != nil {
		h.fatal(err)
	}
}

// Metric status labels.
const (
	statusOK     = "ok"
	statusClient = "client_error"
	statusErr    = "error"
)

// observe starts request metrics for op and returns the completion
// callback. With metrics disabled it returns a no-op.
func (h *Handler) observe(ctx context.Context, op string) func(status string) {
	if h.metrics == nil {
		return func(string) {}
	}

	start := time.Now()
	untrack := h.metrics.TrackInflight(ctx, op)

	return func(status string) {
		untrack()
		h.metrics.RecordRequest(ctx, op, status, time.Since(start))
	}
}

// parseBatchSize parses the batch_size query parameter, defaulting to 1
// and clamping to the configured maximum.
func parseBatchSize(raw string, maxBatchSize int) (int, error) {
	if raw == "" {
		return 1, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("batch_size must be a positive integer")
	}

	if n > maxBatchSize {
		n = maxBatchSize
	}

	return n, nil
}

func writeJSON(rw http.ResponseWriter, code int, value any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)

	encodeErr := json.NewEncoder(rw).Encode(value)
	if encodeErr != nil {
		return
	}
}

func writeError(rw http.ResponseWriter, code int, msg string) {
	writeJSON(rw, code, api.ErrorResponse{Error: msg})
}
