package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"probeselect/codec"
	"probeselect/database"
	"probeselect/logging"
	"probeselect/metrics"
	"probeselect/models"
	"probeselect/selector"
)

const (
	// InvalidInputMessage is the client error body for a bad selection request.
	InvalidInputMessage = "Please provide exactly 3 endpoints."

	maxBodyBytes        = 1 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// Selector picks the fastest of a set of endpoints.
type Selector interface {
	Select(ctx context.Context, endpoints []string) (models.SelectionResult, error)
}

// HistoryStore persists selections. It is optional.
type HistoryStore interface {
	RecordSelection(ctx context.Context, rec models.SelectionRecord) error
	GetSelection(ctx context.Context, id string) (models.SelectionRecord, error)
	RecentSelections(ctx context.Context, limit int) ([]models.SelectionRecord, error)
	CountSelections(ctx context.Context) (int64, error)
	EndpointLatencies(ctx context.Context, endpoint string, since time.Time) ([]models.Latency, error)
}

// Application holds everything the handlers need. It is built once in main.
type Application struct {
	Selector Selector
	Store    HistoryStore // nil when history is disabled
	Metrics  *metrics.Registry
	Codec    codec.Codec
	Log      *logging.Logger

	// APIKey gates every route but /health when set.
	APIKey string
	// MetricsOnAPI mounts /metrics on the API router instead of a separate one.
	MetricsOnAPI bool
}

type Handlers struct {
	App *Application
}

func NewHandlers(app *Application) *Handlers {
	if app.Log == nil {
		app.Log = logging.Discard()
	}
	if app.Codec == nil {
		app.Codec = codec.NewStandard()
	}
	return &Handlers{App: app}
}

type testEndpointsRequest struct {
	Endpoints []string `json:"endpoints"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type historyResponse struct {
	Total      int64                    `json:"total"`
	Selections []models.SelectionRecord `json:"selections"`
}

// TestEndpoints handles POST /test-endpoints: probe the three endpoints in the
// body and report the fastest.
func (h *Handlers) TestEndpoints(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFrom(r.Context())

	var req testEndpointsRequest
	if err := h.App.Codec.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		h.App.Log.Warnf("Invalid input (request %s): malformed body: %v", reqID, err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: InvalidInputMessage})
		return
	}
	h.App.Log.Infof("Received request %s to test endpoints: %q", reqID, req.Endpoints)

	res, err := h.App.Selector.Select(r.Context(), req.Endpoints)
	if errors.Is(err, selector.ErrInvalidInput) {
		h.App.Log.Warnf("Invalid input (request %s): %v", reqID, err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: InvalidInputMessage})
		return
	}
	if err != nil {
		h.App.Log.Errorf("Selection failed (request %s): %v", reqID, err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	h.App.Log.Infof("Best endpoint (request %s): %s with latencies: %v", reqID, res.BestEndpoint, res.Report.Latencies())
	h.record(r.Context(), reqID, res)
	h.writeJSON(w, http.StatusOK, res)
}

// record stores res in the history under a fresh id. Failures are logged and
// never change the response.
func (h *Handlers) record(ctx context.Context, reqID string, res models.SelectionResult) {
	if h.App.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	id := uuid.New().String()
	if err := h.App.Store.RecordSelection(ctx, models.NewSelectionRecord(id, time.Now(), res)); err != nil {
		h.App.Log.Errorf("Failed to record selection for request %s: %v", reqID, err)
		if h.App.Metrics != nil {
			h.App.Metrics.RecordHistoryError("record")
		}
		return
	}
	h.App.Log.Debugf("Recorded selection %s for request %s", id, reqID)
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// History handles GET /history?limit=N.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	if h.App.Store == nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "history is disabled"})
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and " + strconv.Itoa(maxHistoryLimit)})
			return
		}
		limit = n
	}

	records, err := h.App.Store.RecentSelections(r.Context(), limit)
	if err != nil {
		h.historyError(w, "Failed to read history", err)
		return
	}
	total, err := h.App.Store.CountSelections(r.Context())
	if err != nil {
		h.historyError(w, "Failed to count history", err)
		return
	}
	if records == nil {
		records = []models.SelectionRecord{}
	}
	h.writeJSON(w, http.StatusOK, historyResponse{Total: total, Selections: records})
}

// HistoryEntry handles GET /history/{id}.
func (h *Handlers) HistoryEntry(w http.ResponseWriter, r *http.Request) {
	if h.App.Store == nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "history is disabled"})
		return
	}

	vars := mux.Vars(r)
	id := vars["id"]

	rec, err := h.App.Store.GetSelection(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "selection not found"})
		return
	}
	if err != nil {
		h.historyError(w, "Failed to read selection "+id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HistoryStats handles GET /history/stats?endpoint=URL&range=1h.
func (h *Handlers) HistoryStats(w http.ResponseWriter, r *http.Request) {
	if h.App.Store == nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "history is disabled"})
		return
	}

	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "endpoint is required"})
		return
	}
	since, ok := rangeStart(r.URL.Query().Get("range"), time.Now())
	if !ok {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "range must be one of 1h, 4h, 1d, 1w, 1m"})
		return
	}

	samples, err := h.App.Store.EndpointLatencies(r.Context(), endpoint, since)
	if err != nil {
		h.historyError(w, "Failed to read latencies for "+endpoint, err)
		return
	}
	h.writeJSON(w, http.StatusOK, models.Summarize(endpoint, since, samples))
}

// historyError logs a failed history read and answers 500.
func (h *Handlers) historyError(w http.ResponseWriter, msg string, err error) {
	h.App.Log.Errorf("%s: %v", msg, err)
	if h.App.Metrics != nil {
		h.App.Metrics.RecordHistoryError("read")
	}
	h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read history"})
}

// rangeStart maps a range name onto the start of the window ending at now.
// An empty name means one day.
func rangeStart(name string, now time.Time) (time.Time, bool) {
	switch name {
	case "1h":
		return now.Add(-1 * time.Hour), true
	case "4h":
		return now.Add(-4 * time.Hour), true
	case "", "1d":
		return now.Add(-24 * time.Hour), true
	case "1w":
		return now.Add(-7 * 24 * time.Hour), true
	case "1m":
		return now.Add(-30 * 24 * time.Hour), true
	}
	return time.Time{}, false
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	writeJSON(w, h.App.Codec, h.App.Log, status, v)
}

func writeJSON(w http.ResponseWriter, c codec.Codec, log *logging.Logger, status int, v interface{}) {
	body, err := c.Marshal(v)
	if err != nil {
		log.Errorf("Failed to encode response: %v", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
