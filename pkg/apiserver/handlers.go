package apiserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/therealutkarshpriyadarshi/vamana/pkg/observability"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/vamana"
)

// Handler dispatches HTTP requests onto a single vamana.Index, following
// the validate-then-dispatch shape of the teacher's gRPC handlers
// (Insert/Search) with protobuf messages replaced by JSON bodies.
type Handler struct {
	idx     *vamana.Index
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewHandler builds a Handler over idx.
func NewHandler(idx *vamana.Index, logger *observability.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{idx: idx, logger: logger, metrics: metrics}
}

// buildRequest is the JSON body for POST /v1/build.
type buildRequest struct {
	Vectors    [][]float32 `json:"vectors"`
	IDs        []uint32    `json:"ids,omitempty"`
	Partitions int         `json:"partitions"`
}

type buildResponse struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Error   string `json:"error,omitempty"`
}

// Build reads a full vector set and triggers vamana.Index.BuildIndex.
// There is no incremental insert here: the index is batch-built, matching
// vamana.Index's BuildIndex-then-Nearest lifecycle rather than the
// teacher's per-vector Insert RPC.
func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Vectors) == 0 {
		writeJSONError(w, "vectors must not be empty", http.StatusBadRequest)
		return
	}
	if req.Partitions <= 0 {
		req.Partitions = 1
	}

	reader, err := vamana.NewSliceReader(req.Vectors, req.IDs)
	if err != nil {
		writeJSONError(w, "invalid vectors: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.idx.BuildIndex(req.Partitions, reader); err != nil {
		h.logger.Error("build failed", map[string]interface{}{"error": err.Error()})
		writeJSONError(w, "build failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordIndexBuild(time.Since(start))
	}
	h.logger.Info("build request complete", map[string]interface{}{"count": len(req.Vectors), "took": time.Since(start).String()})

	writeJSON(w, http.StatusOK, buildResponse{Success: true, Count: len(req.Vectors)})
}

// queryRequest is the JSON body for POST /v1/query.
type queryRequest struct {
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
}

type queryResponse struct {
	Results []uint32 `json:"results"`
	Error   string   `json:"error,omitempty"`
}

// Query runs a single nearest-neighbor lookup.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.K <= 0 {
		writeJSONError(w, "k must be positive", http.StatusBadRequest)
		return
	}

	out := make([]uint32, req.K)
	results, err := h.idx.Nearest(req.Vector, out, req.K)
	if err != nil {
		switch err.(type) {
		case *vamana.NotFound:
			writeJSONError(w, err.Error(), http.StatusNotFound)
		case *vamana.Throttled:
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, err.Error(), http.StatusTooManyRequests)
		default:
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	if h.metrics != nil {
		h.metrics.RecordBeamSearch(time.Since(start))
		h.metrics.RecordSearch(time.Since(start), len(results))
	}

	writeJSON(w, http.StatusOK, queryResponse{Results: results})
}

type statsResponse struct {
	PQErrorAvg float32 `json:"pq_error_avg"`
}

// Stats reports index-level diagnostics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{PQErrorAvg: h.idx.GetPQErrorAvg()})
}

type healthResponse struct {
	Status string `json:"status"`
}

// HealthCheck is an unauthenticated liveness probe.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
