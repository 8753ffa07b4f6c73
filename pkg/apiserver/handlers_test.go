package apiserver

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/distance"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/observability"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/vamana"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()
	idx, err := vamana.New("test", filepath.Join(dir, "index.graph"), 8, distance.L2, 1.2, 6, 20, 16)
	if err != nil {
		t.Fatalf("vamana.New: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return NewHandler(idx, observability.NewDefaultLogger(), nil)
}

func randomVectors(n, d int) [][]float32 {
	rng := rand.New(rand.NewSource(7))
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, d)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
	}
	return vectors
}

func TestHandlerBuildThenQuery(t *testing.T) {
	h := newTestHandler(t)
	vectors := randomVectors(40, 8)

	body, _ := json.Marshal(buildRequest{Vectors: vectors, Partitions: 4})
	req := httptest.NewRequest(http.MethodPost, "/v1/build", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Build(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Build status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var buildResp buildResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &buildResp); err != nil {
		t.Fatalf("decode build response: %v", err)
	}
	if !buildResp.Success || buildResp.Count != 40 {
		t.Fatalf("unexpected build response: %+v", buildResp)
	}

	qbody, _ := json.Marshal(queryRequest{Vector: vectors[5], K: 3})
	qreq := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(qbody))
	qrec := httptest.NewRecorder()
	h.Query(qrec, qreq)

	if qrec.Code != http.StatusOK {
		t.Fatalf("Query status = %d, body = %s", qrec.Code, qrec.Body.String())
	}
	var queryResp queryResponse
	if err := json.Unmarshal(qrec.Body.Bytes(), &queryResp); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if len(queryResp.Results) == 0 || queryResp.Results[0] != 5 {
		t.Fatalf("Query results = %v, want first result 5", queryResp.Results)
	}
}

func TestHandlerBuildRejectsEmptyVectors(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(buildRequest{Vectors: nil, Partitions: 1})
	req := httptest.NewRequest(http.MethodPost, "/v1/build", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Build(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerQueryBeforeBuildReturnsNotFound(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(queryRequest{Vector: make([]float32, 8), K: 2})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Query(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerHealthCheck(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status field = %q, want ok", resp.Status)
	}
}

func TestHandlerQueryReturns429WhenThrottled(t *testing.T) {
	h := newTestHandler(t)
	vectors := randomVectors(20, 8)

	body, _ := json.Marshal(buildRequest{Vectors: vectors, Partitions: 2})
	req := httptest.NewRequest(http.MethodPost, "/v1/build", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Build(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Build status = %d, body = %s", rec.Code, rec.Body.String())
	}

	h.idx.SetQueryThrottle(vamana.NewQueryThrottle(0, 1))

	qbody, _ := json.Marshal(queryRequest{Vector: vectors[0], K: 2})
	first := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(qbody))
	firstRec := httptest.NewRecorder()
	h.Query(firstRec, first)
	if firstRec.Code != http.StatusOK {
		t.Fatalf("first Query status = %d, want 200, body = %s", firstRec.Code, firstRec.Body.String())
	}

	second := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(qbody))
	secondRec := httptest.NewRecorder()
	h.Query(secondRec, second)
	if secondRec.Code != http.StatusTooManyRequests {
		t.Fatalf("second Query status = %d, want 429, body = %s", secondRec.Code, secondRec.Body.String())
	}
}

func TestHandlerBuildMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/build", nil)
	rec := httptest.NewRecorder()
	h.Build(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
