package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"narpstat/adapters/memory"
	"narpstat/domain/analysis"
	"narpstat/internal/logging"
)

func testServer(t *testing.T) (*Server, *memory.RunStore) {
	t.Helper()
	store := memory.NewRunStore()
	return NewServer(store, logging.NewDefaultLogger(), gin.TestMode), store
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRunJSONEndpoint(t *testing.T) {
	s, store := testServer(t)

	run := analysis.NewRun(analysis.RunBootstrap, 42, analysis.Params{Replicates: 1000})
	if err := store.Save(context.Background(), run); err != nil {
		t.Fatalf("save: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID.String(), nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var got analysis.AnalysisRun
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != run.ID || got.Seed != 42 {
		t.Errorf("got %+v", got)
	}
}

func TestRunJSONNotFound(t *testing.T) {
	s, _ := testServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRunReportHTML(t *testing.T) {
	s, store := testServer(t)

	run := analysis.NewRun(analysis.RunAnalyze, 1, analysis.Params{})
	run.Tables = &analysis.ModelTables{
		DecisionRates: []analysis.DecisionRate{{Hypothesis: 1, Label: "vmPFC + gains", Teams: 10, Rate: 0.8}},
	}
	if err := store.Save(context.Background(), run); err != nil {
		t.Fatalf("save: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs/"+run.ID.String(), nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<table>") || !strings.Contains(body, "vmPFC + gains") {
		t.Error("report page missing rendered decision-rate table")
	}
}

func TestRunListPage(t *testing.T) {
	s, store := testServer(t)
	run := analysis.NewRun(analysis.RunPrepare, 0, analysis.Params{})
	if err := store.Save(context.Background(), run); err != nil {
		t.Fatalf("save: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), run.ID.String()) {
		t.Error("run list missing the saved run")
	}
}
