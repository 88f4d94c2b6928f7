package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/dutharness/internal/model"
)

// seedRun stores a finished run with one progress report.
func seedRun(t *testing.T, srv *Server, testName string) string {
	t.Helper()
	ctx := context.Background()
	id := model.NewID()
	now := time.Now().UTC().Truncate(time.Second)

	for i, status := range []model.Status{model.StatusInProgress, model.StatusFinished} {
		r := model.Report{RunID: id, TestName: testName, Status: status, Data: fmt.Sprintf("report %d", i), Seq: i, CreatedAt: now}
		if err := srv.store.SaveReport(ctx, r); err != nil {
			t.Fatalf("SaveReport: %v", err)
		}
	}
	return id
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/v1/runs/nonexistent", "/v1/runs/nonexistent/reports"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestGetRunAndReports(t *testing.T) {
	srv := newTestServer(t)
	id := seedRun(t, srv, "echo")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/" + id + "/reports")
	if err != nil {
		t.Fatalf("GET reports: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body reportsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.RunID != id {
		t.Errorf("run_id = %q, want %q", body.RunID, id)
	}
	if len(body.Reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(body.Reports))
	}
	if body.Reports[1].Status != model.StatusFinished {
		t.Errorf("last status = %q, want %q", body.Reports[1].Status, model.StatusFinished)
	}
}

func TestListRunsPagination(t *testing.T) {
	srv := newTestServer(t)
	for range 3 {
		seedRun(t, srv, "echo")
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		query     string
		wantLen   int
		wantLimit int
	}{
		{query: "", wantLen: 3, wantLimit: defaultListLimit},
		{query: "?limit=2", wantLen: 2, wantLimit: 2},
		{query: "?limit=2&offset=2", wantLen: 1, wantLimit: 2},
		{query: "?limit=1000", wantLen: 3, wantLimit: defaultListLimit},
		{query: "?limit=abc&offset=-5", wantLen: 3, wantLimit: defaultListLimit},
	}

	for _, tt := range tests {
		resp, err := http.Get(ts.URL + "/v1/runs" + tt.query)
		if err != nil {
			t.Fatalf("GET /v1/runs%s: %v", tt.query, err)
		}

		var body listRunsResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		resp.Body.Close()

		if len(body.Runs) != tt.wantLen {
			t.Errorf("%q: len(runs) = %d, want %d", tt.query, len(body.Runs), tt.wantLen)
		}
		if body.Total != 3 {
			t.Errorf("%q: total = %d, want 3", tt.query, body.Total)
		}
		if body.Limit != tt.wantLimit {
			t.Errorf("%q: limit = %d, want %d", tt.query, body.Limit, tt.wantLimit)
		}
	}
}

func TestListRunsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs")
	if err != nil {
		t.Fatalf("GET /v1/runs: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if string(body["runs"]) != "[]" {
		t.Errorf("runs = %s, want []", body["runs"])
	}
}

func TestGetStats(t *testing.T) {
	srv := newTestServer(t)
	seedRun(t, srv, "echo")
	seedRun(t, srv, "sleep")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer resp.Body.Close()

	var body statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Total != 2 {
		t.Errorf("total = %d, want 2", body.Total)
	}
	if body.ByStatus["finished"] != 2 {
		t.Errorf("by_status[finished] = %d, want 2", body.ByStatus["finished"])
	}
	if body.ByTest["sleep"] != 1 {
		t.Errorf("by_test[sleep] = %d, want 1", body.ByTest["sleep"])
	}
	if body.Reports != 4 {
		t.Errorf("reports = %d, want 4", body.Reports)
	}
}
