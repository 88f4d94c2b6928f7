package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/seantiz/dutharness/internal/model"
)

// readSSE collects report data and named events until the stream ends.
func readSSE(t *testing.T, resp *http.Response) (reports []model.Report, events []string) {
	t.Helper()
	scanner := bufio.NewScanner(resp.Body)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			event = name
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if event != "" {
			events = append(events, event)
			event = ""
			continue
		}
		var r model.Report
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			t.Fatalf("decode SSE report %q: %v", data, err)
		}
		reports = append(reports, r)
	}
	return reports, events
}

func TestStreamReportsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/nonexistent/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamReportsFinishedRun(t *testing.T) {
	srv := newTestServer(t)
	id := seedRun(t, srv, "echo")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/" + id + "/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	reports, events := readSSE(t, resp)
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	if len(events) != 1 || events[0] != "done" {
		t.Errorf("events = %v, want [done]", events)
	}
}

func TestStreamReportsLiveRun(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/tests", "application/json",
		bytes.NewBufferString(`{"name":"sleep","args":["100ms","2"]}`))
	if err != nil {
		t.Fatalf("POST /v1/tests: %v", err)
	}
	var cfg configureTestResponse
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp.Body.Close()

	waitForRun(t, ts.URL, cfg.RunID, model.StatusInProgress)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/runs/"+cfg.RunID+"/stream", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer stream.Body.Close()

	if got := testutil.ToFloat64(streamsActive); got < 1 {
		t.Errorf("dut_http_streams_active = %v, want at least 1 while streaming", got)
	}

	if err := srv.controller.StartTest(); err != nil {
		t.Fatalf("StartTest: %v", err)
	}

	reports, events := readSSE(t, stream)
	if len(reports) == 0 {
		t.Fatal("stream delivered no reports")
	}

	var data []string
	for i, r := range reports {
		if r.Seq != i {
			t.Errorf("reports[%d].Seq = %d, want %d", i, r.Seq, i)
		}
		data = append(data, r.Data)
	}
	want := []string{`Test case "sleep" configured.`, "Test case execution started.", "step 1/2", "step 2/2", "slept 100ms"}
	if strings.Join(data, "|") != strings.Join(want, "|") {
		t.Errorf("stream data = %q, want %q", data, want)
	}
	if last := reports[len(reports)-1]; last.Status != model.StatusFinished {
		t.Errorf("last status = %q, want %q", last.Status, model.StatusFinished)
	}
	if len(events) != 1 || events[0] != "done" {
		t.Errorf("events = %v, want [done]", events)
	}
}
