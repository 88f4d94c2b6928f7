// Package client is a Go client for the dutharness HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/dutharness/internal/controller"
	"github.com/seantiz/dutharness/internal/model"
)

const defaultTimeout = 30 * time.Second

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// RunList is a page of run history.
type RunList struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// Client talks to a dutharness server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the server at baseURL. A nil httpClient selects
// a client with a default timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// TestCases returns the names of the registered test cases.
func (c *Client) TestCases(ctx context.Context) ([]string, error) {
	var resp struct {
		TestCases []string `json:"testcases"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/testcases", nil, &resp); err != nil {
		return nil, err
	}
	return resp.TestCases, nil
}

// Configure queues configuration of the named test case and returns the run ID.
func (c *Client) Configure(ctx context.Context, name string, args []string) (string, error) {
	req := struct {
		Name string   `json:"name"`
		Args []string `json:"args"`
	}{Name: name, Args: args}

	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/tests", req, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Start queues execution of the configured test case.
func (c *Client) Start(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/tests/start", struct{}{}, nil)
}

// State returns the controller snapshot.
func (c *Client) State(ctx context.Context) (controller.Snapshot, error) {
	var snap controller.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/controller", nil, &snap)
	return snap, err
}

// Run returns a run by ID.
func (c *Client) Run(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Runs returns a page of run history, newest first.
func (c *Client) Runs(ctx context.Context, limit, offset int) (*RunList, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var list RunList
	if err := c.do(ctx, http.MethodGet, "/v1/runs?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Reports returns the reports of a run ordered by sequence number.
func (c *Client) Reports(ctx context.Context, runID string) ([]model.Report, error) {
	var resp struct {
		Reports []model.Report `json:"reports"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID)+"/reports", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
