package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/seantiz/dutharness/internal/controller"
)

const maxBodySize = 1 << 20 // 1 MB

// configureTestRequest is the JSON body for POST /v1/tests.
type configureTestRequest struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// configureTestResponse is returned once a configure request is queued.
type configureTestResponse struct {
	RunID string `json:"run_id"`
}

type testCasesResponse struct {
	TestCases []string `json:"testcases"`
}

type startTestResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleListTestCases(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, testCasesResponse{TestCases: s.registry.Names()})
}

func (s *Server) handleConfigureTest(w http.ResponseWriter, r *http.Request) {
	var req configureTestRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// An empty name still goes through the controller so the rejection is reported.
	runID, err := s.controller.ConfigureTest(req.Name, req.Args)
	switch {
	case errors.Is(err, controller.ErrInvalidTestName):
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	case errors.Is(err, controller.ErrScheduling):
		s.writeError(w, http.StatusServiceUnavailable, "test case could not be scheduled")
		return
	case err != nil:
		s.logger.Error("configure test", "test_name", req.Name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to configure test case")
		return
	}

	s.writeJSON(w, http.StatusAccepted, configureTestResponse{RunID: runID})
}

func (s *Server) handleStartTest(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.StartTest(); err != nil {
		if errors.Is(err, controller.ErrScheduling) {
			s.writeError(w, http.StatusServiceUnavailable, "test case could not be scheduled")
			return
		}
		s.logger.Error("start test", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start test case")
		return
	}

	s.writeJSON(w, http.StatusAccepted, startTestResponse{Status: "scheduled"})
}

func (s *Server) handleControllerState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.controller.State(r.Context())
	if errors.Is(err, controller.ErrScheduling) {
		s.writeError(w, http.StatusServiceUnavailable, "controller is shut down")
		return
	}
	if err != nil {
		s.logger.Error("controller state", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get controller state")
		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}
