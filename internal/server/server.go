// Copyright 2025 The SEYOAWE Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server is the daemon's HTTP surface: the ad-hoc trigger, the
// webform endpoints approvals resolve through, run status, and the
// operational endpoints.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yuribernstein/seyoawe-community/pkg/approval"
	"github.com/yuribernstein/seyoawe-community/pkg/errors"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// Server routes the daemon's HTTP endpoints.
type Server struct {
	runner    *Runner
	approvals *approval.Manager
	logger    *slog.Logger
	mux       *http.ServeMux
}

// New builds the server and registers its routes.
func New(runner *Runner, approvals *approval.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runner:    runner,
		approvals: approvals,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/adhoc", s.handleAdhoc)
	s.mux.HandleFunc("GET /api/workflows/{uid}", s.handleRunStatus)
	s.mux.HandleFunc("GET /webform/{uid}", s.handleFormGet)
	s.mux.HandleFunc("POST /webform/{uid}", s.handleFormSubmit)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// adhocRequest is the body of POST /api/adhoc.
type adhocRequest struct {
	Workflow map[string]interface{} `json:"workflow"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// handleAdhoc accepts an inline workflow document and starts it. The
// response returns before the first step runs.
func (s *Server) handleAdhoc(w http.ResponseWriter, r *http.Request) {
	var req adhocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Workflow == nil {
		writeError(w, http.StatusBadRequest, "workflow is required")
		return
	}

	doc, err := workflow.FromMap(map[string]interface{}{"workflow": req.Workflow})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The run outlives this request; it is bound to the daemon's base
	// context, not to the client connection.
	uid := s.runner.Submit(doc, req.Payload)
	s.logger.Info("adhoc workflow accepted", "workflow_uid", uid, "workflow", doc.Workflow.Name)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"workflow_uid": uid,
		"status":       RunStatusRunning,
	})
}

// handleRunStatus reports the daemon's view of one run.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.runner.Status(r.PathValue("uid"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleFormGet serves the pending form for a suspended workflow.
func (s *Server) handleFormGet(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.approvals.Status(r.PathValue("uid"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	switch ticket.State {
	case approval.StateExpired:
		writeError(w, http.StatusGone, "form expired")
		return
	case approval.StateApproved, approval.StateRejected:
		writeError(w, http.StatusConflict, "form already resolved")
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// handleFormSubmit resolves a pending form.
func (s *Server) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	var submission map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form payload: "+err.Error())
		return
	}

	uid := r.PathValue("uid")
	_, err := s.approvals.Submit(uid, submission)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"accepted": true})
	case errors.Is(err, approval.ErrExpired):
		writeError(w, http.StatusGone, "form expired")
	case errors.Is(err, approval.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "form already resolved")
	default:
		writeError(w, http.StatusNotFound, err.Error())
	}
}

// handleHealth answers liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}
