package proofcoordinator

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/httputil"
)

// Router mounts the §6 ProofCoordinator HTTP surface that needs no operator
// session. The two override endpoints that do — retry and manual status
// transitions — are exposed as exported handlers instead, so the api package
// can mount them behind the wallet-login auth middleware (SPEC_FULL.md §6
// Expansion) without this package importing anything about JWTs.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/proof-jobs", s.handleSubmit)
	r.Get("/proof-jobs/queue-stats", s.handleQueueStats)
	r.Get("/proof-jobs/health", s.handleHealth)
	r.Get("/proof-jobs/run/{run_id}", s.handleGetByRun)
	r.Get("/proof-jobs/{job_id}", s.handleGet)
	return r
}

// RetryHandler is the operator-gated "retry a dead-lettered job" override.
func (s *Service) RetryHandler() http.HandlerFunc { return s.handleRetry }

// UpdateStatusHandler is the operator-gated manual status-transition override.
func (s *Service) UpdateStatusHandler() http.HandlerFunc { return s.handleUpdateStatus }

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitProofJobRequest
	if err := httputil.ReadJSON(w, r, &req, 1<<20); err != nil {
		httputil.WriteError(w, apperr.BadRequest("INVALID_BODY", err.Error()))
		return
	}
	res, err := s.SubmitProofJob(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, found, err := s.GetProofJob(r.Context(), jobID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !found {
		httputil.WriteError(w, apperr.NotFound("PROOF_JOB_NOT_FOUND", "no proof job with that id"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

func (s *Service) handleGetByRun(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.GetProofJobsByRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, jobs)
}

func (s *Service) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.RetryProofJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

type updateStatusRequest struct {
	Status    Status `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_message,omitempty"`
}

func (s *Service) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := httputil.ReadJSON(w, r, &req, 1<<16); err != nil {
		httputil.WriteError(w, apperr.BadRequest("INVALID_BODY", err.Error()))
		return
	}
	job, err := s.UpdateStatus(r.Context(), chi.URLParam(r, "job_id"), req.Status, req.ErrorCode, req.ErrorMsg)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

func (s *Service) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.QueueStats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.kv.Ping(r.Context()); err != nil {
		httputil.WriteError(w, apperr.Unavailable(apperr.CodeRedisError, "kv store unreachable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
