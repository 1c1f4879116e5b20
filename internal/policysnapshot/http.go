package policysnapshot

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/canonicaljson"
	"github.com/otcsettle/controlplane/internal/httputil"
)

// Router mounts the §6 PolicySnapshot HTTP surface.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/snapshots", s.handleCreateSnapshot)
	r.Post("/activate", s.handleActivate)
	r.Get("/snapshots/{version}", s.handleGetByVersion)
	r.Get("/snapshots/hash/{hash}", s.handleGetByHash)
	r.Get("/active", s.handleGetActive)
	r.Get("/active/at/{ts}", s.handleGetActiveAt)
	r.Get("/effective/{run_id}", s.handleEffective)
	return r
}

type createSnapshotRequest struct {
	PolicyVersion     string         `json:"policy_version"`
	Rules             RuleBundle     `json:"rules"`
	OptionalHash      string         `json:"policy_hash,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func (s *Service) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req createSnapshotRequest
	if err := httputil.ReadJSON(w, r, &req, 1<<20); err != nil {
		httputil.WriteError(w, apperr.BadRequest("INVALID_BODY", err.Error()))
		return
	}

	if err := s.verifyRequestSignature(r, req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := s.CreateSnapshot(r.Context(), req.PolicyVersion, req.Rules, req.OptionalHash, req.Metadata)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type activateRequest struct {
	OnchainPolicyVersion string `json:"onchain_policy_version"`
	PolicyVersion        string `json:"policy_version"`
}

func (s *Service) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := httputil.ReadJSON(w, r, &req, 1<<16); err != nil {
		httputil.WriteError(w, apperr.BadRequest("INVALID_BODY", err.Error()))
		return
	}
	if err := s.verifyRequestSignature(r, req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	mapping, err := s.ActivatePolicy(r.Context(), req.OnchainPolicyVersion, req.PolicyVersion)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mapping)
}

func (s *Service) handleGetByVersion(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	snap, found, err := s.GetSnapshotByVersion(r.Context(), version)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !found {
		httputil.WriteError(w, apperr.NotFound("POLICY_SNAPSHOT_NOT_FOUND", "no snapshot for that version"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (s *Service) handleGetByHash(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	snap, found, err := s.GetSnapshotByHash(r.Context(), hash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !found {
		httputil.WriteError(w, apperr.NotFound("POLICY_SNAPSHOT_NOT_FOUND", "no snapshot for that hash"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (s *Service) handleGetActive(w http.ResponseWriter, r *http.Request) {
	mapping, found, err := s.GetActive(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !found {
		httputil.WriteError(w, apperr.NotFound("NO_ACTIVE_POLICY", "no policy is currently active"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mapping)
}

func (s *Service) handleGetActiveAt(w http.ResponseWriter, r *http.Request) {
	ts, err := strconv.ParseInt(chi.URLParam(r, "ts"), 10, 64)
	if err != nil {
		httputil.WriteError(w, apperr.BadRequest("INVALID_TIMESTAMP", "ts must be a unix timestamp"))
		return
	}
	mapping, found, err2 := s.GetActiveAt(r.Context(), time.Unix(ts, 0).UTC())
	if err2 != nil {
		httputil.WriteError(w, err2)
		return
	}
	if !found {
		httputil.WriteError(w, apperr.NotFound("NO_ACTIVE_POLICY", "no policy was active at that timestamp"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mapping)
}

func (s *Service) handleEffective(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	tsParam := r.URL.Query().Get("timestamp")
	ts, err := strconv.ParseInt(tsParam, 10, 64)
	if err != nil {
		httputil.WriteError(w, apperr.BadRequest("INVALID_TIMESTAMP", "timestamp query parameter must be a unix timestamp"))
		return
	}
	var hint *string
	if h := r.URL.Query().Get("version_hint"); h != "" {
		hint = &h
	}
	evidence, err2 := s.GetEffectivePolicyForRun(r.Context(), runID, ts, hint)
	if err2 != nil {
		httputil.WriteError(w, err2)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, evidence)
}

// verifyRequestSignature checks the optional internal-auth HMAC header over
// the natural-order canonical JSON of the request body, per SPEC_FULL.md
// §4.1 Expansion.
func (s *Service) verifyRequestSignature(r *http.Request, body any) error {
	if !s.internalAuthEnabled {
		return nil
	}
	raw, err := canonicaljson.Natural(body)
	if err != nil {
		return apperr.Internal(apperr.CodeSerializationError, err.Error())
	}
	return s.VerifyInternalAuth(raw, r.Header.Get("x-internal-signature"))
}
