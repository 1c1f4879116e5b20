package complianceattestor

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/httputil"
)

// Router mounts the ComplianceAttestor HTTP surface (§6).
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/attestations", s.handleAttest)
	r.Get("/attestations/{id}", s.handleGet)
	return r
}

func (s *Service) handleAttest(w http.ResponseWriter, r *http.Request) {
	var req AttestRequest
	if err := httputil.ReadJSON(w, r, &req, 1<<20); err != nil {
		httputil.WriteError(w, apperr.BadRequest("INVALID_BODY", err.Error()))
		return
	}

	attestation, idempotent, err := s.AttestCompliance(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"attestation": attestation,
		"idempotent":  idempotent,
	})
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, found, err := s.GetAttestation(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !found {
		httputil.WriteError(w, apperr.NotFound("ATTESTATION_NOT_FOUND", "no attestation with that id"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}
