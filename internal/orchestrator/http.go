package orchestrator

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/httputil"
)

// Router mounts §6's single orchestration composition endpoint,
// POST /v1/orchestrations/otc.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/orchestrations/otc", s.handleOrchestrate)
	return r
}

func (s *Service) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req OrchestrateRequest
	if err := httputil.ReadJSON(w, r, &req, 1<<20); err != nil {
		httputil.WriteError(w, apperr.BadRequest("INVALID_BODY", err.Error()))
		return
	}
	res, err := s.OrchestrateOTC(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
