package intentgateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/httputil"
)

// Router mounts the IntentGateway HTTP surface (§6).
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/intents", s.handleSubmit)
	r.Get("/intents/{id}", s.handleGet)
	return r
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitIntentRequest
	if err := httputil.ReadJSON(w, r, &req, 1<<20); err != nil {
		httputil.WriteError(w, apperr.BadRequest("INVALID_BODY", err.Error()))
		return
	}
	req.WorkflowRunID = r.Header.Get("x-workflow-run-id")

	res, err := s.SubmitIntent(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, found, err := s.GetIntent(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !found {
		httputil.WriteError(w, apperr.NotFound("INTENT_NOT_FOUND", "no intent with that id"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, in)
}
