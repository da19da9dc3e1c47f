package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/pkg/platform/httputil"
)

func (h *Handler) handleWitnessOpen(w http.ResponseWriter, r *http.Request) {
	decl, err := h.witnesses.Open(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, witnessToView(decl))
}

type witnessValidateRequest struct {
	PresentAtIncident bool `json:"present_at_incident"`
}

func (h *Handler) handleWitnessValidate(w http.ResponseWriter, r *http.Request) {
	var req witnessValidateRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	decl, err := h.witnesses.Validate(r.Context(), chi.URLParam(r, "token"), req.PresentAtIncident)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, witnessToView(decl))
}

type witnessSignRequest struct {
	Statement string `json:"statement"`
}

func (h *Handler) handleWitnessSign(w http.ResponseWriter, r *http.Request) {
	var req witnessSignRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	decl, err := h.witnesses.Sign(r.Context(), chi.URLParam(r, "token"), req.Statement)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, witnessToView(decl))
}

func (h *Handler) handleWitnessDecline(w http.ResponseWriter, r *http.Request) {
	decl, err := h.witnesses.Decline(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, witnessToView(decl))
}
