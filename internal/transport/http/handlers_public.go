package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/delivery"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

type verifyRequest struct {
	Digest string `json:"digest"`
}

// handleVerifyDigest answers anonymous integrity lookups. The digest rides
// in a POST body so it never lands in access logs or proxy caches. The
// response says where a digest has been seen, never what the underlying
// case is.
func (h *Handler) handleVerifyDigest(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.verifier.Verify(r.Context(), req.Digest)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type bounceRequest struct {
	NoticeID string `json:"notice_id"`
	Channel  string `json:"channel"`
	Reason   string `json:"reason"`
}

// handleDeliveryBounce receives asynchronous bounce callbacks from the
// channel gateways.
func (h *Handler) handleDeliveryBounce(w http.ResponseWriter, r *http.Request) {
	var req bounceRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	noticeID, err := domain.ParseNoticeID(req.NoticeID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid notice id"))
		return
	}
	channel, ok := delivery.ParseChannel(req.Channel)
	if !ok {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unknown channel %q", req.Channel))
		return
	}
	if _, err := h.notices.RecordBounce(r.Context(), noticeID, channel, req.Reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) handleGateResetLockout(w http.ResponseWriter, r *http.Request) {
	session, err := h.gates.ResetLockout(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionToView(session))
}

func (h *Handler) handleChallengeUnfreeze(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.notices.UnfreezeChallenge(r.Context(), noticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.noticeToView(n, requestcontext.Now(r.Context())))
}
