package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/descargo"
	"custodia/internal/gate"
	"custodia/internal/integrity"
	"custodia/internal/notice"
	"custodia/internal/tracking"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
)

// resumeSession loads the gate session behind the opaque disclosure token.
// Lookups and failures share one error path so the endpoint never confirms
// whether a guessed token exists.
func (h *Handler) resumeSession(r *http.Request) (*gate.Session, error) {
	token := chi.URLParam(r, "token")
	if token == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "access token is required")
	}
	return h.gates.Resume(r.Context(), token)
}

// requireGranted loads the session and rejects anything short of a fully
// granted gate. Notice content and the acknowledgment endpoints live behind
// this check.
func (h *Handler) requireGranted(r *http.Request) (*gate.Session, error) {
	session, err := h.resumeSession(r)
	if err != nil {
		return nil, err
	}
	if session.State != gate.StateGranted {
		return nil, dErrors.New(dErrors.CodeForbidden, "identity gate not granted")
	}
	return session, nil
}

// afterStep persists the identity-validated marker once a step grants the
// gate. The marker is write-once; repeat grants are no-ops.
func (h *Handler) afterStep(r *http.Request, res *gate.StepResult) {
	if res.Status != gate.StepOK || res.Session.State != gate.StateGranted {
		return
	}
	if _, err := h.notices.MarkIdentityValidated(
		r.Context(), res.Session.NoticeID, res.Session.MatchedIdentifier,
	); err != nil {
		h.logger.ErrorContext(r.Context(), "mark identity validated", "error", err)
	}
}

func (h *Handler) handleDisclosureResume(w http.ResponseWriter, r *http.Request) {
	session, err := h.resumeSession(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := h.notices.RecordLinkOpen(r.Context(), session.NoticeID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionToView(session))
}

type identifierRequest struct {
	Identifier string `json:"identifier"`
}

func (h *Handler) handleGateIdentifier(w http.ResponseWriter, r *http.Request) {
	var req identifierRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.gates.SubmitIdentifier(r.Context(), chi.URLParam(r, "token"), req.Identifier)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stepToView(res))
}

func (h *Handler) handleGateRequestCode(w http.ResponseWriter, r *http.Request) {
	if err := h.gates.RequestCode(r.Context(), chi.URLParam(r, "token")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

type codeVerifyRequest struct {
	Code string `json:"code"`
}

func (h *Handler) handleGateVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req codeVerifyRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.gates.VerifyCode(r.Context(), chi.URLParam(r, "token"), req.Code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.afterStep(r, res)
	httputil.WriteJSON(w, http.StatusOK, stepToView(res))
}

func (h *Handler) handleBiometricStart(w http.ResponseWriter, r *http.Request) {
	sessionRef, err := h.gates.StartBiometric(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"session_ref": sessionRef})
}

type biometricCompleteRequest struct {
	SessionRef string `json:"session_ref"`
}

func (h *Handler) handleBiometricComplete(w http.ResponseWriter, r *http.Request) {
	var req biometricCompleteRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.gates.CompleteBiometric(r.Context(), chi.URLParam(r, "token"), req.SessionRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.afterStep(r, res)
	httputil.WriteJSON(w, http.StatusOK, stepToView(res))
}

func (h *Handler) handleBiometricSkip(w http.ResponseWriter, r *http.Request) {
	res, err := h.gates.SkipBiometric(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.afterStep(r, res)
	httputil.WriteJSON(w, http.StatusOK, stepToView(res))
}

// contentView is what the employee sees once the gate is granted: the
// rendered legal text, the seals over it, and the engagement thresholds the
// reader must meet before acknowledging.
type contentView struct {
	Category        string           `json:"category"`
	Content         string           `json:"content"`
	ContentHash     string           `json:"content_hash"`
	Stamp           *integrity.Stamp `json:"stamp,omitempty"`
	DueDate         *time.Time       `json:"due_date,omitempty"`
	ReadConfirmedAt *time.Time       `json:"read_confirmed_at,omitempty"`
	RequiredScroll  float64          `json:"required_scroll_pct"`
	RequiredDwell   float64          `json:"required_dwell_seconds"`
}

func (h *Handler) handleDisclosureContent(w http.ResponseWriter, r *http.Request) {
	session, err := h.requireGranted(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.notices.Get(r.Context(), session.NoticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	track, err := h.tracker.Start(r.Context(), session.Token, n.ID, n.WordCount())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, contentView{
		Category:        string(n.Category),
		Content:         n.Content(),
		ContentHash:     n.ContentHash,
		Stamp:           n.Stamp,
		DueDate:         n.DueDate,
		ReadConfirmedAt: n.ReadConfirmedAt,
		RequiredScroll:  track.RequiredScroll,
		RequiredDwell:   track.RequiredDwell.Seconds(),
	})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb tracking.Heartbeat
	if err := httputil.Decode(r, &hb); err != nil {
		httputil.WriteError(w, err)
		return
	}
	progress, err := h.tracker.Record(r.Context(), chi.URLParam(r, "token"), hb)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, progress)
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	session, err := h.resumeSession(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	field, err := h.notices.Challenge(r.Context(), session.NoticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"field": string(field)})
}

type confirmRequest struct {
	Field  string `json:"field"`
	Answer string `json:"answer"`
}

type confirmView struct {
	Status            string     `json:"status"`
	RemainingAttempts int        `json:"remaining_attempts,omitempty"`
	ReadConfirmedAt   *time.Time `json:"read_confirmed_at,omitempty"`
}

func (h *Handler) handleConfirmRead(w http.ResponseWriter, r *http.Request) {
	session, err := h.resumeSession(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req confirmRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.notices.ConfirmRead(r.Context(), notice.ConfirmInput{
		NoticeID: session.NoticeID,
		Field:    notice.ChallengeField(req.Field),
		Answer:   req.Answer,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, confirmView{
		Status:            string(res.Status),
		RemainingAttempts: res.RemainingAttempts,
		ReadConfirmedAt:   res.Notice.ReadConfirmedAt,
	})
}

func (h *Handler) handleDispute(w http.ResponseWriter, r *http.Request) {
	session, err := h.requireGranted(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.notices.Dispute(r.Context(), session.NoticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"state":       string(n.State),
		"disputed_at": n.DisputedAt,
	})
}

func (h *Handler) handleDescargoView(w http.ResponseWriter, r *http.Request) {
	session, err := h.requireGranted(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.descargos.Get(r.Context(), session.NoticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, descargoToView(d, false))
}

type descargoExerciseRequest struct {
	Statement      string `json:"statement"`
	SwornConfirmed bool   `json:"sworn_confirmed"`
}

func (h *Handler) handleDescargoExercise(w http.ResponseWriter, r *http.Request) {
	session, err := h.requireGranted(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req descargoExerciseRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.descargos.Exercise(r.Context(), descargo.ExerciseInput{
		NoticeID:       session.NoticeID,
		GateToken:      session.Token,
		Statement:      req.Statement,
		SwornConfirmed: req.SwornConfirmed,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, descargoToView(d, false))
}

func (h *Handler) handleDescargoDecline(w http.ResponseWriter, r *http.Request) {
	session, err := h.requireGranted(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.descargos.Decline(r.Context(), session.NoticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, descargoToView(d, false))
}
