package httptransport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/convenio"
	"custodia/internal/descargo"
	"custodia/internal/evidence"
	"custodia/internal/export"
	"custodia/internal/notice"
	"custodia/internal/witness"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

func noticeIDFromPath(r *http.Request) (domain.NoticeID, error) {
	id, err := domain.ParseNoticeID(chi.URLParam(r, "noticeID"))
	if err != nil {
		return domain.NoticeID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid notice id")
	}
	return id, nil
}

type createNoticeRequest struct {
	EmployerID     string     `json:"employer_id"`
	EmployeeID     string     `json:"employee_id"`
	Category       string     `json:"category"`
	Severity       int        `json:"severity"`
	Facts          string     `json:"facts"`
	IncidentAt     time.Time  `json:"incident_at"`
	IncidentPlace  string     `json:"incident_place"`
	SuspensionDays int        `json:"suspension_days"`
	SuspensionFrom *time.Time `json:"suspension_from"`
	SuspensionTo   *time.Time `json:"suspension_to"`
}

func (h *Handler) handleNoticeCreate(w http.ResponseWriter, r *http.Request) {
	var req createNoticeRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	employerID, err := domain.ParseEmployerID(req.EmployerID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid employer id"))
		return
	}
	employeeID, err := domain.ParseEmployeeID(req.EmployeeID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid employee id"))
		return
	}
	category, ok := notice.ParseCategory(req.Category)
	if !ok {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unknown category %q", req.Category))
		return
	}

	n, err := h.notices.Create(r.Context(), notice.CreateInput{
		EmployerID:     employerID,
		EmployeeID:     employeeID,
		Category:       category,
		Severity:       req.Severity,
		Facts:          req.Facts,
		IncidentAt:     req.IncidentAt,
		IncidentPlace:  req.IncidentPlace,
		SuspensionDays: req.SuspensionDays,
		SuspensionFrom: req.SuspensionFrom,
		SuspensionTo:   req.SuspensionTo,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, h.noticeToView(n, requestcontext.Now(r.Context())))
}

func (h *Handler) handleNoticeList(w http.ResponseWriter, r *http.Request) {
	employerID, err := domain.ParseEmployerID(r.URL.Query().Get("employer_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "employer_id query parameter is required"))
		return
	}
	notices, err := h.notices.ListByEmployer(r.Context(), employerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	now := requestcontext.Now(r.Context())
	views := make([]noticeView, 0, len(notices))
	for _, n := range notices {
		views = append(views, h.noticeToView(n, now))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"notices": views})
}

func (h *Handler) handleNoticeGet(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.notices.Get(r.Context(), noticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.noticeToView(n, requestcontext.Now(r.Context())))
}

type deliverRequest struct {
	Channels []string `json:"channels"`
}

func (h *Handler) handleNoticeDeliver(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req deliverRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.notices.Deliver(r.Context(), noticeID, req.Channels)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"notice":   h.noticeToView(result.Notice, requestcontext.Now(r.Context())),
		"attempts": attemptsToView(result.Attempts),
	})
}

type physicalFallbackRequest struct {
	Note string `json:"note"`
}

func (h *Handler) handlePhysicalFallback(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req physicalFallbackRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.notices.MarkPhysicalFallback(r.Context(), noticeID, req.Note)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.noticeToView(n, requestcontext.Now(r.Context())))
}

func (h *Handler) handleAnchorRefresh(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.notices.RefreshAnchor(r.Context(), noticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.noticeToView(n, requestcontext.Now(r.Context())))
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.auditor.Timeline(r.Context(), noticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": eventsToView(events)})
}

type witnessInviteRequest struct {
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	Relationship string `json:"relationship"`
}

func (h *Handler) handleWitnessInvite(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req witnessInviteRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	decl, err := h.witnesses.Invite(r.Context(), witness.InviteInput{
		NoticeID:     noticeID,
		FullName:     req.FullName,
		Email:        req.Email,
		Relationship: req.Relationship,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, witnessToView(decl))
}

func (h *Handler) handleWitnessList(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	decls, err := h.witnesses.ListByNotice(r.Context(), noticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	views := make([]witnessView, 0, len(decls))
	for _, d := range decls {
		views = append(views, witnessToView(d))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"witnesses": views})
}

type evidenceIngestRequest struct {
	Kind         string            `json:"kind"`
	Filename     string            `json:"filename"`
	Data         []byte            `json:"data"`
	DeclaredHash string            `json:"declared_hash"`
	ContentType  string            `json:"content_type"`
	Principal    bool              `json:"principal"`
	Metadata     evidence.Metadata `json:"metadata"`
}

func (h *Handler) handleEvidenceIngest(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req evidenceIngestRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	kind, ok := evidence.ParseKind(req.Kind)
	if !ok {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unknown evidence kind %q", req.Kind))
		return
	}
	item, err := h.evidences.Ingest(r.Context(), evidence.IngestInput{
		NoticeID:     noticeID,
		Kind:         kind,
		Filename:     req.Filename,
		Data:         req.Data,
		DeclaredHash: req.DeclaredHash,
		ContentType:  req.ContentType,
		Principal:    req.Principal,
		Metadata:     req.Metadata,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, evidenceToView(item))
}

func (h *Handler) handleEvidenceList(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	items, err := h.evidences.ListByNotice(r.Context(), noticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	views := make([]evidenceView, 0, len(items))
	for _, item := range items {
		views = append(views, evidenceToView(item))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"evidence": views})
}

func (h *Handler) handleDescargoGet(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.descargos.Get(r.Context(), noticeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, descargoToView(d, true))
}

type annotationRequest struct {
	AdmissionFlag     bool   `json:"admission_flag"`
	ContradictionFlag bool   `json:"contradiction_flag"`
	Notes             string `json:"notes"`
}

func (h *Handler) handleDescargoAnnotate(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req annotationRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.descargos.Annotate(r.Context(), descargo.AnnotationInput{
		NoticeID:          noticeID,
		AdmissionFlag:     req.AdmissionFlag,
		ContradictionFlag: req.ContradictionFlag,
		Notes:             req.Notes,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, descargoToView(d, true))
}

type exportRequest struct {
	Scope        string `json:"scope"`
	RequestedFor string `json:"requested_for"`
	Reason       string `json:"reason"`
}

// handleExport builds and streams the evidence package. The whole-archive
// digest rides in a response header so the download and its fingerprint
// arrive together.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	noticeID, err := noticeIDFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req exportRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Scope == "" {
		req.Scope = string(export.ScopeFull)
	}
	pkg, err := h.exporter.Build(r.Context(), noticeID, export.Request{
		Scope:        export.Scope(req.Scope),
		RequestedFor: req.RequestedFor,
		Reason:       req.Reason,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pkg.Filename))
	w.Header().Set("X-Package-Digest", pkg.Digest)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pkg.Archive)
}

type convenioCreateRequest struct {
	EmployerID string `json:"employer_id"`
	EmployeeID string `json:"employee_id"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

func (h *Handler) handleConvenioCreate(w http.ResponseWriter, r *http.Request) {
	var req convenioCreateRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	employerID, err := domain.ParseEmployerID(req.EmployerID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid employer id"))
		return
	}
	employeeID, err := domain.ParseEmployeeID(req.EmployeeID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid employee id"))
		return
	}
	agreement, err := h.convenios.Create(r.Context(), convenio.CreateInput{
		EmployerID: employerID,
		EmployeeID: employeeID,
		Email:      req.Email,
		Phone:      req.Phone,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, agreementToView(agreement))
}

type convenioSignRequest struct {
	OnPaper bool `json:"on_paper"`
}

func (h *Handler) handleConvenioSign(w http.ResponseWriter, r *http.Request) {
	employeeID, err := domain.ParseEmployeeID(chi.URLParam(r, "employeeID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid employee id"))
		return
	}
	var req convenioSignRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	agreement, err := h.convenios.Sign(r.Context(), employeeID, req.OnPaper)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agreementToView(agreement))
}
