package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/blob"
	"custodia/internal/convenio"
	"custodia/internal/delivery"
	"custodia/internal/descargo"
	"custodia/internal/evidence"
	"custodia/internal/export"
	"custodia/internal/gate"
	"custodia/internal/integrity"
	"custodia/internal/notice"
	"custodia/internal/tracking"
	"custodia/internal/witness"
	"custodia/pkg/domain"
	"custodia/pkg/platform/middleware/auth"
)

const (
	signingKey = "router-test-signing-key"
	adminToken = "router-test-admin-token"
	baseURL    = "https://custodia.example"
	taxID      = "27-33444555-9"
)

type fakeAuthority struct{}

func (f *fakeAuthority) Name() string { return "tsa-test" }

func (f *fakeAuthority) Attest(_ context.Context, digest string) (*integrity.TimeAttestation, error) {
	return &integrity.TimeAttestation{Authority: "tsa-test", Token: "att-" + digest[:8]}, nil
}

type fakeCodeSender struct {
	lastCode string
}

func (f *fakeCodeSender) SendCode(_ context.Context, _, code string) error {
	f.lastCode = code
	return nil
}

type fakeChannelProvider struct {
	channel delivery.Channel
	links   []string
}

func (f *fakeChannelProvider) Channel() delivery.Channel { return f.channel }

func (f *fakeChannelProvider) Send(_ context.Context, _ string, msg delivery.Message) error {
	f.links = append(f.links, msg.AccessLink)
	return nil
}

type fakeInviteSender struct {
	links []string
}

func (f *fakeInviteSender) SendInvite(_ context.Context, _, _, link string) error {
	f.links = append(f.links, link)
	return nil
}

type RouterSuite struct {
	suite.Suite
	router   http.Handler
	bearer   string
	sender   *fakeCodeSender
	email    *fakeChannelProvider
	invites  *fakeInviteSender
	employer domain.EmployerID
	employee domain.EmployeeID
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	auditStore := audit.NewInMemoryStore()
	auditor := audit.NewPublisher(auditStore)

	s.employer = domain.NewEmployerID()
	s.employee = domain.NewEmployeeID()

	stamper := integrity.NewService(integrity.NewFallbackChain(&fakeAuthority{}))

	directory := gate.NewInMemoryDirectory()
	directory.Register(gate.EmployeeRecord{
		ID:       s.employee,
		FullName: "Marta Villalba",
		Email:    "marta.villalba@example.com",
		Phone:    "+5491155550000",
	}, taxID)
	s.sender = &fakeCodeSender{}
	gates := gate.NewService(
		gate.NewInMemorySessionStore(),
		gate.NewInMemoryOTPStore(),
		directory, s.sender, auditor,
	)

	tracker := tracking.NewService(tracking.NewInMemorySessionStore(), auditor)
	convenios := convenio.NewService(convenio.NewInMemoryStore())

	s.email = &fakeChannelProvider{channel: delivery.ChannelEmail}
	sms := &fakeChannelProvider{channel: delivery.ChannelSMS}
	dispatcher := delivery.NewDispatcher(auditor, []delivery.Provider{s.email, sms})

	descargos := descargo.NewService(descargo.NewInMemoryStore(), gates, auditor)
	notices := notice.NewService(notice.NewInMemoryStore(), stamper, gates, tracker,
		convenios, dispatcher, descargos, auditor, baseURL)

	blobs := blob.NewInMemoryStore()
	evidences := evidence.NewService(evidence.NewInMemoryStore(), blobs, auditor)
	s.invites = &fakeInviteSender{}
	witnesses := witness.NewService(witness.NewInMemoryStore(), s.invites, auditor, baseURL)

	exporter := export.NewBuilder(notices, auditor, evidences, witnesses, descargos)
	verifier := export.NewVerifier(auditStore)

	handler := NewHandler(notices, gates, tracker, witnesses, evidences,
		descargos, convenios, exporter, verifier, auditor)
	s.router = NewRouter(handler, RouterConfig{
		JWTSigningKey: signingKey,
		AdminToken:    adminToken,
	})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		ActorID:    "hr-17",
		EmployerID: s.employer.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(signingKey))
	s.Require().NoError(err)
	s.bearer = signed
}

func (s *RouterSuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) authed(method, path string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, body, map[string]string{
		"Authorization": "Bearer " + s.bearer,
	})
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v))
}

// signConvenio registers and signs the employee's electronic domicile so
// digital delivery is authorized.
func (s *RouterSuite) signConvenio() {
	rec := s.authed(http.MethodPost, "/api/v1/convenios", map[string]any{
		"employer_id": s.employer.String(),
		"employee_id": s.employee.String(),
		"email":       "marta.villalba@example.com",
		"phone":       "+5491155550000",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.authed(http.MethodPost, "/api/v1/convenios/"+s.employee.String()+"/sign",
		map[string]any{"on_paper": false})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
}

func (s *RouterSuite) createNotice() noticeView {
	rec := s.authed(http.MethodPost, "/api/v1/notices", map[string]any{
		"employer_id":    s.employer.String(),
		"employee_id":    s.employee.String(),
		"category":       "warning",
		"severity":       2,
		"facts":          "Llegadas tarde reiteradas durante la primera quincena de mayo.",
		"incident_at":    "2026-05-11T09:30:00Z",
		"incident_place": "Depósito central",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var view noticeView
	s.decode(rec, &view)
	return view
}

// deliverAndExtractToken delivers over email and pulls the disclosure token
// out of the access link the provider received.
func (s *RouterSuite) deliverAndExtractToken(noticeID string) string {
	rec := s.authed(http.MethodPost, "/api/v1/notices/"+noticeID+"/deliver",
		map[string]any{"channels": []string{"email"}})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	s.Require().NotEmpty(s.email.links)
	link := s.email.links[len(s.email.links)-1]
	s.Require().Contains(link, baseURL+"/aviso/")
	return strings.TrimPrefix(link, baseURL+"/aviso/")
}

// passGate walks the identifier and OTP steps to a granted session.
func (s *RouterSuite) passGate(token string) {
	rec := s.do(http.MethodPost, "/aviso/"+token+"/identifier",
		map[string]any{"identifier": taxID}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/aviso/"+token+"/code/request", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Require().NotEmpty(s.sender.lastCode)

	rec = s.do(http.MethodPost, "/aviso/"+token+"/code/verify",
		map[string]any{"code": s.sender.lastCode}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var step stepView
	s.decode(rec, &step)
	s.Require().Equal("ok", step.Status)
	s.Require().Equal("granted", step.Session.State)
}

// confirmRead satisfies the engagement thresholds and answers the challenge.
func (s *RouterSuite) confirmRead(token string) {
	rec := s.do(http.MethodGet, "/aviso/"+token+"/contenido", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/aviso/"+token+"/heartbeat",
		map[string]any{"scroll_pct": 100, "dwell_seconds": 600, "visible": true}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var progress tracking.Progress
	s.decode(rec, &progress)
	s.Require().True(progress.Satisfied)

	rec = s.do(http.MethodGet, "/aviso/"+token+"/challenge", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var challenge struct {
		Field string `json:"field"`
	}
	s.decode(rec, &challenge)

	answer := map[string]string{
		"category":      "apercibimiento",
		"incident_date": "2026-05-11",
	}[challenge.Field]
	s.Require().NotEmpty(answer)

	rec = s.do(http.MethodPost, "/aviso/"+token+"/confirm",
		map[string]any{"field": challenge.Field, "answer": answer}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var confirmed confirmView
	s.decode(rec, &confirmed)
	s.Require().Equal("ok", confirmed.Status)
	s.Require().NotNil(confirmed.ReadConfirmedAt)
}

func (s *RouterSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/health", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"ok"}`, rec.Body.String())
}

func (s *RouterSuite) TestAuthRequired() {
	s.Run("missing bearer", func() {
		rec := s.do(http.MethodPost, "/api/v1/notices", map[string]any{}, nil)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("garbage bearer", func() {
		rec := s.do(http.MethodPost, "/api/v1/notices", map[string]any{},
			map[string]string{"Authorization": "Bearer not-a-token"})
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("wrong signing key", func() {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{ActorID: "x"})
		signed, err := token.SignedString([]byte("some-other-key"))
		s.Require().NoError(err)
		rec := s.do(http.MethodPost, "/api/v1/notices", map[string]any{},
			map[string]string{"Authorization": "Bearer " + signed})
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func (s *RouterSuite) TestDisclosureLifecycle() {
	s.signConvenio()
	created := s.createNotice()
	s.Equal("draft", created.State)
	s.Equal("pending", created.DisplayState)
	s.Len(created.ContentHash, 64)

	token := s.deliverAndExtractToken(created.ID)

	s.Run("resume records link open", func() {
		rec := s.do(http.MethodGet, "/aviso/"+token, nil, nil)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var session sessionView
		s.decode(rec, &session)
		s.Equal("unverified", session.State)
		s.Equal("submit_identifier", session.NextStep)
	})

	s.Run("content is sealed before the gate", func() {
		rec := s.do(http.MethodGet, "/aviso/"+token+"/contenido", nil, nil)
		s.Equal(http.StatusForbidden, rec.Code)
	})

	s.passGate(token)

	s.Run("identity marker lands on the notice", func() {
		rec := s.authed(http.MethodGet, "/api/v1/notices/"+created.ID, nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var view noticeView
		s.decode(rec, &view)
		s.Equal("identity_validated", view.DisplayState)
		s.NotNil(view.IdentityValidatedAt)
		s.NotEmpty(view.ValidatedIdentifier)
	})

	s.Run("granted gate exposes the legal text", func() {
		rec := s.do(http.MethodGet, "/aviso/"+token+"/contenido", nil, nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var content contentView
		s.decode(rec, &content)
		s.Contains(strings.ToLower(content.Content), "apercibimiento")
		s.Equal(created.ContentHash, content.ContentHash)
		s.NotNil(content.DueDate)
	})

	s.confirmRead(token)

	s.Run("read state and reply window", func() {
		rec := s.authed(http.MethodGet, "/api/v1/notices/"+created.ID, nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var view noticeView
		s.decode(rec, &view)
		s.Equal("read", view.State)

		rec = s.do(http.MethodGet, "/aviso/"+token+"/descargo", nil, nil)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var d descargoView
		s.decode(rec, &d)
		s.Equal("pending", d.State)
	})

	s.Run("exercise descargo", func() {
		rec := s.do(http.MethodPost, "/aviso/"+token+"/descargo", map[string]any{
			"statement":       "Las llegadas tarde se debieron a un paro de transporte.",
			"sworn_confirmed": true,
		}, nil)
		s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
		var d descargoView
		s.decode(rec, &d)
		s.Equal("exercised", d.State)
		s.Len(d.StatementHash, 64)
		s.Empty(d.AnnotationNotes)
	})

	s.Run("employer annotates", func() {
		rec := s.authed(http.MethodPut, "/api/v1/notices/"+created.ID+"/descargo/annotation",
			map[string]any{"admission_flag": true, "notes": "Reconoce el hecho."})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var d descargoView
		s.decode(rec, &d)
		s.True(d.AdmissionFlag)
		s.Equal("Reconoce el hecho.", d.AnnotationNotes)
	})

	s.Run("timeline starts at creation", func() {
		rec := s.authed(http.MethodGet, "/api/v1/notices/"+created.ID+"/timeline", nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var body struct {
			Events []eventView `json:"events"`
		}
		s.decode(rec, &body)
		s.Require().NotEmpty(body.Events)
		s.Equal("notice_created", body.Events[0].Kind)
	})

	s.Run("export carries its digest", func() {
		rec := s.authed(http.MethodPost, "/api/v1/notices/"+created.ID+"/export",
			map[string]any{"scope": "full", "requested_for": "litigio", "reason": "audiencia SECLO"})
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("application/zip", rec.Header().Get("Content-Type"))
		s.Contains(rec.Header().Get("Content-Disposition"), "expediente-")
		s.Len(rec.Header().Get("X-Package-Digest"), 64)
		s.NotEmpty(rec.Body.Bytes())
	})

	s.Run("hyphenated scope spelling is accepted", func() {
		rec := s.authed(http.MethodPost, "/api/v1/notices/"+created.ID+"/export",
			map[string]any{"scope": "timeline-only"})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		s.Equal("application/zip", rec.Header().Get("Content-Type"))
	})

	s.Run("anonymous verification finds the content hash", func() {
		rec := s.do(http.MethodPost, "/verify",
			map[string]any{"digest": created.ContentHash}, nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var result export.VerificationResult
		s.decode(rec, &result)
		s.True(result.Found)
		s.NotEmpty(result.Matches)
	})
}

func (s *RouterSuite) TestWitnessFlow() {
	s.signConvenio()
	created := s.createNotice()

	rec := s.authed(http.MethodPost, "/api/v1/notices/"+created.ID+"/witnesses",
		map[string]any{
			"full_name":    "Jorge Páez",
			"email":        "jorge.paez@example.com",
			"relationship": "supervisor",
		})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var invited witnessView
	s.decode(rec, &invited)
	s.NotContains(rec.Body.String(), "access_token")

	s.Require().NotEmpty(s.invites.links)
	link := s.invites.links[len(s.invites.links)-1]
	s.Require().Contains(link, baseURL+"/testigo/")
	token := strings.TrimPrefix(link, baseURL+"/testigo/")

	rec = s.do(http.MethodGet, "/testigo/"+token, nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/testigo/"+token+"/validate",
		map[string]any{"present_at_incident": true}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/testigo/"+token+"/sign",
		map[string]any{"statement": "Presencié las llegadas tarde señaladas."}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var signed witnessView
	s.decode(rec, &signed)
	s.Equal("signed", signed.State)
	s.Len(signed.SignatureHash, 64)

	rec = s.authed(http.MethodGet, "/api/v1/notices/"+created.ID+"/witnesses", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var listing struct {
		Witnesses []witnessView `json:"witnesses"`
	}
	s.decode(rec, &listing)
	s.Require().Len(listing.Witnesses, 1)
	s.Equal(invited.ID, listing.Witnesses[0].ID)
}

func (s *RouterSuite) TestEvidenceEndpoints() {
	s.signConvenio()
	created := s.createNotice()

	data := []byte("acta de constatación")
	rec := s.authed(http.MethodPost, "/api/v1/notices/"+created.ID+"/evidence",
		map[string]any{
			"kind":          "document",
			"filename":      "acta.pdf",
			"data":          data,
			"declared_hash": integrity.HashBytes(data),
			"content_type":  "application/pdf",
			"principal":     true,
		})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var item evidenceView
	s.decode(rec, &item)
	s.True(item.Principal)
	s.Equal(int64(len(data)), item.ByteSize)

	rec = s.authed(http.MethodGet, "/api/v1/notices/"+created.ID+"/evidence", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var listing struct {
		Evidence []evidenceView `json:"evidence"`
	}
	s.decode(rec, &listing)
	s.Len(listing.Evidence, 1)
}

func (s *RouterSuite) TestBounceWebhook() {
	s.signConvenio()
	created := s.createNotice()
	s.deliverAndExtractToken(created.ID)

	rec := s.do(http.MethodPost, "/webhooks/delivery/bounce", map[string]any{
		"notice_id": created.ID,
		"channel":   "email",
		"reason":    "mailbox full",
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.authed(http.MethodGet, "/api/v1/notices/"+created.ID, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var view noticeView
	s.decode(rec, &view)
	s.True(view.DeliveryBounced)
}

func (s *RouterSuite) TestAdminEndpoints() {
	s.Run("admin token required", func() {
		rec := s.do(http.MethodPost,
			fmt.Sprintf("/admin/notices/%s/unfreeze-challenge", domain.NewNoticeID()), nil, nil)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("unfreeze is a no-op on an unfrozen notice", func() {
		s.signConvenio()
		created := s.createNotice()
		rec := s.do(http.MethodPost, "/admin/notices/"+created.ID+"/unfreeze-challenge",
			nil, map[string]string{"X-Admin-Token": adminToken})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var view noticeView
		s.decode(rec, &view)
		s.False(view.ChallengeFrozen)
	})

	s.Run("lockout reset on unknown session", func() {
		rec := s.do(http.MethodPost, "/admin/gates/no-such-token/reset-lockout",
			nil, map[string]string{"X-Admin-Token": adminToken})
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *RouterSuite) TestVerifyValidation() {
	rec := s.do(http.MethodPost, "/verify", map[string]any{"digest": "not-a-digest"}, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}
