package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/blob"
	"custodia/internal/convenio"
	"custodia/internal/delivery"
	"custodia/internal/descargo"
	"custodia/internal/evidence"
	"custodia/internal/gate"
	"custodia/internal/integrity"
	"custodia/internal/notice"
	"custodia/internal/tracking"
	"custodia/internal/witness"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

const taxID = "20-98765432-1"

type fakeAuthority struct{}

func (f *fakeAuthority) Name() string { return "tsa-test" }

func (f *fakeAuthority) Attest(_ context.Context, _ string) (*integrity.TimeAttestation, error) {
	return &integrity.TimeAttestation{Authority: "tsa-test", Token: "att"}, nil
}

type fakeCodeSender struct {
	lastCode string
}

func (f *fakeCodeSender) SendCode(_ context.Context, _, code string) error {
	f.lastCode = code
	return nil
}

type fakeInviteSender struct{}

func (f *fakeInviteSender) SendInvite(_ context.Context, _, _, _ string) error { return nil }

type fakeChannelProvider struct {
	channel delivery.Channel
}

func (f *fakeChannelProvider) Channel() delivery.Channel { return f.channel }

func (f *fakeChannelProvider) Send(_ context.Context, _ string, _ delivery.Message) error {
	return nil
}

type BuilderSuite struct {
	suite.Suite
	now       time.Time
	ctx       context.Context
	auditLog  *audit.InMemoryStore
	blobs     *blob.InMemoryStore
	sender    *fakeCodeSender
	gates     *gate.Service
	tracker   *tracking.Service
	notices   *notice.Service
	evidences *evidence.Service
	witnesses *witness.Service
	descargos *descargo.Service
	builder   *Builder
	employer  domain.EmployerID
	employee  domain.EmployeeID
	notice    *notice.Notice
	token     string
}

func TestBuilderSuite(t *testing.T) {
	suite.Run(t, new(BuilderSuite))
}

func (s *BuilderSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)
	s.setCtx()

	s.auditLog = audit.NewInMemoryStore()
	auditor := audit.NewPublisher(s.auditLog)
	s.employer = domain.NewEmployerID()
	s.employee = domain.NewEmployeeID()

	stamper := integrity.NewService(integrity.NewFallbackChain(&fakeAuthority{}))

	directory := gate.NewInMemoryDirectory()
	directory.Register(gate.EmployeeRecord{
		ID:       s.employee,
		FullName: "Bruno Ledesma",
		Email:    "bruno.ledesma@example.com",
		Phone:    "+5491155550000",
	}, taxID)
	s.sender = &fakeCodeSender{}
	otps := gate.NewInMemoryOTPStore().WithClock(func() time.Time { return s.now })
	s.gates = gate.NewService(gate.NewInMemorySessionStore(), otps, directory, s.sender, auditor)

	s.tracker = tracking.NewService(tracking.NewInMemorySessionStore(), auditor)

	convenios := convenio.NewService(convenio.NewInMemoryStore())
	_, err := convenios.Create(s.ctx, convenio.CreateInput{
		EmployerID: s.employer,
		EmployeeID: s.employee,
		Email:      "bruno.ledesma@example.com",
		Phone:      "+5491155550000",
	})
	s.Require().NoError(err)
	_, err = convenios.Sign(s.ctx, s.employee, false)
	s.Require().NoError(err)

	dispatcher := delivery.NewDispatcher(auditor, []delivery.Provider{
		&fakeChannelProvider{channel: delivery.ChannelEmail},
	})

	s.blobs = blob.NewInMemoryStore()
	s.evidences = evidence.NewService(evidence.NewInMemoryStore(), s.blobs, auditor)
	s.witnesses = witness.NewService(witness.NewInMemoryStore(), &fakeInviteSender{}, auditor, "https://custodia.example")
	s.descargos = descargo.NewService(descargo.NewInMemoryStore(), s.gates, auditor)

	s.notices = notice.NewService(notice.NewInMemoryStore(), stamper, s.gates, s.tracker,
		convenios, dispatcher, s.descargos, auditor, "https://custodia.example")

	s.builder = NewBuilder(s.notices, auditor, s.evidences, s.witnesses, s.descargos)
	s.seedCase()
}

func (s *BuilderSuite) setCtx() {
	s.ctx = requestcontext.WithClientMetadata(
		requestcontext.WithTime(context.Background(), s.now),
		"203.0.113.14",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
}

func (s *BuilderSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
	s.setCtx()
}

// seedCase walks a notice through creation, delivery, the gate, tracking,
// read confirmation, a witness statement, one evidence upload and a filed
// descargo, producing a fully populated case file.
func (s *BuilderSuite) seedCase() {
	created, err := s.notices.Create(s.ctx, notice.CreateInput{
		EmployerID:    s.employer,
		EmployeeID:    s.employee,
		Category:      notice.CategoryWarning,
		Severity:      2,
		Facts:         "Se negó a entregar el parte diario al supervisor de turno.",
		IncidentAt:    time.Date(2026, 5, 27, 0, 0, 0, 0, time.UTC),
		IncidentPlace: "Planta Norte",
	})
	s.Require().NoError(err)
	s.notice = created

	s.advance(time.Minute)
	result, err := s.notices.Deliver(s.ctx, created.ID, []string{"email"})
	s.Require().NoError(err)
	s.token = result.Session.Token

	s.advance(time.Minute)
	res, err := s.gates.SubmitIdentifier(s.ctx, s.token, taxID)
	s.Require().NoError(err)
	s.Require().Equal(gate.StepOK, res.Status)
	s.Require().NoError(s.gates.RequestCode(s.ctx, s.token))
	res, err = s.gates.VerifyCode(s.ctx, s.token, s.sender.lastCode)
	s.Require().NoError(err)
	s.Require().Equal(gate.StateGranted, res.Session.State)

	_, err = s.tracker.Start(s.ctx, s.token, created.ID, created.WordCount())
	s.Require().NoError(err)
	s.advance(time.Minute)
	_, err = s.tracker.Record(s.ctx, s.token, tracking.Heartbeat{
		ScrollPct: 100, DwellSeconds: 300, Visible: true,
	})
	s.Require().NoError(err)

	s.advance(time.Minute)
	confirm, err := s.notices.ConfirmRead(s.ctx, notice.ConfirmInput{
		NoticeID: created.ID,
		Field:    notice.ChallengeCategory,
		Answer:   "apercibimiento",
	})
	s.Require().NoError(err)
	s.Require().Equal(notice.ConfirmOK, confirm.Status)

	data := []byte("restos del parte diario")
	_, err = s.evidences.Ingest(s.ctx, evidence.IngestInput{
		NoticeID:     created.ID,
		Kind:         evidence.KindDocument,
		Filename:     "parte-diario.pdf",
		Data:         data,
		DeclaredHash: integrity.HashBytes(data),
		ContentType:  "application/pdf",
		Principal:    true,
	})
	s.Require().NoError(err)

	declaration, err := s.witnesses.Invite(s.ctx, witness.InviteInput{
		NoticeID:     created.ID,
		FullName:     "Marta Ibáñez",
		Email:        "marta.ibanez@example.com",
		Relationship: "supervisora",
	})
	s.Require().NoError(err)
	_, err = s.witnesses.Validate(s.ctx, declaration.AccessToken, true)
	s.Require().NoError(err)
	_, err = s.witnesses.Sign(s.ctx, declaration.AccessToken, "Presencié la negativa a entregar el parte.")
	s.Require().NoError(err)

	_, err = s.descargos.Exercise(s.ctx, descargo.ExerciseInput{
		NoticeID:       created.ID,
		GateToken:      s.token,
		Statement:      "El parte fue entregado al día siguiente por indicación médica.",
		SwornConfirmed: true,
	})
	s.Require().NoError(err)
}

func (s *BuilderSuite) unzip(pkg *Package) map[string][]byte {
	r, err := zip.NewReader(bytes.NewReader(pkg.Archive), int64(len(pkg.Archive)))
	s.Require().NoError(err)
	files := map[string][]byte{}
	for _, f := range r.File {
		rc, err := f.Open()
		s.Require().NoError(err)
		data, err := io.ReadAll(rc)
		s.Require().NoError(err)
		s.Require().NoError(rc.Close())
		files[f.Name] = data
	}
	return files
}

func (s *BuilderSuite) TestFullPackage() {
	pkg, err := s.builder.Build(s.ctx, s.notice.ID, Request{Scope: ScopeFull})
	s.Require().NoError(err)

	s.Equal(integrity.HashBytes(pkg.Archive), pkg.Digest)
	s.Equal(hashAlgorithm, pkg.Manifest.Integrity.Algorithm)
	s.Empty(pkg.Manifest.Omissions)

	files := s.unzip(pkg)
	for _, name := range []string{
		"cronologia.json", "cadena_de_custodia.json", "resumen.json",
		"aviso/contenido.txt", "evidencia/parte-diario.pdf",
		"testigos/declaraciones.json", "descargo.json", "manifiesto.json",
	} {
		s.Contains(files, name)
	}

	s.Run("manifest covers every artifact except itself", func() {
		s.Len(pkg.Manifest.Integrity.Artifacts, len(files)-1)
		for name, digest := range pkg.Manifest.Integrity.Artifacts {
			s.Equal(digest, integrity.HashBytes(files[name]), name)
		}
	})

	s.Run("evidence bytes survive the round trip", func() {
		s.Equal([]byte("restos del parte diario"), files["evidencia/parte-diario.pdf"])
	})

	s.Run("summary names the algorithm, the parties and the law", func() {
		var summary caseSummary
		s.Require().NoError(json.Unmarshal(files["resumen.json"], &summary))
		s.Equal("SHA-256", summary.Integrity.Algorithm)
		s.Equal(s.notice.ContentHash, summary.Integrity.Digest)
		s.Equal("read", summary.Estado)
		s.Equal(s.employer.String(), summary.Partes.EmployerID)
		s.Equal(s.employee.String(), summary.Partes.EmployeeID)
		s.Contains(summary.CitasLegales, "Ley 20.744 art. 67")
		s.NotEmpty(summary.Verificacion)
	})

	s.Run("manifest keeps the compatibility contract keys", func() {
		var raw map[string]json.RawMessage
		s.Require().NoError(json.Unmarshal(files["manifiesto.json"], &raw))
		for _, key := range []string{
			"version", "generated_at", "expediente", "parties", "integrity",
			"chain_of_custody", "witnesses", "evidence", "rebuttal", "prior_incidents",
		} {
			s.Contains(raw, key)
		}

		var m Manifest
		s.Require().NoError(json.Unmarshal(files["manifiesto.json"], &m))
		s.Equal(ManifestVersion, m.Version)
		s.False(m.GeneratedAt.IsZero())
		s.Equal(s.employer.String(), m.Parties.EmployerID)
		s.Equal(s.employee.String(), m.Parties.EmployeeID)
		s.Equal("SHA-256", m.Integrity.Algorithm)
		s.Equal(s.notice.ContentHash, m.Integrity.ContentDigest)

		s.Require().NotEmpty(m.ChainOfCustody.Events)
		for _, e := range m.ChainOfCustody.Events {
			s.False(e.Fecha.IsZero())
			s.NotEmpty(e.Tipo)
			s.NotEmpty(e.Titulo)
		}

		s.Require().Len(m.Witnesses, 1)
		s.Equal("Marta Ibáñez", m.Witnesses[0].Nombre)
		s.Require().Len(m.Evidence, 1)
		s.Equal("evidencia/parte-diario.pdf", m.Evidence[0].Archivo)
		s.True(m.Evidence[0].Principal)
		s.Require().NotNil(m.Rebuttal)
		s.NotEmpty(m.Rebuttal.HashDeclarado)
		s.Empty(m.PriorIncidents)
	})

	s.Run("timeline shows the summarized device", func() {
		var entries []TimelineEntry
		s.Require().NoError(json.Unmarshal(files["cronologia.json"], &entries))
		var device string
		for _, e := range entries {
			if e.UserAgent != "" {
				device = e.UserAgent
				break
			}
		}
		s.Require().NotEmpty(device)
		s.Contains(device, "Chrome")
		s.NotContains(device, "AppleWebKit")
	})

	s.Run("export itself lands on the timeline", func() {
		events, err := s.auditLog.ListByNotice(s.ctx, s.notice.ID)
		s.Require().NoError(err)
		last := events[len(events)-1]
		s.Equal(audit.KindExportGenerated, last.Kind)
		s.Equal(pkg.Digest, last.ContentHash)
	})
}

func (s *BuilderSuite) TestTimelineOrdering() {
	pkg, err := s.builder.Build(s.ctx, s.notice.ID, Request{Scope: ScopeTimelineOnly})
	s.Require().NoError(err)

	files := s.unzip(pkg)
	s.Len(files, 2)

	var entries []TimelineEntry
	s.Require().NoError(json.Unmarshal(files["cronologia.json"], &entries))
	s.Require().NotEmpty(entries)
	s.Equal(string(audit.KindNoticeCreated), entries[0].Tipo)
	s.Equal(string(audit.KindNoticeStamped), entries[1].Tipo)
	for i := 1; i < len(entries); i++ {
		s.False(entries[i].Fecha.Before(entries[i-1].Fecha))
	}
}

func (s *BuilderSuite) TestScopes() {
	s.Run("technical skips attachments", func() {
		pkg, err := s.builder.Build(s.ctx, s.notice.ID, Request{Scope: ScopeTechnical})
		s.Require().NoError(err)
		files := s.unzip(pkg)
		s.Contains(files, "resumen.json")
		s.NotContains(files, "evidencia/parte-diario.pdf")
		s.NotContains(files, "descargo.json")
	})

	s.Run("chain of custody skips the content", func() {
		pkg, err := s.builder.Build(s.ctx, s.notice.ID, Request{Scope: ScopeChainOfCustody})
		s.Require().NoError(err)
		files := s.unzip(pkg)
		s.Contains(files, "cadena_de_custodia.json")
		s.NotContains(files, "aviso/contenido.txt")
	})

	s.Run("unknown scope", func() {
		_, err := s.builder.Build(s.ctx, s.notice.ID, Request{Scope: Scope("everything")})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("hyphenated spellings resolve", func() {
		pkg, err := s.builder.Build(s.ctx, s.notice.ID, Request{Scope: Scope("chain-of-custody")})
		s.Require().NoError(err)
		s.Equal(ScopeChainOfCustody, pkg.Scope)

		pkg, err = s.builder.Build(s.ctx, s.notice.ID, Request{Scope: Scope("timeline-only")})
		s.Require().NoError(err)
		s.Equal(ScopeTimelineOnly, pkg.Scope)
	})
}

func (s *BuilderSuite) TestRequestMetadataReachesManifestAndAudit() {
	pkg, err := s.builder.Build(s.ctx, s.notice.ID, Request{
		Scope:        ScopeTechnical,
		RequestedFor: "SECLO expediente 4411/2026",
		Reason:       "audiencia de conciliación",
	})
	s.Require().NoError(err)

	s.Equal("SECLO expediente 4411/2026", pkg.Manifest.RequestedFor)
	s.Equal("audiencia de conciliación", pkg.Manifest.Reason)

	events, err := s.auditLog.ListByNotice(s.ctx, s.notice.ID)
	s.Require().NoError(err)
	last := events[len(events)-1]
	s.Require().Equal(audit.KindExportGenerated, last.Kind)
	s.Contains(last.Detail, "SECLO expediente 4411/2026")
	s.Contains(last.Detail, "audiencia de conciliación")
}

func (s *BuilderSuite) TestPriorIncidentsListEarlierNotices() {
	s.advance(time.Hour)
	suspensionFrom := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	suspensionTo := time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC)
	later, err := s.notices.Create(s.ctx, notice.CreateInput{
		EmployerID:     s.employer,
		EmployeeID:     s.employee,
		Category:       notice.CategorySuspension,
		Severity:       3,
		Facts:          "Reincidencia en la falta documentada en el expediente anterior.",
		IncidentAt:     time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC),
		IncidentPlace:  "Planta Norte",
		SuspensionDays: 3,
		SuspensionFrom: &suspensionFrom,
		SuspensionTo:   &suspensionTo,
	})
	s.Require().NoError(err)

	pkg, err := s.builder.Build(s.ctx, later.ID, Request{Scope: ScopeTimelineOnly})
	s.Require().NoError(err)

	s.Require().Len(pkg.Manifest.PriorIncidents, 1)
	prior := pkg.Manifest.PriorIncidents[0]
	s.Equal(s.notice.ID.String(), prior.Expediente)
	s.Equal("warning", prior.Tipo)

	first, err := s.builder.Build(s.ctx, s.notice.ID, Request{Scope: ScopeTimelineOnly})
	s.Require().NoError(err)
	s.Empty(first.Manifest.PriorIncidents)
}

func (s *BuilderSuite) TestMissingArtifactIsOmitted() {
	s.Require().NoError(s.blobs.Delete(s.ctx, s.evidenceBlobKey()))

	pkg, err := s.builder.Build(s.ctx, s.notice.ID, Request{Scope: ScopeFull})
	s.Require().NoError(err)

	s.Require().Len(pkg.Manifest.Omissions, 1)
	s.Contains(pkg.Manifest.Omissions[0], "evidencia/parte-diario.pdf")
	s.NotContains(s.unzip(pkg), "evidencia/parte-diario.pdf")
}

func (s *BuilderSuite) TestTamperedArtifactIsFatal() {
	key := s.evidenceBlobKey()
	s.Require().NoError(s.blobs.Put(s.ctx, key, blob.Object{
		Data:        []byte("contenido reemplazado"),
		ContentType: "application/pdf",
	}))

	_, err := s.builder.Build(s.ctx, s.notice.ID, Request{Scope: ScopeFull})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrityMismatch))
}

func (s *BuilderSuite) evidenceBlobKey() string {
	items, err := s.evidences.ListByNotice(s.ctx, s.notice.ID)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	return items[0].BlobKey
}

func (s *BuilderSuite) TestVerifier() {
	verifier := NewVerifier(s.auditLog)

	s.Run("known digest", func() {
		result, err := verifier.Verify(s.ctx, s.notice.ContentHash)
		s.Require().NoError(err)
		s.True(result.Found)
		s.NotEmpty(result.Matches)
	})

	s.Run("whitespace tolerant", func() {
		result, err := verifier.Verify(s.ctx, "  "+s.notice.ContentHash+"  ")
		s.Require().NoError(err)
		s.True(result.Found)
	})

	s.Run("unknown digest", func() {
		result, err := verifier.Verify(s.ctx, integrity.HashBytes([]byte("otro documento")))
		s.Require().NoError(err)
		s.False(result.Found)
		s.Empty(result.Matches)
	})

	s.Run("malformed digest", func() {
		_, err := verifier.Verify(s.ctx, "not-a-digest")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
