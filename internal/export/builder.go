package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"custodia/internal/audit"
	"custodia/internal/descargo"
	"custodia/internal/evidence"
	"custodia/internal/integrity"
	"custodia/internal/notice"
	"custodia/internal/platform/metrics"
	"custodia/internal/witness"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

const hashAlgorithm = "SHA-256"

// Builder assembles evidence packages. Every read re-verifies the hash it
// was recorded under; a verification failure aborts the build, while a
// missing artifact is noted in the manifest and skipped.
type Builder struct {
	notices   *notice.Service
	auditor   *audit.Publisher
	evidences *evidence.Service
	witnesses *witness.Service
	descargos *descargo.Service
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type BuilderOption func(*Builder)

func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = logger }
}

func WithMetrics(m *metrics.Metrics) BuilderOption {
	return func(b *Builder) { b.metrics = m }
}

func NewBuilder(notices *notice.Service, auditor *audit.Publisher, evidences *evidence.Service,
	witnesses *witness.Service, descargos *descargo.Service, opts ...BuilderOption) *Builder {
	b := &Builder{
		notices:   notices,
		auditor:   auditor,
		evidences: evidences,
		witnesses: witnesses,
		descargos: descargos,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the archive for one notice at the requested scope.
func (b *Builder) Build(ctx context.Context, noticeID domain.NoticeID, req Request) (*Package, error) {
	scope, ok := ParseScope(string(req.Scope))
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown export scope %q", req.Scope)
	}

	n, err := b.notices.Get(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	events, err := b.auditor.Timeline(ctx, noticeID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load custody timeline")
	}
	orderTimeline(events)
	if err := verifyRowHashes(events); err != nil {
		return nil, err
	}
	entries := timelineEntries(events)

	// The manifest lists every category of the case file even when the
	// scope keeps the underlying documents out of the archive.
	declarations, err := b.witnesses.ListByNotice(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	items, err := b.evidences.ListByNotice(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	rebuttal, err := b.descargos.Get(ctx, noticeID)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil, err
	}
	priors, err := b.priorIncidents(ctx, n)
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{}
	var omissions []string

	timeline, err := marshalJSON(entries)
	if err != nil {
		return nil, err
	}
	files["cronologia.json"] = timeline

	if scope != ScopeTimelineOnly {
		custody, err := marshalJSON(custodyRecords(events))
		if err != nil {
			return nil, err
		}
		files["cadena_de_custodia.json"] = custody
	}

	if scope == ScopeFull || scope == ScopeTechnical {
		if !n.VerifyContent() {
			return nil, dErrors.New(dErrors.CodeIntegrityMismatch,
				"notice content no longer matches its recorded hash")
		}
		files["aviso/contenido.txt"] = []byte(n.Content())

		summary, err := marshalJSON(b.summarize(n))
		if err != nil {
			return nil, err
		}
		files["resumen.json"] = summary
	}

	if scope == ScopeFull {
		evidenceFiles, evidenceOmissions, err := b.collectEvidence(ctx, items)
		if err != nil {
			return nil, err
		}
		for name, data := range evidenceFiles {
			files[name] = data
		}
		omissions = append(omissions, evidenceOmissions...)

		if err := collectStatements(declarations, rebuttal, files); err != nil {
			return nil, err
		}
	}

	generatedAt := requestcontext.Now(ctx).UTC()
	manifest := Manifest{
		Version:     ManifestVersion,
		GeneratedAt: generatedAt,
		Expediente:  noticeID.String(),
		Scope:       scope,
		Parties: Parties{
			EmployerID: n.EmployerID.String(),
			EmployeeID: n.EmployeeID.String(),
		},
		Integrity: Integrity{
			Algorithm:     hashAlgorithm,
			ContentDigest: n.ContentHash,
			Artifacts:     make(map[string]string, len(files)),
		},
		ChainOfCustody: ChainOfCustody{Events: entries},
		Witnesses:      witnessListing(declarations),
		Evidence:       evidenceListing(items),
		Rebuttal:       rebuttalListing(rebuttal),
		PriorIncidents: priors,
		RequestedFor:   req.RequestedFor,
		Reason:         req.Reason,
		Omissions:      omissions,
	}
	for name, data := range files {
		manifest.Integrity.Artifacts[name] = integrity.HashBytes(data)
	}
	manifestJSON, err := marshalJSON(manifest)
	if err != nil {
		return nil, err
	}
	files["manifiesto.json"] = manifestJSON

	archive, err := writeArchive(files, generatedAt)
	if err != nil {
		return nil, err
	}
	pkg := &Package{
		NoticeID:    noticeID,
		Scope:       scope,
		Filename:    fmt.Sprintf("expediente-%s-%s.zip", noticeID.String(), scope),
		Archive:     archive,
		Digest:      integrity.HashBytes(archive),
		Manifest:    manifest,
		GeneratedAt: generatedAt,
	}

	detail := string(scope)
	if req.RequestedFor != "" {
		detail += "; requested for " + req.RequestedFor
	}
	if req.Reason != "" {
		detail += "; reason: " + req.Reason
	}
	if err := b.auditor.Emit(ctx, &audit.Event{
		NoticeID:    noticeID,
		Kind:        audit.KindExportGenerated,
		Title:       "Evidence package generated",
		ContentHash: pkg.Digest,
		Detail:      detail,
	}); err != nil {
		return nil, err
	}
	if b.metrics != nil {
		b.metrics.ExportsBuilt.Inc()
	}
	b.logger.InfoContext(ctx, "evidence package built",
		"notice_id", noticeID.String(), "scope", string(scope),
		"artifacts", len(files), "omissions", len(omissions))
	return pkg, nil
}

// collectEvidence fetches every attached artifact concurrently. Missing
// storage objects become omissions; a hash mismatch aborts the build.
func (b *Builder) collectEvidence(ctx context.Context, items []*evidence.Item) (map[string][]byte, []string, error) {
	var (
		mu        sync.Mutex
		files     = map[string][]byte{}
		omissions []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		g.Go(func() error {
			obj, err := b.evidences.Fetch(gctx, item)
			name := path.Join("evidencia", item.Filename)
			if dErrors.HasCode(err, dErrors.CodeNotFound) ||
				dErrors.HasCode(err, dErrors.CodeProviderUnavailable) {
				mu.Lock()
				omissions = append(omissions, fmt.Sprintf("%s: artifact unavailable", name))
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			files[name] = obj.Data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	sort.Strings(omissions)
	return files, omissions, nil
}

func collectStatements(declarations []*witness.Declaration, d *descargo.Descargo, files map[string][]byte) error {
	if len(declarations) > 0 {
		records := make([]witnessRecord, len(declarations))
		for i, d := range declarations {
			records[i] = witnessRecord{
				Nombre:              d.FullName,
				Relacion:            d.Relationship,
				Estado:              string(d.State),
				PresenteEnIncidente: d.PresentAtIncident,
				Declaracion:         d.Statement,
				HashFirma:           d.SignatureHash,
				FirmadoEl:           d.SignedAt,
			}
		}
		data, err := marshalJSON(records)
		if err != nil {
			return err
		}
		files["testigos/declaraciones.json"] = data
	}

	if d == nil {
		return nil
	}
	data, err := marshalJSON(descargoRecord{
		Estado:        string(d.State),
		VenceEl:       d.WindowEndsAt,
		PresentadoEl:  d.ExercisedAt,
		Declaracion:   d.Statement,
		HashDeclarado: d.StatementHash,
		Admision:      d.AdmissionFlag,
		Contradiccion: d.ContradictionFlag,
		Anotaciones:   d.AnnotationNotes,
	})
	if err != nil {
		return err
	}
	files["descargo.json"] = data
	return nil
}

type witnessRecord struct {
	Nombre              string     `json:"nombre"`
	Relacion            string     `json:"relacion,omitempty"`
	Estado              string     `json:"estado"`
	PresenteEnIncidente bool       `json:"presente_en_incidente"`
	Declaracion         string     `json:"declaracion,omitempty"`
	HashFirma           string     `json:"hash_firma,omitempty"`
	FirmadoEl           *time.Time `json:"firmado_el,omitempty"`
}

type descargoRecord struct {
	Estado        string     `json:"estado"`
	VenceEl       time.Time  `json:"vence_el"`
	PresentadoEl  *time.Time `json:"presentado_el,omitempty"`
	Declaracion   string     `json:"declaracion,omitempty"`
	HashDeclarado string     `json:"hash_declarado,omitempty"`
	Admision      bool       `json:"admision"`
	Contradiccion bool       `json:"contradiccion"`
	Anotaciones   string     `json:"anotaciones,omitempty"`
}

func witnessListing(declarations []*witness.Declaration) []WitnessEntry {
	listing := make([]WitnessEntry, len(declarations))
	for i, d := range declarations {
		listing[i] = WitnessEntry{
			Nombre:    d.FullName,
			Estado:    string(d.State),
			HashFirma: d.SignatureHash,
			FirmadoEl: d.SignedAt,
		}
	}
	return listing
}

func evidenceListing(items []*evidence.Item) []EvidenceEntry {
	listing := make([]EvidenceEntry, len(items))
	for i, item := range items {
		listing[i] = EvidenceEntry{
			Archivo:   path.Join("evidencia", item.Filename),
			Tipo:      string(item.Kind),
			Digest:    item.ContentHash,
			Bytes:     item.ByteSize,
			Principal: item.Principal,
		}
	}
	return listing
}

func rebuttalListing(d *descargo.Descargo) *RebuttalEntry {
	if d == nil {
		return nil
	}
	return &RebuttalEntry{
		Estado:        string(d.State),
		PresentadoEl:  d.ExercisedAt,
		HashDeclarado: d.StatementHash,
	}
}

// priorIncidents lists every earlier notice the same employer issued against
// the same employee, oldest first.
func (b *Builder) priorIncidents(ctx context.Context, n *notice.Notice) ([]PriorIncident, error) {
	siblings, err := b.notices.ListByEmployer(ctx, n.EmployerID)
	if err != nil {
		return nil, err
	}
	priors := []PriorIncident{}
	for _, sib := range siblings {
		if sib.ID == n.ID || sib.EmployeeID != n.EmployeeID || !sib.CreatedAt.Before(n.CreatedAt) {
			continue
		}
		priors = append(priors, PriorIncident{
			Expediente: sib.ID.String(),
			Tipo:       string(sib.Category),
			Estado:     string(sib.State),
			Fecha:      sib.CreatedAt,
		})
	}
	sort.Slice(priors, func(i, j int) bool { return priors[i].Fecha.Before(priors[j].Fecha) })
	return priors, nil
}

type summaryIntegrity struct {
	Algorithm   string                     `json:"algorithm"`
	Digest      string                     `json:"digest"`
	Attestation *integrity.TimeAttestation `json:"attestation,omitempty"`
	Anchor      *integrity.AnchorReceipt   `json:"anchor,omitempty"`
	Degraded    bool                       `json:"degraded"`
}

type caseSummary struct {
	Expediente     string           `json:"expediente"`
	Tipo           string           `json:"tipo"`
	Estado         string           `json:"estado"`
	Fecha          time.Time        `json:"fecha"`
	FechaIncidente time.Time        `json:"fecha_incidente"`
	Lugar          string           `json:"lugar,omitempty"`
	VenceEl        *time.Time       `json:"vence_el,omitempty"`
	LeidoEl        *time.Time       `json:"leido_el,omitempty"`
	DisputadoEl    *time.Time       `json:"disputado_el,omitempty"`
	Partes         Parties          `json:"partes"`
	CitasLegales   []string         `json:"citas_legales"`
	Verificacion   []string         `json:"verificacion"`
	Integrity      summaryIntegrity `json:"integrity"`
}

// legalCitations maps a notice category to the Ley de Contrato de Trabajo
// articles that frame it.
func legalCitations(c notice.Category) []string {
	switch c {
	case notice.CategorySuspension:
		return []string{"Ley 20.744 art. 67", "Ley 20.744 arts. 218 a 220"}
	case notice.CategoryPreDismissal:
		return []string{"Ley 20.744 art. 242", "Ley 20.744 art. 243"}
	default:
		return []string{"Ley 20.744 art. 62", "Ley 20.744 art. 63", "Ley 20.744 art. 67"}
	}
}

func verificationInstructions() []string {
	return []string{
		"Calcule el digest SHA-256 del archivo ZIP completo del paquete.",
		"Compare el resultado con el digest entregado junto al paquete.",
		"Consulte el digest en el punto de verificación pública (POST /verify) para confirmar que consta en el registro de custodia.",
	}
}

func (b *Builder) summarize(n *notice.Notice) caseSummary {
	s := caseSummary{
		Expediente:     n.ID.String(),
		Tipo:           string(n.Category),
		Estado:         string(n.State),
		Fecha:          n.CreatedAt,
		FechaIncidente: n.IncidentAt,
		Lugar:          n.IncidentPlace,
		VenceEl:        n.DueDate,
		LeidoEl:        n.ReadConfirmedAt,
		DisputadoEl:    n.DisputedAt,
		Partes: Parties{
			EmployerID: n.EmployerID.String(),
			EmployeeID: n.EmployeeID.String(),
		},
		CitasLegales: legalCitations(n.Category),
		Verificacion: verificationInstructions(),
		Integrity: summaryIntegrity{
			Algorithm: hashAlgorithm,
			Digest:    n.ContentHash,
		},
	}
	if n.Stamp != nil {
		s.Integrity.Attestation = n.Stamp.Attestation
		s.Integrity.Anchor = n.Stamp.Anchor
		s.Integrity.Degraded = n.Stamp.Degraded
	}
	return s
}

type custodyRecord struct {
	Tipo        string    `json:"tipo"`
	Fecha       time.Time `json:"fecha"`
	RowHash     string    `json:"row_hash"`
	ContentHash string    `json:"content_hash,omitempty"`
	Verificado  bool      `json:"verificado"`
}

func custodyRecords(events []*audit.Event) []custodyRecord {
	records := make([]custodyRecord, len(events))
	for i, e := range events {
		records[i] = custodyRecord{
			Tipo:        string(e.Kind),
			Fecha:       e.OccurredAt,
			RowHash:     e.RowHash,
			ContentHash: e.ContentHash,
			Verificado:  e.RowHash == e.ComputeRowHash(),
		}
	}
	return records
}

// timelineEntries renders the ordered events for the package. The raw
// user agent string stays on the stored audit row; the exported entry
// carries the human-readable browser and platform summary.
func timelineEntries(events []*audit.Event) []TimelineEntry {
	entries := make([]TimelineEntry, len(events))
	for i, e := range events {
		entries[i] = TimelineEntry{
			Fecha:       e.OccurredAt,
			Tipo:        string(e.Kind),
			Titulo:      e.Title,
			Actor:       e.Actor,
			IP:          e.IP,
			UserAgent:   audit.SummarizeUA(e.UserAgent),
			ContentHash: e.ContentHash,
			RowHash:     e.RowHash,
			Detalle:     e.Detail,
		}
	}
	return entries
}

// orderTimeline sorts by occurrence, breaking same-instant ties by the
// declared kind order so creation always precedes stamping precedes
// delivery in the exported document.
func orderTimeline(events []*audit.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].Kind.Priority() < events[j].Kind.Priority()
	})
}

func verifyRowHashes(events []*audit.Event) error {
	for _, e := range events {
		if e.RowHash != "" && e.RowHash != e.ComputeRowHash() {
			return dErrors.Newf(dErrors.CodeIntegrityMismatch,
				"custody row %s fails hash validation", e.ID)
		}
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode export artifact")
	}
	return append(data, '\n'), nil
}

// writeArchive zips the artifacts in sorted path order with a fixed
// modification time, so identical inputs produce identical archives.
func writeArchive(files map[string][]byte, modified time.Time) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		header := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified}
		f, err := w.CreateHeader(header)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "write archive entry")
		}
		if _, err := f.Write(files[name]); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "write archive entry")
		}
	}
	if err := w.Close(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "close archive")
	}
	return buf.Bytes(), nil
}
