// Package export assembles the chain-of-custody evidence package for a
// notice: the canonical content, the ordered event timeline, attached
// evidence, witness statements and the employee's rebuttal, all sealed
// under a flat digest manifest and one whole-archive digest. Building a
// package reads everything and mutates nothing.
package export

import (
	"strings"
	"time"

	"custodia/internal/audit"
	"custodia/pkg/domain"
)

// Scope selects how much of the case file goes into the archive.
type Scope string

const (
	ScopeFull           Scope = "full"
	ScopeTechnical      Scope = "technical"
	ScopeChainOfCustody Scope = "chain_of_custody"
	ScopeTimelineOnly   Scope = "timeline_only"
)

// ParseScope accepts both the canonical underscore spellings and the
// hyphenated forms legal counsel tends to type (chain-of-custody,
// timeline-only).
func ParseScope(s string) (Scope, bool) {
	switch scope := Scope(strings.ReplaceAll(s, "-", "_")); scope {
	case ScopeFull, ScopeTechnical, ScopeChainOfCustody, ScopeTimelineOnly:
		return scope, true
	default:
		return "", false
	}
}

// Request describes one export order. RequestedFor and Reason travel into
// the manifest and the audit trail but never change what goes into the
// archive.
type Request struct {
	Scope        Scope
	RequestedFor string
	Reason       string
}

// TimelineEntry is one custody event as serialized into the package. Field
// names follow the legal reviewers' vocabulary.
type TimelineEntry struct {
	Fecha       time.Time `json:"fecha"`
	Tipo        string    `json:"tipo"`
	Titulo      string    `json:"titulo"`
	Actor       string    `json:"actor,omitempty"`
	IP          string    `json:"ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	RowHash     string    `json:"row_hash,omitempty"`
	Detalle     string    `json:"detalle,omitempty"`
}

// ManifestVersion is bumped whenever a field of the manifest schema moves
// or changes meaning. Additions do not bump it.
const ManifestVersion = "1"

// Parties identifies the two sides of the case.
type Parties struct {
	EmployerID string `json:"employer_id"`
	EmployeeID string `json:"employee_id"`
}

// Integrity names the digest algorithm, carries the canonical content
// digest and indexes every artifact in the archive by its own digest.
type Integrity struct {
	Algorithm     string            `json:"algorithm"`
	ContentDigest string            `json:"content_digest"`
	Artifacts     map[string]string `json:"artifacts"`
}

// ChainOfCustody nests the ordered event log inside the manifest.
type ChainOfCustody struct {
	Events []TimelineEntry `json:"events"`
}

// WitnessEntry lists one declaration without reproducing its text.
type WitnessEntry struct {
	Nombre    string     `json:"nombre"`
	Estado    string     `json:"estado"`
	HashFirma string     `json:"hash_firma,omitempty"`
	FirmadoEl *time.Time `json:"firmado_el,omitempty"`
}

// EvidenceEntry lists one attached artifact by its archive path and digest.
type EvidenceEntry struct {
	Archivo   string `json:"archivo"`
	Tipo      string `json:"tipo"`
	Digest    string `json:"digest"`
	Bytes     int64  `json:"bytes"`
	Principal bool   `json:"principal"`
}

// RebuttalEntry lists the employee's descargo, if one was opened.
type RebuttalEntry struct {
	Estado        string     `json:"estado"`
	PresentadoEl  *time.Time `json:"presentado_el,omitempty"`
	HashDeclarado string     `json:"hash_declarado,omitempty"`
}

// PriorIncident is one earlier notice against the same employee, listed so
// a reviewer can see the disciplinary history behind the current case.
type PriorIncident struct {
	Expediente string    `json:"expediente"`
	Tipo       string    `json:"tipo"`
	Estado     string    `json:"estado"`
	Fecha      time.Time `json:"fecha"`
}

// Manifest is the metadata document sealed into every archive. Its key set
// is a compatibility contract with the legal tooling that consumes these
// packages: fields may be added, but existing names must not move or be
// renamed.
type Manifest struct {
	Version        string          `json:"version"`
	GeneratedAt    time.Time       `json:"generated_at"`
	Expediente     string          `json:"expediente"`
	Scope          Scope           `json:"scope"`
	Parties        Parties         `json:"parties"`
	Integrity      Integrity       `json:"integrity"`
	ChainOfCustody ChainOfCustody  `json:"chain_of_custody"`
	Witnesses      []WitnessEntry  `json:"witnesses"`
	Evidence       []EvidenceEntry `json:"evidence"`
	Rebuttal       *RebuttalEntry  `json:"rebuttal,omitempty"`
	PriorIncidents []PriorIncident `json:"prior_incidents"`
	RequestedFor   string          `json:"requested_for,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Omissions      []string        `json:"omissions,omitempty"`
}

// Package is one built archive plus its seal.
type Package struct {
	NoticeID    domain.NoticeID
	Scope       Scope
	Filename    string
	Archive     []byte
	Digest      string
	Manifest    Manifest
	GeneratedAt time.Time
}

// VerificationResult answers an anonymous digest lookup. It deliberately
// carries no notice content, only where the digest has been seen.
type VerificationResult struct {
	Digest  string              `json:"digest"`
	Found   bool                `json:"found"`
	Matches []audit.DigestMatch `json:"matches,omitempty"`
}
