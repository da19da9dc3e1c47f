// Package evidence ingests the multimedia proof attached to a notice. The
// uploader hashes content before upload; ingestion recomputes and compares,
// and a mismatch is always fatal. At most one item per notice may be marked
// as the principal piece of evidence.
package evidence

import (
	"encoding/json"
	"time"

	"custodia/pkg/domain"
)

type Kind string

const (
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindPhoto, KindVideo, KindAudio, KindDocument:
		return Kind(s), true
	default:
		return "", false
	}
}

// MetadataKind discriminates the embedded capture metadata variants.
type MetadataKind string

const (
	MetadataNone     MetadataKind = ""
	MetadataPhoto    MetadataKind = "photo"
	MetadataVideo    MetadataKind = "video"
	MetadataDocument MetadataKind = "document"
	MetadataUnknown  MetadataKind = "unknown"
)

// PhotoMeta is EXIF-derived capture data.
type PhotoMeta struct {
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Device     string     `json:"device,omitempty"`
}

// VideoMeta is container-derived capture data.
type VideoMeta struct {
	CapturedAt      *time.Time `json:"captured_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	Device          string     `json:"device,omitempty"`
}

// DocumentMeta is document-property capture data.
type DocumentMeta struct {
	Author    string     `json:"author,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Producer  string     `json:"producer,omitempty"`
}

// Metadata is a tagged union over the capture metadata variants. Payloads
// the extractor does not recognize keep their raw bytes under the explicit
// unknown case instead of being folded into a free-form map.
type Metadata struct {
	Kind     MetadataKind    `json:"kind"`
	Photo    *PhotoMeta      `json:"photo,omitempty"`
	Video    *VideoMeta      `json:"video,omitempty"`
	Document *DocumentMeta   `json:"document,omitempty"`
	Unknown  json.RawMessage `json:"unknown,omitempty"`
}

// Item is one ingested evidence artifact.
type Item struct {
	ID          domain.EvidenceID
	NoticeID    domain.NoticeID
	Kind        Kind
	Filename    string
	ByteSize    int64
	ContentHash string
	Metadata    Metadata
	Principal   bool
	BlobKey     string
	CreatedAt   time.Time
}
