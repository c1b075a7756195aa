// Package notify carries store engine notifications to external channels.
package notify

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind distinguishes the two notification shapes.
type Kind string

const (
	KindPreview Kind = "preview" // text only, no file
	KindFile    Kind = "file"    // a database file is ready for delivery
)

// Reasons attached to file-ready records.
const (
	ReasonLimitReached    = "Limit Reached"
	ReasonImportantSuffix = " AND Important Log"
	ReasonUserCommand     = "User Command"
	ReasonSnapshot        = "Manual Snapshot"

	// RotationMarker is appended to rotation reasons.
	RotationMarker = "🔁"
)

// Record is one notification. File records own Path until a consumer
// delivers it; when DeleteAfter is set the consumer removes the file.
type Record struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Origin      string    `json:"origin"`
	Preview     string    `json:"preview,omitempty"`
	Path        string    `json:"path,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	DeleteAfter bool      `json:"delete_after,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsFile reports whether the record points at a file.
func (r Record) IsFile() bool {
	return r.Kind == KindFile
}

// NewPreview builds a preview-only record.
func NewPreview(origin, preview string) Record {
	return Record{
		ID:        newID(),
		Kind:      KindPreview,
		Origin:    origin,
		Preview:   preview,
		CreatedAt: time.Now().UTC(),
	}
}

// NewFile builds a file-ready record.
func NewFile(origin, path, reason, preview string, deleteAfter bool) Record {
	return Record{
		ID:          newID(),
		Kind:        KindFile,
		Origin:      origin,
		Preview:     preview,
		Path:        path,
		Reason:      reason,
		DeleteAfter: deleteAfter,
		CreatedAt:   time.Now().UTC(),
	}
}

// newID generates a ULID so records sort by creation time.
func newID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
