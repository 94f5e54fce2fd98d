// Package registry resolves client-supplied object identifiers and access
// codes into readable object handles and metadata.
//
// The engine only depends on the Registry interface; the backing
// implementation is free to scan recent records for a matching label or to
// keep a proper secondary index.
package registry

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"time"

	"github.com/filegate/filegate/internal/source"
)

// Resolution errors.
var (
	// ErrNotFound means no record matches the object identifier.
	ErrNotFound = errors.New("registry: object not found")

	// ErrForbidden means the record exists but its stored label does not
	// match the supplied access code.
	ErrForbidden = errors.New("registry: access code mismatch")

	// ErrUnavailable means the backing store itself could not be reached.
	ErrUnavailable = errors.New("registry: backend unavailable")

	// ErrBadRecord means the record is not a streamable object.
	ErrBadRecord = errors.New("registry: record is not a streamable object")
)

// Object is a resolved object record.
type Object struct {
	ID     int64
	Label  string // access code stored on the record
	Kind   string // media kind, used to synthesize a name when none is declared
	Name   string
	MIME   string
	Size   int64
	Handle source.Handle
}

// Registry maps (objectID, code) to object metadata and a chunk source
// handle. Implementations return ErrForbidden without exposing metadata when
// the code does not match the stored label.
type Registry interface {
	Resolve(ctx context.Context, objectID int64, code string) (*Object, error)
}

// MakeLabel derives the access code stored on an object record. Link-issuing
// collaborators use the same derivation, so verification is a plain string
// compare against the record.
func MakeLabel(sourceObjectID, issuerID int64) string {
	return fmt.Sprintf("%d-%d", sourceObjectID, issuerID)
}

var kindExtensions = map[string]string{
	"video":      "mp4",
	"audio":      "mp3",
	"voice":      "ogg",
	"photo":      "jpg",
	"video_note": "mp4",
}

// finalize fills missing name and MIME type on a resolved object. Records
// without a declared name get one synthesized from their media kind and the
// current time; records of unknown kind are rejected.
func finalize(o *Object, now time.Time) error {
	if o.Name == "" {
		ext, ok := kindExtensions[o.Kind]
		if !ok {
			return fmt.Errorf("%w: unknown media kind %q", ErrBadRecord, o.Kind)
		}
		o.Name = fmt.Sprintf("%s-%s.%s", o.Kind, now.Format("2006-01-02_15-04-05"), ext)
	}
	if o.MIME == "" {
		if t := mime.TypeByExtension(path.Ext(o.Name)); t != "" {
			o.MIME = t
		} else {
			o.MIME = "application/octet-stream"
		}
	}
	return nil
}
