package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dexbotio/dexbot/internal/domain"
)

// multipartThreshold is the serialized size above which the archiver
// switches to multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// ClosedPositionSource is the narrow store view the archiver works
// against: listing aged closed positions and evicting them once archived.
type ClosedPositionSource interface {
	// ListClosedBefore returns positions closed strictly before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)

	// RemoveClosedBefore deletes positions closed strictly before the
	// cutoff and returns the number removed.
	RemoveClosedBefore(ctx context.Context, before time.Time) (int, error)
}

// ObjectWriter is the blob upload surface the archiver writes through.
// *Writer satisfies it.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves aged closed positions to cold storage. Records are
// serialized as JSONL and uploaded to archive/positions/YYYY-MM.jsonl,
// partitioned by the cutoff month, then evicted from the primary store so
// the hot book and its snapshots stay bounded. Eviction happens only after
// the upload succeeds.
type Archiver struct {
	writer    ObjectWriter
	positions ClosedPositionSource
	audit     domain.AuditStore
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer ObjectWriter, positions ClosedPositionSource, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		audit:     audit,
	}
}

// ArchivePositions uploads all positions closed before the cutoff, removes
// them from the primary store, and returns the archived count. An empty
// result set uploads nothing. A failed upload leaves the store untouched.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	closed, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(closed) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(closed)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	count := int64(len(closed))
	removed, err := a.positions.RemoveClosedBefore(ctx, before)
	if err != nil {
		// The archive object exists; the records in the store just became
		// redundant rather than lost.
		return count, fmt.Errorf("s3blob: archive positions remove: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.positions", map[string]any{
			"path":    path,
			"count":   count,
			"removed": removed,
			"before":  before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive positions audit log: %w", err)
		}
	}
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
