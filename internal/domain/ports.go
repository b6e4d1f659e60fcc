package domain

import (
	"context"
	"io"
	"time"
)

// Blob layout: sources live under "<id>/", compiler outputs under
// "artifacts/<id>/".

// InputPrefix returns the object-store prefix holding a job's source files.
func InputPrefix(id string) string { return id + "/" }

// ArtifactPrefix returns the object-store prefix holding a job's outputs.
func ArtifactPrefix(id string) string { return "artifacts/" + id + "/" }

// Message is one queue delivery awaiting an ack.
type Message struct {
	Body          string
	ReceiptHandle string
}

// Queue consumes job messages with at-least-once semantics.
type Queue interface {
	// Receive long-polls for up to one message; nil means the poll drained
	// without a delivery.
	Receive(ctx context.Context) (*Message, error)
	// Delete acks a delivery. Best-effort: past the visibility timeout the
	// handle is stale and the message reappears.
	Delete(ctx context.Context, receiptHandle string) error
}

// ScanPage is one page of a record scan.
type ScanPage struct {
	Records []JobRecord
	// NextCursor resumes the scan; empty when exhausted.
	NextCursor string
}

// RecordStore holds job records keyed by job id. Workers coordinate solely
// through its conditional updates.
type RecordStore interface {
	// Get fetches and decodes a record; a missing id returns (nil, nil).
	Get(ctx context.Context, id string) (*JobRecord, error)
	// Delete removes a record unconditionally.
	Delete(ctx context.Context, id string) error
	// UpdateStatusConditional compares-and-sets the status attribute.
	// Returns ErrConditionalCheckFailed when the current status is not from.
	UpdateStatusConditional(ctx context.Context, id string, from, to JobStatus) error
	// PutResult commits the terminal state: status Done plus the result payload.
	PutResult(ctx context.Context, id string, res TaskResult) error
	// ScanPriorTo pages through records with CreatedAt on or before cutoff,
	// 100 at a time.
	ScanPriorTo(ctx context.Context, cutoff time.Time, cursor string) (ScanPage, error)
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// SourceFile is a downloaded object; Path is relative to the listed prefix.
type SourceFile struct {
	Path string
	Data []byte
}

// ObjectStore holds job inputs and artifacts.
type ObjectStore interface {
	// ListPrefix walks every key under dir.
	ListPrefix(ctx context.Context, dir string) ([]ObjectInfo, error)
	// ExtractFiles lists dir and downloads each object whole. A byte count
	// differing from the advertised size fails with ErrInvalidObject.
	ExtractFiles(ctx context.Context, dir string) ([]SourceFile, error)
	// Put uploads from a seekable source; retries rewind it to offset 0.
	Put(ctx context.Context, key string, body io.ReadSeeker) error
	// GetPresigned mints a time-limited download URL for key.
	GetPresigned(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete removes a single object.
	Delete(ctx context.Context, key string) error
	// DeletePrefix lists dir and removes every object under it.
	DeletePrefix(ctx context.Context, dir string) error
}
