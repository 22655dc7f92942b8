// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import "github.com/pdiddy/protocol-extractor/pkg/types"

// Status is the lifecycle state of one field in an extraction run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// ProgressEvent reports a field's status change.
type ProgressEvent struct {
	DocumentID string
	Field      types.FieldID
	Status     Status
	// Attempt is the attempt number for in-progress events.
	Attempt int
	// Err is set on failed events.
	Err error
}

// ProgressFunc receives progress events. It is called synchronously from
// the extraction goroutine and must not block for long.
type ProgressFunc func(ProgressEvent)
