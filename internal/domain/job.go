// Package domain defines job entities, terminal results, and the ports
// implemented by the queue, record store, and object store adapters.
package domain

import (
	"time"
)

// JobStatus is the lifecycle state of a job record.
// The store encodes it as a small integer, so values are fixed.
type JobStatus int

const (
	// StatusPending is set by the front door at enqueue time.
	StatusPending JobStatus = 0
	// StatusInProgress is set by the single worker that wins the claim.
	StatusInProgress JobStatus = 1
	// StatusDone is terminal; the record carries a TaskResult.
	StatusDone JobStatus = 2
)

// String renders the status for logs.
func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "InProgress"
	case StatusDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is one of the three lifecycle states.
func (s JobStatus) Valid() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusDone
}

// JobRecord is one item in the record store.
// Result is nil unless Status is Done.
type JobRecord struct {
	ID        string
	Status    JobStatus
	CreatedAt time.Time
	Result    *TaskResult
}

// ArtifactKind classifies a compiler output by filename suffix.
type ArtifactKind string

const (
	ArtifactUnknown  ArtifactKind = "Unknown"
	ArtifactContract ArtifactKind = "Contract"
	ArtifactDbg      ArtifactKind = "Dbg"
)

// ClassifyArtifact maps a relative artifact path to its kind:
// *.dbg.json is Dbg, any other *.json is Contract, the rest is Unknown.
func ClassifyArtifact(path string) ArtifactKind {
	const dbgSuffix = ".dbg.json"
	const jsonSuffix = ".json"
	switch {
	case hasSuffix(path, dbgSuffix):
		return ArtifactDbg
	case hasSuffix(path, jsonSuffix):
		return ArtifactContract
	default:
		return ArtifactUnknown
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// ArtifactInfo describes one uploaded compiler output.
// URL is a presigned download link minted just before the terminal commit.
type ArtifactInfo struct {
	Kind ArtifactKind
	Path string
	URL  string
}

// TaskResult is the terminal outcome committed on a Done record.
// Exactly one of Success or Failure is set.
type TaskResult struct {
	Success *SuccessData
	Failure *FailureData
}

// SuccessData carries the job-type-specific success payload.
// Compile is set (possibly to the no-artifact sentinel) for compile jobs;
// Verify is set for verify jobs.
type SuccessData struct {
	Compile []ArtifactInfo
	Verify  *string
}

// FailureData is the terminal failure payload exposed to polling clients.
type FailureData struct {
	Type    ErrorType
	Message string
}

// CompileSuccess builds a Success result for a compile job. The record
// store rejects empty sets, so an empty artifact list is replaced by a
// single all-empty entry the front door treats as "no artifacts".
func CompileSuccess(artifacts []ArtifactInfo) TaskResult {
	if len(artifacts) == 0 {
		artifacts = []ArtifactInfo{{}}
	}
	return TaskResult{Success: &SuccessData{Compile: artifacts}}
}

// VerifySuccess builds a Success result carrying the verifier's stdout.
func VerifySuccess(output string) TaskResult {
	return TaskResult{Success: &SuccessData{Verify: &output}}
}

// Failure builds a Failure result from any error, collapsing unclassified
// errors into InternalError.
func Failure(err error) TaskResult {
	return TaskResult{Failure: &FailureData{
		Type:    ErrorTypeOf(err),
		Message: err.Error(),
	}}
}

// IsSuccess reports whether the result carries a success payload.
func (r TaskResult) IsSuccess() bool { return r.Success != nil }
