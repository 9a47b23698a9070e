// Package policy holds the single decision rule for re-analysis. Every code
// path that enqueues, skips, or drops analysis work consults this package
// rather than re-deriving the rule locally.
package policy

import (
	"strconv"

	"samplib/internal/records"
)

// RecordState is the stored side of the decision: what, if anything, the
// record store currently holds for one sample and job kind.
type RecordState struct {
	Exists     bool
	Version    string
	SourceHash string
}

// Requirement is the current side of the decision: the configured extractor
// or model version and the sample's content hash as of the latest scan.
type Requirement struct {
	Version     string
	ContentHash string
}

// Action is the outcome of a policy decision.
type Action int

const (
	// ActionKeep leaves the stored record as is.
	ActionKeep Action = iota
	// ActionRequeue schedules the sample for re-analysis.
	ActionRequeue
	// ActionDelete tombstones the stored record and any queued work.
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionKeep:
		return "keep"
	case ActionRequeue:
		return "requeue"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// NeedsRequeue reports whether a sample must be re-analyzed: no record
// exists, the record was computed by a different version, or the sample's
// content changed since the record was computed.
func NeedsRequeue(record RecordState, required Requirement) bool {
	if !record.Exists {
		return true
	}
	if record.Version != required.Version {
		return true
	}
	return record.SourceHash != required.ContentHash
}

// Decide resolves the full keep/requeue/delete decision. A missing sample
// always deletes regardless of record state.
func Decide(sampleMissing bool, record RecordState, required Requirement) Action {
	if sampleMissing {
		return ActionDelete
	}
	if NeedsRequeue(record, required) {
		return ActionRequeue
	}
	return ActionKeep
}

// FeatureVersion renders a numeric feature extractor version in the form
// stored on job rows and compared by NeedsRequeue.
func FeatureVersion(version int) string {
	return "feat_v" + strconv.Itoa(version)
}

// FeatureState projects a stored feature record into the policy's view.
func FeatureState(rec *records.FeatureRecord) RecordState {
	if rec == nil {
		return RecordState{}
	}
	return RecordState{
		Exists:     true,
		Version:    FeatureVersion(rec.FeatVersion),
		SourceHash: rec.SourceHash,
	}
}

// EmbeddingState projects a stored embedding record into the policy's view.
// The model id is the embedding's version for invalidation purposes.
func EmbeddingState(rec *records.EmbeddingRecord) RecordState {
	if rec == nil {
		return RecordState{}
	}
	return RecordState{
		Exists:     true,
		Version:    rec.ModelID,
		SourceHash: rec.SourceHash,
	}
}
