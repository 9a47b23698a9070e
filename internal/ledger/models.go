package ledger

import (
	"strings"
	"time"
)

// Kind identifies the analysis artifact a job produces.
type Kind string

const (
	KindFeatures  Kind = "features"
	KindEmbedding Kind = "embedding"
)

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindFeatures:
		return KindFeatures, true
	case KindEmbedding:
		return KindEmbedding, true
	default:
		return "", false
	}
}

// Status represents the lifecycle of an analysis job.
type Status string

const (
	StatusPending Status = "pending"
	StatusClaimed Status = "claimed"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is one row of the analysis ledger: a unit of (sample, kind) work.
type Job struct {
	ID              int64
	SampleID        string
	Kind            Kind
	RequiredVersion string
	Status          Status
	Attempts        int
	ClaimOwner      string
	ClaimTime       *time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Progress aggregates job counts by status.
type Progress struct {
	Pending int
	Claimed int
	Done    int
	Failed  int
}

// Total returns the number of jobs the ledger knows about.
func (p Progress) Total() int {
	return p.Pending + p.Claimed + p.Done + p.Failed
}

// Remaining returns jobs that still need work.
func (p Progress) Remaining() int {
	return p.Pending + p.Claimed
}
