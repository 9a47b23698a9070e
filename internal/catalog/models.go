package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint identifies a file's content cheaply. Size and mtime gate the
// expensive hash; the hash is authoritative for change detection.
type Fingerprint struct {
	Size        int64
	MtimeNs     int64
	ContentHash string
}

// Equal reports whether two fingerprints describe identical content state.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Size == other.Size && f.MtimeNs == other.MtimeNs && f.ContentHash == other.ContentHash
}

// Source is a registered sample library root.
type Source struct {
	ID        string
	Root      string
	CreatedAt time.Time
}

// Sample is one catalogued audio file within a source.
type Sample struct {
	SampleID     string
	SourceID     string
	RelativePath string
	Fingerprint  Fingerprint
	Missing      bool
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
}

// ScanMode selects the rescan strategy.
type ScanMode int

const (
	// ScanQuick updates changed rows and marks absent files missing.
	ScanQuick ScanMode = iota
	// ScanHard prunes rows for absent files instead of marking them missing.
	ScanHard
)

// ScanStats summarizes one scan run.
type ScanStats struct {
	Added      []string
	Changed    []string
	Removed    []string
	TotalFiles int
	Skipped    int
}

// DeriveSourceID produces a stable source identifier from the root path.
func DeriveSourceID(root string) string {
	normalized := norm.NFC.String(filepath.Clean(root))
	sum := sha256.Sum256([]byte(normalized))
	return "src_" + hex.EncodeToString(sum[:6])
}

// SampleID derives the stable sample identity used across the catalog,
// ledger, record stores, and ANN index. Relative paths are NFC-normalized
// so differently composed spellings of the same name hash identically.
// A rename changes the id and therefore triggers full re-analysis.
func SampleID(sourceID, relativePath string) string {
	normalized := norm.NFC.String(filepath.ToSlash(relativePath))
	return sourceID + "::" + normalized
}

// SplitSampleID returns the source id and relative path encoded in a sample id.
func SplitSampleID(sampleID string) (sourceID, relativePath string, ok bool) {
	sourceID, relativePath, ok = strings.Cut(sampleID, "::")
	if sourceID == "" || relativePath == "" {
		return "", "", false
	}
	return sourceID, relativePath, ok
}
