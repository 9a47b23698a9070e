// Package catalog tracks source roots and their sample files. The scanner is
// the pipeline's change detector: it walks each root, fingerprints files, and
// diffs the listing against the persisted catalog to produce added, changed,
// and removed sample sets. Absent files are marked missing rather than
// deleted so history survives until an explicit prune.
package catalog
