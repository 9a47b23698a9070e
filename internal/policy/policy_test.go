package policy_test

import (
	"math/rand"
	"testing"

	"samplib/internal/policy"
	"samplib/internal/records"
)

func TestNeedsRequeueTable(t *testing.T) {
	required := policy.Requirement{Version: "m1", ContentHash: "h1"}

	cases := []struct {
		name   string
		record policy.RecordState
		want   bool
	}{
		{"no record", policy.RecordState{}, true},
		{"version changed", policy.RecordState{Exists: true, Version: "m0", SourceHash: "h1"}, true},
		{"content changed", policy.RecordState{Exists: true, Version: "m1", SourceHash: "h0"}, true},
		{"both changed", policy.RecordState{Exists: true, Version: "m0", SourceHash: "h0"}, true},
		{"current", policy.RecordState{Exists: true, Version: "m1", SourceHash: "h1"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.NeedsRequeue(tc.record, required); got != tc.want {
				t.Fatalf("NeedsRequeue = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNeedsRequeueRandomizedTriples(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	versions := []string{"m0", "m1", "m2"}
	hashes := []string{"h0", "h1", "h2"}

	for i := 0; i < 2000; i++ {
		record := policy.RecordState{
			Exists:     rng.Intn(2) == 1,
			Version:    versions[rng.Intn(len(versions))],
			SourceHash: hashes[rng.Intn(len(hashes))],
		}
		required := policy.Requirement{
			Version:     versions[rng.Intn(len(versions))],
			ContentHash: hashes[rng.Intn(len(hashes))],
		}
		want := !record.Exists ||
			record.Version != required.Version ||
			record.SourceHash != required.ContentHash
		if got := policy.NeedsRequeue(record, required); got != want {
			t.Fatalf("iteration %d: NeedsRequeue(%+v, %+v) = %v, want %v",
				i, record, required, got, want)
		}
	}
}

func TestDecide(t *testing.T) {
	required := policy.Requirement{Version: "m1", ContentHash: "h1"}
	current := policy.RecordState{Exists: true, Version: "m1", SourceHash: "h1"}

	if got := policy.Decide(true, current, required); got != policy.ActionDelete {
		t.Fatalf("missing sample: Decide = %v, want delete", got)
	}
	if got := policy.Decide(false, current, required); got != policy.ActionKeep {
		t.Fatalf("current record: Decide = %v, want keep", got)
	}
	stale := policy.RecordState{Exists: true, Version: "m0", SourceHash: "h1"}
	if got := policy.Decide(false, stale, required); got != policy.ActionRequeue {
		t.Fatalf("stale record: Decide = %v, want requeue", got)
	}
}

func TestVersionBumpRequeuesValidRecord(t *testing.T) {
	rec := &records.FeatureRecord{SampleID: "src_a::kick.wav", FeatVersion: 1, SourceHash: "h1"}
	state := policy.FeatureState(rec)

	v1 := policy.Requirement{Version: policy.FeatureVersion(1), ContentHash: "h1"}
	if policy.NeedsRequeue(state, v1) {
		t.Fatal("v1 record should be current under v1")
	}
	v2 := policy.Requirement{Version: policy.FeatureVersion(2), ContentHash: "h1"}
	if !policy.NeedsRequeue(state, v2) {
		t.Fatal("v1 record should requeue under v2")
	}
}

func TestProjectionsHandleNilRecords(t *testing.T) {
	for _, state := range []policy.RecordState{
		policy.FeatureState(nil),
		policy.EmbeddingState(nil),
	} {
		if state.Exists {
			t.Fatalf("nil record projected to %+v, want absent", state)
		}
	}
	emb := policy.EmbeddingState(&records.EmbeddingRecord{ModelID: "m1", SourceHash: "h1"})
	if emb.Version != "m1" || emb.SourceHash != "h1" || !emb.Exists {
		t.Fatalf("embedding projection = %+v", emb)
	}
}
