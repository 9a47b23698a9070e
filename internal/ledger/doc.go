// Package ledger persists analysis jobs and implements the exclusive
// claim-and-release protocol workers synchronize through. Claims are
// time-bounded leases: a crashed worker's jobs become claimable again once
// the lease expires, and repeated failures park a job for operator review.
package ledger
