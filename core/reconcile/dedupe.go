package reconcile

// Dedupe collapses a batch to one authoritative record per key: the record
// with the highest commit sequence wins, and ties (legitimate under
// low-resolution clocks) fall back to the batch-local sequence so the winner
// is deterministic under replay.
//
// Dedupe is a pure function of the batch contents; the physical arrival
// order of records never changes the result. An insert followed by a delete
// at a higher sequence resolves to the delete, so the insert is discarded
// before it ever reaches the target.
func Dedupe(strategy Strategy, batch *ChangeBatch) map[Key]ChangeRecord {
	winners := make(map[Key]ChangeRecord, len(batch.Records))
	for _, rec := range batch.Records {
		current, seen := winners[rec.Key]
		if !seen || wins(strategy, rec, current) {
			winners[rec.Key] = rec
		}
	}
	return winners
}

// wins reports whether challenger beats incumbent.
func wins(strategy Strategy, challenger, incumbent ChangeRecord) bool {
	switch strategy.Compare(challenger.CommitSeq, incumbent.CommitSeq) {
	case 1:
		return true
	case -1:
		return false
	default:
		return challenger.BatchLocalSeq > incumbent.BatchLocalSeq
	}
}
