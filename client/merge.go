package client

// MergeStatus folds a status poll response into the locally tracked record
// and reports whether anything changed. It is a pure function over copies:
// the input Generation is not mutated.
//
// Rules:
//   - a terminal local state never changes again
//   - an update for an earlier lifecycle state than the local one is stale
//     and dropped
//   - otherwise status, message-bearing fields, and any URLs present in the
//     update are taken
func MergeStatus(current Generation, update StatusUpdate) (Generation, bool) {
	if update.ID != current.ID {
		return current, false
	}
	if current.IsTerminal() {
		return current, false
	}

	curRank := statusRank(current.Status)
	newRank := statusRank(update.Status)
	if newRank < 0 {
		// Unknown status from a newer server; keep what we have.
		return current, false
	}
	if newRank < curRank {
		return current, false
	}

	changed := false
	merged := current

	if update.Status != merged.Status {
		merged.Status = update.Status
		changed = true
	}
	if update.ImageURL != nil && (merged.ImageURL == nil || *merged.ImageURL != *update.ImageURL) {
		v := *update.ImageURL
		merged.ImageURL = &v
		changed = true
	}
	if update.ThumbnailURL != nil && (merged.ThumbnailURL == nil || *merged.ThumbnailURL != *update.ThumbnailURL) {
		v := *update.ThumbnailURL
		merged.ThumbnailURL = &v
		changed = true
	}
	if update.ErrorMessage != nil && (merged.ErrorMessage == nil || *merged.ErrorMessage != *update.ErrorMessage) {
		v := *update.ErrorMessage
		merged.ErrorMessage = &v
		changed = true
	}
	if update.ErrorCode != nil && (merged.ErrorCode == nil || *merged.ErrorCode != *update.ErrorCode) {
		v := *update.ErrorCode
		merged.ErrorCode = &v
		changed = true
	}

	return merged, changed
}
