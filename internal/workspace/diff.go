package workspace

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

// Fingerprint is a BLAKE3 digest of the canonical JSON encoding of w with
// its status stripped. Two workspaces with the same fingerprint are
// structurally equal for reconciliation purposes.
func Fingerprint(w Workspace) string {
	// Workspace has no channels or funcs; Marshal cannot fail.
	data, _ := json.Marshal(w.WithoutStatus())
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Merge compares next against prev (both status-less) and returns the list
// to keep. Elements of next that are structurally equal to the element with
// the same ID in prev are replaced by the prev value, so unchanged entries
// are shared with the previous snapshot. changed is false only when next has
// the same IDs in the same order and every element is equal.
func Merge(prev, next []Workspace) (merged []Workspace, changed bool) {
	prevByID := make(map[string]int, len(prev))
	for i, w := range prev {
		prevByID[w.ID] = i
	}

	changed = len(prev) != len(next)
	merged = make([]Workspace, len(next))
	for i, w := range next {
		j, ok := prevByID[w.ID]
		if ok && Fingerprint(prev[j]) == Fingerprint(w) {
			merged[i] = prev[j]
			if j != i {
				changed = true
			}
			continue
		}
		merged[i] = w
		changed = true
	}
	if !changed {
		return prev, false
	}
	return merged, true
}
