package blocks

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// HashCounts folds per-state occurrence counts into an order-independent
// content hash: sorted "id:count;" pairs through sha256.
func HashCounts(counts map[StateID]int) string {
	ids := make([]StateID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	h := sha256.New()
	for _, id := range ids {
		fmt.Fprintf(h, "%d:%d;", id, counts[id])
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
