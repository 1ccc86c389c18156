package tracker

import "time"

// issuanceEntry is one heap element: the deadline after which the work
// item may be reissued. Entries are never updated in place; completion
// and reissue leave stale entries behind, which are filtered on pop by
// comparing against the issued map (lazy deletion).
type issuanceEntry struct {
	expiresAt time.Time
	workID    uint64
}

// issuanceHeap is a min-heap of issuance deadlines ordered by
// (expiresAt, workID). It implements [container/heap.Interface].
type issuanceHeap []issuanceEntry

func (h issuanceHeap) Len() int { return len(h) }

func (h issuanceHeap) Less(i, j int) bool {
	if h[i].expiresAt.Equal(h[j].expiresAt) {
		return h[i].workID < h[j].workID
	}

	return h[i].expiresAt.Before(h[j].expiresAt)
}

func (h issuanceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push implements heap.Interface.
func (h *issuanceHeap) Push(x any) {
	entry, ok := x.(issuanceEntry)
	if !ok {
		return
	}

	*h = append(*h, entry)
}

// Pop implements heap.Interface.
func (h *issuanceHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]

	return entry
}
