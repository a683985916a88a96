package queue

import "container/heap"

// entryHeap orders Entry pointers by the strict weak ordering required by
// SPEC_FULL.md §3.2: (priority desc, admissionTime asc). It implements
// container/heap.Interface, the standard-library priority queue — no pack
// library specializes in this (see DESIGN.md).
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].AdmissionTime.Before(h[j].AdmissionTime)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*Entry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*entryHeap)(nil)
