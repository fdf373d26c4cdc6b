package playback

// entry wraps a [Clip] with scheduling metadata. seq gives FIFO order within
// a priority level.
type entry struct {
	clip Clip
	seq  uint64
	done chan error
}

// clipHeap implements container/heap.Interface as a max-heap on priority with
// FIFO tie-breaking on seq.
type clipHeap []entry

func (h clipHeap) Len() int { return len(h) }

func (h clipHeap) Less(i, j int) bool {
	if h[i].clip.Priority != h[j].clip.Priority {
		return h[i].clip.Priority > h[j].clip.Priority
	}
	return h[i].seq < h[j].seq
}

func (h clipHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *clipHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

func (h *clipHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
