package process

import "sync"

// ringBuffer is a fixed-capacity FIFO of LogEntry that drops its oldest
// element on overflow (the glossary's "Ring buffer"). No teacher or pack file
// implements this shape directly — see DESIGN.md for why this is built on
// bare slice+index rather than container/ring: container/ring's fixed ring of
// interface{} elements doesn't expose a cheap "give me everything since id N"
// cursor read, which getLogs(sinceId) needs, so a slice that is resliced
// from the front on overflow plus a running sequence counter is the better fit.
type ringBuffer struct {
	mu       sync.Mutex
	capacity int
	entries  []LogEntry
	nextID   uint64
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ringBuffer{capacity: capacity}
}

// push appends entry, minting its ID, and evicts the oldest entry if the
// buffer is at capacity.
func (r *ringBuffer) push(entry LogEntry) LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
	return entry
}

// snapshot returns a filtered, capped copy of the buffer's current contents.
// It never blocks writers (it only holds the mutex briefly to copy).
func (r *ringBuffer) snapshot(stream Stream, sinceID uint64, limit int) []LogEntry {
	r.mu.Lock()
	src := make([]LogEntry, len(r.entries))
	copy(src, r.entries)
	r.mu.Unlock()

	out := make([]LogEntry, 0, len(src))
	for _, e := range src {
		if e.ID <= sinceID {
			continue
		}
		if stream != "" && stream != "all" && e.Stream != stream {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (r *ringBuffer) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
