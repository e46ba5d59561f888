package term

// DefaultHistoryCapacity bounds the number of output chunks retained per
// session for replay to newly attached viewers.
const DefaultHistoryCapacity = 10000

// History is a fixed-capacity FIFO ring of raw output chunks. Once full, each
// append evicts the oldest chunk. It is not internally synchronised: the
// owning Session serialises all access under its lock.
type History struct {
	chunks [][]byte
	head   int
	size   int
}

// NewHistory creates a history ring with the given capacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{chunks: make([][]byte, capacity)}
}

// Append stores a copy of chunk, evicting the oldest entry when full.
func (h *History) Append(chunk []byte) {
	buf := append([]byte(nil), chunk...)
	if h.size < len(h.chunks) {
		h.chunks[(h.head+h.size)%len(h.chunks)] = buf
		h.size++
		return
	}
	h.chunks[h.head] = buf
	h.head = (h.head + 1) % len(h.chunks)
}

// Snapshot returns the buffered chunks, oldest first.
func (h *History) Snapshot() [][]byte {
	out := make([][]byte, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.chunks[(h.head+i)%len(h.chunks)])
	}
	return out
}

// Len returns the number of buffered chunks.
func (h *History) Len() int {
	return h.size
}

// Clear drops all buffered chunks.
func (h *History) Clear() {
	for i := range h.chunks {
		h.chunks[i] = nil
	}
	h.head = 0
	h.size = 0
}
