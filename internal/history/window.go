package history

// Window is a bounded ring buffer of records with a hash index. Every push
// and eviction updates both, so Contains agrees with the buffer contents.
// Window is not safe for concurrent use; Store serializes access.
type Window struct {
	buf   []Record
	head  int // index of the oldest record
	size  int
	index map[string]int
}

// NewWindow creates an empty window holding at most capacity records.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		buf:   make([]Record, capacity),
		index: make(map[string]int),
	}
}

// Len returns the number of records held.
func (w *Window) Len() int { return w.size }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Push appends r, evicting and returning the oldest record when full.
func (w *Window) Push(r Record) (evicted Record, ok bool) {
	if w.size == len(w.buf) {
		evicted = w.buf[w.head]
		w.unindex(evicted.ContentHash)
		w.buf[w.head] = r
		w.head = (w.head + 1) % len(w.buf)
		w.index[r.ContentHash]++
		return evicted, true
	}

	w.buf[(w.head+w.size)%len(w.buf)] = r
	w.size++
	w.index[r.ContentHash]++
	return Record{}, false
}

func (w *Window) unindex(hash string) {
	if n := w.index[hash]; n > 1 {
		w.index[hash] = n - 1
	} else {
		delete(w.index, hash)
	}
}

// Contains reports whether a record with the given content hash is held.
func (w *Window) Contains(hash string) bool {
	return w.index[hash] > 0
}

// at returns the i-th record, oldest first.
func (w *Window) at(i int) Record {
	return w.buf[(w.head+i)%len(w.buf)]
}

// Last returns up to n of the newest records, newest first.
func (w *Window) Last(n int) []Record {
	if n > w.size || n < 0 {
		n = w.size
	}
	out := make([]Record, 0, n)
	for i := w.size - 1; i >= w.size-n; i-- {
		out = append(out, w.at(i))
	}
	return out
}

// All returns every record, oldest first.
func (w *Window) All() []Record {
	out := make([]Record, w.size)
	for i := range out {
		out[i] = w.at(i)
	}
	return out
}

// Reset replaces the contents with records (oldest first), keeping only the
// newest Cap() of them.
func (w *Window) Reset(records []Record) {
	clear(w.buf)
	w.head, w.size = 0, 0
	w.index = make(map[string]int, len(records))
	if len(records) > len(w.buf) {
		records = records[len(records)-len(w.buf):]
	}
	for _, r := range records {
		w.Push(r)
	}
}
