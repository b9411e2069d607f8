package stream

// ringStore is a fixed ring of slabs. The slab at head is read from offset;
// the slab at head+used-1 is the tail being filled. Only the tail may be
// partially filled.
type ringStore struct {
	slabs    [][]complex64
	fill     []int
	slabLen  int
	head     int
	used     int
	offset   int
	count    int
	overflow Overflow
}

func newRingStore(n, slabLen int, overflow Overflow) *ringStore {
	backing := make([]complex64, n*slabLen)
	slabs := make([][]complex64, n)
	for i := range slabs {
		slabs[i] = backing[i*slabLen : (i+1)*slabLen : (i+1)*slabLen]
	}
	return &ringStore{
		slabs:    slabs,
		fill:     make([]int, n),
		slabLen:  slabLen,
		overflow: overflow,
	}
}

func (r *ringStore) tail() int { return (r.head + r.used - 1) % len(r.slabs) }

func (r *ringStore) push(src []complex64) (accepted, dropped int, overruns uint64) {
	for len(src) > 0 {
		if r.used == 0 || r.fill[r.tail()] == r.slabLen {
			if r.used == len(r.slabs) {
				if r.overflow == DropIncoming {
					return accepted, dropped + len(src), overruns + 1
				}
				// Evict the oldest slab, including any part the consumer
				// has not read yet.
				lost := r.fill[r.head] - r.offset
				r.count -= lost
				dropped += lost
				r.fill[r.head] = 0
				r.head = (r.head + 1) % len(r.slabs)
				r.used--
				r.offset = 0
				overruns++
			}
			r.used++
			r.fill[r.tail()] = 0
		}
		t := r.tail()
		n := copy(r.slabs[t][r.fill[t]:], src)
		r.fill[t] += n
		r.count += n
		accepted += n
		src = src[n:]
	}
	return accepted, dropped, overruns
}

func (r *ringStore) pop(dst []complex64) int {
	copied := 0
	for copied < len(dst) && r.count > 0 {
		h := r.head
		n := copy(dst[copied:], r.slabs[h][r.offset:r.fill[h]])
		copied += n
		r.offset += n
		r.count -= n
		if r.offset < r.fill[h] {
			continue
		}
		// Fully read slab goes back to the ring. A partial slab is the
		// tail, so the ring is empty and the producer starts over in it.
		full := r.fill[h] == r.slabLen
		r.fill[h] = 0
		r.offset = 0
		r.used--
		if !full {
			break
		}
		r.head = (r.head + 1) % len(r.slabs)
	}
	return copied
}

func (r *ringStore) len() int { return r.count }
func (r *ringStore) cap() int { return len(r.slabs) * r.slabLen }

func (r *ringStore) reset() {
	for i := range r.fill {
		r.fill[i] = 0
	}
	r.head, r.used, r.offset, r.count = 0, 0, 0, 0
}

// slabs reports the number of slabs holding data, for tests.
func (r *ringStore) slabsInUse() int { return r.used }

// fifoStore is a circular sample buffer.
type fifoStore struct {
	buf      []complex64
	head     int
	count    int
	overflow Overflow
}

func newFIFOStore(capacity int, overflow Overflow) *fifoStore {
	return &fifoStore{buf: make([]complex64, capacity), overflow: overflow}
}

func (f *fifoStore) push(src []complex64) (accepted, dropped int, overruns uint64) {
	free := len(f.buf) - f.count
	if len(src) > free {
		overruns = 1
		if f.overflow == DropIncoming {
			dropped = len(src) - free
			src = src[:free]
		} else {
			if len(src) > len(f.buf) {
				dropped += len(src) - len(f.buf)
				src = src[len(src)-len(f.buf):]
			}
			if evict := len(src) - (len(f.buf) - f.count); evict > 0 {
				f.head = (f.head + evict) % len(f.buf)
				f.count -= evict
				dropped += evict
			}
		}
	}
	tail := (f.head + f.count) % len(f.buf)
	n := copy(f.buf[tail:], src)
	if n < len(src) {
		n += copy(f.buf, src[n:])
	}
	f.count += n
	return n, dropped, overruns
}

func (f *fifoStore) pop(dst []complex64) int {
	want := len(dst)
	if want > f.count {
		want = f.count
	}
	end := f.head + want
	var n int
	if end <= len(f.buf) {
		n = copy(dst, f.buf[f.head:end])
	} else {
		n = copy(dst, f.buf[f.head:])
		n += copy(dst[n:want], f.buf[:end-len(f.buf)])
	}
	f.head = (f.head + n) % len(f.buf)
	f.count -= n
	return n
}

func (f *fifoStore) len() int { return f.count }
func (f *fifoStore) cap() int { return len(f.buf) }
func (f *fifoStore) reset()   { f.head, f.count = 0, 0 }
