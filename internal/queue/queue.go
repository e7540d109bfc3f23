package queue

// Item is a scored fragment.
type Item struct {
	Fragment int
	Cost     float32
}

// worse reports whether a ranks behind b: higher cost, or equal cost and a
// higher fragment index.
func worse(a, b Item) bool {
	if a.Cost != b.Cost {
		return a.Cost > b.Cost
	}
	return a.Fragment > b.Fragment
}

// TopK keeps the k best (lowest cost) items seen so far.
// The backing heap is ordered worst-first so the weakest kept item can be
// evicted in O(log k).
type TopK struct {
	k     int
	items []Item
}

// NewTopK creates a collector for the k best items. k must be positive.
func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make([]Item, 0, k)}
}

// Len returns the number of kept items.
func (q *TopK) Len() int { return len(q.items) }

// Worst returns the weakest kept item.
func (q *TopK) Worst() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Offer adds item if it ranks among the k best and reports whether it was kept.
func (q *TopK) Offer(item Item) bool {
	if len(q.items) < q.k {
		q.items = append(q.items, item)
		q.siftUp(len(q.items) - 1)
		return true
	}
	if !worse(q.items[0], item) {
		return false
	}
	q.items[0] = item
	q.siftDown(0)
	return true
}

// Sorted drains the collector and returns its items best-first.
func (q *TopK) Sorted() []Item {
	out := make([]Item, len(q.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = q.pop()
	}
	return out
}

// Reset clears the collector for reuse.
func (q *TopK) Reset() {
	q.items = q.items[:0]
}

func (q *TopK) pop() Item {
	n := len(q.items)
	root := q.items[0]
	q.items[0] = q.items[n-1]
	q.items = q.items[:n-1]
	if len(q.items) > 0 {
		q.siftDown(0)
	}
	return root
}

func (q *TopK) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !worse(q.items[i], q.items[p]) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *TopK) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		r := l + 1
		if r < n && worse(q.items[r], q.items[l]) {
			best = r
		}
		if !worse(q.items[best], q.items[i]) {
			return
		}
		q.items[i], q.items[best] = q.items[best], q.items[i]
		i = best
	}
}
