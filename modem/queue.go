package modem

import "sync"

// queueItem is a raw line read by the feeder, or the wake sentinel pushed on
// stop.
type queueItem struct {
	line string
	wake bool
}

// lineQueue is an unbounded FIFO of raw lines shared by the feeder and the
// dispatcher. Push never blocks; Pop blocks while the queue is empty.
type lineQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []queueItem
}

func newLineQueue(prealloc int) *lineQueue {
	q := &lineQueue{items: make([]queueItem, 0, prealloc)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds a line to the tail of the queue.
func (q *lineQueue) Push(line string) {
	q.enqueue(queueItem{line: line})
}

// Wake adds the wake sentinel, unblocking a pending Pop once every line
// pushed before it has been popped.
func (q *lineQueue) Wake() {
	q.enqueue(queueItem{wake: true})
}

func (q *lineQueue) enqueue(item queueItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop removes and returns the item at the head of the queue.
func (q *lineQueue) Pop() queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	item := q.items[0]
	q.items[0] = queueItem{}
	q.items = q.items[1:]
	return item
}

// Length returns the number of queued items.
func (q *lineQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
