package response

import (
	"container/heap"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueFull is returned when pushing to a queue at capacity.
	ErrQueueFull = errors.New("response queue is full")
	// ErrQueueEmpty is returned when popping from an empty queue.
	ErrQueueEmpty = errors.New("response queue is empty")
	// ErrQueueClosed is returned when operating on a closed queue.
	ErrQueueClosed = errors.New("response queue is closed")
)

// queueItem pairs an instance with its submission sequence number so that
// equal priorities drain in submission order.
type queueItem struct {
	inst *Instance
	seq  uint64
}

// instanceHeap orders items by priority descending, then sequence ascending.
type instanceHeap []*queueItem

func (h instanceHeap) Len() int { return len(h) }

func (h instanceHeap) Less(i, j int) bool {
	if h[i].inst.Priority != h[j].inst.Priority {
		return h[i].inst.Priority > h[j].inst.Priority
	}
	return h[i].seq < h[j].seq
}

func (h instanceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *instanceHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *instanceHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PriorityQueue is a bounded, thread-safe priority queue of response
// instances. Higher-priority instances are popped first; within a priority
// class, instances drain in submission order. When full, pushes are rejected
// so that admission failures surface at submission time instead of silently
// dropping queued work.
type PriorityQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  instanceHeap
	cap    int
	closed bool
	seq    uint64

	// Metrics counters (atomic)
	totalPushed  uint64
	totalPopped  uint64
	totalDropped uint64
}

// DefaultQueueCapacity is used when a non-positive capacity is requested.
const DefaultQueueCapacity = 1024

// NewPriorityQueue creates a priority queue with the given capacity.
func NewPriorityQueue(capacity int) *PriorityQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &PriorityQueue{
		items: make(instanceHeap, 0, capacity),
		cap:   capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds an instance to the queue.
// Returns ErrQueueFull if the queue is at capacity.
// Returns ErrQueueClosed if the queue has been closed.
func (q *PriorityQueue) Push(inst *Instance) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if len(q.items) >= q.cap {
		atomic.AddUint64(&q.totalDropped, 1)
		return ErrQueueFull
	}

	q.seq++
	heap.Push(&q.items, &queueItem{inst: inst, seq: q.seq})
	atomic.AddUint64(&q.totalPushed, 1)

	// Signal one waiting consumer
	q.cond.Signal()

	return nil
}

// Pop removes and returns the highest-priority instance without blocking.
// Returns ErrQueueEmpty if the queue is empty.
// Returns ErrQueueClosed if the queue is closed and empty.
func (q *PriorityQueue) Pop() (*Instance, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		return nil, ErrQueueEmpty
	}

	return q.popLocked(), nil
}

// PopBlocking removes and returns the highest-priority instance, blocking
// until one is available or the queue is closed. A closed queue drains its
// remaining items before reporting ErrQueueClosed.
func (q *PriorityQueue) PopBlocking() (*Instance, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.items) == 0 && q.closed {
		return nil, ErrQueueClosed
	}

	return q.popLocked(), nil
}

// popLocked removes the root item. Caller must hold q.mu.
func (q *PriorityQueue) popLocked() *Instance {
	item := heap.Pop(&q.items).(*queueItem)
	atomic.AddUint64(&q.totalPopped, 1)
	return item.inst
}

// Len returns the current number of queued instances.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *PriorityQueue) Cap() int {
	return q.cap
}

// IsFull returns true if the queue is at capacity.
func (q *PriorityQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) >= q.cap
}

// IsEmpty returns true if the queue has no items.
func (q *PriorityQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Close marks the queue as closed and wakes all blocked consumers.
// Queued instances can still be popped after closing.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// QueueMetrics holds counters for queue activity.
type QueueMetrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}

// Metrics returns a snapshot of queue counters.
func (q *PriorityQueue) Metrics() QueueMetrics {
	q.mu.Lock()
	depth := len(q.items)
	q.mu.Unlock()

	return QueueMetrics{
		Pushed:   atomic.LoadUint64(&q.totalPushed),
		Popped:   atomic.LoadUint64(&q.totalPopped),
		Dropped:  atomic.LoadUint64(&q.totalDropped),
		Depth:    depth,
		Capacity: q.cap,
	}
}
