package orchestrator

import (
	"container/heap"
	"context"
	"sync"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// Job is one unit of work submitted to the orchestrator: an episode to
// drive through the pipeline, at a given priority class.
type Job struct {
	Episode  episode.Episode
	Podcast  episode.Podcast
	Priority episode.Priority

	seq int // submission order, for FIFO tie-break within a priority
}

type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority // higher priority first
	}
	return h[i].seq < h[j].seq // FIFO within the same priority
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// JobQueue is a bounded, priority-ordered blocking queue: higher
// priority classes are serviced first, FIFO within a class.
type JobQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	heap     jobHeap
	capacity int
	nextSeq  int
	closed   bool
	draining bool
}

// NewJobQueue returns a queue bounded to capacity items.
func NewJobQueue(capacity int) *JobQueue {
	q := &JobQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push enqueues job, blocking while the queue is full. Returns false if
// the queue was closed before the job could be enqueued.
func (q *JobQueue) Push(ctx context.Context, job Job) bool {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notFull.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.capacity > 0 && len(q.heap) >= q.capacity {
		if ctx.Err() != nil {
			return false
		}
		q.notFull.Wait()
	}
	if q.closed {
		return false
	}
	job.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.heap, &job)
	q.notEmpty.Signal()
	return true
}

// Pop blocks until a job is available, the context is canceled, or the
// queue is closed and drained. ok is false only in the latter two cases.
func (q *JobQueue) Pop(ctx context.Context) (job Job, ok bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 {
		if q.closed || q.draining {
			return Job{}, false
		}
		if ctx.Err() != nil {
			return Job{}, false
		}
		q.notEmpty.Wait()
	}
	item := heap.Pop(&q.heap).(*Job)
	q.notFull.Signal()
	return *item, true
}

// Close marks the queue closed: pending Pushes fail, and Pop returns
// false without serving remaining items. Queued jobs are discarded on
// shutdown ("queued jobs are discarded"), so Close also
// empties the heap.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.heap = nil
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Drain marks the queue as no-more-input without discarding items
// already queued: Pop continues to return them in priority order and
// only reports empty once the heap is exhausted. Used at the end of a
// discovery pass, as opposed to Close which is reserved for shutdown
// and discards pending work.
func (q *JobQueue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.draining = true
	q.notEmpty.Broadcast()
}

// Len returns the current queue depth.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
