package txsched

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler is the TX scheduler of spec.md §4.8: a priority queue over
// OutboundFrames with per-destination token-bucket pacing. container/heap
// is the one stdlib choice in this package; no pack example carries a
// third-party priority-queue library, so it is used directly rather than
// reinvented.
type Scheduler struct {
	mu      sync.Mutex
	heap    entryHeap
	buckets map[string]*TokenBucket
	order   uint64
	rate    float64
	burst   float64
}

// NewScheduler returns an empty Scheduler using rate and burst as the
// default token-bucket parameters for any destination seen for the first
// time.
func NewScheduler(rate, burst float64) *Scheduler {
	return &Scheduler{
		buckets: make(map[string]*TokenBucket),
		rate:    rate,
		burst:   burst,
	}
}

// Enqueue adds frame to the queue in queued state, ordered by
// (-priority, enqueueOrder).
func (s *Scheduler) Enqueue(frame OutboundFrame, now time.Time) *TxQueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order++

	entry := &TxQueueEntry{
		Frame: frame,
		State: TxFrameState{
			Status:   FrameQueued,
			QueuedAt: now,
		},
		EnqueueOrder: s.order,
	}

	heap.Push(&s.heap, entry)

	return entry
}

// Dequeue walks the queue in priority/FIFO order and returns the first
// entry whose destination's token bucket currently allows it, consuming
// the bucket's tokens and marking the entry sending. It returns nil if no
// queued entry is currently eligible.
func (s *Scheduler) Dequeue(now time.Time) *TxQueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	skipped := make([]*TxQueueEntry, 0, s.heap.Len())

	var chosen *TxQueueEntry

	for s.heap.Len() > 0 {
		next := heap.Pop(&s.heap).(*TxQueueEntry)

		if next.State.Status != FrameQueued {
			skipped = append(skipped, next)
			continue
		}

		bucket := s.bucketFor(next.Frame.Dst)
		if !bucket.Allow(1.0, now) {
			skipped = append(skipped, next)
			continue
		}

		next.State.Status = FrameSending
		next.State.SentAt = now
		next.State.Attempts++
		chosen = next

		break
	}

	for _, e := range skipped {
		heap.Push(&s.heap, e)
	}

	if chosen != nil {
		heap.Push(&s.heap, chosen)
	}

	return chosen
}

// Requeue puts entry back into the queue as queued, for retransmission
// after a failed attempt, preserving its original enqueue order so it is
// dequeued ahead of frames enqueued after it at the same priority.
func (s *Scheduler) Requeue(entry *TxQueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.State.Status = FrameQueued

	for _, e := range s.heap {
		if e == entry {
			heap.Init(&s.heap)
			return
		}
	}

	heap.Push(&s.heap, entry)
}

// MarkAcked flips entry to acked.
func (s *Scheduler) MarkAcked(entry *TxQueueEntry, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.State.Status = FrameAcked
	entry.State.AckedAt = now
}

// MarkFailed flips entry to failed with a reason, removing it from further
// consideration.
func (s *Scheduler) MarkFailed(entry *TxQueueEntry, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.State.Status = FrameFailed
	entry.State.Error = reason
}

// Len reports the number of entries still tracked in the heap (queued,
// sending, or any other non-pruned state).
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.heap.Len()
}

// PruneCompleted drops entries in a terminal state (acked/failed/cancelled)
// whose last state transition is older than olderThan, per spec.md §9's
// note that the scheduler must not grow unbounded.
func (s *Scheduler) PruneCompleted(now time.Time, olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make(entryHeap, 0, len(s.heap))
	pruned := 0

	for _, e := range s.heap {
		if isTerminalFrame(e.State.Status) && now.Sub(terminalTime(e)) > olderThan {
			pruned++
			continue
		}

		kept = append(kept, e)
	}

	s.heap = kept
	heap.Init(&s.heap)

	return pruned
}

func isTerminalFrame(status FrameStatus) bool {
	switch status {
	case FrameAcked, FrameFailed, FrameCancelled:
		return true
	default:
		return false
	}
}

func terminalTime(e *TxQueueEntry) time.Time {
	if !e.State.AckedAt.IsZero() {
		return e.State.AckedAt
	}

	if !e.State.SentAt.IsZero() {
		return e.State.SentAt
	}

	return e.State.QueuedAt
}

func (s *Scheduler) bucketFor(dst string) *TokenBucket {
	b, ok := s.buckets[dst]
	if !ok {
		b = NewTokenBucket(s.rate, s.burst, time.Now())
		s.buckets[dst] = b
	}

	return b
}

// entryHeap is a container/heap.Interface ordering by (-priority,
// enqueueOrder): higher Priority values come first, ties broken FIFO.
type entryHeap []*TxQueueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Frame.Priority != h[j].Frame.Priority {
		return h[i].Frame.Priority > h[j].Frame.Priority
	}

	return h[i].EnqueueOrder < h[j].EnqueueOrder
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*TxQueueEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return item
}
