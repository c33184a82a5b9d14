package tasks

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrBrokerClosed is returned by a broker after Close.
var ErrBrokerClosed = errors.New("broker closed")

// Message is one scheduled execution of a task.
type Message struct {
	ID      string          `json:"id"`
	Task    string          `json:"task"`
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"payload"`
	Retries int             `json:"retries"`
	ETA     time.Time       `json:"eta"`
}

// Broker moves messages from producers to workers.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	// Consume blocks until a message on queue is due or ctx is done.
	Consume(ctx context.Context, queue string) (Message, error)
	Close() error
}

// MemoryBroker is an in-process Broker. Each queue is a heap ordered by ETA, then
// by publish order. Messages do not survive a restart.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	seq    uint64
	closed bool
	done   chan struct{}
	now    func() time.Time
}

var _ Broker = (*MemoryBroker)(nil)

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]*memoryQueue),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

type memoryQueue struct {
	items  messageHeap
	signal chan struct{} // buffered, size 1
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{signal: make(chan struct{}, 1)}
		b.queues[name] = q
	}
	return q
}

func (q *memoryQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Queue == "" {
		msg.Queue = DefaultQueue
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.seq++
	q := b.queue(msg.Queue)
	heap.Push(&q.items, queuedMessage{msg: msg, seq: b.seq})
	q.notify()
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, queue string) (Message, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return Message{}, ErrBrokerClosed
		}
		q := b.queue(queue)

		var wait time.Duration = -1
		if q.items.Len() > 0 {
			head := q.items[0]
			if d := head.msg.ETA.Sub(b.now()); d > 0 {
				wait = d
			} else {
				heap.Pop(&q.items)
				if q.items.Len() > 0 {
					// Let another consumer look at the new head.
					q.notify()
				}
				b.mu.Unlock()
				return head.msg, nil
			}
		}
		signal := q.signal
		b.mu.Unlock()

		if err := b.wait(ctx, signal, wait); err != nil {
			return Message{}, err
		}
	}
}

// wait blocks until the queue is signalled, the timeout passes, or the broker or
// ctx is done. A negative timeout waits without a deadline.
func (b *MemoryBroker) wait(ctx context.Context, signal <-chan struct{}, timeout time.Duration) error {
	var fire <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		fire = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBrokerClosed
	case <-signal:
	case <-fire:
	}
	return nil
}

// Len returns the number of messages waiting on queue, due or not.
func (b *MemoryBroker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return q.items.Len()
	}
	return 0
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

type queuedMessage struct {
	msg Message
	seq uint64
}

type messageHeap []queuedMessage

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if !h[i].msg.ETA.Equal(h[j].msg.ETA) {
		return h[i].msg.ETA.Before(h[j].msg.ETA)
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(queuedMessage)) }

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
