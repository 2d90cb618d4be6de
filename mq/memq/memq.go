// Package memq is an in-process MessageQueue with SQS-like visibility: a
// received message is hidden for the visibility timeout and comes back if it
// is not deleted in time.
package memq

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/zlnvch/pageboard/mq"
)

const defaultPollWait = time.Second

type item struct {
	id             string
	body           string
	invisibleUntil time.Time
}

type MemoryQueue struct {
	mu     sync.Mutex
	items  []*item
	nextId int
	notify chan struct{}

	pollWait time.Duration
	now      func() time.Time
}

func New() *MemoryQueue {
	return &MemoryQueue{
		notify:   make(chan struct{}, 1),
		pollWait: defaultPollWait,
		now:      time.Now,
	}
}

// WithPollWait sets how long Receive waits before reporting an empty poll.
func (q *MemoryQueue) WithPollWait(d time.Duration) *MemoryQueue {
	q.pollWait = d
	return q
}

func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	q.mu.Lock()
	q.nextId++
	q.items = append(q.items, &item{id: strconv.Itoa(q.nextId), body: body})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) take(visibilityTimeout int32) (*mq.Message, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var wait time.Duration
	for _, it := range q.items {
		if !it.invisibleUntil.After(now) {
			it.invisibleUntil = now.Add(time.Duration(visibilityTimeout) * time.Second)
			return &mq.Message{Id: it.id, Body: it.body}, 0
		}
		if d := it.invisibleUntil.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}
	return nil, wait
}

func (q *MemoryQueue) Receive(ctx context.Context, visibilityTimeout int32) (*mq.Message, error) {
	deadline := time.NewTimer(q.pollWait)
	defer deadline.Stop()

	for {
		msg, wait := q.take(visibilityTimeout)
		if msg != nil {
			return msg, nil
		}

		var retry *time.Timer
		var retryC <-chan time.Time
		if wait > 0 {
			retry = time.NewTimer(wait)
			retryC = retry.C
		}

		select {
		case <-ctx.Done():
			stopTimer(retry)
			return nil, ctx.Err()
		case <-deadline.C:
			stopTimer(retry)
			return nil, nil
		case <-q.notify:
			stopTimer(retry)
		case <-retryC:
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (q *MemoryQueue) Delete(ctx context.Context, msg *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.id == msg.Id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len counts messages not yet deleted, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

var _ mq.MessageQueue = (*MemoryQueue)(nil)
