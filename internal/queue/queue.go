// Package queue implements the Synthesis Queue (spec §4.7): a priority
// FIFO of per-conversation synthesis jobs with single-writer processing,
// exponential backoff retry, and event broadcasting. Grounded on the
// teacher's internal/rag/service job-queue shape (priority buckets,
// retry-with-backoff) generalized from document-ingestion jobs to
// conversation-synthesis jobs.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"osqr/internal/model"
)

// Priority orders jobs within the queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

const maxAttempts = 3

// Job is one unit of synthesis work: extract facts/summary/contradictions
// for a conversation.
type Job struct {
	ID             string
	UserID         string
	ConversationID string
	Priority       Priority
	Attempts       int
	EnqueuedAt     time.Time
	NextAttemptAt  time.Time
}

// EventKind enumerates the lifecycle events broadcast for a job.
type EventKind string

const (
	EventEnqueued   EventKind = "enqueued"
	EventProcessing EventKind = "processing"
	EventCompleted  EventKind = "completed"
	EventFailed     EventKind = "failed"
	EventRequeued   EventKind = "requeued"
)

// Event is broadcast to all listeners on every state transition.
type Event struct {
	Kind EventKind
	Job  Job
	Err  error
}

// Processor executes one job's synthesis work. Returning an error triggers
// the backoff-retry path; a nil error marks the job completed.
type Processor func(ctx context.Context, job Job) error

// Queue is a single-writer priority FIFO. Only one goroutine should call
// ProcessNext/ProcessAll concurrently — the single-writer assumption
// documented in spec §9's Open Question decision — but Enqueue is safe
// from any number of goroutines.
type Queue struct {
	mu        sync.Mutex
	high      []Job
	normal    []Job
	low       []Job
	listeners []chan Event
	now       func() time.Time
}

func New() *Queue {
	return &Queue{now: func() time.Time { return time.Now().UTC() }}
}

// Subscribe returns a channel receiving every Event from this point on.
// The channel is buffered (64 events) and sends are non-blocking: while a
// listener's buffer is full, further events for it are dropped.
func (q *Queue) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	q.mu.Lock()
	q.listeners = append(q.listeners, ch)
	q.mu.Unlock()
	return ch
}

func (q *Queue) broadcast(ev Event) {
	for _, ch := range q.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Enqueue inserts a new job: high priority jumps to the front of its
// bucket, low priority goes to the back, normal priority is inserted
// before the low bucket (i.e. normal jobs always run before any
// already-queued low job, but after already-queued high/normal jobs).
func (q *Queue) Enqueue(userID, conversationID string, priority Priority) Job {
	job := Job{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Priority:       priority,
		EnqueuedAt:     q.now(),
	}
	q.mu.Lock()
	switch priority {
	case PriorityHigh:
		q.high = append([]Job{job}, q.high...)
	case PriorityLow:
		q.low = append(q.low, job)
	default:
		q.normal = append(q.normal, job)
	}
	q.mu.Unlock()
	q.broadcast(Event{Kind: EventEnqueued, Job: job})
	return job
}

// dequeue pops the next job in priority order (high, normal, low) whose
// NextAttemptAt has passed. It skips over not-yet-ready retries without
// removing them, requeuing nothing (they remain in place).
func (q *Queue) dequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, bucket := range []*[]Job{&q.high, &q.normal, &q.low} {
		for i, j := range *bucket {
			if j.NextAttemptAt.After(now) {
				continue
			}
			*bucket = append((*bucket)[:i:i], (*bucket)[i+1:]...)
			return j, true
		}
	}
	return Job{}, false
}

func (q *Queue) requeue(job Job) {
	q.mu.Lock()
	switch job.Priority {
	case PriorityHigh:
		q.high = append(q.high, job)
	case PriorityLow:
		q.low = append(q.low, job)
	default:
		q.normal = append(q.normal, job)
	}
	q.mu.Unlock()
}

// ProcessNext dequeues and runs a single job through proc, applying
// exponential backoff (2^attempts seconds) on failure up to maxAttempts,
// after which the job is dropped with a final EventFailed. Returns false
// if the queue was empty (nothing ready to run).
func (q *Queue) ProcessNext(ctx context.Context, proc Processor) bool {
	job, ok := q.dequeue()
	if !ok {
		return false
	}
	q.broadcast(Event{Kind: EventProcessing, Job: job})

	err := proc(ctx, job)
	if err == nil {
		q.broadcast(Event{Kind: EventCompleted, Job: job})
		return true
	}

	job.Attempts++
	if job.Attempts >= maxAttempts {
		q.broadcast(Event{Kind: EventFailed, Job: job, Err: err})
		return true
	}
	job.NextAttemptAt = q.now().Add(backoff(job.Attempts))
	q.requeue(job)
	q.broadcast(Event{Kind: EventRequeued, Job: job, Err: err})
	return true
}

// ProcessAll drains up to batchSize ready jobs, returning the count
// actually processed (completed, requeued, or permanently failed).
func (q *Queue) ProcessAll(ctx context.Context, proc Processor, batchSize int) int {
	n := 0
	for n < batchSize {
		if !q.ProcessNext(ctx, proc) {
			break
		}
		n++
	}
	return n
}

// Len reports the total number of jobs across all three buckets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.high) + len(q.normal) + len(q.low)
}

func backoff(attempts int) time.Duration {
	d := time.Second
	for i := 0; i < attempts; i++ {
		d *= 2
	}
	return d
}

// OutcomeFromError maps a processor error to the model.Outcome recorded
// against the memories a job's synthesis touched, for callers that want to
// feed ProcessNext's result into the utility update loop.
func OutcomeFromError(err error) model.Outcome {
	if err == nil {
		return model.OutcomeHelpful
	}
	return model.OutcomeIgnored
}
