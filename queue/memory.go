package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryBroker records enqueues in process memory. It exists so workflow
// stages can be unit-tested by asserting on the follow-up jobs they emit, and
// so chains can be advanced synchronously with Run.
type MemoryBroker struct {
	mu   sync.Mutex
	jobs []Job
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

func (m *MemoryBroker) Enqueue(_ context.Context, queueName, jobName string, payload any, opts EnqueueOptions) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload for %s/%s: %w", queueName, jobName, err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	job := Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Name:        jobName,
		Payload:     body,
		MaxAttempts: maxAttempts,
	}

	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	return job.ID, nil
}

// Jobs returns the enqueued jobs for one queue in enqueue order.
func (m *MemoryBroker) Jobs(queueName string) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Queue == queueName {
			out = append(out, j)
		}
	}
	return out
}

// All returns every enqueued job in enqueue order.
func (m *MemoryBroker) All() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Job(nil), m.jobs...)
}

// Run pops the oldest job on queueName and executes handler against it,
// returning the handler's error. ok is false when the queue is empty.
func (m *MemoryBroker) Run(ctx context.Context, queueName string, handler Handler) (ok bool, err error) {
	m.mu.Lock()
	var job Job
	idx := -1
	for i, j := range m.jobs {
		if j.Queue == queueName {
			job, idx = j, i
			break
		}
	}
	if idx >= 0 {
		m.jobs = append(m.jobs[:idx], m.jobs[idx+1:]...)
	}
	m.mu.Unlock()

	if idx < 0 {
		return false, nil
	}
	job.Attempts++
	return true, handler(ctx, job)
}
