package jobqueue

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	maxJobAttempts = 5
	pollTimeout    = 5 * time.Second
	requeueDelay   = 30 * time.Second
)

// Handler processes one job. A returned error requeues the job after a
// delay until its attempt budget is exhausted.
type Handler func(ctx context.Context, job *Job) error

// Manager runs a single worker loop over the queue and dispatches jobs to
// registered handlers. One worker is enough: the queue only carries
// low-volume retry work.
type Manager struct {
	queue    *Queue
	handlers map[JobType]Handler
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewManager(queue *Queue) *Manager {
	return &Manager{
		queue:    queue,
		handlers: make(map[JobType]Handler),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (m *Manager) Register(jobType JobType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = h
}

// Start launches the worker loop in the background.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop shuts the worker down and waits for the in-flight job to finish.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.queue.Dequeue(ctx, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Warning: job dequeue failed: %v", err)
			select {
			case <-time.After(pollTimeout):
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}
		m.process(ctx, job)
	}
}

func (m *Manager) process(ctx context.Context, job *Job) {
	m.mu.Lock()
	handler, ok := m.handlers[job.Type]
	m.mu.Unlock()
	if !ok {
		log.Printf("Warning: dropping job %s with unknown type %q", job.ID, job.Type)
		return
	}

	job.Attempts++
	if err := handler(ctx, job); err != nil {
		if job.Attempts >= maxJobAttempts {
			log.Printf("Warning: job %s (%s) dropped after %d attempts: %v", job.ID, job.Type, job.Attempts, err)
			return
		}
		log.Printf("Warning: job %s (%s) failed (attempt %d), requeueing: %v", job.ID, job.Type, job.Attempts, err)
		go func() {
			select {
			case <-time.After(requeueDelay):
			case <-ctx.Done():
				return
			}
			if qerr := m.queue.Enqueue(context.Background(), job); qerr != nil {
				log.Printf("Warning: requeue of job %s failed: %v", job.ID, qerr)
			}
		}()
	}
}
