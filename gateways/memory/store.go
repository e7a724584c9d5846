package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/job"
)

// Failure is a failure report received by the store
type Failure struct {
	Job     job.Job
	Code    string
	Message string
}

// Store holds the pending and activated jobs shared by every gateway
// handle created from it. It plays the part of the job distribution service.
type Store struct {
	mu        sync.Mutex
	queueSize int
	pending   map[string][]job.Job
	activated map[string]job.Job
	completed []job.Job
	results   map[string]json.RawMessage
	failed    []Failure
}

// NewStore creates an empty store
func NewStore(options Options) *Store {
	return &Store{
		queueSize: options.QueueSize,
		pending:   make(map[string][]job.Job),
		activated: make(map[string]job.Job),
		results:   make(map[string]json.RawMessage),
	}
}

// Enqueue adds a job to the pending queue of its type
func (s *Store) Enqueue(ctx context.Context, j job.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.pending[j.GetType()]
	if s.queueSize > 0 && len(queue) >= s.queueSize {
		return errors.NewGatewayError("enqueue", j.GetType(), errors.ErrQueueFull)
	}
	s.pending[j.GetType()] = append(queue, j)
	return nil
}

// activate locks up to maxJobs pending jobs of jobType to worker
func (s *Store) activate(jobType, worker string, maxJobs int, timeout time.Duration) []job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.expire(now)

	queue := s.pending[jobType]
	n := min(maxJobs, len(queue))
	if n <= 0 {
		return nil
	}

	jobs := make([]job.Job, 0, n)
	for _, pending := range queue[:n] {
		activated := job.Activated(pending, worker, now, timeout)
		s.activated[activated.GetKey()] = activated
		jobs = append(jobs, activated)
	}
	s.pending[jobType] = queue[n:]

	return jobs
}

// expire puts activated jobs whose deadline has passed back on their queue.
// The caller holds the lock.
func (s *Store) expire(now time.Time) {
	for key, j := range s.activated {
		deadline := j.GetMetadata().Deadline
		if deadline.IsZero() || now.Before(deadline) {
			continue
		}
		delete(s.activated, key)
		s.pending[j.GetType()] = append(s.pending[j.GetType()], j)
	}
}

func (s *Store) complete(j job.Job, variables json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	activated, err := s.take(j)
	if err != nil {
		return err
	}
	s.completed = append(s.completed, activated)
	if len(variables) > 0 {
		s.results[activated.GetKey()] = variables
	}
	return nil
}

func (s *Store) fail(j job.Job, code, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	activated, err := s.take(j)
	if err != nil {
		return err
	}
	s.failed = append(s.failed, Failure{Job: activated, Code: code, Message: message})
	return nil
}

// release puts an activated job back at the head of its queue
func (s *Store) release(j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	activated, err := s.take(j)
	if err != nil {
		return err
	}
	s.pending[j.GetType()] = append([]job.Job{activated}, s.pending[j.GetType()]...)
	return nil
}

// take removes j from the activated set. The caller holds the lock.
func (s *Store) take(j job.Job) (job.Job, error) {
	activated, ok := s.activated[j.GetKey()]
	if !ok {
		return nil, errors.ErrUnknownJob
	}
	delete(s.activated, j.GetKey())
	return activated, nil
}

// Pending returns the number of jobs of jobType waiting for activation
func (s *Store) Pending(jobType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[jobType])
}

// Activated returns the number of jobs activated and not yet reported
func (s *Store) Activated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activated)
}

// Completed returns the jobs reported as completed
func (s *Store) Completed() []job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]job.Job(nil), s.completed...)
}

// Result returns the variables a completed job was reported with
func (s *Store) Result(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	variables, ok := s.results[key]
	return variables, ok
}

// Failed returns the failure reports received
func (s *Store) Failed() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Failure(nil), s.failed...)
}
