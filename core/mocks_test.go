package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/job"
)

// Mock implementations for testing

// MockFailure is a recorded failure report
type MockFailure struct {
	Job     job.Job
	Code    string
	Message string
}

// MockGateway implements the Gateway and Releaser interfaces for testing
type MockGateway struct {
	mu            sync.RWMutex
	connected     bool
	closed        bool
	connectError  error
	healthError   error
	activateError error
	completeError error
	failError     error
	pending       []job.Job
	requests      []ActivateRequest
	completedJobs []job.Job
	results       map[string]json.RawMessage
	failedJobs    []MockFailure
	releasedJobs  []job.Job
	activateCalls int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) Activate(ctx context.Context, req ActivateRequest) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.activateCalls++
	m.requests = append(m.requests, req)

	if !m.connected {
		return nil, errors.ErrNotConnected
	}
	if m.activateError != nil {
		return nil, m.activateError
	}

	var activated []job.Job
	remaining := m.pending[:0:0]
	for _, j := range m.pending {
		if len(activated) < req.MaxJobs && j.GetType() == req.Type {
			activated = append(activated, job.Activated(j, req.Worker, time.Now(), req.Timeout))
			continue
		}
		remaining = append(remaining, j)
	}
	m.pending = remaining
	return activated, nil
}

func (m *MockGateway) Complete(ctx context.Context, j job.Job, variables json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.NewGatewayError("complete", j.GetType(), errors.ErrNotConnected)
	}
	if m.completeError != nil {
		return m.completeError
	}

	m.completedJobs = append(m.completedJobs, j)
	if variables != nil {
		if m.results == nil {
			m.results = make(map[string]json.RawMessage)
		}
		m.results[j.GetKey()] = variables
	}
	return nil
}

func (m *MockGateway) Fail(ctx context.Context, j job.Job, errorCode, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.NewGatewayError("fail", j.GetType(), errors.ErrNotConnected)
	}
	if m.failError != nil {
		return m.failError
	}

	m.failedJobs = append(m.failedJobs, MockFailure{Job: j, Code: errorCode, Message: errorMessage})
	return nil
}

func (m *MockGateway) Release(ctx context.Context, j job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.NewGatewayError("release", j.GetType(), errors.ErrNotConnected)
	}

	m.releasedJobs = append(m.releasedJobs, j)
	return nil
}

func (m *MockGateway) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectError != nil {
		return m.connectError
	}

	m.connected = true
	return nil
}

func (m *MockGateway) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
	m.closed = true
	return nil
}

func (m *MockGateway) Health() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.healthError != nil {
		return m.healthError
	}
	if !m.connected {
		return errors.ErrNotConnected
	}
	return nil
}

func (m *MockGateway) Type() string {
	return "mock"
}

// Test helpers
func (m *MockGateway) AddJob(j job.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, j)
}

func (m *MockGateway) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectError = err
}

func (m *MockGateway) SetHealthError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthError = err
}

func (m *MockGateway) SetActivateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activateError = err
}

func (m *MockGateway) SetCompleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeError = err
}

func (m *MockGateway) SetFailError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failError = err
}

func (m *MockGateway) GetCompletedJobs() []job.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]job.Job(nil), m.completedJobs...)
}

// GetResult returns the variables a job was completed with
func (m *MockGateway) GetResult(key string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	variables, ok := m.results[key]
	return variables, ok
}

func (m *MockGateway) GetFailedJobs() []MockFailure {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockFailure(nil), m.failedJobs...)
}

func (m *MockGateway) GetReleasedJobs() []job.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]job.Job(nil), m.releasedJobs...)
}

func (m *MockGateway) GetRequests() []ActivateRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ActivateRequest(nil), m.requests...)
}

func (m *MockGateway) ActivateCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activateCalls
}

func (m *MockGateway) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

func (m *MockGateway) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// ReportCount returns the number of success and failure reports
func (m *MockGateway) ReportCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.completedJobs) + len(m.failedJobs)
}

// MockPushGateway is a MockGateway that pushes jobs through the Poller
// interface instead of being polled
type MockPushGateway struct {
	*MockGateway
	deliveries chan job.Job
	started    chan ActivateRequest
}

func NewMockPushGateway() *MockPushGateway {
	return &MockPushGateway{
		MockGateway: NewMockGateway(),
		deliveries:  make(chan job.Job, 100),
		started:     make(chan ActivateRequest, 1),
	}
}

func (m *MockPushGateway) Start(ctx context.Context, req ActivateRequest, jobChan chan<- job.Job) error {
	defer close(jobChan)
	m.started <- req

	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-m.deliveries:
			select {
			case jobChan <- job.Activated(j, req.Worker, time.Now(), req.Timeout):
			case <-ctx.Done():
				_ = m.Release(context.Background(), j)
				return nil
			}
		}
	}
}

func (m *MockPushGateway) Push(j job.Job) {
	m.deliveries <- j
}

// MockJobCall is a recorded statistics call
type MockJobCall struct {
	Job      job.Job
	Worker   WorkerInfo
	Duration time.Duration
	Err      error
}

// MockDrain is a recorded drain cycle
type MockDrain struct {
	Duration  time.Duration
	Drained   bool
	Remaining int64
}

// MockStatistics implements the Statistics interface for testing
type MockStatistics struct {
	mu            sync.RWMutex
	connected     bool
	connectError  error
	healthError   error
	workers       map[string]WorkerInfo
	jobsStarted   []MockJobCall
	jobsCompleted []MockJobCall
	jobsFailed    []MockJobCall
	drains        []MockDrain
	closed        bool
	lateCalls     int
}

func NewMockStatistics() *MockStatistics {
	return &MockStatistics{
		workers: make(map[string]WorkerInfo),
	}
}

func (m *MockStatistics) RegisterWorker(ctx context.Context, worker WorkerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLate()
	m.workers[worker.ID] = worker
	return nil
}

func (m *MockStatistics) UnregisterWorker(ctx context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLate()
	delete(m.workers, workerID)
	return nil
}

func (m *MockStatistics) RecordJobStarted(ctx context.Context, j job.Job, worker WorkerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLate()
	m.jobsStarted = append(m.jobsStarted, MockJobCall{Job: j, Worker: worker})
	return nil
}

func (m *MockStatistics) RecordJobCompleted(ctx context.Context, j job.Job, worker WorkerInfo, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLate()
	m.jobsCompleted = append(m.jobsCompleted, MockJobCall{Job: j, Worker: worker, Duration: duration})
	return nil
}

func (m *MockStatistics) RecordJobFailed(ctx context.Context, j job.Job, worker WorkerInfo, err error, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLate()
	m.jobsFailed = append(m.jobsFailed, MockJobCall{Job: j, Worker: worker, Duration: duration, Err: err})
	return nil
}

func (m *MockStatistics) RecordDrain(duration time.Duration, drained bool, remaining int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drains = append(m.drains, MockDrain{Duration: duration, Drained: drained, Remaining: remaining})
}

func (m *MockStatistics) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectError != nil {
		return m.connectError
	}
	m.connected = true
	return nil
}

func (m *MockStatistics) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.closed = true
	return nil
}

// recordLate counts calls made after Close. The caller holds the lock.
func (m *MockStatistics) recordLate() {
	if m.closed {
		m.lateCalls++
	}
}

func (m *MockStatistics) Health() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthError
}

func (m *MockStatistics) Type() string {
	return "mock"
}

// Test helpers
func (m *MockStatistics) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectError = err
}

func (m *MockStatistics) SetHealthError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthError = err
}

func (m *MockStatistics) GetJobsStarted() []MockJobCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockJobCall(nil), m.jobsStarted...)
}

func (m *MockStatistics) GetJobsCompleted() []MockJobCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockJobCall(nil), m.jobsCompleted...)
}

func (m *MockStatistics) GetJobsFailed() []MockJobCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockJobCall(nil), m.jobsFailed...)
}

func (m *MockStatistics) GetDrains() []MockDrain {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockDrain(nil), m.drains...)
}

func (m *MockStatistics) WorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// LateCalls returns the number of worker and job calls made after Close
func (m *MockStatistics) LateCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lateCalls
}

func (m *MockStatistics) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// MockRegistry implements the Registry interface for testing
type MockRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewMockRegistry() *MockRegistry {
	return &MockRegistry{
		handlers: make(map[string]Handler),
	}
}

func (m *MockRegistry) Register(jobType string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if jobType == "" {
		return errors.ErrEmptyJobType
	}
	if handler == nil {
		return errors.ErrNilHandler
	}
	m.handlers[jobType] = handler
	return nil
}

func (m *MockRegistry) Get(jobType string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handler, ok := m.handlers[jobType]
	return handler, ok
}

func (m *MockRegistry) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobTypes := make([]string, 0, len(m.handlers))
	for jobType := range m.handlers {
		jobTypes = append(jobTypes, jobType)
	}
	return jobTypes
}

// NewMockJob creates a job of the given type with an index variable
func NewMockJob(jobType string, index int) job.Job {
	j, err := job.New(jobType, map[string]any{"index": index})
	if err != nil {
		panic(fmt.Sprintf("building mock job: %v", err))
	}
	return j
}
