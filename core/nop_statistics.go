package core

import (
	"context"
	"time"

	"github.com/BranchIntl/jobworker/job"
)

// nopStatistics is used when no statistics backend is configured
type nopStatistics struct{}

func (nopStatistics) RegisterWorker(context.Context, WorkerInfo) error            { return nil }
func (nopStatistics) UnregisterWorker(context.Context, string) error              { return nil }
func (nopStatistics) RecordJobStarted(context.Context, job.Job, WorkerInfo) error { return nil }
func (nopStatistics) RecordJobCompleted(context.Context, job.Job, WorkerInfo, time.Duration) error {
	return nil
}
func (nopStatistics) RecordJobFailed(context.Context, job.Job, WorkerInfo, error, time.Duration) error {
	return nil
}
func (nopStatistics) RecordDrain(time.Duration, bool, int64) {}
func (nopStatistics) Connect(context.Context) error          { return nil }
func (nopStatistics) Close() error                           { return nil }
func (nopStatistics) Health() error                          { return nil }
func (nopStatistics) Type() string                           { return "nop" }
