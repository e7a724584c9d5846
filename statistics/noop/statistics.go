// Package noop provides a statistics backend that records nothing
package noop

import (
	"context"
	"time"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/job"
)

// Statistics discards every job and drain event
type Statistics struct{}

// NewStatistics creates a statistics backend that records nothing
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (*Statistics) Connect(context.Context) error { return nil }
func (*Statistics) Close() error                  { return nil }
func (*Statistics) Health() error                 { return nil }
func (*Statistics) Type() string                  { return "noop" }

func (*Statistics) RegisterWorker(context.Context, core.WorkerInfo) error { return nil }
func (*Statistics) UnregisterWorker(context.Context, string) error        { return nil }

func (*Statistics) RecordJobStarted(context.Context, job.Job, core.WorkerInfo) error {
	return nil
}

func (*Statistics) RecordJobCompleted(context.Context, job.Job, core.WorkerInfo, time.Duration) error {
	return nil
}

func (*Statistics) RecordJobFailed(context.Context, job.Job, core.WorkerInfo, error, time.Duration) error {
	return nil
}

func (*Statistics) RecordDrain(time.Duration, bool, int64) {}

var _ core.Statistics = (*Statistics)(nil)
