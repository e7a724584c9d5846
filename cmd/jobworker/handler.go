package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/job"
)

// sleepVariables are the job variables understood by sleepHandler
type sleepVariables struct {
	Sleep string `json:"sleep"`
	Fail  string `json:"fail"`
}

// sleepResult is the result variables reported by sleepHandler
type sleepResult struct {
	Slept string `json:"slept"`
}

// sleepHandler simulates work by sleeping for the job's "sleep" variable,
// or for fallback. A "fail" variable makes the job fail with that message.
func sleepHandler(fallback time.Duration, logger *slog.Logger) core.Handler {
	return func(ctx context.Context, j job.Job) (any, error) {
		var vars sleepVariables
		if raw := j.GetPayload().Variables; len(raw) > 0 {
			if err := json.Unmarshal(raw, &vars); err != nil {
				return nil, fmt.Errorf("invalid variables: %w", err)
			}
		}

		delay := fallback
		if vars.Sleep != "" {
			d, err := time.ParseDuration(vars.Sleep)
			if err != nil {
				return nil, fmt.Errorf("invalid sleep variable: %w", err)
			}
			delay = d
		}

		logger.Info("Handling job", "type", j.GetType(), "key", j.GetKey(), "sleep", delay)
		time.Sleep(delay)

		if vars.Fail != "" {
			return nil, fmt.Errorf("%s", vars.Fail)
		}
		return sleepResult{Slept: delay.String()}, nil
	}
}
