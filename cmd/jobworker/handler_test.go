package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BranchIntl/jobworker/job"
)

func TestSleepHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := sleepHandler(time.Millisecond, logger)

	tests := []struct {
		name      string
		variables any
		minDelay  time.Duration
		expectErr string
	}{
		{"fallback delay", nil, time.Millisecond, ""},
		{"sleep variable", map[string]string{"sleep": "20ms"}, 20 * time.Millisecond, ""},
		{"fail variable", map[string]string{"fail": "card declined"}, 0, "card declined"},
		{"invalid sleep", map[string]string{"sleep": "soon"}, 0, "invalid sleep variable"},
		{"invalid variables", []int{1, 2}, 0, "invalid variables"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := job.New("payment", tt.variables)
			require.NoError(t, err)

			start := time.Now()
			result, err := handler(context.Background(), j)

			if tt.expectErr != "" {
				assert.ErrorContains(t, err, tt.expectErr)
				assert.Nil(t, result)
				return
			}
			assert.NoError(t, err)
			assert.GreaterOrEqual(t, time.Since(start), tt.minDelay)
			require.IsType(t, sleepResult{}, result)
			assert.NotEmpty(t, result.(sleepResult).Slept)
		})
	}
}
