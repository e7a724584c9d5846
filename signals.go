package jobworker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext returns a copy of parent that is cancelled when the process
// receives SIGINT, SIGTERM or SIGQUIT
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGQUIT, syscall.SIGTERM, os.Interrupt)
}
