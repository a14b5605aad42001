package adapter

import (
	"context"
	"time"

	"github.com/vk/graphmeld/internal/ctxlog"
)

// Retry runs fn up to attempts times, sleeping delay between tries. It is
// meant for transient I/O failures such as lock contention on an embedded
// store; the last error is returned once attempts are exhausted.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		ctxlog.FromContext(ctx).Debug("Retrying after transient failure.", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
