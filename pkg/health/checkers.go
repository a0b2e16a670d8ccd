package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck returns a CheckFunc that reports unhealthy when the
// goroutine count exceeds the threshold. Useful as a liveness probe to catch
// goroutine leaks.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if count := runtime.NumGoroutine(); count > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", count, threshold)
		}
		return nil
	}
}
