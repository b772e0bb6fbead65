package health

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Breaker reports unhealthy while any data-source circuit is open.
func Breaker(openKeys func() []string) Checker {
	return func(context.Context) Status {
		open := openKeys()
		if len(open) == 0 {
			return Status{Healthy: true}
		}
		return Status{Healthy: false, Detail: "circuit open: " + strings.Join(open, ", ")}
	}
}

// LastRun reports unhealthy until a scoring run has finished, when the last
// run failed, or when it finished more than maxAge ago. A zero maxAge
// disables the staleness check.
func LastRun(last func() (time.Time, error), maxAge time.Duration, now func() time.Time) Checker {
	if now == nil {
		now = time.Now
	}
	return func(context.Context) Status {
		at, err := last()
		switch {
		case at.IsZero():
			return Status{Healthy: false, Detail: "no scoring run has finished"}
		case err != nil:
			return Status{Healthy: false, Detail: err.Error()}
		case maxAge > 0 && now().Sub(at) > maxAge:
			return Status{Healthy: false, Detail: fmt.Sprintf("last run %s ago", now().Sub(at).Round(time.Second))}
		}
		return Status{Healthy: true, Detail: "last run " + at.UTC().Format(time.RFC3339)}
	}
}

// Contract reports whether the reputation contract answers a read within
// timeout.
func Contract(read func(ctx context.Context) error, timeout time.Duration) Checker {
	return func(ctx context.Context) Status {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := read(ctx); err != nil {
			return Status{Healthy: false, Detail: "contract read failed: " + err.Error()}
		}
		return Status{Healthy: true}
	}
}
