package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GoroutineCountCheck fails when more than threshold goroutines are running,
// which usually means requests are piling up behind a stuck dependency.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when a stop-the-world GC pause since the previous
// call exceeded threshold. Older pauses are not reported again, so the check
// recovers once the heap settles.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	var since time.Time
	return func(_ context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		return gcPauseExceeded(&stats, &since, threshold)
	}
}

// gcPauseExceeded inspects the pauses that ended after *since and advances
// *since to the newest one. Pause and PauseEnd are ordered newest first.
func gcPauseExceeded(stats *debug.GCStats, since *time.Time, threshold time.Duration) error {
	last := *since
	if len(stats.PauseEnd) > 0 {
		*since = stats.PauseEnd[0]
	}
	for i, pause := range stats.Pause {
		if i < len(stats.PauseEnd) && !stats.PauseEnd[i].After(last) {
			break
		}
		if pause > threshold {
			return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
		}
	}
	return nil
}

// PoolStats is the subset of pgxpool statistics the pool check reads.
type PoolStats interface {
	Stat() *pgxpool.Stat
	Ping(ctx context.Context) error
}

// PostgresCheck pings the pool and fails when every connection has been in
// use and callers had to wait for more than maxWaiting acquisitions.
func PostgresCheck(pool PoolStats, maxWaiting int64) CheckFunc {
	var lastEmpty int64
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		st := pool.Stat()
		waited := st.EmptyAcquireCount() - lastEmpty
		lastEmpty = st.EmptyAcquireCount()
		if maxWaiting > 0 && waited > maxWaiting && st.IdleConns() == 0 {
			return errors.Errorf("pool exhausted: %d acquisitions waited since last check", waited)
		}
		return nil
	}
}
