package hlogcache

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// jitterRNG is the random source used for backoff jitter. Seeded once at init.
var jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))

// SetJitterRNG overrides the RNG used for jitter. Useful for deterministic tests.
func SetJitterRNG(r *rand.Rand) {
	if r != nil {
		jitterRNG = r
	}
}

// Sleep blocks for sleepTime or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, sleepTime time.Duration) {
	if sleepTime <= 0 {
		return
	}
	t, cancel := context.WithTimeout(ctx, sleepTime)
	defer cancel()
	<-t.Done()
}

// RandomSleepWithUnit sleeps a random multiple (1..4) of unit.
func RandomSleepWithUnit(ctx context.Context, unit time.Duration) {
	n := time.Duration(jitterRNG.Intn(5))
	if n == 0 {
		n = 1
	}
	Sleep(ctx, n*unit)
}

// RandomSleep jitters between one and four multiples of 200us; epoch.Drain
// uses it to back off between epoch bumps.
func RandomSleep(ctx context.Context) {
	RandomSleepWithUnit(ctx, 200*time.Microsecond)
}

// Retry runs task with Fibonacci backoff up to maxRetries attempts. If retries
// are exhausted, gaveUpTask (when non-nil) is invoked before the final error
// is returned. Nothing in this module calls it; the engine's retry loops are
// plain bounded loops.
func Retry(ctx context.Context, baseDelay time.Duration, maxRetries uint64, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(baseDelay)
	if err := retry.Do(ctx, retry.WithMaxRetries(maxRetries, b), task); err != nil {
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// ShouldRetry reports whether err is transient and worth retrying, as opposed
// to a permanent device/OS failure that should instead surface as a fatal
// DeviceIOFailure (§7).
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, os.ErrExist) {
		return false
	}
	switch {
	case errors.Is(err, syscall.EROFS),
		errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EDQUOT),
		errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM):
		return false
	}
	return true
}
