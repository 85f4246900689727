// Package handshake drives a freshly connected DAP client through the
// fixed initialize/attach/validate/configure sequence every session
// must complete before it is usable. No other package sends initialize,
// attach or configurationDone.
package handshake

import (
	"context"
	"fmt"
	"time"

	"github.com/dbgbridge/dbgbridge/internal/dapclient"
	errs "github.com/dbgbridge/dbgbridge/internal/errors"
)

// Options configures one handshake run.
type Options struct {
	ClientID   string
	ClientName string

	AttachArgs dapclient.AttachArgs

	// AttachOnly marks a handshake against a user-controlled adapter
	// rather than one this process just spawned. Run treats both the
	// same; the shorter attach-only connect budget is applied by the
	// caller before Run.
	AttachOnly bool
}

// Result carries what the session needs to enter Running.
type Result struct {
	ThreadID *int
	FrameID  *int
}

var backoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

func backoffDelay(attempt int) time.Duration {
	if attempt < len(backoff) {
		return backoff[attempt]
	}
	return 5 * time.Second
}

// Run executes the five-step sequence against an already-connected
// client and returns the initial thread/frame context to seed the
// session with.
func Run(ctx context.Context, c *dapclient.Client, opts Options) (Result, error) {
	if err := initializeWithRetry(ctx, c, opts); err != nil {
		return Result{}, err
	}
	if err := attachWithRendezvous(ctx, c, opts); err != nil {
		return Result{}, err
	}
	if err := validate(ctx, c); err != nil {
		return Result{}, err
	}
	if err := configurationDoneWithRetry(ctx, c); err != nil {
		return Result{}, err
	}
	return primeThreadContext(ctx, c), nil
}

func initializeWithRetry(ctx context.Context, c *dapclient.Client, opts Options) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoffDelay(attempt-1)); err != nil {
				return err
			}
		}
		_, err := c.Initialize(ctx, opts.ClientID, opts.ClientName)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return errs.Protocol("initialize failed after 3 attempts", lastErr)
}

// attachWithRendezvous implements the load-bearing pattern: fire
// attach, do not trust its response, and race it against the
// "initialized" event. Some debugpy versions never reply to attach at
// all, only emitting the event once the target is ready.
func attachWithRendezvous(ctx context.Context, c *dapclient.Client, opts Options) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, 2*time.Second); err != nil {
				return err
			}
		}

		attachCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		go func() {
			_, err := c.Attach(attachCtx, opts.AttachArgs)
			if err != nil {
				// The response may never come, or may reject even on a
				// healthy adapter; only the "initialized" event decides
				// success. This goroutine's only job is to not block
				// WaitInitialized below.
				_ = err
			}
		}()

		err := c.WaitInitialized(attachCtx, 15*time.Second)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return errs.Protocol("attach did not produce an initialized event after 3 attempts", lastErr)
}

func validate(ctx context.Context, c *dapclient.Client) error {
	if _, err := c.Threads(ctx); err != nil {
		return errs.Protocol("validation probe (threads) failed", err)
	}
	return nil
}

func configurationDoneWithRetry(ctx context.Context, c *dapclient.Client) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoffDelay(attempt-1)); err != nil {
				return err
			}
		}
		if err := c.ConfigurationDone(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return errs.Protocol("configurationDone failed after 2 attempts", lastErr)
}

// primeThreadContext best-efforts an initial thread/frame so a session
// that happens to start already stopped has usable context; absence of
// threads or frames here is not a handshake failure, only an empty
// Result.
func primeThreadContext(ctx context.Context, c *dapclient.Client) Result {
	threads, err := c.Threads(ctx)
	if err != nil || len(threads) == 0 {
		return Result{}
	}
	threadID := threads[0].Id
	result := Result{ThreadID: &threadID}

	frames, err := c.StackTrace(ctx, threadID)
	if err != nil || len(frames) == 0 {
		return result
	}
	frameID := frames[0].Id
	result.FrameID = &frameID
	return result
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("handshake: cancelled during backoff: %w", ctx.Err())
	}
}
