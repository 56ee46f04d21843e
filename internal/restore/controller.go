// Package restore drives warm-start restoration: when a request references
// a session handle this process does not hold, the controller asks an
// external session store for the tenant's instance context and, on
// success, recreates the session through the registry's idempotent
// creation path.
package restore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"go-mcp-session-engine/internal/config"
	"go-mcp-session-engine/internal/instance"
	"go-mcp-session-engine/internal/session"
	"go-mcp-session-engine/pkg/logger"
)

// Hook looks up a session's instance context in the external store.
// Returning (nil, nil) means the store has no such session. Hooks may
// block; the controller bounds them with the overall restoration
// deadline and ignores results that arrive after it.
type Hook func(ctx context.Context, handle string) (*instance.Context, error)

// ErrHookTimeout marks a hook failure caused by the hook's own deadline.
// Hooks should wrap their internal timeouts with it so the controller
// can tell them apart from transient store errors.
var ErrHookTimeout = errors.New("session store lookup timed out")

// Status classifies how a restoration attempt settled.
type Status int

const (
	StatusRestored Status = iota
	StatusRejected
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusRestored:
		return "restored"
	case StatusRejected:
		return "rejected"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Rejection reasons surfaced in Outcome.Reason.
const (
	ReasonInvalidHandle  = "invalid handle"
	ReasonInvalidContext = "invalid context"
	ReasonNotFound       = "not found"
)

// Outcome is the settled result of one restoration. Context is set only
// for StatusRestored, Reason only for StatusRejected, Cause only for
// StatusFailed.
type Outcome struct {
	Status  Status
	Context *instance.Context
	Reason  string
	Cause   error
}

// Controller owns the retry and deadline policy around the restore hook.
type Controller struct {
	registry *session.Registry
	hook     Hook

	retries        int
	retryDelay     time.Duration
	overallTimeout time.Duration

	group singleflight.Group
}

// NewController creates a controller bound to a registry and a hook.
func NewController(registry *session.Registry, hook Hook, cfg config.RestoreConfig) *Controller {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = 5 * time.Second
	}
	return &Controller{
		registry:       registry,
		hook:           hook,
		retries:        cfg.Retries,
		retryDelay:     cfg.RetryDelay,
		overallTimeout: cfg.OverallTimeout,
	}
}

// Restore resolves an unrecognized handle against the external store.
// Concurrent calls for the same handle are collapsed: one caller drives
// the hook and retry loop, the rest wait and share its outcome. After
// all in-flight restorations for a handle settle, the registry holds at
// most one record for it and at most one restored event has fired.
func (c *Controller) Restore(ctx context.Context, handle string) Outcome {
	if !session.ValidHandle(handle) {
		return Outcome{Status: StatusRejected, Reason: ReasonInvalidHandle}
	}

	v, _, shared := c.group.Do(handle, func() (interface{}, error) {
		// A restoration that settled while we queued may already have
		// warmed the session.
		if rec, ok := c.registry.Get(handle); ok {
			rctx := rec.Context.Clone()
			return Outcome{Status: StatusRestored, Context: &rctx}, nil
		}
		return c.drive(ctx, handle), nil
	})

	out := v.(Outcome)
	if shared && out.Status == StatusRestored {
		logger.Log.Debug("Session %s restored by a concurrent request", handle)
	}
	return out
}

// drive runs the full restoration protocol for one handle. The overall
// deadline covers every attempt combined; timeout-kind failures are
// never retried, transient ones consume the retry budget with a fixed
// delay between attempts.
func (c *Controller) drive(ctx context.Context, handle string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.overallTimeout)
	defer cancel()

	var out Outcome
	attempt := 0
	op := func() error {
		attempt++
		ictx, err := c.invokeHook(ctx, handle)
		if err != nil {
			if isTimeoutError(err) {
				return backoff.Permanent(err)
			}
			logger.Log.Warn("Restore attempt %d for session %s failed: %v", attempt, handle, err)
			return err
		}
		if ictx == nil {
			out = Outcome{Status: StatusRejected, Reason: ReasonNotFound}
			return nil
		}
		if violations := ictx.Validate(); len(violations) > 0 {
			logger.Log.Warn("Store returned invalid context for session %s: %v", handle, violations)
			out = Outcome{Status: StatusRejected, Reason: ReasonInvalidContext}
			return nil
		}
		if !c.registry.Restore(handle, *ictx) {
			out = Outcome{Status: StatusRejected, Reason: ReasonInvalidContext}
			return nil
		}
		restored := ictx.Clone()
		out = Outcome{Status: StatusRestored, Context: &restored}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.retries)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if isTimeoutError(err) {
			logger.Log.Warn("Restoration of session %s timed out after %d attempt(s)", handle, attempt)
			return Outcome{Status: StatusTimedOut}
		}
		logger.Log.Error("Restoration of session %s failed after %d attempt(s): %v", handle, attempt, err)
		return Outcome{Status: StatusFailed, Cause: err}
	}
	return out
}

// invokeHook races one hook call against the remaining deadline. A
// result arriving after the deadline is discarded: the buffered channel
// lets the goroutine settle without leaking, and no session is created
// for a caller that already received a timeout.
func (c *Controller) invokeHook(ctx context.Context, handle string) (*instance.Context, error) {
	type result struct {
		ictx *instance.Context
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("session store hook panicked: %v", r)}
			}
		}()
		ictx, err := c.hook(ctx, handle)
		ch <- result{ictx: ictx, err: err}
	}()

	select {
	case res := <-ch:
		return res.ictx, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// isTimeoutError reports whether an error is timeout-kind: the overall
// deadline, the hook's own deadline, or a network-level timeout.
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrHookTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
