package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/vastlab/vastctl/internal/errors"
)

// WaitOptions bounds a polling loop.
type WaitOptions struct {
	Timeout time.Duration
	Poll    time.Duration
}

// DefaultStartWait covers image pull plus boot.
var DefaultStartWait = WaitOptions{Timeout: 5 * time.Minute, Poll: 5 * time.Second}

// DefaultStopWait covers an orderly shutdown.
var DefaultStopWait = WaitOptions{Timeout: 3 * time.Minute, Poll: 5 * time.Second}

// WaitRunning polls until the instance reports running, returning its
// final state.
func WaitRunning(ctx context.Context, p Provider, id string, opts WaitOptions) (*RemoteInstance, error) {
	var last *RemoteInstance
	err := poll(ctx, opts, fmt.Sprintf("instance %s did not reach running", id), func() (bool, error) {
		inst, err := p.GetInstance(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				return false, err
			}
			// Transient listing failure, keep polling.
			return false, nil
		}
		last = inst
		return inst.Running(), nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

// WaitStopped polls until the instance reports stopped.
func WaitStopped(ctx context.Context, p Provider, id string, opts WaitOptions) error {
	return poll(ctx, opts, fmt.Sprintf("instance %s did not stop", id), func() (bool, error) {
		inst, err := p.GetInstance(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				// Destroyed counts as stopped.
				return true, nil
			}
			return false, nil
		}
		return inst.Status == "stopped", nil
	})
}

// WaitGone polls until the provider reports the instance deleted.
func WaitGone(ctx context.Context, p Provider, id string, opts WaitOptions) error {
	return poll(ctx, opts, fmt.Sprintf("instance %s still present", id), func() (bool, error) {
		_, err := p.GetInstance(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				return true, nil
			}
			return false, nil
		}
		return false, nil
	})
}

func poll(ctx context.Context, opts WaitOptions, timeoutMsg string, check func() (bool, error)) error {
	deadline := time.Now().Add(opts.Timeout)
	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New(errors.ErrProvider,
				fmt.Sprintf("Timed out after %s: %s", opts.Timeout, timeoutMsg),
				"Check the instance on the provider console, then run 'vastctl refresh'.")
		}
		select {
		case <-time.After(opts.Poll):
		case <-ctx.Done():
			return errors.WrapWithCode(ctx.Err(), errors.ErrProvider,
				"Wait cancelled", "Run 'vastctl refresh' to resync instance state.")
		}
	}
}
