// Package testutil provides common test utilities for the go-wsmux library.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// WaitFor is a generic utility to wait for a condition to be true.
// It returns nil if the condition becomes true within the timeout.
func WaitFor(t *testing.T, description string, timeout time.Duration, condition func() bool) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("condition '%s' not met within %v", description, timeout)
}

// WaitForWithContext waits for a condition to be true, giving up when the
// context is done.
func WaitForWithContext(ctx context.Context, t *testing.T, description string, condition func() bool) error {
	t.Helper()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled while waiting for condition '%s': %v", description, ctx.Err())
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
