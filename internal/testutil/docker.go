// Package testutil holds helpers shared by container-backed tests.
package testutil

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// RequireDocker skips t in -short mode or when no Docker provider can be
// reached. The testcontainers health check panics when it cannot locate a
// Docker host; that panic becomes a skip.
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("container tests skipped in -short mode")
	}
	skipOnPanic(t, testcontainers.SkipIfProviderIsNotHealthy)
}

func skipOnPanic(t *testing.T, check func(*testing.T)) {
	t.Helper()
	defer func() {
		if v := recover(); v != nil {
			t.Skipf("docker unavailable: %v", v)
		}
	}()
	check(t)
}
