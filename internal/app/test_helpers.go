package app

import (
	"os"
	"testing"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/testutil"
)

// SetupAppTest creates a new app instance for system testing.
func SetupAppTest(t *testing.T, cfg *Config, modules ...capability.Module) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	testApp := NewApp(logBuffer, cfg, modules...)

	t.Cleanup(func() {
		if err := testApp.Close(); err != nil {
			t.Logf("closing app: %v", err)
		}
		if os.Getenv("WSFLOW_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
