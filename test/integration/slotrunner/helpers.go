package slotrunner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/slok/slotrunner/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	// go test changes the CWD to the test package directory, relative paths would be ambiguous.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("SLOTRUNNER_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("slotrunner binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "SLOTRUNNER_INTEGRATION"
		envBinary     = "SLOTRUNNER_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{Binary: os.Getenv(envBinary)}
	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RunCmd runs a slotrunner command isolated on a data dir. It suppresses logging output
// for cleaner test output.
func RunCmd(ctx context.Context, config Config, dataDir, cmdArgs string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("--no-log --data-dir %s %s", dataDir, cmdArgs)
	return testutils.RunSlotrunner(ctx, nil, config.Binary, args, true)
}

// RunFake runs the accounts against the fake engine demo site without pauses between batches.
func RunFake(ctx context.Context, config Config, dataDir, accountsPath, extraArgs string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("run --engine fake --accounts %s --batch-pause 1ms --format json %s", accountsPath, extraArgs)
	return RunCmd(ctx, config, dataDir, args)
}

// WriteFile writes a file in the directory and returns its path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("could not write %s: %s", path, err)
	}
	return path
}
