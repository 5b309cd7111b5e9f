package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fc.yaml", "policy:\n  pixel_count_threshold: 10\n")

	w, err := NewWatcher(path, "", 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, func(c *Config) { got <- c }) }()

	// Broken content is skipped, then a valid edit is delivered.
	require.NoError(t, os.WriteFile(path, []byte("policy: [\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  pixel_count_threshold: 25\n"), 0o644))

	select {
	case cfg := <-got:
		assert.Equal(t, int64(25), cfg.Policy.PixelCountThreshold)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload delivered")
	}

	// A single save can produce more than one event; drain any repeats.
	time.Sleep(100 * time.Millisecond)
	for len(got) > 0 {
		<-got
	}

	// Unrelated files in the directory are ignored.
	writeFile(t, dir, "other.yaml", "x: 1\n")
	select {
	case cfg := <-got:
		t.Fatalf("unexpected reload: %+v", cfg.Policy)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewWatcherMissingDir(t *testing.T) {
	_, err := NewWatcher("/nonexistent/dir/fc.yaml", "", 0)
	assert.Error(t, err)
}
