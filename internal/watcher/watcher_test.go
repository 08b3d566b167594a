package watcher_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskexec/internal/watcher"
)

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "taskexec.yaml")
	err := os.WriteFile(configPath, []byte("listen_addr: 127.0.0.1:0"), 0644)
	require.NoError(t, err, "failed to create test config")

	w, err := watcher.New(watcher.Config{
		ConfigPath:  configPath,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")

	for i := 0; i < 10; i++ {
		err := os.WriteFile(configPath, []byte(fmt.Sprintf("listen_addr: 127.0.0.1:%d", i)), 0644)
		require.NoError(t, err, "failed to write file")
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-onChange:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected notification but got timeout")
	}

	select {
	case <-onChange:
		t.Fatal("unexpected second notification")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_IgnoresIrrelevantFiles(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "taskexec.yaml")
	otherPath := filepath.Join(dir, "other.txt")
	err := os.WriteFile(configPath, []byte("listen_addr: 127.0.0.1:0"), 0644)
	require.NoError(t, err, "failed to create config file")
	err = os.WriteFile(otherPath, []byte("initial"), 0644)
	require.NoError(t, err, "failed to create other file")

	w, err := watcher.New(watcher.Config{
		ConfigPath:  configPath,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")

	err = os.WriteFile(otherPath, []byte("other content"), 0644)
	require.NoError(t, err, "failed to write other file")

	select {
	case <-onChange:
		t.Fatal("should not notify for unrelated files")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_Stop(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "taskexec.yaml")
	err := os.WriteFile(configPath, []byte("listen_addr: 127.0.0.1:0"), 0644)
	require.NoError(t, err, "failed to create test config")

	w, err := watcher.New(watcher.Config{
		ConfigPath:  configPath,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")

	_, err = w.Start()
	require.NoError(t, err, "failed to start watcher")

	done := make(chan struct{})
	go func() {
		err := w.Stop()
		assert.NoError(t, err, "Stop returned error")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Stop() timed out - possible deadlock")
	}
}

func TestWatcher_WatchesPluginDir(t *testing.T) {
	configDir := t.TempDir()
	pluginDir := t.TempDir()
	configPath := filepath.Join(configDir, "taskexec.yaml")

	err := os.WriteFile(configPath, []byte("listen_addr: 127.0.0.1:0"), 0644)
	require.NoError(t, err, "failed to create config file")

	w, err := watcher.New(watcher.Config{
		ConfigPath:  configPath,
		PluginDirs:  []string{pluginDir},
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")

	pluginPath := filepath.Join(pluginDir, "new_plugin.py")
	err = os.WriteFile(pluginPath, []byte("# plugin"), 0644)
	require.NoError(t, err, "failed to write plugin file")

	select {
	case <-onChange:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected notification for new file in plugin dir")
	}
}

func TestDefaultConfig(t *testing.T) {
	configPath := "/test/taskexec.yaml"
	cfg := watcher.DefaultConfig(configPath, []string{"/opt/plugins"})

	assert.Equal(t, configPath, cfg.ConfigPath)
	assert.Equal(t, []string{"/opt/plugins"}, cfg.PluginDirs)
	assert.Equal(t, 100*time.Millisecond, cfg.DebounceDur)
}
