package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloads(t *testing.T) {
	path := writeFile(t, "verbose: 0\n")
	cw, err := NewWatcher(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan *Config, 64)
	done := make(chan error, 1)
	go func() {
		done <- cw.Run(ctx, func(c *Config) {
			select {
			case updates <- c:
			default:
			}
		})
	}()

	require.NoError(t, os.WriteFile(path, []byte("verbose: 2\nworkers: 3\n"), 0o644))

	timeout := time.After(10 * time.Second)
	for got := false; !got; {
		select {
		case c := <-updates:
			got = c.Verbose == 2 && c.Workers == 3
		case <-timeout:
			t.Fatal("no reload observed")
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherSkipsInvalidVersions(t *testing.T) {
	path := writeFile(t, "verbose: 1\n")
	cw, err := NewWatcher(path, nil)
	require.NoError(t, err)

	c, err := cw.reload()
	require.NoError(t, err)
	require.Equal(t, 1, c.Verbose)

	require.NoError(t, os.WriteFile(path, []byte("max_heaps: 0\n"), 0o644))
	_, err = cw.reload()
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	c, err = cw.reload()
	require.NoError(t, err)
	require.Nil(t, c)

	require.NoError(t, os.Remove(path))
	c, err = cw.reload()
	require.NoError(t, err)
	require.Nil(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, cw.Run(ctx, func(*Config) { t.Error("unexpected reload") }))
}

func TestNewWatcherMissingDirectory(t *testing.T) {
	_, err := NewWatcher("/definitely/not/here/heap.yaml", nil)
	require.Error(t, err)
}
