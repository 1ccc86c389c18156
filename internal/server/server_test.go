package server

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LumiOpen/translation-dispatcher/internal/tracker"
	"github.com/LumiOpen/translation-dispatcher/pkg/observability"
)

func newTestServer(t *testing.T, rows string) (*Server, *tracker.Tracker, string) {
	t.Helper()

	dir := t.TempDir()
	infile := filepath.Join(dir, "input.jsonl")
	outfile := filepath.Join(dir, "output.jsonl")

	require.NoError(t, os.WriteFile(infile, []byte(rows), 0o644))

	tr, err := tracker.Open(tracker.Config{
		InputPath:      infile,
		OutputPath:     outfile,
		CheckpointPath: outfile + ".checkpoint",
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	providers, err := observability.Init(observability.DefaultConfig())
	require.NoError(t, err)

	providers.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := New(Config{
		Host:         "127.0.0.1",
		Port:         0,
		RetryHint:    time.Second,
		MaxBatchSize: 1024,
		ShutdownPoll: 20 * time.Millisecond,
	}, tr, providers)
	require.NoError(t, err)

	return srv, tr, outfile
}

func TestServer_Run_ExitsWhenWorkComplete(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, "")

	done := make(chan error, 1)

	go func() {
		done <- srv.Run(context.Background())
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after completion")
	}
}

func TestServer_Run_ExitsOnCancel(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, "A\nB\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down on cancel")
	}
}

func TestServer_Run_WritesCheckpointOnShutdown(t *testing.T) {
	t.Parallel()

	srv, tr, outfile := newTestServer(t, "A\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)

	_, err := tr.GetWorkBatch(1)
	require.NoError(t, err)
	require.NoError(t, tr.CompleteWorkBatch([]tracker.Result{{WorkID: 0, Data: []byte("a")}}))

	// Completion triggers self-shutdown with a final checkpoint.
	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not shut down after completion")
	}

	cancel()

	data, readErr := os.ReadFile(outfile)
	require.NoError(t, readErr)
	assert.Equal(t, "a\n", string(data))

	_, statErr := os.Stat(outfile + ".checkpoint")
	assert.NoError(t, statErr)
}
