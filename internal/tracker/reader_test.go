package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeInput creates an input file with the given raw content.
func writeInput(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestReader_Sequential(t *testing.T) {
	t.Parallel()

	r, err := OpenReader(writeInput(t, "alpha\nbeta\ngamma\n"))
	require.NoError(t, err)

	defer r.Close()

	for _, want := range []string{"alpha", "beta", "gamma"} {
		line, ok, nextErr := r.Next()
		require.NoError(t, nextErr)
		require.True(t, ok)
		assert.Equal(t, want, line)
	}

	_, ok, err := r.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	eof, err := r.AtEOF()
	require.NoError(t, err)
	assert.True(t, eof)
}

func TestReader_EmptyLines(t *testing.T) {
	t.Parallel()

	r, err := OpenReader(writeInput(t, "\n\nrow\n"))
	require.NoError(t, err)

	defer r.Close()

	line, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, line)

	line, ok, err = r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, line)

	line, ok, err = r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "row", line)
}

func TestReader_OffsetAdvancesPerLine(t *testing.T) {
	t.Parallel()

	r, err := OpenReader(writeInput(t, "ab\ncdef\n"))
	require.NoError(t, err)

	defer r.Close()

	_, _, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.Offset())

	_, _, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(8), r.Offset())
}

func TestReader_TrailingPartialLineNotEmitted(t *testing.T) {
	t.Parallel()

	path := writeInput(t, "done\npartial")

	r, err := OpenReader(path)
	require.NoError(t, err)

	defer r.Close()

	line, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "done", line)

	// The unterminated tail is withheld and the offset stays put.
	_, ok, err = r.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(5), r.Offset())

	eof, err := r.AtEOF()
	require.NoError(t, err)
	assert.False(t, eof)

	// Once the newline arrives the row is emitted.
	f, openErr := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, openErr)

	_, writeErr := f.WriteString("\n")
	require.NoError(t, writeErr)
	require.NoError(t, f.Close())

	line, ok, err = r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "partial", line)
}

func TestReader_SeekTo(t *testing.T) {
	t.Parallel()

	r, err := OpenReader(writeInput(t, "aa\nbb\ncc\n"))
	require.NoError(t, err)

	defer r.Close()

	require.NoError(t, r.SeekTo(6))

	line, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cc", line)
}
