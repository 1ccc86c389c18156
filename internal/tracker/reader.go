package tracker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Reader reads the input file sequentially, one newline-terminated line
// per call. The byte offset advances only past complete lines, so it is
// always a valid resume point for checkpointing.
type Reader struct {
	file   *os.File
	buf    *bufio.Reader
	path   string
	offset int64
}

// OpenReader opens the input file for sequential reading.
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}

	return &Reader{
		file: file,
		buf:  bufio.NewReader(file),
		path: path,
	}, nil
}

// SeekTo positions the reader at the given byte offset. Used once on
// startup when resuming from a checkpoint.
func (r *Reader) SeekTo(offset int64) error {
	_, err := r.file.Seek(offset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("seek input file: %w", err)
	}

	r.offset = offset
	r.buf.Reset(r.file)

	return nil
}

// Next reads one line. It returns ok=false at end of input. A trailing
// line without a terminating newline is not emitted: the reader rewinds
// so a later call retries once the writer has appended the newline.
func (r *Reader) Next() (string, bool, error) {
	line, err := r.buf.ReadString('\n')
	if err == nil {
		r.offset += int64(len(line))

		return strings.TrimSuffix(line, "\n"), true, nil
	}

	if errors.Is(err, io.EOF) {
		if len(line) > 0 {
			rewindErr := r.SeekTo(r.offset)
			if rewindErr != nil {
				return "", false, rewindErr
			}
		}

		return "", false, nil
	}

	return "", false, fmt.Errorf("read input file: %w", err)
}

// Offset returns the byte offset after the last emitted line.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Size returns the current size of the input file on disk.
func (r *Reader) Size() (int64, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return 0, fmt.Errorf("stat input file: %w", err)
	}

	return info.Size(), nil
}

// AtEOF reports whether every byte of the input file has been consumed.
// It stats the file rather than trusting a sticky EOF, so input that
// grows while the server runs is picked up.
func (r *Reader) AtEOF() (bool, error) {
	size, err := r.Size()
	if err != nil {
		return false, err
	}

	return r.offset >= size, nil
}

// Close closes the input file.
func (r *Reader) Close() error {
	err := r.file.Close()
	if err != nil {
		return fmt.Errorf("close input file: %w", err)
	}

	return nil
}
