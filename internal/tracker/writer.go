package tracker

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// File permissions for the output file.
const outputPerm = 0o644

// Writer appends result lines to the output file. The tracker guarantees
// Append is only called with the next contiguous run of results, so the
// writer itself carries no ordering logic. Writes reach the OS buffer on
// every call; durability comes from the checkpoint fsync.
type Writer struct {
	file   *os.File
	offset int64
}

// OpenWriter opens (or creates) the output file for appending.
func OpenWriter(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, outputPerm)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	info, statErr := file.Stat()
	if statErr != nil {
		file.Close()

		return nil, fmt.Errorf("stat output file: %w", statErr)
	}

	return &Writer{
		file:   file,
		offset: info.Size(),
	}, nil
}

// Append writes the given lines, each terminated by a single newline, as
// one combined write at the end of the file.
func (w *Writer) Append(lines [][]byte) error {
	if len(lines) == 0 {
		return nil
	}

	var buf bytes.Buffer

	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}

	_, err := w.file.WriteAt(buf.Bytes(), w.offset)
	if err != nil {
		return fmt.Errorf("write output file: %w", err)
	}

	w.offset += int64(buf.Len())

	return nil
}

// Offset returns the byte offset at the end of the written output.
func (w *Writer) Offset() int64 {
	return w.offset
}

// Size returns the current size of the output file.
func (w *Writer) Size() (int64, error) {
	info, err := w.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat output file: %w", err)
	}

	return info.Size(), nil
}

// CountLinesFrom counts complete newline-terminated lines between the
// given offset and end-of-file, returning the count and the offset just
// past the last complete line. Used on resume to reconcile output lines
// written after the last checkpoint.
func (w *Writer) CountLinesFrom(offset int64) (int, int64, error) {
	_, err := w.file.Seek(offset, io.SeekStart)
	if err != nil {
		return 0, 0, fmt.Errorf("seek output file: %w", err)
	}

	reader := bufio.NewReader(w.file)
	count := 0
	end := offset

	for {
		line, readErr := reader.ReadString('\n')
		if readErr == nil {
			count++
			end += int64(len(line))

			continue
		}

		if errors.Is(readErr, io.EOF) {
			return count, end, nil
		}

		return 0, 0, fmt.Errorf("read output file: %w", readErr)
	}
}

// Truncate discards everything past the given offset. Used on resume to
// drop a partially written trailing line.
func (w *Writer) Truncate(offset int64) error {
	err := w.file.Truncate(offset)
	if err != nil {
		return fmt.Errorf("truncate output file: %w", err)
	}

	w.offset = offset

	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	err := w.file.Close()
	if err != nil {
		return fmt.Errorf("close output file: %w", err)
	}

	return nil
}
