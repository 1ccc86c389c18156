// Package tracker implements the dispatcher's data-tracker state machine:
// it issues input rows to workers, reissues rows whose deadline passed,
// buffers out-of-order results, flushes contiguous runs to the output
// file, and checkpoints progress.
package tracker

import (
	"container/heap"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/LumiOpen/translation-dispatcher/internal/checkpoint"
)

// Default timing parameters.
const (
	// DefaultWorkTimeout is the deadline after which issued work is
	// eligible for reissue.
	DefaultWorkTimeout = 3600 * time.Second
	// DefaultCheckpointInterval is the minimum time between checkpoint
	// writes.
	DefaultCheckpointInterval = 60 * time.Second
)

// Sentinel errors surfaced by tracker operations.
var (
	// ErrUnknownWorkID indicates a completion referenced a work id that
	// was never issued. The whole batch is rejected without mutation.
	ErrUnknownWorkID = errors.New("unknown work id")
)

// Item is one unit of work handed to a worker.
type Item struct {
	WorkID  uint64
	Content string
}

// Result is one completed unit of work submitted by a worker. Data is
// the raw output line, newline excluded; the tracker never inspects it.
type Result struct {
	WorkID uint64
	Data   []byte
}

// Stats is a point-in-time snapshot of tracker state for observability.
type Stats struct {
	Issued               int
	PendingWrite         int
	HeapSize             int
	LastProcessedWorkID  int64
	NextWorkID           uint64
	ExpiredReissues      uint64
	DuplicateCompletions uint64
	InputEOF             bool
}

// Config holds tracker construction parameters.
type Config struct {
	InputPath      string
	OutputPath     string
	CheckpointPath string

	WorkTimeout        time.Duration
	CheckpointInterval time.Duration

	Logger *slog.Logger

	// Now overrides the clock; nil means time.Now. Tests use this to
	// drive expiration without sleeping.
	Now func() time.Time
}

// issuedItem is the tracked state of one outstanding issuance.
type issuedItem struct {
	expiresAt time.Time
	content   string
}

// Tracker owns all mutable dispatcher state and both file handles.
// Every public operation serializes on one mutex; the correctness of
// the flush and checkpoint ordering rests on that single lock.
type Tracker struct {
	mu sync.Mutex

	reader *Reader
	writer *Writer
	store  *checkpoint.Store

	workTimeout        time.Duration
	checkpointInterval time.Duration

	issued       map[uint64]issuedItem
	issuedHeap   issuanceHeap
	pendingWrite map[uint64][]byte

	nextWorkID          uint64
	lastProcessedWorkID int64

	lastCheckpointTime   time.Time
	expiredReissues      uint64
	duplicateCompletions uint64

	logger *slog.Logger
	now    func() time.Time
}

// Open builds a tracker from the given configuration, loading any
// existing checkpoint and reconciling it against the files on disk.
func Open(cfg Config) (*Tracker, error) {
	if cfg.WorkTimeout <= 0 {
		cfg.WorkTimeout = DefaultWorkTimeout
	}

	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	store := checkpoint.NewStore(cfg.CheckpointPath)

	rec, loadErr := store.Load()
	corrupt := errors.Is(loadErr, checkpoint.ErrCorrupt)

	if loadErr != nil && !corrupt {
		return nil, loadErr
	}

	reader, err := OpenReader(cfg.InputPath)
	if err != nil {
		return nil, err
	}

	writer, err := OpenWriter(cfg.OutputPath)
	if err != nil {
		reader.Close()

		return nil, err
	}

	t := &Tracker{
		reader:              reader,
		writer:              writer,
		store:               store,
		workTimeout:         cfg.WorkTimeout,
		checkpointInterval:  cfg.CheckpointInterval,
		issued:              make(map[uint64]issuedItem),
		pendingWrite:        make(map[uint64][]byte),
		lastProcessedWorkID: -1,
		logger:              cfg.Logger,
		now:                 cfg.Now,
	}

	restoreErr := t.restore(rec, corrupt)
	if restoreErr != nil {
		reader.Close()
		writer.Close()

		return nil, restoreErr
	}

	t.lastCheckpointTime = t.now()

	return t, nil
}

// restore applies a loaded checkpoint record and reconciles it against
// the files on disk. Output lines written after the last checkpoint are
// counted and the input reader is advanced past the corresponding rows;
// the checkpoint is conservative, so it is never ahead of the output.
func (t *Tracker) restore(rec *checkpoint.Record, corrupt bool) error {
	if rec == nil {
		return t.checkFreshStart(corrupt)
	}

	inputSize, err := t.reader.Size()
	if err != nil {
		return err
	}

	if rec.InputOffset > uint64(inputSize) {
		return fmt.Errorf("%w: input offset %d past end of file (%d bytes)",
			checkpoint.ErrInconsistent, rec.InputOffset, inputSize)
	}

	outputSize, err := t.writer.Size()
	if err != nil {
		return err
	}

	if rec.OutputOffset > uint64(outputSize) {
		return fmt.Errorf("%w: output offset %d past end of file (%d bytes)",
			checkpoint.ErrInconsistent, rec.OutputOffset, outputSize)
	}

	seekErr := t.reader.SeekTo(int64(rec.InputOffset))
	if seekErr != nil {
		return seekErr
	}

	t.lastProcessedWorkID = rec.LastProcessedWorkID

	extra, end, countErr := t.writer.CountLinesFrom(int64(rec.OutputOffset))
	if countErr != nil {
		return countErr
	}

	// A crash between output write and checkpoint may leave a partial
	// trailing line; drop it so the next append starts on a line boundary.
	if end < outputSize {
		truncErr := t.writer.Truncate(end)
		if truncErr != nil {
			return truncErr
		}
	}

	// Skip one input row per reconciled output line.
	for i := 0; i < extra; i++ {
		_, ok, nextErr := t.reader.Next()
		if nextErr != nil {
			return nextErr
		}

		if !ok {
			return fmt.Errorf("%w: output has %d lines past checkpoint but input is exhausted",
				checkpoint.ErrInconsistent, extra)
		}
	}

	t.lastProcessedWorkID += int64(extra)
	t.nextWorkID = uint64(t.lastProcessedWorkID + 1)

	if extra > 0 {
		t.logger.Info("reconciled output lines written after last checkpoint",
			"extra_lines", extra,
			"last_processed_work_id", t.lastProcessedWorkID)
	}

	return nil
}

// checkFreshStart guards the cold-start path: a checkpoint file that
// exists but is empty or unparseable while the output file has data
// means progress tracking was lost, and restarting from row zero would
// append duplicates after the existing output lines.
func (t *Tracker) checkFreshStart(corrupt bool) error {
	info, err := os.Stat(t.store.Path())
	if err != nil {
		return nil
	}

	outputSize, sizeErr := t.writer.Size()
	if sizeErr != nil {
		return sizeErr
	}

	if outputSize == 0 {
		return nil
	}

	if corrupt {
		return fmt.Errorf("%w: checkpoint file is unparseable but output file has %d bytes",
			checkpoint.ErrInconsistent, outputSize)
	}

	if info.Size() == 0 {
		return fmt.Errorf("%w: checkpoint file is empty but output file has %d bytes",
			checkpoint.ErrInconsistent, outputSize)
	}

	return nil
}

// GetWorkBatch returns up to n items: expired reissues first, then new
// rows from the input. An empty batch means nothing is available right
// now; the caller decides between retry and completion.
func (t *Tracker) GetWorkBatch(n int) ([]Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	batch := make([]Item, 0, n)

	for len(batch) < n && t.issuedHeap.Len() > 0 {
		top := t.issuedHeap[0]

		item, live := t.issued[top.workID]
		if !live || !item.expiresAt.Equal(top.expiresAt) {
			// Stale entry left behind by a completion or reissue.
			heap.Pop(&t.issuedHeap)

			continue
		}

		if top.expiresAt.After(now) {
			break
		}

		heap.Pop(&t.issuedHeap)

		expiresAt := now.Add(t.workTimeout)
		t.issued[top.workID] = issuedItem{expiresAt: expiresAt, content: item.content}
		heap.Push(&t.issuedHeap, issuanceEntry{expiresAt: expiresAt, workID: top.workID})
		t.expiredReissues++

		batch = append(batch, Item{WorkID: top.workID, Content: item.content})
	}

	for len(batch) < n {
		content, ok, err := t.reader.Next()
		if err != nil {
			return nil, err
		}

		if !ok {
			break
		}

		workID := t.nextWorkID
		t.nextWorkID++

		expiresAt := now.Add(t.workTimeout)
		t.issued[workID] = issuedItem{expiresAt: expiresAt, content: content}
		heap.Push(&t.issuedHeap, issuanceEntry{expiresAt: expiresAt, workID: workID})

		batch = append(batch, Item{WorkID: workID, Content: content})
	}

	return batch, nil
}

// CompleteWorkBatch records the given results. A work id that was never
// issued rejects the whole batch via ErrUnknownWorkID with no state
// change; duplicate completions are discarded item by item. After the
// batch is applied the contiguous prefix is flushed and a checkpoint is
// written if the interval has elapsed. Any returned error other than
// ErrUnknownWorkID is a fatal I/O failure.
func (t *Tracker) CompleteWorkBatch(results []Result) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, res := range results {
		if res.WorkID >= t.nextWorkID {
			return fmt.Errorf("%w: %d", ErrUnknownWorkID, res.WorkID)
		}
	}

	for _, res := range results {
		if t.lastProcessedWorkID >= 0 && res.WorkID <= uint64(t.lastProcessedWorkID) {
			t.duplicateCompletions++
			t.logger.Debug("discarding late duplicate completion", "work_id", res.WorkID)

			continue
		}

		_, live := t.issued[res.WorkID]
		if !live {
			t.duplicateCompletions++
			t.logger.Debug("discarding completion for unissued work", "work_id", res.WorkID)

			continue
		}

		// The heap entry goes stale implicitly and is filtered on pop.
		delete(t.issued, res.WorkID)
		t.pendingWrite[res.WorkID] = res.Data
	}

	err := t.flush()
	if err != nil {
		return err
	}

	return t.maybeCheckpoint()
}

// flush appends the longest contiguous run of pending results to the
// output file as a single combined write. Caller holds the lock.
func (t *Tracker) flush() error {
	var lines [][]byte

	next := uint64(t.lastProcessedWorkID + 1)
	for {
		data, ok := t.pendingWrite[next]
		if !ok {
			break
		}

		lines = append(lines, data)
		next++
	}

	if len(lines) == 0 {
		return nil
	}

	err := t.writer.Append(lines)
	if err != nil {
		return err
	}

	for i := range lines {
		delete(t.pendingWrite, uint64(t.lastProcessedWorkID+1)+uint64(i))
	}

	t.lastProcessedWorkID += int64(len(lines))

	return nil
}

// maybeCheckpoint writes a checkpoint when the interval has elapsed.
// Flush has always completed before this runs, so the recorded offsets
// are consistent with lastProcessedWorkID. Caller holds the lock.
func (t *Tracker) maybeCheckpoint() error {
	now := t.now()
	if now.Sub(t.lastCheckpointTime) < t.checkpointInterval {
		return nil
	}

	err := t.writeCheckpoint()
	if err != nil {
		return err
	}

	t.lastCheckpointTime = now

	return nil
}

// writeCheckpoint persists the current progress record. Caller holds
// the lock.
func (t *Tracker) writeCheckpoint() error {
	rec := checkpoint.Record{
		LastProcessedWorkID: t.lastProcessedWorkID,
		InputOffset:         uint64(t.reader.Offset()),
		OutputOffset:        uint64(t.writer.Offset()),
	}

	err := t.store.Write(rec)
	if err != nil {
		return err
	}

	t.logger.Info("checkpoint written",
		"last_processed_work_id", rec.LastProcessedWorkID,
		"input_offset", rec.InputOffset,
		"output_offset", rec.OutputOffset,
		"issued", len(t.issued),
		"pending_write", len(t.pendingWrite),
		"expired_reissues", t.expiredReissues)

	return nil
}

// AllWorkComplete reports whether the input is exhausted and no issued
// or buffered work remains.
func (t *Tracker) AllWorkComplete() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	eof, err := t.reader.AtEOF()
	if err != nil {
		return false, err
	}

	return eof && len(t.issued) == 0 && len(t.pendingWrite) == 0, nil
}

// NextRetryHint returns how long a worker should wait before asking for
// work again: the time until the soonest issuance expires, clamped to
// [1s, maxWait], or fallback when nothing is outstanding.
func (t *Tracker) NextRetryHint(fallback, maxWait time.Duration) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.issuedHeap.Len() > 0 {
		top := t.issuedHeap[0]

		item, live := t.issued[top.workID]
		if !live || !item.expiresAt.Equal(top.expiresAt) {
			heap.Pop(&t.issuedHeap)

			continue
		}

		until := top.expiresAt.Sub(t.now())
		if until < time.Second {
			until = time.Second
		}

		if until > maxWait {
			until = maxWait
		}

		return until
	}

	return fallback
}

// Stats returns a snapshot of tracker counters.
func (t *Tracker) Stats() (Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	eof, err := t.reader.AtEOF()
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Issued:               len(t.issued),
		PendingWrite:         len(t.pendingWrite),
		HeapSize:             t.issuedHeap.Len(),
		LastProcessedWorkID:  t.lastProcessedWorkID,
		NextWorkID:           t.nextWorkID,
		ExpiredReissues:      t.expiredReissues,
		DuplicateCompletions: t.duplicateCompletions,
		InputEOF:             eof,
	}, nil
}

// Close flushes pending results, writes a final checkpoint, and closes
// both files.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	flushErr := t.flush()
	checkpointErr := t.writeCheckpoint()
	readerErr := t.reader.Close()
	writerErr := t.writer.Close()

	return errors.Join(flushErr, checkpointErr, readerErr, writerErr)
}
