package migration

import (
	"context"

	"github.com/casebridge/casebridge/internal/provider"
)

// Batch is a bounded set of artifact IDs processed together by one worker.
// Index is the position in the overall batch sequence and is the unit of
// resumability.
type Batch struct {
	Index int
	Type  provider.ArtifactType
	IDs   []string
}

// Batcher partitions an ID cursor into fixed-size batches lazily, never
// materializing the full ID list. It is forward-only; restarting from a batch
// index means consuming and discarding earlier batches.
type Batcher struct {
	cursor     provider.IDCursor
	typ        provider.ArtifactType
	batchSize  int
	nextIndex  int
	startIndex int
	done       bool
}

// NewBatcher creates a batcher over a cursor. startIndex skips the first
// startIndex batches, for resume-after-pause; returned batches keep their
// original indexes.
func NewBatcher(cursor provider.IDCursor, typ provider.ArtifactType, batchSize, startIndex int) *Batcher {
	return &Batcher{
		cursor:     cursor,
		typ:        typ,
		batchSize:  batchSize,
		startIndex: startIndex,
	}
}

// Next produces the next batch, or nil once the cursor is exhausted.
func (b *Batcher) Next(ctx context.Context) (*Batch, error) {
	for {
		batch, err := b.read(ctx)
		if err != nil || batch == nil {
			return nil, err
		}
		if batch.Index < b.startIndex {
			// Skipped during resume.
			continue
		}
		return batch, nil
	}
}

func (b *Batcher) read(ctx context.Context) (*Batch, error) {
	if b.done {
		return nil, nil
	}

	ids := make([]string, 0, b.batchSize)
	for len(ids) < b.batchSize {
		id, ok, err := b.cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			b.done = true
			break
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	batch := &Batch{Index: b.nextIndex, Type: b.typ, IDs: ids}
	b.nextIndex++
	return batch, nil
}

// NumBatches returns ceil(total/batchSize).
func NumBatches(total, batchSize int) int {
	if total <= 0 || batchSize <= 0 {
		return 0
	}
	return (total + batchSize - 1) / batchSize
}

// limitCursor caps a cursor at n IDs, for test-scope sample runs.
type limitCursor struct {
	inner provider.IDCursor
	left  int
}

func newLimitCursor(inner provider.IDCursor, n int) *limitCursor {
	return &limitCursor{inner: inner, left: n}
}

func (c *limitCursor) Next(ctx context.Context) (string, bool, error) {
	if c.left <= 0 {
		return "", false, nil
	}
	id, ok, err := c.inner.Next(ctx)
	if err != nil || !ok {
		return "", false, err
	}
	c.left--
	return id, true, nil
}
