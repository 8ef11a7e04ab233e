package kafka

import (
	"sync"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/stream"
)

// offsetTracker keeps the committable position of one partition: the first
// delivered offset that has not been resolved. Offsets resolved past an
// unresolved one are held back until the gap closes.
type offsetTracker struct {
	mu        sync.Mutex
	pending   []int64
	resolved  map[int64]struct{}
	watermark int64
	committed int64
	last      int64
}

// newOffsetTracker starts at the position handed out by the group, which may
// be one of the relative FirstOffset/LastOffset values.
func newOffsetTracker(start int64) *offsetTracker {
	return &offsetTracker{
		resolved:  make(map[int64]struct{}),
		watermark: start,
		committed: start,
		last:      start - 1,
	}
}

func (t *offsetTracker) deliver(msgs []stream.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range msgs {
		if len(t.pending) > 0 && m.Offset <= t.pending[len(t.pending)-1] {
			continue
		}
		if t.watermark < 0 {
			t.watermark = m.Offset
			t.committed = m.Offset
		}
		if m.Offset < t.watermark {
			continue
		}
		t.pending = append(t.pending, m.Offset)
		t.last = m.Offset
	}
}

func (t *offsetTracker) resolve(offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if offset < t.watermark {
		return
	}
	t.resolved[offset] = struct{}{}
	for len(t.pending) > 0 {
		head := t.pending[0]
		if _, ok := t.resolved[head]; !ok {
			break
		}
		delete(t.resolved, head)
		t.pending = t.pending[1:]
		t.watermark = head + 1
	}
}

// resume drops everything not yet part of the resolved prefix and returns the
// offset to read from next.
func (t *offsetTracker) resume() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.last + 1
	if len(t.pending) > 0 {
		next = t.pending[0]
	}
	if t.watermark < 0 {
		next = t.watermark
	}
	t.pending = t.pending[:0]
	clear(t.resolved)
	t.last = next - 1
	return next
}

// uncommitted returns the watermark if it moved since the last commit.
func (t *offsetTracker) uncommitted() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watermark < 0 || t.watermark == t.committed {
		return 0, false
	}
	return t.watermark, true
}

func (t *offsetTracker) markCommitted(offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if offset > t.committed {
		t.committed = offset
	}
}
