package bus

import "sync"

// offsetTracker 记录每个分区在途的位点，只返回“之前全部已处理”的最高位点，
// 并发乱序完成时不会越过仍在处理中的消息。
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	inflight  map[int64]struct{}
	maxSeen   int64
	committed int64
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) partition(p int) *partitionOffsets {
	po, ok := t.partitions[p]
	if !ok {
		po = &partitionOffsets{inflight: make(map[int64]struct{}), maxSeen: -1, committed: -1}
		t.partitions[p] = po
	}
	return po
}

// Fetched registers an offset handed to the dispatcher.
func (t *offsetTracker) Fetched(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	po := t.partition(partition)
	po.inflight[offset] = struct{}{}
	if offset > po.maxSeen {
		po.maxSeen = offset
	}
}

// Done marks offset finished and returns the new commit point, if it advanced.
func (t *offsetTracker) Done(partition int, offset int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	po := t.partition(partition)
	delete(po.inflight, offset)

	commit := po.maxSeen
	for o := range po.inflight {
		if o-1 < commit {
			commit = o - 1
		}
	}
	if commit > po.committed {
		po.committed = commit
		return commit, true
	}
	return 0, false
}

// Pending returns the number of offsets still in flight across partitions.
func (t *offsetTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, po := range t.partitions {
		n += len(po.inflight)
	}
	return n
}
