package journal

import (
	"context"
	"sync"
)

// MemoryStore 使用固定容量的环形缓冲保存最近的调用。
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	nextID  int64
}

// NewMemoryStore 创建容量为 capacity 的内存日志。
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryStore{entries: make([]Entry, capacity)}
}

// Record 追加一条记录，容量满时覆盖最旧的记录。
func (s *MemoryStore) Record(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	s.entries[s.next] = entry
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent 按从新到旧返回最多 limit 条记录。
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.full {
		size = len(s.entries)
	}
	if limit > size {
		limit = size
	}
	out := make([]Entry, 0, limit)
	idx := s.next
	for i := 0; i < limit; i++ {
		idx = (idx - 1 + len(s.entries)) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out, nil
}

// Close 实现 Store。
func (s *MemoryStore) Close() error { return nil }
