package eventbus

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"example.com/commerce/internal/domain"
)

// StreamEntry is one event on the real-time stream.
type StreamEntry struct {
	ID    string       `json:"id"`
	Event domain.Event `json:"event"`
}

// Stream is the bounded, append-only real-time feed every published event is
// copied to. Readers tail it by position and are independent of topic
// subscriptions; old entries are trimmed.
type Stream interface {
	Append(ctx context.Context, evt domain.Event) error
	// Read returns up to count entries strictly after position after. An
	// empty after reads from the oldest retained entry.
	Read(ctx context.Context, after string, count int64) ([]StreamEntry, error)
}

// MemoryStream is an in-process Stream keeping the newest maxLen entries.
type MemoryStream struct {
	mu      sync.RWMutex
	maxLen  int
	seq     uint64
	entries []memoryEntry
}

type memoryEntry struct {
	seq   uint64
	event domain.Event
}

// NewMemoryStream creates a stream retaining at most maxLen entries; a
// non-positive maxLen keeps everything.
func NewMemoryStream(maxLen int) *MemoryStream {
	return &MemoryStream{maxLen: maxLen}
}

func (s *MemoryStream) Append(_ context.Context, evt domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.entries = append(s.entries, memoryEntry{seq: s.seq, event: evt})
	if s.maxLen > 0 && len(s.entries) > s.maxLen {
		trimmed := make([]memoryEntry, s.maxLen)
		copy(trimmed, s.entries[len(s.entries)-s.maxLen:])
		s.entries = trimmed
	}
	return nil
}

func (s *MemoryStream) Read(_ context.Context, after string, count int64) ([]StreamEntry, error) {
	var from uint64
	if after != "" {
		n, err := strconv.ParseUint(after, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stream position %q: %w", after, err)
		}
		from = n
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []StreamEntry
	for _, e := range s.entries {
		if e.seq <= from {
			continue
		}
		out = append(out, StreamEntry{ID: strconv.FormatUint(e.seq, 10), Event: e.event})
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// Len returns the number of retained entries.
func (s *MemoryStream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ Stream = (*MemoryStream)(nil)
