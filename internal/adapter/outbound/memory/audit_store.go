package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/Sentinel-Gate/toolgate/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore implements audit.Store writing JSON lines to a writer and
// keeping a bounded ring of recent records.
type AuditStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	recent  []audit.Record
	next    int // ring write position once full
	cap     int
}

// Compile-time interface verification.
var _ audit.Store = (*AuditStore)(nil)

// NewAuditStore creates an audit store writing to w. capacity <= 0 uses
// the default ring size.
func NewAuditStore(w io.Writer, capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	return &AuditStore{
		encoder: json.NewEncoder(w),
		writer:  w,
		recent:  make([]audit.Record, 0, capacity),
		cap:     capacity,
	}
}

// Append writes each record as one JSON line.
func (s *AuditStore) Append(_ context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.encoder.Encode(r); err != nil {
			return err
		}
		if len(s.recent) < s.cap {
			s.recent = append(s.recent, r)
			continue
		}
		s.recent[s.next] = r
		s.next = (s.next + 1) % s.cap
	}
	return nil
}

// Flush syncs the writer when it is a file.
func (s *AuditStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Sync()
	}
	return nil
}

// Close closes the writer unless it is stdout or stderr.
func (s *AuditStore) Close() error {
	if c, ok := s.writer.(io.Closer); ok && s.writer != os.Stdout && s.writer != os.Stderr {
		return c.Close()
	}
	return nil
}

// Recent returns up to n records, newest first.
func (s *AuditStore) Recent(n int) []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.recent)
	n = min(n, total)
	if n <= 0 {
		return nil
	}
	// Newest record sits just before the write position once the ring wrapped.
	newest := total - 1
	if total == s.cap {
		newest = (s.next - 1 + s.cap) % s.cap
	}
	out := make([]audit.Record, n)
	for i := 0; i < n; i++ {
		out[i] = s.recent[(newest-i+total)%total]
	}
	return out
}
