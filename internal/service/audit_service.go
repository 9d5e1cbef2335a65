package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/toolgate/internal/domain/audit"
)

// finalFlushTimeout bounds the flush performed while stopping.
const finalFlushTimeout = 5 * time.Second

// AuditService writes audit records asynchronously through a buffered
// channel and a single background worker, so the dispatch path never waits
// on the audit sink.
type AuditService struct {
	store         audit.Store
	records       chan audit.Record
	wg            sync.WaitGroup
	stopOnce      sync.Once
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately when full
	dropCount   atomic.Int64
	onDrop      func()

	warningThreshold int          // percent of capacity
	lastWarning      atomic.Int64 // unix nanos, rate-limits depth warnings
}

var _ audit.Recorder = (*AuditService)(nil)

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the audit channel buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets how long Record blocks on a full channel before
// dropping. 0 drops immediately.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
// 0 disables the warning.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = min(max(percent, 0), 100)
	}
}

// WithDropHook is called once per dropped record, e.g. to bump a metric.
func WithDropHook(fn func()) AuditOption {
	return func(s *AuditService) {
		s.onDrop = fn
	}
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		store:            store,
		logger:           logger,
		batchSize:        100,
		flushInterval:    time.Second,
		channelSize:      1000,
		sendTimeout:      100 * time.Millisecond,
		warningThreshold: 80,
		onDrop:           func() {},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.records = make(chan audit.Record, s.channelSize)
	return s
}

// Start begins the background worker that batches and writes audit records.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues a record for the background worker. When the channel is
// full it waits up to the send timeout and then drops the record.
func (s *AuditService) Record(record audit.Record) {
	if s.warningThreshold > 0 {
		depth := len(s.records)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.records <- record:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.records <- record:
	case <-timer.C:
		s.recordDrop(record)
	}
}

func (s *AuditService) recordDrop(record audit.Record) {
	drops := s.dropCount.Add(1)
	s.onDrop()
	s.logger.Warn("audit record dropped",
		"tool", record.ToolName,
		"agent_id", record.AgentID,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns total dropped records.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage.
func (s *AuditService) ChannelDepth() int {
	return len(s.records)
}

// ChannelCapacity returns channel buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the channel, waits for the worker to flush pending records
// and flushes the store. Record must not be called after Stop.
func (s *AuditService) Stop() {
	s.stopOnce.Do(func() {
		close(s.records)
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		defer cancel()
		if err := s.store.Flush(ctx); err != nil {
			s.logger.Error("failed to flush audit store", "error", err)
		}
	})
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	finalFlush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		defer cancel()
		s.write(flushCtx, batch)
	}

	for {
		select {
		case record, ok := <-s.records:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				s.write(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.write(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain until Stop closes the channel.
			for record := range s.records {
				batch = append(batch, record)
			}
			finalFlush()
			return
		}
	}
}

// write errors are logged but not propagated: audit must not fail dispatch.
func (s *AuditService) write(ctx context.Context, batch []audit.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}
