package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchInserter persists audit events. It exists to allow testing without a
// real database.
type BatchInserter interface {
	BatchInsert(ctx context.Context, events []Event) error
}

// FlushRecorder observes collector flushes.
type FlushRecorder interface {
	RecordAuditFlush(events int, err error)
}

// Collector buffers events in memory and flushes them to the store in
// batches. It is safe for concurrent use.
type Collector struct {
	store         BatchInserter
	buffer        []Event
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	finished      chan struct{}
	running       bool
	stopOnce      sync.Once
	metrics       FlushRecorder
	now           func() time.Time
}

// NewCollector creates a Collector that flushes when the buffer reaches
// batchSize or every flushInterval, whichever comes first.
func NewCollector(store BatchInserter, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		store:         store,
		buffer:        make([]Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		finished:      make(chan struct{}),
		now:           time.Now,
	}
}

// SetMetrics attaches a flush observer.
func (c *Collector) SetMetrics(m FlushRecorder) { c.metrics = m }

// Start flushes buffered events on a timer. It blocks until Stop is called
// or ctx is cancelled, flushing once more before returning.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	defer close(c.finished)

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		case <-c.done:
			c.flush()
			return
		}
	}
}

// Record buffers e, assigning an id and timestamp when missing. Reaching
// batchSize triggers an immediate flush.
func (c *Collector) Record(ctx context.Context, e Event) {
	e = Enrich(ctx, e)
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, e)
	shouldFlush := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if shouldFlush {
		c.flush()
	}
}

// Flush writes any buffered events now.
func (c *Collector) Flush() { c.flush() }

func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]Event, 0, c.batchSize)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.store.BatchInsert(ctx, batch)
	if err != nil {
		slog.Error("failed to flush audit events", "count", len(batch), "error", err)
	}
	if c.metrics != nil {
		c.metrics.RecordAuditFlush(len(batch), err)
	}
}

// Stop signals Start to return and waits for its final flush. Without a
// running Start, Stop flushes directly. It is safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		<-c.finished
		return
	}
	c.flush()
}
