package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mkumaran/message-search/pkg/kafka"
)

// Publisher is the slice of the Kafka producer the collector needs.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector buffers search events and flushes them to Kafka when the buffer
// reaches batchSize or after flushInterval, whichever comes first.
type Collector struct {
	publisher     Publisher
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

// NewCollector creates a Collector.
func NewCollector(publisher Publisher, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop, which runs until ctx is
// cancelled and performs a final flush on shutdown.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track buffers one event, triggering an asynchronous flush when the batch
// is full. A nil Collector is valid and drops the event.
func (c *Collector) Track(event SearchEvent) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: string(event.Type), Value: event})
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()
	if full {
		go c.flush(context.Background())
	}
}

// BufferLen returns the number of buffered events.
func (c *Collector) BufferLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Close waits for the background flush loop to finish.
func (c *Collector) Close() {
	<-c.done
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		// Re-queue best-effort; drop the tail if the buffer keeps growing.
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if max := c.batchSize * 3; len(c.buffer) > max {
			c.logger.Warn("analytics buffer overflow, dropping events", "dropped", len(c.buffer)-max)
			c.buffer = c.buffer[:max]
		}
		c.mu.Unlock()
		return
	}
	c.logger.Debug("batch flushed", "events", len(batch))
}
