package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxRecords    = 100
	DefaultFlushInterval = 2 * time.Second
	DefaultQueueSize     = 100
	consumeTimeout       = 5 * time.Second
)

type BatcherConfig struct {
	MaxRecords    int
	FlushInterval time.Duration
	QueueSize     int

	// OnDrop вызывается на каждую потерянную пачку с числом записей (метрики)
	OnDrop func(n int)
}

// Batcher копит записи и сбрасывает их в Sink по размеру или по таймеру.
// Add никогда не блокирует запрос: при переполненной очереди пачка теряется.
type Batcher struct {
	cfg    BatcherConfig
	sink   Sink
	logger *zap.SugaredLogger

	mu        sync.Mutex
	current   []Record
	lastAdded time.Time

	flushChan chan Batch
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	stats struct {
		mu       sync.RWMutex
		received int64
		dropped  int64
		flushed  int64
		failed   int64
	}
}

func NewBatcher(cfg BatcherConfig, sink Sink, logger *zap.SugaredLogger) *Batcher {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	b := &Batcher{
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		current:   make([]Record, 0, cfg.MaxRecords),
		flushChan: make(chan Batch, cfg.QueueSize),
		stopChan:  make(chan struct{}),
	}

	b.wg.Add(2)
	go b.flushWorker()
	go b.timerFlusher()

	return b
}

func (b *Batcher) Add(record Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = append(b.current, record)
	b.lastAdded = time.Now()
	b.incrementReceived()

	if len(b.current) >= b.cfg.MaxRecords {
		b.flushLocked()
	}
}

func (b *Batcher) flushLocked() {
	if len(b.current) == 0 {
		return
	}

	records := make([]Record, len(b.current))
	copy(records, b.current)
	b.current = b.current[:0]

	batch := Batch{
		Records: records,
		T0:      records[0].CreatedAt,
		T1:      records[len(records)-1].CreatedAt,
	}

	select {
	case b.flushChan <- batch:
		b.incrementFlushed()
	default:
		b.logger.Warnw("Audit flush queue full, batch dropped", "records", len(records))
		b.incrementDropped(len(records))
	}
}

func (b *Batcher) flushWorker() {
	defer b.wg.Done()

	for {
		select {
		case batch := <-b.flushChan:
			b.consume(batch)

		case <-b.stopChan:
			// Дочитываем то, что успели поставить в очередь до остановки
			for {
				select {
				case batch := <-b.flushChan:
					b.consume(batch)
				default:
					return
				}
			}
		}
	}
}

func (b *Batcher) consume(batch Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), consumeTimeout)
	defer cancel()

	if err := b.sink.Consume(ctx, batch); err != nil {
		b.incrementFailed()
		b.logger.Errorw("Failed to consume audit batch", "records", len(batch.Records), "error", err)
	}
}

func (b *Batcher) timerFlusher() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushStale()

		case <-b.stopChan:
			return
		}
	}
}

func (b *Batcher) flushStale() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.current) > 0 && time.Since(b.lastAdded) >= b.cfg.FlushInterval/2 {
		b.flushLocked()
	}
}

// Stop сбрасывает накопленное, дожидается обработки очереди и останавливает горутины
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		b.logger.Info("Stopping audit batcher")

		b.mu.Lock()
		b.flushLocked()
		b.mu.Unlock()

		close(b.stopChan)
		b.wg.Wait()

		b.logStats()
	})
}

func (b *Batcher) incrementReceived() {
	b.stats.mu.Lock()
	b.stats.received++
	b.stats.mu.Unlock()
}

func (b *Batcher) incrementDropped(n int) {
	b.stats.mu.Lock()
	b.stats.dropped += int64(n)
	b.stats.mu.Unlock()

	if b.cfg.OnDrop != nil {
		b.cfg.OnDrop(n)
	}
}

func (b *Batcher) incrementFlushed() {
	b.stats.mu.Lock()
	b.stats.flushed++
	b.stats.mu.Unlock()
}

func (b *Batcher) incrementFailed() {
	b.stats.mu.Lock()
	b.stats.failed++
	b.stats.mu.Unlock()
}

func (b *Batcher) logStats() {
	received, dropped, flushed, failed := b.GetStats()
	b.logger.Infow("Audit batcher stats",
		"received", received,
		"dropped", dropped,
		"flushed", flushed,
		"failed", failed)
}

func (b *Batcher) GetStats() (received, dropped, flushed, failed int64) {
	b.stats.mu.RLock()
	defer b.stats.mu.RUnlock()

	return b.stats.received, b.stats.dropped, b.stats.flushed, b.stats.failed
}
