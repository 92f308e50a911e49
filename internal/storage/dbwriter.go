package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/afroash/envinsight/internal/models"
)

// BatchInserter is the persistence side of the writer
type BatchInserter interface {
	InsertBatch(readings []*models.Reading) error
}

// DBWriter batches incoming readings off the request path and persists them
// in a single transaction per flush
type DBWriter struct {
	store       BatchInserter
	logger      zerolog.Logger
	metrics     *WriterMetrics
	writeChan   chan *models.Reading
	batchSize   int
	flushPeriod time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	written  atomic.Int64
	batches  atomic.Int64
	failures atomic.Int64
	dropped  atomic.Int64
	lastNano atomic.Int64
}

// DBWriterConfig holds configuration for the async writer
type DBWriterConfig struct {
	BatchSize   int
	FlushPeriod time.Duration
	ChannelSize int
}

// DefaultDBWriterConfig returns sensible defaults
func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{
		BatchSize:   100,
		FlushPeriod: 5 * time.Second,
		ChannelSize: 1000,
	}
}

func (c DBWriterConfig) withDefaults() DBWriterConfig {
	d := DefaultDBWriterConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushPeriod <= 0 {
		c.FlushPeriod = d.FlushPeriod
	}
	if c.ChannelSize <= 0 {
		c.ChannelSize = d.ChannelSize
	}
	return c
}

// DBWriterStats contains statistics about the writer
type DBWriterStats struct {
	TotalWritten  int64     `json:"total_written"`
	TotalBatches  int64     `json:"total_batches"`
	TotalErrors   int64     `json:"total_errors"`
	TotalDropped  int64     `json:"total_dropped"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

// WriterMetrics exposes the writer's throughput to prometheus
type WriterMetrics struct {
	readings *prometheus.CounterVec
	queue    prometheus.Gauge
}

// NewWriterMetrics registers the writer collectors on reg
func NewWriterMetrics(reg prometheus.Registerer) *WriterMetrics {
	f := promauto.With(reg)
	return &WriterMetrics{
		readings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "envinsight",
			Subsystem: "storage",
			Name:      "readings_total",
			Help:      "Readings handled by the database writer, by result.",
		}, []string{"result"}),
		queue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "envinsight",
			Subsystem: "storage",
			Name:      "writer_queue_length",
			Help:      "Readings waiting to be flushed.",
		}),
	}
}

func (m *WriterMetrics) count(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.readings.WithLabelValues(result).Add(float64(n))
}

func (m *WriterMetrics) setQueue(n int) {
	if m == nil {
		return
	}
	m.queue.Set(float64(n))
}

// NewDBWriter creates and starts an async database writer. metrics may be nil.
func NewDBWriter(store BatchInserter, config DBWriterConfig, metrics *WriterMetrics, logger zerolog.Logger) *DBWriter {
	config = config.withDefaults()

	w := &DBWriter{
		store:       store,
		logger:      logger,
		metrics:     metrics,
		writeChan:   make(chan *models.Reading, config.ChannelSize),
		batchSize:   config.BatchSize,
		flushPeriod: config.FlushPeriod,
		stopChan:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writerLoop()

	logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("DBWriter started")

	return w
}

// Write queues a copy of the reading. It returns false when the reading was
// dropped because the queue is full or the writer has stopped.
func (w *DBWriter) Write(reading *models.Reading) bool {
	if reading == nil {
		return false
	}
	select {
	case <-w.stopChan:
		w.drop()
		return false
	default:
	}

	select {
	case w.writeChan <- reading.Copy():
		return true
	default:
		w.drop()
		w.logger.Warn().Str("location", reading.Location).Msg("DBWriter channel full, dropping reading")
		return false
	}
}

func (w *DBWriter) drop() {
	w.dropped.Add(1)
	w.metrics.count("dropped", 1)
}

func (w *DBWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]*models.Reading, 0, w.batchSize)
	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = make([]*models.Reading, 0, w.batchSize)
	}

	for {
		select {
		case reading := <-w.writeChan:
			batch = append(batch, reading)
			if len(batch) >= w.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()
			w.metrics.setQueue(len(w.writeChan))

		case <-w.stopChan:
			for {
				select {
				case reading := <-w.writeChan:
					batch = append(batch, reading)
					if len(batch) >= w.batchSize {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			w.metrics.setQueue(0)
			w.logger.Info().Int64("written", w.written.Load()).Msg("DBWriter stopped")
			return
		}
	}
}

func (w *DBWriter) flush(batch []*models.Reading) {
	if err := w.store.InsertBatch(batch); err != nil {
		w.failures.Add(1)
		w.metrics.count("failed", len(batch))
		w.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write batch")
		return
	}

	w.written.Add(int64(len(batch)))
	w.batches.Add(1)
	w.lastNano.Store(time.Now().UnixNano())
	w.metrics.count("written", len(batch))
	w.logger.Debug().Int("count", len(batch)).Msg("Flushed batch")
}

// Stop flushes whatever is queued and stops the writer. Safe to call twice.
func (w *DBWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Stats returns current writer statistics
func (w *DBWriter) Stats() DBWriterStats {
	stats := DBWriterStats{
		TotalWritten: w.written.Load(),
		TotalBatches: w.batches.Load(),
		TotalErrors:  w.failures.Load(),
		TotalDropped: w.dropped.Load(),
		QueueLength:  len(w.writeChan),
	}
	if n := w.lastNano.Load(); n > 0 {
		stats.LastWriteTime = time.Unix(0, n).UTC()
	}
	return stats
}
