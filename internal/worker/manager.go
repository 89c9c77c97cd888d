package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"iamstagram_engine/internal/queue"
)

const (
	// DefaultWorkerCount is one, so a session applies events in stream order.
	DefaultWorkerCount = 1

	// DefaultBatchSize is the number of messages to read per batch
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for new messages
	DefaultBlockTimeout = 5 * time.Second

	destroyTimeout = 5 * time.Second
)

// Manager runs the goroutines that consume the change stream for one
// session. Every session reads through its own consumer group, so each one
// sees every event.
type Manager struct {
	consumer    queue.Consumer
	handler     *Handler
	sessionID   string
	group       string
	workerCount int
	batchSize   int64
	blockTime   time.Duration
	logger      *zap.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// ManagerConfig holds configuration for the worker manager.
type ManagerConfig struct {
	SessionID    string
	WorkerCount  int           // Number of worker goroutines
	BatchSize    int64         // Messages per read
	BlockTimeout time.Duration // Block time for XREADGROUP
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig(sessionID string) ManagerConfig {
	return ManagerConfig{
		SessionID:    sessionID,
		WorkerCount:  DefaultWorkerCount,
		BatchSize:    DefaultBatchSize,
		BlockTimeout: DefaultBlockTimeout,
	}
}

func NewManager(consumer queue.Consumer, handler *Handler, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = DefaultBlockTimeout
	}

	return &Manager{
		consumer:    consumer,
		handler:     handler,
		sessionID:   cfg.SessionID,
		group:       queue.ConsumerGroupPrefix + cfg.SessionID,
		workerCount: cfg.WorkerCount,
		batchSize:   cfg.BatchSize,
		blockTime:   cfg.BlockTimeout,
		logger:      logger.Named("worker_manager"),
	}
}

// Group is the consumer group this session reads through.
func (m *Manager) Group() string {
	return m.group
}

// Start creates the session group at the stream tail and starts the
// workers. Call Stop() to shut down.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.consumer.EnsureGroup(m.ctx, queue.StreamChanges, m.group, "$"); err != nil {
		m.cancel()
		return err
	}

	m.logger.Info("Starting workers",
		zap.Int("workers", m.workerCount),
		zap.String("stream", queue.StreamChanges),
		zap.String("group", m.group))

	for i := 0; i < m.workerCount; i++ {
		m.wg.Add(1)
		go m.runWorker(i+1, m.consumerName(i+1))
	}
	return nil
}

// Stop shuts the workers down and removes the session group.
// Blocks until all workers have finished.
func (m *Manager) Stop() {
	m.logger.Info("Stopping workers")
	m.cancel()
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
	defer cancel()
	if err := m.consumer.DestroyGroup(ctx, queue.StreamChanges, m.group); err != nil {
		m.logger.Warn("Destroy session group failed", zap.String("group", m.group), zap.Error(err))
	}
	m.logger.Info("All workers stopped")
}

func (m *Manager) runWorker(workerID int, consumerName string) {
	defer m.wg.Done()

	logger := m.logger.With(zap.Int("worker", workerID), zap.String("consumer", consumerName))
	logger.Debug("Worker started")

	for {
		select {
		case <-m.ctx.Done():
			logger.Debug("Worker shutting down")
			return
		default:
			m.processMessages(logger, consumerName)
		}
	}
}

// processMessages reads and handles a batch of messages.
func (m *Manager) processMessages(logger *zap.Logger, consumerName string) {
	messages, err := m.consumer.Read(m.ctx, queue.StreamChanges, m.group, consumerName, m.batchSize, m.blockTime)
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		logger.Warn("Read failed", zap.Error(err))
		select {
		case <-m.ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}

	if len(messages) == 0 {
		return
	}
	m.handleMessages(logger, messages)
}

// handleMessages processes a batch of messages and acknowledges them.
func (m *Manager) handleMessages(logger *zap.Logger, messages []queue.Message) {
	for _, msg := range messages {
		if err := m.handler.HandleEvent(m.ctx, msg.Event); err != nil {
			// Bad events are acked and dropped.
			logger.Warn("Handler error", zap.String("msg_id", msg.ID), zap.Error(err))
		}

		if err := m.consumer.Ack(m.ctx, queue.StreamChanges, m.group, msg.ID); err != nil {
			logger.Warn("ACK error", zap.String("msg_id", msg.ID), zap.Error(err))
		}
	}
}

func (m *Manager) consumerName(workerID int) string {
	return m.sessionID + "-" + strconv.Itoa(workerID)
}
