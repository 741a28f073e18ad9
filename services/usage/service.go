package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/rag-gateway/internal/observability"
	"github.com/upb/rag-gateway/internal/shared"
	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/repositories"
	"go.uber.org/zap"
)

// Recorder accepts usage records for asynchronous persistence
type Recorder interface {
	Record(ctx context.Context, rec *models.UsageRecord)
}

// Service handles asynchronous usage logging
type Service struct {
	repo        repositories.UsageRepository
	prices      *PriceTable
	metrics     *observability.Metrics
	logger      *zap.Logger
	recordChan  chan *models.UsageRecord
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	closed      bool
	mu          sync.RWMutex
}

// Config holds configuration for the usage Service
type Config struct {
	BufferSize  int // Size of the record buffer channel
	WorkerCount int // Number of concurrent writers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 2,
	}
}

// NewService creates a new usage Service instance
func NewService(repo repositories.UsageRepository, prices *PriceTable, metrics *observability.Metrics, logger *zap.Logger, config Config) *Service {
	if prices == nil {
		prices = DefaultPriceTable()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	return &Service{
		repo:        repo,
		prices:      prices,
		metrics:     metrics,
		logger:      logger,
		recordChan:  make(chan *models.UsageRecord, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background writers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("usage service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started usage service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting records and waits for pending ones to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("usage service not running")
	}
	s.closed = true
	close(s.recordChan)
	s.mu.Unlock()

	s.logger.Info("stopping usage service", zap.Int("pending_records", len(s.recordChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("usage service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("usage service stop timeout after %v", timeout)
	}
}

// Record prices the record, attributes it to the request in ctx and queues it.
// It never blocks; a full buffer drops the record.
func (s *Service) Record(ctx context.Context, rec *models.UsageRecord) {
	if s == nil || rec == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("usage record panicked", zap.Any("panic", r))
		}
	}()

	if rec.TenantID == nil {
		if tenantID, ok := shared.TenantID(ctx); ok {
			rec.TenantID = &tenantID
		}
	}
	if rec.RequestID == "" {
		rec.RequestID = shared.RequestID(ctx)
	}
	rec.CostUSD = s.prices.Cost(rec)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(rec, "usage service stopped")
		return
	}

	select {
	case s.recordChan <- rec:
	default:
		s.drop(rec, "usage buffer full")
	}
}

func (s *Service) drop(rec *models.UsageRecord, reason string) {
	s.metrics.RecordUsageDropped()
	s.logger.Warn("dropping usage record",
		zap.String("reason", reason),
		zap.String("provider", rec.Provider),
		zap.String("operation", string(rec.Operation)),
		zap.String("request_id", rec.RequestID))
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("usage worker started", zap.Int("worker_id", id))

	for rec := range s.recordChan {
		if err := s.write(rec); err != nil {
			s.logger.Error("failed to write usage record",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("operation", string(rec.Operation)),
				zap.String("request_id", rec.RequestID))
		}
	}

	s.logger.Debug("usage worker stopped", zap.Int("worker_id", id))
}

func (s *Service) write(rec *models.UsageRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Insert(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// GetStats returns statistics about the usage service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:     s.bufferSize,
		PendingRecords: len(s.recordChan),
		WorkerCount:    s.workerCount,
		Started:        s.started,
	}
}

// Stats represents usage service statistics
type Stats struct {
	BufferSize     int
	PendingRecords int
	WorkerCount    int
	Started        bool
}
