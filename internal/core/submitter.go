package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Flush failure reasons, used as metric labels.
const (
	flushFailureAuth   = "auth"
	flushFailureSubmit = "submit"
)

// Submitter drains the scrobble queue into batched submissions.
type Submitter struct {
	queue     *ScrobbleQueue
	auth      Authenticator
	client    ScrobbleClient
	ledger    PlayLedger
	metrics   Metrics
	logger    *zap.Logger
	batchSize int
	idle      time.Duration
	retry     time.Duration
	timeout   time.Duration
	now       func() time.Time

	flushMu sync.Mutex

	stateMu     sync.Mutex
	lastSuccess time.Time
	lastAttempt time.Time
}

func NewSubmitter(
	config *AppConfig,
	queue *ScrobbleQueue,
	auth Authenticator,
	client ScrobbleClient,
	ledger PlayLedger,
	metrics Metrics,
	logger *zap.Logger,
) *Submitter {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	batchSize := config.BatchSize
	if batchSize <= 0 || batchSize > DefaultBatchSize {
		batchSize = DefaultBatchSize
	}
	now := time.Now()
	return &Submitter{
		queue:       queue,
		auth:        auth,
		client:      client,
		ledger:      ledger,
		metrics:     metrics,
		logger:      logger,
		batchSize:   batchSize,
		idle:        config.FlushIdle(),
		retry:       config.FlushRetry(),
		timeout:     config.RequestTimeout(),
		now:         time.Now,
		lastSuccess: now,
	}
}

// Flush submits one batch from the head of the queue. A failed submission puts the whole batch
// back at the tail; an authentication failure leaves the queue untouched.
func (s *Submitter) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.stateMu.Lock()
	s.lastAttempt = s.now()
	s.stateMu.Unlock()

	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		s.metrics.RecordFlushFailure(flushFailureAuth)
		return fmt.Errorf("failed to authenticate before flush: %w", err)
	}

	batch := s.queue.DrainBatch(s.batchSize)
	if len(batch) == 0 {
		s.markSuccess()
		return nil
	}

	batchID := uuid.NewString()
	s.logger.Debug("Submitting batch",
		zap.String("batchID", batchID),
		zap.Int("size", len(batch)))

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.client.Scrobble(callCtx, s.auth.SessionKey(), batch)
	if err != nil {
		s.queue.Requeue(batch)
		s.metrics.RecordFlushFailure(flushFailureSubmit)
		s.metrics.SetQueueLength(s.queue.Len())
		return fmt.Errorf("failed to submit batch %s: %w", batchID, err)
	}

	if s.ledger != nil {
		for _, track := range batch {
			s.ledger.Add(track.PlayKey())
		}
	}
	s.markSuccess()
	s.metrics.RecordSubmitted(result.Accepted, result.Ignored)
	s.metrics.SetQueueLength(s.queue.Len())

	s.logger.Info("Submitted scrobbles",
		zap.String("batchID", batchID),
		zap.Int("size", len(batch)),
		zap.Int("accepted", result.Accepted),
		zap.Int("ignored", result.Ignored))
	return nil
}

func (s *Submitter) markSuccess() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.lastSuccess = s.now()
}

// FlushDue reports whether the time-based trigger should fire: nothing has been flushed for the
// idle window, or a full batch is waiting. Failed attempts are spaced by the retry interval.
func (s *Submitter) FlushDue() bool {
	pending := s.queue.Len()
	if pending == 0 {
		return false
	}

	now := s.now()
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if now.Sub(s.lastAttempt) < s.retry && s.lastAttempt.After(s.lastSuccess) {
		return false
	}
	return pending >= s.batchSize || now.Sub(s.lastSuccess) >= s.idle
}

// LastSuccess returns when the queue was last flushed successfully.
func (s *Submitter) LastSuccess() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastSuccess
}
