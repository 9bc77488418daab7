package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/event"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/repository"
)

// DefaultPendingTimeout is how long an order may wait for payment.
const DefaultPendingTimeout = 12 * time.Hour

// ErrSweepInProgress is returned when a sweep is requested while another one
// is still running in this process.
var ErrSweepInProgress = errors.New("sweep already in progress")

// SweepReport summarizes one sweep.
type SweepReport struct {
	Results   []string `json:"results"`
	Cancelled int      `json:"cancelled"`
	Settled   int      `json:"settled"`
	Failed    int      `json:"failed"`

	// Interrupted is set when the context ended before every candidate was
	// handled. The counts cover the orders handled so far.
	Interrupted bool `json:"interrupted,omitempty"`
}

// SweeperService cancels pending orders that outlived the payment window and
// returns their stock.
type SweeperService struct {
	repo     repository.OrderRepository
	producer *event.Producer
	logger   *slog.Logger
	timeout  time.Duration
	nowFunc  func() time.Time
	running  atomic.Bool
}

// NewSweeperService creates a sweeper. A non-positive timeout uses
// DefaultPendingTimeout.
func NewSweeperService(repo repository.OrderRepository, producer *event.Producer, logger *slog.Logger, timeout time.Duration) *SweeperService {
	if timeout <= 0 {
		timeout = DefaultPendingTimeout
	}
	return &SweeperService{
		repo:     repo,
		producer: producer,
		logger:   logger,
		timeout:  timeout,
		nowFunc:  time.Now,
	}
}

// Sweep cancels every pending order created before now minus the timeout.
// Each order is handled on its own; a failure is reported and the sweep
// moves on. When ctx ends mid-sweep the partial report is returned along
// with the context error.
func (s *SweeperService) Sweep(ctx context.Context) (*SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	defer func() { SweepDuration.Observe(time.Since(start).Seconds()) }()

	cutoff := s.nowFunc().Add(-s.timeout)
	ids, err := s.repo.ListExpiredPending(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired pending orders: %w", err)
	}

	report := &SweepReport{Results: make([]string, 0, len(ids))}
	var sweepErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			report.Interrupted = true
			sweepErr = err
			break
		}

		changed, err := s.repo.CancelAndRestock(ctx, id, domain.CancelReasonExpired)
		switch {
		case err != nil && !errors.Is(err, apperrors.ErrNotFound):
			report.Failed++
			SweepResults.WithLabelValues("failed").Inc()
			report.Results = append(report.Results, fmt.Sprintf("order #%d failed: %v", id, err))
			s.logger.ErrorContext(ctx, "failed to cancel expired order",
				slog.Int64("order_id", id),
				slog.String("error", err.Error()),
			)
		case err == nil && changed:
			report.Cancelled++
			SweepResults.WithLabelValues("cancelled").Inc()
			report.Results = append(report.Results, fmt.Sprintf("order #%d cancelled and stock restored", id))
			if err := s.producer.PublishOrderCancelled(ctx, id, domain.CancelReasonExpired); err != nil {
				s.logger.ErrorContext(ctx, "failed to publish order.cancelled event",
					slog.Int64("order_id", id),
					slog.String("error", err.Error()),
				)
			}
		default:
			report.Settled++
			SweepResults.WithLabelValues("settled").Inc()
			report.Results = append(report.Results, fmt.Sprintf("order #%d already settled", id))
		}
	}

	msg := "expiry sweep finished"
	if report.Interrupted {
		msg = "expiry sweep interrupted"
	}
	s.logger.InfoContext(context.WithoutCancel(ctx), msg,
		slog.Time("cutoff", cutoff),
		slog.Int("candidates", len(ids)),
		slog.Int("cancelled", report.Cancelled),
		slog.Int("settled", report.Settled),
		slog.Int("failed", report.Failed),
	)
	return report, sweepErr
}

// Run sweeps every interval until ctx is cancelled. Ticks that arrive while
// a sweep is still running are skipped.
func (s *SweeperService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "expiry sweeper started",
		slog.Duration("interval", interval),
		slog.Duration("timeout", s.timeout),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(context.WithoutCancel(ctx), "expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.ErrorContext(ctx, "expiry sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
