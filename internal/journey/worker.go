package journey

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// WorkerConfig holds worker tuning
type WorkerConfig struct {
	TimerPollInterval time.Duration
	TimerBatchSize    int
	RetryBackoff      time.Duration
	MaxRetryBackoff   time.Duration
}

// Worker feeds signals from the signal bus and expired timers into the
// runtime. Instances are parked in the store between inputs.
type Worker struct {
	runtime      *Runtime
	source       SignalSource
	integrations IntegrationHandler
	config       WorkerConfig
	log          *zap.Logger
}

// NewWorker creates a new worker
func NewWorker(runtime *Runtime, source SignalSource, integrations IntegrationHandler, config WorkerConfig, log *zap.Logger) *Worker {
	if config.TimerPollInterval <= 0 {
		config.TimerPollInterval = time.Second
	}
	if config.TimerBatchSize <= 0 {
		config.TimerBatchSize = 100
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 200 * time.Millisecond
	}
	if config.MaxRetryBackoff < config.RetryBackoff {
		config.MaxRetryBackoff = 30 * time.Second
	}
	return &Worker{
		runtime:      runtime,
		source:       source,
		integrations: integrations,
		config:       config,
		log:          log,
	}
}

// Start runs the signal loop and the timer loop until ctx is cancelled
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Journey worker started",
		zap.Duration("timer_poll_interval", w.config.TimerPollInterval),
		zap.Int("timer_batch_size", w.config.TimerBatchSize))

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.pollTimers(ctx)
	}()

	w.consumeSignals(ctx)
	<-done
	w.log.Info("Journey worker stopped")
}

func (w *Worker) consumeSignals(ctx context.Context) {
	for {
		sig, commit, err := w.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("Failed to fetch signal", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// an unhandled signal is never committed: shutdown leaves it for
		// the next consumer of the partition
		if err := w.handleWithRetry(ctx, sig); err != nil {
			return
		}

		if err := commit(context.WithoutCancel(ctx)); err != nil {
			w.log.Error("Failed to commit signal",
				zap.String("signal_id", sig.ID),
				zap.Error(err))
		}
	}
}

// handleWithRetry retries a failing signal in place until it succeeds or ctx
// is done. Later signals of the same partition wait behind it, which keeps
// per-instance order.
func (w *Worker) handleWithRetry(ctx context.Context, sig domain.Signal) error {
	backoff := w.config.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := w.handle(ctx, sig)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.log.Warn("Failed to handle signal",
			zap.String("signal_id", sig.ID),
			zap.String("workflow_id", sig.WorkflowID),
			zap.String("type", string(sig.Type)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, w.config.MaxRetryBackoff)
	}
}

func (w *Worker) handle(ctx context.Context, sig domain.Signal) error {
	if sig.Integration != "" {
		if w.integrations == nil {
			return nil
		}
		return w.integrations.HandleIntegration(ctx, sig)
	}
	return w.runtime.Signal(ctx, sig)
}

func (w *Worker) pollTimers(ctx context.Context) {
	ticker := time.NewTicker(w.config.TimerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				fired, err := w.runtime.FireDueTimers(ctx, w.config.TimerBatchSize)
				if err != nil {
					w.log.Error("Failed to fire timers", zap.Error(err))
					break
				}
				if fired < w.config.TimerBatchSize {
					break
				}
			}
		}
	}
}
