package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Worker dispatches scheduled campaigns when their time comes
type Worker struct {
	service      *Service
	pollInterval time.Duration
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a schedule worker
func NewWorker(service *Service, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		service:      service,
		pollInterval: pollInterval,
		logger:       logger.With("component", "broadcast_worker"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the worker
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.Info("broadcast worker started", "poll_interval", w.pollInterval)
}

// Stop stops the worker and waits for an in-flight dispatch
func (w *Worker) Stop() {
	w.logger.Info("stopping broadcast worker...")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("broadcast worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Worker) poll() {
	n, err := w.service.RunDue(w.ctx)
	if err != nil {
		w.logger.Error("failed to run scheduled campaigns", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("scheduled campaigns dispatched", "count", n)
	}
}
