package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opsplane/opsplane/metric"
)

const restartDelay = time.Second

// Supervisor keeps a fixed pool of consumer loops running. A loop that
// panics is logged, counted and restarted after a short delay; a loop only
// stays down once the context is cancelled.
type Supervisor struct {
	consumers []*Consumer
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// NewSupervisor creates a supervisor over count consumers built by newFn,
// which receives the loop's name.
func NewSupervisor(count int, newFn func(name string) *Consumer, metrics *metric.Metrics, logger *slog.Logger) *Supervisor {
	consumers := make([]*Consumer, 0, count)
	for i := 0; i < count; i++ {
		consumers = append(consumers, newFn(fmt.Sprintf("consumer-%d", i)))
	}
	return &Supervisor{
		consumers: consumers,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run blocks until the context is cancelled and every loop has stopped.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range s.consumers {
		wg.Add(1)
		go func(c *Consumer) {
			defer wg.Done()
			s.supervise(ctx, c)
		}(c)
	}
	wg.Wait()
	s.logger.Info("All consumers stopped")
}

// supervise runs one loop, restarting it after panics.
func (s *Supervisor) supervise(ctx context.Context, c *Consumer) {
	for {
		stopped := s.runOnce(ctx, c)
		if stopped || ctx.Err() != nil {
			return
		}

		if s.metrics != nil {
			s.metrics.ConsumerRestarts.Inc()
		}
		s.logger.Warn("Restarting consumer after panic", "consumer", c.name)

		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

// runOnce runs the consumer until it returns or panics. The return value is
// true for a clean stop (context cancellation), false for a panic.
func (s *Supervisor) runOnce(ctx context.Context, c *Consumer) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Consumer panicked", "consumer", c.name, "panic", r)
			stopped = false
		}
	}()

	_ = c.Run(ctx)
	return true
}
