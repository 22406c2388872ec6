package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher errors
var (
	ErrDispatcherNotRunning = errors.New("push dispatcher is not running")
	ErrQueueFull            = errors.New("push queue is full")
)

// DispatcherConfig sizes the worker pool
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

type pushJob struct {
	recipientID uuid.UUID
	msg         messaging.MessageNotification
}

// Dispatcher implements messaging.Notifier by queueing notifications for a
// bounded pool of workers. SendMessageNotification never blocks on the
// downstream notifier; a full queue drops the notification.
type Dispatcher struct {
	config DispatcherConfig
	next   messaging.Notifier
	logger *zap.Logger

	jobs      chan pushJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
}

// NewDispatcher creates a dispatcher in front of next
func NewDispatcher(config DispatcherConfig, next messaging.Notifier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()
	return &Dispatcher{
		config: config,
		next:   next,
		logger: logger,
		jobs:   make(chan pushJob, config.QueueSize),
	}
}

// Start starts the worker pool
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isRunning {
		return nil
	}
	d.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.logger.Info("Push dispatcher started",
		zap.Int("workers", d.config.Workers),
		zap.Int("queue_size", d.config.QueueSize),
		zap.Duration("timeout", d.config.Timeout),
	)
	return nil
}

// Stop drains the queue and waits for the workers, bounded by ctx
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.isRunning = false
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("Push dispatcher stopped gracefully")
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("Push dispatcher stop timed out")
		return ctx.Err()
	}
}

// SendMessageNotification queues the notification and returns immediately
func (d *Dispatcher) SendMessageNotification(_ context.Context, recipientID uuid.UUID, msg messaging.MessageNotification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.isRunning {
		return ErrDispatcherNotRunning
	}

	select {
	case d.jobs <- pushJob{recipientID: recipientID, msg: msg}:
		return nil
	default:
		d.logger.Warn("Push queue full, dropping notification",
			zap.String("user_id", recipientID.String()),
			zap.Int64("message_id", msg.MessageID))
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	defer d.wg.Done()

	for job := range d.jobs {
		d.process(ctx, job, workerID)
	}
}

func (d *Dispatcher) process(ctx context.Context, job pushJob, workerID int) {
	jobCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic in push worker", zap.Int("worker_id", workerID), zap.Any("panic", r))
		}
	}()

	if err := d.next.SendMessageNotification(jobCtx, job.recipientID, job.msg); err != nil {
		d.logger.Warn("Push notification failed",
			zap.Int("worker_id", workerID),
			zap.String("user_id", job.recipientID.String()),
			zap.Int64("message_id", job.msg.MessageID),
			zap.Error(err))
	}
}

var _ messaging.Notifier = (*Dispatcher)(nil)
