package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrQueueFull is reported when a fragment arrives while the queue is at capacity.
	ErrQueueFull = errors.New("memory write queue full")

	// ErrWriterClosed is reported when a fragment arrives after Close.
	ErrWriterClosed = errors.New("memory writer closed")
)

// Saver persists a single fragment.
type Saver interface {
	Save(ctx context.Context, userID, chatID, text string) error
}

// Fragment is one pending memory write.
type Fragment struct {
	UserID string
	ChatID string
	Text   string
}

// FailureHandler observes fragments that could not be written.
type FailureHandler func(f Fragment, err error)

// WriterConfig configures a Writer.
type WriterConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
	OnFailure    FailureHandler
	Logger       *slog.Logger
}

// Writer saves fragments in the background so the caller never blocks on
// embedding or indexing. Every fragment is either saved or reported to
// the failure handler.
type Writer struct {
	saver     Saver
	jobs      chan Fragment
	timeout   time.Duration
	onFailure FailureHandler
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWriter starts the worker goroutines.
func NewWriter(saver Saver, cfg WriterConfig) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		saver:     saver,
		jobs:      make(chan Fragment, cfg.QueueSize),
		timeout:   cfg.WriteTimeout,
		onFailure: cfg.OnFailure,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		w.wg.Add(1)
		go w.process(i)
	}
	return w
}

// Submit enqueues a fragment without blocking.
func (w *Writer) Submit(f Fragment) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.fail(f, ErrWriterClosed)
		return
	}

	select {
	case w.jobs <- f:
		w.logger.Debug("memory fragment queued",
			"user_id", f.UserID,
			"chat_id", f.ChatID,
			"queue_len", len(w.jobs),
		)
	default:
		w.fail(f, ErrQueueFull)
	}
}

func (w *Writer) process(id int) {
	defer w.wg.Done()

	for f := range w.jobs {
		start := time.Now()

		ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
		err := w.saver.Save(ctx, f.UserID, f.ChatID, f.Text)
		cancel()

		if err != nil {
			w.fail(f, err)
			continue
		}

		if d := time.Since(start); d > time.Second {
			w.logger.Warn("slow memory write",
				"worker", id,
				"user_id", f.UserID,
				"duration_ms", d.Milliseconds(),
			)
		}
	}
}

// Close stops accepting fragments and waits for queued ones to finish.
// If ctx expires first, in-flight and remaining writes are cancelled and
// reported as failures; Close still waits for the workers to exit.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	remaining := len(w.jobs)
	close(w.jobs)
	w.mu.Unlock()

	w.logger.Info("memory writer closing", "queue_remaining", remaining)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		w.logger.Info("memory writer stopped")
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		w.logger.Warn("memory writer drain interrupted", "error", ctx.Err())
		return ctx.Err()
	}
}

// Stats returns writer statistics.
func (w *Writer) Stats() map[string]interface{} {
	return map[string]interface{}{
		"queue_len":      len(w.jobs),
		"queue_capacity": cap(w.jobs),
	}
}

func (w *Writer) fail(f Fragment, err error) {
	w.logger.Warn("memory write failed",
		"user_id", f.UserID,
		"chat_id", f.ChatID,
		"error", err,
	)
	if w.onFailure != nil {
		w.onFailure(f, err)
	}
}
