package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingSaver struct {
	mu    sync.Mutex
	saved []Fragment
	err   error
	gate  chan struct{}
}

func (s *recordingSaver) Save(ctx context.Context, userID, chatID, text string) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, Fragment{UserID: userID, ChatID: chatID, Text: text})
	return nil
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type failureLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *failureLog) handle(_ Fragment, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *failureLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func TestWriterDrainsQueueOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	saver := &recordingSaver{}
	w := NewWriter(saver, WriterConfig{QueueSize: 16, Workers: 2})

	for i := 0; i < 10; i++ {
		w.Submit(Fragment{UserID: "u1", ChatID: "c1", Text: "fact"})
	}

	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 10, saver.count())
}

func TestWriterReportsSaveFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	failures := &failureLog{}
	saver := &recordingSaver{err: errors.New("index offline")}
	w := NewWriter(saver, WriterConfig{QueueSize: 4, Workers: 1, OnFailure: failures.handle})

	w.Submit(Fragment{UserID: "u1", ChatID: "c1", Text: "fact"})
	require.NoError(t, w.Close(context.Background()))

	errs := failures.all()
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "index offline")
}

func TestWriterReportsFullQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	failures := &failureLog{}
	saver := &recordingSaver{gate: make(chan struct{})}
	w := NewWriter(saver, WriterConfig{QueueSize: 1, Workers: 1, OnFailure: failures.handle})

	// First fragment is picked up by the worker and blocks on the gate,
	// the second fills the queue, the rest overflow.
	w.Submit(Fragment{Text: "a"})
	require.Eventually(t, func() bool { return len(w.jobs) == 0 }, time.Second, 5*time.Millisecond)
	w.Submit(Fragment{Text: "b"})
	w.Submit(Fragment{Text: "c"})
	w.Submit(Fragment{Text: "d"})

	errs := failures.all()
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrQueueFull)
	}

	close(saver.gate)
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 2, saver.count())
}

func TestWriterRejectsAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	failures := &failureLog{}
	w := NewWriter(&recordingSaver{}, WriterConfig{OnFailure: failures.handle})
	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()))

	w.Submit(Fragment{Text: "late"})

	errs := failures.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrWriterClosed)
}

func TestWriterCloseHonoursDeadline(t *testing.T) {
	defer goleak.VerifyNone(t)

	failures := &failureLog{}
	saver := &recordingSaver{gate: make(chan struct{})}
	w := NewWriter(saver, WriterConfig{QueueSize: 4, Workers: 1, OnFailure: failures.handle})

	w.Submit(Fragment{Text: "stuck"})
	w.Submit(Fragment{Text: "queued"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, failures.all(), 2)
	assert.Equal(t, 0, saver.count())
}

func TestWriterStats(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := NewWriter(&recordingSaver{}, WriterConfig{QueueSize: 8})
	stats := w.Stats()
	assert.Equal(t, 8, stats["queue_capacity"])
	require.NoError(t, w.Close(context.Background()))
}
