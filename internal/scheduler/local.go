package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shadowlend/shadowlend-backend/internal/metrics"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("scheduler closed")

// Handler runs a task when its delay elapses.
type Handler func(ctx context.Context, task Task) error

// Local fires tasks in-process. Pending tasks are lost on restart.
type Local struct {
	handler Handler
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[TaskID]*time.Timer
	wg     sync.WaitGroup
	closed bool
}

func NewLocal(handler Handler, logger *zap.SugaredLogger, m *metrics.Metrics) *Local {
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		handler: handler,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[TaskID]*time.Timer),
	}
}

func (l *Local) ScheduleAfter(ctx context.Context, delay time.Duration, task Task) (TaskID, error) {
	if err := task.validate(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", ErrClosed
	}

	id := TaskID(uuid.NewString())
	l.wg.Add(1)
	l.timers[id] = time.AfterFunc(delay, func() {
		defer l.wg.Done()
		l.fire(id, task)
	})

	l.metrics.RecordScheduled(ctx, "local", true)
	l.logger.Infow("Scheduled local task", "taskId", id, "target", task.Target, "delay", FormatDelay(delay))
	return id, nil
}

func (l *Local) fire(id TaskID, task Task) {
	l.mu.Lock()
	delete(l.timers, id)
	l.mu.Unlock()

	if l.ctx.Err() != nil {
		return
	}
	if err := l.handler(l.ctx, task); err != nil {
		l.logger.Errorw("Local task failed", "taskId", id, "target", task.Target, "error", err)
		return
	}
	l.logger.Infow("Local task completed", "taskId", id, "target", task.Target)
}

// Pending returns the number of tasks that have not fired yet.
func (l *Local) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Close stops pending timers, cancels running handlers and waits for them.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for id, t := range l.timers {
		if t.Stop() {
			l.wg.Done()
		}
		delete(l.timers, id)
	}
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
	return nil
}

// HTTPHandler delivers a task the way QStash would: POST the body to the target.
func HTTPHandler(client *http.Client) Handler {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Hour}
	}
	return func(ctx context.Context, task Task) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.Target, bytes.NewReader(task.Body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("deliver task: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &UpstreamError{Status: resp.StatusCode}
		}
		return nil
	}
}
