package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shadowlend/shadowlend-backend/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxErrorBody = 4 << 10

// QStash schedules tasks through the Upstash QStash publish API.
type QStash struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

type QStashOption func(*QStash)

func WithHTTPClient(c *http.Client) QStashOption {
	return func(q *QStash) { q.client = c }
}

func WithQStashMetrics(m *metrics.Metrics) QStashOption {
	return func(q *QStash) { q.metrics = m }
}

// NewQStash creates a publisher for baseURL. token may be empty, in which
// case no Authorization header is sent.
func NewQStash(baseURL, token string, logger *zap.SugaredLogger, opts ...QStashOption) *QStash {
	q := &QStash{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "qstash",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// 4xx answers are our fault, not an outage.
			var upstream *UpstreamError
			if errors.As(err, &upstream) {
				return upstream.Status < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Infow("Scheduler circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return q
}

type publishResponse struct {
	MessageID string `json:"messageId"`
}

func (q *QStash) ScheduleAfter(ctx context.Context, delay time.Duration, task Task) (TaskID, error) {
	if err := task.validate(); err != nil {
		return "", err
	}

	v, err := q.breaker.Execute(func() (interface{}, error) {
		return q.publish(ctx, delay, task)
	})
	q.metrics.RecordScheduled(ctx, "qstash", err == nil)
	if err != nil {
		q.logger.Errorw("Failed to schedule task", "target", task.Target, "delay", FormatDelay(delay), "error", err)
		return "", err
	}

	id := v.(TaskID)
	q.logger.Infow("Scheduled task", "target", task.Target, "delay", FormatDelay(delay), "taskId", id)
	return id, nil
}

func (q *QStash) publish(ctx context.Context, delay time.Duration, task Task) (TaskID, error) {
	// The destination is appended raw, as QStash expects.
	endpoint := q.baseURL + "/v2/publish/" + task.Target

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(task.Body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if q.token != "" {
		req.Header.Set("Authorization", "Bearer "+q.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Delay", FormatDelay(delay))

	resp, err := q.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	var out publishResponse
	if len(body) > 0 {
		_ = json.Unmarshal(body, &out) // id is informational
	}
	return TaskID(out.MessageID), nil
}
