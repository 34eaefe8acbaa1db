// Package scheduler delivers a task to an HTTP target after a delay.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FinalizeRetryDelay is how long after a withdrawal is started the finalize
// call is made. Scheduled once per start request.
const FinalizeRetryDelay = 6 * time.Minute

var ErrInvalidTask = errors.New("invalid task")

// TaskID identifies a scheduled task. QStash message ids and local uuids both
// fit.
type TaskID string

// Task is a JSON body POSTed to Target once the delay has elapsed.
type Task struct {
	Target string
	Body   []byte
}

func (t Task) validate() error {
	if t.Target == "" {
		return fmt.Errorf("%w: empty target", ErrInvalidTask)
	}
	return nil
}

type Scheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, task Task) (TaskID, error)
}

// UpstreamError is a non-2xx answer from the scheduling service. Body is
// surfaced to API callers verbatim.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("scheduler upstream returned %d: %s", e.Status, e.Body)
}

// FormatDelay renders d in the largest whole unit QStash accepts, e.g. "6m".
func FormatDelay(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	switch {
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	secs := (d + time.Second - 1) / time.Second
	return fmt.Sprintf("%ds", secs)
}
