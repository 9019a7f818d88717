package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued means both the immediate and the trailing push are taken.
// The trailing push has not started yet, so it will see the latest document.
var ErrAlreadyQueued = errors.New("push already queued")

const taskTimeout = 2 * time.Minute

// Enqueuer is the part of *asynq.Client the queue needs
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue schedules document pushes on the sync queue
type Queue struct {
	client Enqueuer
	// how long a trailing push waits before running
	trailingDelay time.Duration
}

func NewQueue(client Enqueuer) *Queue {
	return &Queue{client: client, trailingDelay: 10 * time.Second}
}

// EnqueuePush schedules a push. At most one immediate push exists at a time.
// Its unique lock lasts until the task finishes, so a write landing while it
// is queued or running schedules a single trailing push instead. When that
// one is pending too the error wraps ErrAlreadyQueued.
func (q *Queue) EnqueuePush(ctx context.Context) (*asynq.TaskInfo, error) {
	info, err := q.enqueue(ctx, PushDocumentPayload{},
		asynq.Unique(taskTimeout),
	)
	if !errors.Is(err, asynq.ErrDuplicateTask) {
		return info, err
	}

	info, err = q.enqueue(ctx, PushDocumentPayload{Trailing: true},
		asynq.ProcessIn(q.trailingDelay),
		asynq.Unique(q.trailingDelay+taskTimeout),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, fmt.Errorf("%w: %w", ErrAlreadyQueued, err)
	}
	return info, err
}

func (q *Queue) enqueue(ctx context.Context, p PushDocumentPayload, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{
		asynq.Queue(QueueSync),
		asynq.MaxRetry(3),
		asynq.Timeout(taskTimeout),
	}, opts...)
	return q.client.EnqueueContext(ctx, asynq.NewTask(TaskPushDocument, payload), opts...)
}
