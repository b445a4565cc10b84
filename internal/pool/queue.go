package pool

import (
	"context"
	"time"

	"github.com/hexaflow/hexaflow/internal/task"
)

// submission is one unit of queued work: a task plus the attempt about to
// run. Retries re-enter the queue as a new submission with the same
// priority and a fresh sequence number.
type submission struct {
	t        *task.Task
	strategy task.Strategy
	attempt  int             // 1-based attempt number about to run
	seq      uint64          // submission order, for FIFO tie-breaking
	started  time.Time       // zero until the first attempt begins
	ctx      context.Context // caller's context, checked at dispatch
	ch       chan task.Result
}

// submissionQueue is a max-heap on priority with FIFO stability:
// higher task priority dequeues first, ties break on lower seq.
type submissionQueue []*submission

func (q submissionQueue) Len() int { return len(q) }

func (q submissionQueue) Less(i, j int) bool {
	if q[i].t.Priority != q[j].t.Priority {
		return q[i].t.Priority > q[j].t.Priority
	}
	return q[i].seq < q[j].seq
}

func (q submissionQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *submissionQueue) Push(x any) {
	*q = append(*q, x.(*submission))
}

func (q *submissionQueue) Pop() any {
	old := *q
	n := len(old)
	sub := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return sub
}
