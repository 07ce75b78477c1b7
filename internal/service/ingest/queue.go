package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/zaz600/go-status-collector/internal/entity"
)

const defaultCapacity = 1000

// ErrQueueClosed очередь закрыта, новые отчеты не принимаются
var ErrQueueClosed = errors.New("ingestion queue closed")

// Queue ограниченная очередь отчетов: много писателей, один читатель.
// Когда очередь заполнена, писатели ждут, отчеты не отбрасываются.
type Queue struct {
	ch   chan entity.StatusReport
	done chan struct{}
	once *sync.Once
	// mu не дает закрыть ch, пока кто-то в него пишет
	mu     *sync.RWMutex
	closed bool
}

// NewQueue создает очередь на capacity отчетов. При capacity <= 0 используется 1000.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{
		ch:   make(chan entity.StatusReport, capacity),
		done: make(chan struct{}),
		once: &sync.Once{},
		mu:   &sync.RWMutex{},
	}
}

// Enqueue ставит отчет в очередь. Если места нет, ждет, пока освободится,
// пока не закроют очередь или пока не истечет ctx.
func (q *Queue) Enqueue(ctx context.Context, r entity.StatusReport) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- r:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue забирает первый отчет. Ждет, пока отчет появится.
// После закрытия отдает то, что осталось, потом ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (entity.StatusReport, error) {
	select {
	case r, ok := <-q.ch:
		if !ok {
			return entity.StatusReport{}, ErrQueueClosed
		}
		return r, nil
	case <-ctx.Done():
		return entity.StatusReport{}, ctx.Err()
	}
}

// Out канал для чтения в select. Закрывается после Close.
func (q *Queue) Out() <-chan entity.StatusReport {
	return q.ch
}

// Close перестает принимать отчеты и будит ждущих писателей. Можно вызывать несколько раз.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)

		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		close(q.ch)
	})
}

// Closed закрыта ли очередь
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len сколько отчетов ждет в очереди
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap емкость очереди
func (q *Queue) Cap() int {
	return cap(q.ch)
}
