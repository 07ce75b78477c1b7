package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zaz600/go-status-collector/internal/entity"
	"github.com/zaz600/go-status-collector/internal/infrastructure/repository"
	"github.com/zaz600/go-status-collector/internal/service/ingest"
)

// InvalidReportError отчет из пачки не прошел проверку
type InvalidReportError struct {
	Index int
	Err   error
}

func NewInvalidReportError(index int, err error) *InvalidReportError {
	return &InvalidReportError{Index: index, Err: err}
}

func (e *InvalidReportError) Error() string {
	return fmt.Sprintf("invalid report #%d: %v", e.Index, e.Err)
}

func (e *InvalidReportError) Unwrap() error {
	return e.Err
}

// Service принимает отчеты клиентов и ставит их в очередь на запись.
// Держит отправляющую сторону очереди и хранилище, разбором очереди занимается scheduler.
type Service struct {
	queue   *ingest.Queue
	repo    repository.StatusRepository
	metrics *Metrics
}

func NewService(queue *ingest.Queue, repo repository.StatusRepository, opts ...Option) *Service {
	s := &Service{
		queue: queue,
		repo:  repo,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			log.Panic().Err(err).Msg("")
		}
	}

	if s.metrics == nil {
		s.metrics = NewMetrics(nil, queue)
	}
	return s
}

// Submit проверяет отчет и ставит его в очередь. Ждет, если очередь заполнена.
// nil означает, что отчет принят в очередь, а не записан в хранилище.
func (s *Service) Submit(ctx context.Context, r entity.StatusReport) error {
	if err := r.Validate(); err != nil {
		s.metrics.RecordSubmitError(SubmitErrorInvalid)
		return err
	}
	if err := s.queue.Enqueue(ctx, r); err != nil {
		s.recordEnqueueError(err)
		return err
	}
	s.metrics.RecordAccepted()
	return nil
}

// SubmitBatch ставит отчеты в очередь в порядке пачки.
// Если хоть один отчет некорректный, не ставит ничего.
// Возвращает, сколько отчетов принято до первой ошибки.
func (s *Service) SubmitBatch(ctx context.Context, reports []entity.StatusReport) (int, error) {
	for i, r := range reports {
		if err := r.Validate(); err != nil {
			s.metrics.RecordSubmitError(SubmitErrorInvalid)
			return 0, NewInvalidReportError(i, err)
		}
	}

	for i, r := range reports {
		if err := s.queue.Enqueue(ctx, r); err != nil {
			s.recordEnqueueError(err)
			return i, err
		}
		s.metrics.RecordAccepted()
	}
	return len(reports), nil
}

func (s *Service) recordEnqueueError(err error) {
	if errors.Is(err, ingest.ErrQueueClosed) {
		s.metrics.RecordSubmitError(SubmitErrorQueueClosed)
		return
	}
	s.metrics.RecordSubmitError(SubmitErrorTimeout)
}

// Status статус подключения к хранилищу
func (s *Service) Status(ctx context.Context) error {
	return s.repo.Status(ctx)
}

// QueueLen сколько отчетов ждет записи
func (s *Service) QueueLen() int {
	return s.queue.Len()
}

// Stop перестает принимать отчеты. Уже принятые остаются в очереди до записи.
func (s *Service) Stop() {
	s.queue.Close()
}

// Shutdown закрывает хранилище. Вызывается после остановки scheduler.
func (s *Service) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return s.repo.Close(ctx)
}
