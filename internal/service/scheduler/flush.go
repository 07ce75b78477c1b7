package scheduler

import (
	"context"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"github.com/zaz600/go-status-collector/internal/entity"
	"github.com/zaz600/go-status-collector/internal/infrastructure/repository"
)

// write пишет пачку одним запросом, повторяя попытки при временных ошибках.
// Пачку, которую не удалось записать, отправляет в dead letter.
// Если ctx отменен раньше, чем кончились попытки, пачка помечается как canceled.
func (s *Scheduler) write(ctx context.Context, trigger Trigger, reports []entity.StatusReport) flushResult {
	start := s.clock.Now()
	var attempts uint
	var lastErr error

	err := retry.Do(
		func() error {
			attempts++
			attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			defer cancel()

			lastErr = repository.Classify(s.repo.InsertBatch(attemptCtx, reports))
			return lastErr
		},
		retry.Context(ctx),
		retry.Attempts(s.cfg.MaxRetries),
		retry.Delay(s.cfg.RetryDelay),
		retry.MaxDelay(s.cfg.MaxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(repository.IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).
				Str("trigger", string(trigger)).
				Int("rows", len(reports)).
				Uint("attempt", n+1).
				Msg("batch write attempt failed")
		}),
	)
	for i := uint(1); i < attempts; i++ {
		s.metrics.RecordRetry()
	}
	duration := s.clock.Since(start)

	if err == nil {
		s.metrics.RecordFlush(trigger, ResultOK, len(reports), duration)
		log.Info().
			Str("trigger", string(trigger)).
			Int("rows", len(reports)).
			Uint("attempt", attempts).
			Dur("duration", duration).
			Msg("batch flushed")
		return flushResult{trigger: trigger, rows: len(reports)}
	}

	// при отмене ctx retry-go возвращает ошибку контекста, а не хранилища
	if lastErr != nil {
		err = lastErr
	}
	result := ResultRejected
	switch {
	case !repository.IsRetryable(err):
	case ctx.Err() != nil:
		// попытки прервала остановка, а не хранилище
		result = ResultCanceled
		err = NewWriteCanceledError(attempts, err)
	default:
		result = ResultExhausted
		err = NewRetriesExhaustedError(attempts, err)
	}
	s.metrics.RecordFlush(trigger, result, len(reports), duration)
	s.deadLetter(trigger, reports, err, attempts)
	return flushResult{trigger: trigger, rows: len(reports), err: err}
}

func (s *Scheduler) deadLetter(trigger Trigger, reports []entity.StatusReport, reason error, attempts uint) {
	log.Error().Err(reason).
		Str("trigger", string(trigger)).
		Uint("attempts", attempts).
		Int("rows", len(reports)).
		Interface("reports", reports).
		Msg("batch dead-lettered")

	if s.deadLetters == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	if err := s.deadLetters.Put(ctx, repository.NewDeadLetter(reports, reason, attempts, s.clock.Now())); err != nil {
		log.Error().Err(err).Int("rows", len(reports)).Msg("error writing dead letter")
	}
}
