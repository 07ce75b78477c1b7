package scheduler

import (
	"errors"
	"time"

	"github.com/zaz600/go-status-collector/internal/app/config"
	"github.com/zaz600/go-status-collector/internal/infrastructure/repository"
	"k8s.io/utils/clock"
)

// Config параметры сброса пачек
type Config struct {
	// FlushInterval период сброса непустой пачки
	FlushInterval time.Duration
	// MaxLatency сколько может пройти с прошлого сброса, пока пачка ждет
	MaxLatency time.Duration
	// MaxBatchSize сколько отчетов уходит одним запросом
	MaxBatchSize int
	// WriteTimeout таймаут одной попытки записи
	WriteTimeout time.Duration
	// MaxRetries число попыток записи одной пачки
	MaxRetries uint
	// RetryDelay начальная задержка между попытками
	RetryDelay time.Duration
	// MaxRetryDelay потолок задержки между попытками
	MaxRetryDelay time.Duration
	// ShutdownTimeout сколько ждать записи последних пачек при остановке
	ShutdownTimeout time.Duration
}

func NewConfig(cfg *config.CollectorConfig) Config {
	return Config{
		FlushInterval:   cfg.FlushInterval.Duration,
		MaxLatency:      cfg.MaxLatency.Duration,
		MaxBatchSize:    cfg.MaxBatchSize,
		WriteTimeout:    cfg.WriteTimeout.Duration,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay.Duration,
		MaxRetryDelay:   cfg.MaxRetryDelay.Duration,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

type Option func(*Scheduler) error

// WithClock подменяет часы, нужно для тестов
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) error {
		if c == nil {
			return errors.New("nil clock")
		}
		s.clock = c
		return nil
	}
}

// WithDeadLetterSink куда складывать пачки, которые не удалось записать.
// Без него такие пачки только пишутся в лог.
func WithDeadLetterSink(sink repository.DeadLetterSink) Option {
	return func(s *Scheduler) error {
		s.deadLetters = sink
		return nil
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) error {
		if m == nil {
			return errors.New("nil metrics")
		}
		s.metrics = m
		return nil
	}
}
