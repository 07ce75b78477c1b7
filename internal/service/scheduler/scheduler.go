package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zaz600/go-status-collector/internal/entity"
	"github.com/zaz600/go-status-collector/internal/infrastructure/repository"
	"github.com/zaz600/go-status-collector/internal/service/batch"
	"github.com/zaz600/go-status-collector/internal/service/ingest"
	"k8s.io/utils/clock"
)

const (
	defaultFlushInterval   = 100 * time.Millisecond
	defaultMaxLatency      = 500 * time.Millisecond
	defaultMaxBatchSize    = 1000
	defaultWriteTimeout    = 5 * time.Second
	defaultMaxRetries      = 5
	defaultRetryDelay      = 100 * time.Millisecond
	defaultMaxRetryDelay   = 2 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Scheduler забирает отчеты из очереди, копит их и сбрасывает пачками в хранилище.
// Сброс запускается по таймеру или когда с прошлого сброса прошло больше MaxLatency.
// Одновременно пишется не больше одной пачки, следующая копится, пока пишется текущая.
type Scheduler struct {
	cfg         Config
	queue       *ingest.Queue
	repo        repository.StatusRepository
	deadLetters repository.DeadLetterSink
	clock       clock.Clock
	metrics     *Metrics

	acc *batch.Accumulator
	// flushClock время завершения последнего сброса
	flushClock time.Time
	inFlight   bool
	// pending срабатывание, которое пришлось пропустить, пока пачка писалась
	pending Trigger
	results chan flushResult

	writeCtx     context.Context
	cancelWrites context.CancelFunc
}

type flushResult struct {
	trigger Trigger
	rows    int
	err     error
}

func New(queue *ingest.Queue, repo repository.StatusRepository, cfg Config, opts ...Option) (*Scheduler, error) {
	if queue == nil {
		return nil, errors.New("nil queue")
	}
	if repo == nil {
		return nil, errors.New("nil repository")
	}
	cfg = cfg.withDefaults()

	writeCtx, cancelWrites := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:          cfg,
		queue:        queue,
		repo:         repo,
		clock:        clock.RealClock{},
		acc:          batch.NewAccumulator(cfg.MaxBatchSize),
		results:      make(chan flushResult, 1),
		writeCtx:     writeCtx,
		cancelWrites: cancelWrites,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			cancelWrites()
			return nil, err
		}
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s, nil
}

// Run цикл планировщика. Возвращается, когда отменен ctx или закрыта и вычитана очередь.
// Перед выходом дожидается текущей записи и сбрасывает все, что осталось.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Dur("flush_interval", s.cfg.FlushInterval).
		Dur("max_latency", s.cfg.MaxLatency).
		Int("max_batch_size", s.acc.MaxSize()).
		Msg("start flush scheduler")

	s.flushClock = s.clock.Now()
	periodic := s.clock.NewTimer(s.cfg.FlushInterval)
	defer periodic.Stop()
	guard := s.clock.NewTimer(s.cfg.MaxLatency)
	defer guard.Stop()
	guardArmed := true

	in := s.queue.Out()
	for {
		// пачка набрана: очередь не читаем, писатели ждут места
		src := in
		if s.acc.IsFull() {
			src = nil
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown flush scheduler...")
			return s.shutdown()
		case r, ok := <-src:
			if !ok {
				log.Info().Msg("ingestion queue closed, shutdown flush scheduler...")
				return s.shutdown()
			}
			wasEmpty := s.acc.IsEmpty()
			s.acc.Append(r)
			if wasEmpty {
				resetTimer(periodic, s.cfg.FlushInterval)
			}
		case <-periodic.C():
			s.flush(TriggerPeriodic)
			periodic.Reset(s.cfg.FlushInterval)
		case <-guard.C():
			guardArmed = false
		case res := <-s.results:
			s.complete(res)
			if s.pending != "" {
				trigger := s.pending
				s.pending = ""
				s.flush(trigger)
			}
		}

		if !s.acc.IsEmpty() && s.clock.Since(s.flushClock) >= s.cfg.MaxLatency {
			s.flush(TriggerLatency)
		}
		guardArmed = s.armGuard(guard, guardArmed)
	}
}

// flush отдает накопленную пачку на запись. Ничего не делает, если пачка пуста.
// Если предыдущая пачка еще пишется, срабатывание запоминается до ее завершения.
func (s *Scheduler) flush(trigger Trigger) {
	if s.acc.IsEmpty() {
		return
	}
	if s.inFlight {
		s.pending = trigger
		return
	}

	reports := s.acc.DrainAll()
	s.inFlight = true
	go func() {
		s.results <- s.write(s.writeCtx, trigger, reports)
	}()
}

func (s *Scheduler) complete(res flushResult) {
	s.inFlight = false
	s.flushClock = s.clock.Now()
	if res.err != nil {
		log.Debug().Str("trigger", string(res.trigger)).Int("rows", res.rows).Msg("flush finished with dead letter")
	}
}

// armGuard держит сторожевой таймер взведенным на flushClock+MaxLatency, пока есть что сбрасывать
func (s *Scheduler) armGuard(guard clock.Timer, armed bool) bool {
	need := !s.inFlight && !s.acc.IsEmpty()
	switch {
	case need && !armed:
		resetTimer(guard, s.flushClock.Add(s.cfg.MaxLatency).Sub(s.clock.Now()))
		return true
	case !need && armed:
		guard.Stop()
		return false
	}
	return armed
}

func (s *Scheduler) shutdown() error {
	defer s.cancelWrites()

	if s.inFlight {
		s.waitInFlight()
	}

	for {
		s.drainQueue()
		if s.acc.IsEmpty() {
			break
		}
		s.writeChunk(s.acc.DrainAll())
	}
	log.Info().Msg("flush scheduler stopped")
	return nil
}

// waitInFlight ждет текущую запись не дольше ShutdownTimeout, потом отменяет ее
func (s *Scheduler) waitInFlight() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	select {
	case res := <-s.results:
		s.complete(res)
	case <-ctx.Done():
		log.Warn().Msg("in-flight batch write takes too long, cancel it")
		s.cancelWrites()
		s.complete(<-s.results)
	}
}

// writeChunk у каждой пачки при остановке свой ShutdownTimeout
func (s *Scheduler) writeChunk(reports []entity.StatusReport) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.complete(s.write(ctx, TriggerShutdown, reports))
}

// drainQueue забирает из очереди то, что в ней уже лежит, не больше одной пачки
func (s *Scheduler) drainQueue() {
	for !s.acc.IsFull() {
		select {
		case r, ok := <-s.queue.Out():
			if !ok {
				return
			}
			s.acc.Append(r)
		default:
			return
		}
	}
}

func resetTimer(t clock.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C():
		default:
		}
	}
	t.Reset(d)
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.MaxLatency <= 0 {
		c.MaxLatency = defaultMaxLatency
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = defaultMaxRetryDelay
		if c.MaxRetryDelay < c.RetryDelay {
			c.MaxRetryDelay = c.RetryDelay
		}
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}
