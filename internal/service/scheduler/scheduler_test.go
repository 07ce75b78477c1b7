package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zaz600/go-status-collector/internal/entity"
	"github.com/zaz600/go-status-collector/internal/infrastructure/repository"
	"github.com/zaz600/go-status-collector/internal/service/ingest"
	testingclock "k8s.io/utils/clock/testing"
)

// fakeRepo пишет в память и запоминает каждый вызов InsertBatch
type fakeRepo struct {
	*repository.InMemoryStatusRepository
	mu        *sync.Mutex
	calls     [][]entity.StatusReport
	fail      func(call int) error
	hang      func(call int) bool
	delay     time.Duration
	active    int32
	maxActive int32
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		InMemoryStatusRepository: repository.NewInMemoryStatusRepository(),
		mu:                       &sync.Mutex{},
	}
}

func (f *fakeRepo) InsertBatch(ctx context.Context, reports []entity.StatusReport) error {
	active := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)

	f.mu.Lock()
	if active > f.maxActive {
		f.maxActive = active
	}
	batch := make([]entity.StatusReport, len(reports))
	copy(batch, reports)
	f.calls = append(f.calls, batch)
	call := len(f.calls)
	fail := f.fail
	hang := f.hang
	f.mu.Unlock()

	if hang != nil && hang(call) {
		<-ctx.Done()
		return ctx.Err()
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(call); err != nil {
			return err
		}
	}
	return f.InMemoryStatusRepository.InsertBatch(ctx, reports)
}

func (f *fakeRepo) Calls() [][]entity.StatusReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([][]entity.StatusReport, len(f.calls))
	copy(result, f.calls)
	return result
}

func (f *fakeRepo) MaxActive() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func testConfig() Config {
	return Config{
		FlushInterval:   20 * time.Millisecond,
		MaxLatency:      100 * time.Millisecond,
		MaxBatchSize:    100,
		WriteTimeout:    time.Second,
		MaxRetries:      3,
		RetryDelay:      time.Millisecond,
		MaxRetryDelay:   5 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}
}

// startScheduler запускает Run в горутине, возвращает функцию остановки
func startScheduler(t *testing.T, s *Scheduler) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()

	var once sync.Once
	var runErr error
	stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-errCh:
			case <-time.After(5 * time.Second):
				runErr = errors.New("scheduler did not stop")
			}
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func enqueue(t *testing.T, q *ingest.Queue, reports ...entity.StatusReport) {
	t.Helper()
	for _, r := range reports {
		require.NoError(t, q.Enqueue(context.Background(), r))
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, newFakeRepo(), testConfig())
	assert.Error(t, err)
	_, err = New(ingest.NewQueue(1), nil, testConfig())
	assert.Error(t, err)
	_, err = New(ingest.NewQueue(1), newFakeRepo(), testConfig(), WithClock(nil))
	assert.Error(t, err)

	s, err := New(ingest.NewQueue(1), newFakeRepo(), Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultFlushInterval, s.cfg.FlushInterval)
	assert.Equal(t, defaultMaxLatency, s.cfg.MaxLatency)
	assert.Equal(t, uint(defaultMaxRetries), s.cfg.MaxRetries)
}

func TestScheduler_PeriodicFlushKeepsOrder(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	cfg := testConfig()
	cfg.FlushInterval = 50 * time.Millisecond
	cfg.MaxLatency = 10 * time.Second
	s, err := New(q, repo, cfg)
	require.NoError(t, err)
	startScheduler(t, s)

	enqueue(t, q, entity.NewStatusReport("c1", "up"), entity.NewStatusReport("c2", "down"))

	require.Eventually(t, func() bool {
		return len(repo.Calls()) == 1
	}, time.Second, 5*time.Millisecond)

	// один запрос, строки в порядке поступления
	expected := []entity.StatusReport{
		entity.NewStatusReport("c1", "up"),
		entity.NewStatusReport("c2", "down"),
	}
	assert.Equal(t, [][]entity.StatusReport{expected}, repo.Batches())

	time.Sleep(3 * cfg.FlushInterval)
	assert.Len(t, repo.Calls(), 1)
}

func TestScheduler_LatencyGuardWithoutPeriodic(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	cfg := testConfig()
	// периодический сброс фактически выключен
	cfg.FlushInterval = time.Hour
	cfg.MaxLatency = 100 * time.Millisecond
	s, err := New(q, repo, cfg)
	require.NoError(t, err)
	startScheduler(t, s)

	start := time.Now()
	enqueue(t, q, entity.NewStatusReport("c1", "up"))

	require.Eventually(t, func() bool {
		return len(repo.Calls()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(start), cfg.MaxLatency+500*time.Millisecond)
	assert.Equal(t, []entity.StatusReport{entity.NewStatusReport("c1", "up")}, repo.Reports())
}

func TestScheduler_Timeliness(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	cfg := testConfig()
	cfg.FlushInterval = 50 * time.Millisecond
	cfg.MaxLatency = time.Hour
	s, err := New(q, repo, cfg)
	require.NoError(t, err)
	startScheduler(t, s)

	// следующие отчеты не откладывают сброс первого
	start := time.Now()
	for i := 0; i < 5; i++ {
		enqueue(t, q, entity.NewStatusReport(fmt.Sprintf("c%d", i), "up"))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return repo.Count() == 5
	}, 2*time.Second, 2*time.Millisecond)
	assert.Less(t, time.Since(start), 4*cfg.FlushInterval)
}

func TestScheduler_NoSpuriousFlush(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	fakeClock := testingclock.NewFakeClock(time.Now())
	s, err := New(q, repo, testConfig(), WithClock(fakeClock))
	require.NoError(t, err)
	stop := startScheduler(t, s)

	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	for i := 0; i < 20; i++ {
		fakeClock.Step(time.Hour)
		time.Sleep(2 * time.Millisecond)
	}

	require.NoError(t, stop())
	assert.Empty(t, repo.Calls())
}

func TestScheduler_FakeClockPeriodic(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	fakeClock := testingclock.NewFakeClock(time.Now())
	cfg := testConfig()
	cfg.MaxLatency = time.Hour
	s, err := New(q, repo, cfg, WithClock(fakeClock))
	require.NoError(t, err)
	startScheduler(t, s)
	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)

	enqueue(t, q, entity.NewStatusReport("c1", "up"))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	// время стоит, сброса нет
	assert.Empty(t, repo.Calls())

	fakeClock.Step(cfg.FlushInterval)
	require.Eventually(t, func() bool {
		return len(repo.Calls()) == 1
	}, time.Second, time.Millisecond)
}

func TestScheduler_OrderAndNoLoss(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	cfg := testConfig()
	cfg.FlushInterval = 2 * time.Millisecond
	cfg.MaxBatchSize = 7
	s, err := New(q, repo, cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	n := 1000
	expected := make([]entity.StatusReport, 0, n)
	for i := 0; i < n; i++ {
		r := entity.NewStatusReport("c1", fmt.Sprintf("%d", i))
		expected = append(expected, r)
		enqueue(t, q, r)
	}
	q.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("scheduler did not stop after queue close")
	}

	assert.Equal(t, expected, repo.Reports())
	for _, b := range repo.Batches() {
		assert.LessOrEqual(t, len(b), cfg.MaxBatchSize)
		assert.NotEmpty(t, b)
	}
}

func TestScheduler_ConcurrentProducers(t *testing.T) {
	q := ingest.NewQueue(16)
	repo := newFakeRepo()
	cfg := testConfig()
	cfg.FlushInterval = 5 * time.Millisecond
	cfg.MaxBatchSize = 50
	s, err := New(q, repo, cfg)
	require.NoError(t, err)
	stop := startScheduler(t, s)

	producers := 4
	perProducer := 200
	wg := &sync.WaitGroup{}
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				err := q.Enqueue(context.Background(), entity.NewStatusReport(fmt.Sprintf("client-%d", p), fmt.Sprintf("%d", i)))
				assert.NoError(t, err)
			}
		}(p)
	}
	wg.Wait()
	q.Close()
	require.NoError(t, stop())

	reports := repo.Reports()
	require.Len(t, reports, producers*perProducer)
	last := map[string]int{}
	for _, r := range reports {
		var n int
		_, err := fmt.Sscanf(r.Status, "%d", &n)
		require.NoError(t, err)
		if prev, ok := last[r.ClientID]; ok {
			assert.Equal(t, prev+1, n, "client %s", r.ClientID)
		}
		last[r.ClientID] = n
	}
}

func TestScheduler_TransientFailureIsRetried(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	repo.fail = func(call int) error {
		if call == 1 {
			return io.ErrUnexpectedEOF
		}
		return nil
	}
	sink := repository.NewInMemoryDeadLetterSink()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s, err := New(q, repo, testConfig(), WithDeadLetterSink(sink), WithMetrics(metrics))
	require.NoError(t, err)
	startScheduler(t, s)

	enqueue(t, q, entity.NewStatusReport("c1", "up"), entity.NewStatusReport("c2", "down"))

	require.Eventually(t, func() bool {
		return repo.Count() == 2
	}, time.Second, 2*time.Millisecond)

	calls := repo.Calls()
	require.Len(t, calls, 2)
	// повтор с тем же содержимым
	assert.Equal(t, calls[0], calls[1])
	assert.Empty(t, sink.Letters())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.retries))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.flushedReports))
}

func TestScheduler_WriteTimeoutIsRetried(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	// первая попытка висит, пока не истечет WriteTimeout
	repo.hang = func(call int) bool {
		return call == 1
	}
	sink := repository.NewInMemoryDeadLetterSink()
	metrics := NewMetrics(prometheus.NewRegistry())
	cfg := testConfig()
	cfg.WriteTimeout = 30 * time.Millisecond
	s, err := New(q, repo, cfg, WithDeadLetterSink(sink), WithMetrics(metrics))
	require.NoError(t, err)
	startScheduler(t, s)

	enqueue(t, q, entity.NewStatusReport("c1", "up"))

	require.Eventually(t, func() bool {
		return repo.Count() == 1
	}, time.Second, 2*time.Millisecond)

	calls := repo.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0], calls[1])
	assert.Empty(t, sink.Letters())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.retries))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.deadLettered))
}

func TestScheduler_WriteCanceledBeforeFirstAttempt(t *testing.T) {
	repo := newFakeRepo()
	sink := repository.NewInMemoryDeadLetterSink()
	metrics := NewMetrics(prometheus.NewRegistry())
	s, err := New(ingest.NewQueue(1), repo, testConfig(), WithDeadLetterSink(sink), WithMetrics(metrics))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.write(ctx, TriggerShutdown, []entity.StatusReport{entity.NewStatusReport("c1", "up")})

	var canceled *WriteCanceledError
	require.ErrorAs(t, res.err, &canceled)
	assert.Equal(t, uint(0), canceled.Attempts)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Empty(t, repo.Calls())

	letters := sink.Letters()
	require.Len(t, letters, 1)
	assert.Equal(t, uint(0), letters[0].Attempts)
	assert.Contains(t, letters[0].Reason, "write canceled")
	assert.NotContains(t, letters[0].Reason, "retries exhausted")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.flushes.WithLabelValues(string(TriggerShutdown), string(ResultCanceled))))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.flushes.WithLabelValues(string(TriggerShutdown), string(ResultExhausted))))
}

func TestScheduler_RejectedBatchIsDeadLettered(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	repo.fail = func(int) error {
		return repository.NewRejectedError(errors.New("value too long"))
	}
	sink := repository.NewInMemoryDeadLetterSink()
	metrics := NewMetrics(prometheus.NewRegistry())
	s, err := New(q, repo, testConfig(), WithDeadLetterSink(sink), WithMetrics(metrics))
	require.NoError(t, err)
	startScheduler(t, s)

	enqueue(t, q, entity.NewStatusReport("c1", "up"))

	require.Eventually(t, func() bool {
		return len(sink.Letters()) == 1
	}, time.Second, 2*time.Millisecond)

	letter := sink.Letters()[0]
	assert.Equal(t, []entity.StatusReport{entity.NewStatusReport("c1", "up")}, letter.Reports)
	assert.Equal(t, uint(1), letter.Attempts)
	assert.Contains(t, letter.Reason, "value too long")
	// отвергнутая пачка не повторяется
	assert.Len(t, repo.Calls(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.deadLettered))

	// цикл продолжает работать после ошибки
	repo.mu.Lock()
	repo.fail = nil
	repo.mu.Unlock()
	enqueue(t, q, entity.NewStatusReport("c2", "up"))
	require.Eventually(t, func() bool {
		return repo.Count() == 1
	}, time.Second, 2*time.Millisecond)
}

func TestScheduler_ExhaustedRetriesAreDeadLettered(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	repo.fail = func(int) error {
		return repository.NewTransientError(errors.New("connection refused"))
	}
	sink := repository.NewInMemoryDeadLetterSink()
	cfg := testConfig()
	cfg.MaxRetries = 3
	s, err := New(q, repo, cfg, WithDeadLetterSink(sink))
	require.NoError(t, err)
	startScheduler(t, s)

	enqueue(t, q, entity.NewStatusReport("c1", "up"))

	require.Eventually(t, func() bool {
		return len(sink.Letters()) == 1
	}, 2*time.Second, 2*time.Millisecond)

	letter := sink.Letters()[0]
	assert.Equal(t, uint(3), letter.Attempts)
	assert.Contains(t, letter.Reason, "retries exhausted")
	assert.Contains(t, letter.Reason, "connection refused")
	assert.Len(t, repo.Calls(), 3)
	assert.Equal(t, 0, repo.Count())
}

func TestScheduler_AtMostOneWriteInFlight(t *testing.T) {
	q := ingest.NewQueue(100)
	repo := newFakeRepo()
	repo.delay = 30 * time.Millisecond
	cfg := testConfig()
	cfg.FlushInterval = 2 * time.Millisecond
	cfg.MaxLatency = 10 * time.Millisecond
	cfg.MaxBatchSize = 10
	s, err := New(q, repo, cfg)
	require.NoError(t, err)
	stop := startScheduler(t, s)

	n := 100
	for i := 0; i < n; i++ {
		enqueue(t, q, entity.NewStatusReport("c1", fmt.Sprintf("%d", i)))
		if i%10 == 0 {
			time.Sleep(3 * time.Millisecond)
		}
	}
	q.Close()
	require.NoError(t, stop())

	assert.Equal(t, int32(1), repo.MaxActive())
	require.Equal(t, n, repo.Count())
	for i, r := range repo.Reports() {
		assert.Equal(t, fmt.Sprintf("%d", i), r.Status)
	}
}

func TestScheduler_ShutdownFlushesRemainder(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	cfg := testConfig()
	cfg.FlushInterval = time.Hour
	cfg.MaxLatency = time.Hour
	metrics := NewMetrics(prometheus.NewRegistry())
	s, err := New(q, repo, cfg, WithMetrics(metrics))
	require.NoError(t, err)
	stop := startScheduler(t, s)

	enqueue(t, q,
		entity.NewStatusReport("c1", "up"),
		entity.NewStatusReport("c2", "up"),
		entity.NewStatusReport("c3", "down"),
	)
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, repo.Calls())

	require.NoError(t, stop())
	assert.Equal(t, 3, repo.Count())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.flushes.WithLabelValues(string(TriggerShutdown), string(ResultOK))))
}

func TestScheduler_ShutdownWaitsForInFlight(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	repo.delay = 100 * time.Millisecond
	cfg := testConfig()
	cfg.FlushInterval = 5 * time.Millisecond
	s, err := New(q, repo, cfg)
	require.NoError(t, err)
	stop := startScheduler(t, s)

	enqueue(t, q, entity.NewStatusReport("c1", "up"))
	require.Eventually(t, func() bool { return len(repo.Calls()) == 1 }, time.Second, time.Millisecond)
	// пока первая пачка пишется, приходит вторая
	enqueue(t, q, entity.NewStatusReport("c2", "up"))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, stop())
	assert.Equal(t, []entity.StatusReport{
		entity.NewStatusReport("c1", "up"),
		entity.NewStatusReport("c2", "up"),
	}, repo.Reports())
}

func TestScheduler_ShutdownAfterStuckWriteFlushesRemainder(t *testing.T) {
	q := ingest.NewQueue(10)
	repo := newFakeRepo()
	// первая запись висит дольше, чем можно ждать при остановке
	repo.hang = func(call int) bool {
		return call == 1
	}
	sink := repository.NewInMemoryDeadLetterSink()
	metrics := NewMetrics(prometheus.NewRegistry())
	cfg := testConfig()
	cfg.FlushInterval = 5 * time.Millisecond
	cfg.ShutdownTimeout = 100 * time.Millisecond
	s, err := New(q, repo, cfg, WithDeadLetterSink(sink), WithMetrics(metrics))
	require.NoError(t, err)
	stop := startScheduler(t, s)

	enqueue(t, q, entity.NewStatusReport("c1", "up"))
	require.Eventually(t, func() bool { return len(repo.Calls()) == 1 }, time.Second, time.Millisecond)
	enqueue(t, q, entity.NewStatusReport("c2", "up"))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, stop())

	// c2 пишется уже со своим таймаутом
	assert.Equal(t, []entity.StatusReport{entity.NewStatusReport("c2", "up")}, repo.Reports())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.flushes.WithLabelValues(string(TriggerShutdown), string(ResultOK))))

	letters := sink.Letters()
	require.Len(t, letters, 1)
	assert.Equal(t, []entity.StatusReport{entity.NewStatusReport("c1", "up")}, letters[0].Reports)
	assert.Equal(t, uint(1), letters[0].Attempts)
	assert.Contains(t, letters[0].Reason, "write canceled")
}

func TestScheduler_FullBatchStopsReadingQueue(t *testing.T) {
	q := ingest.NewQueue(2)
	repo := newFakeRepo()
	fakeClock := testingclock.NewFakeClock(time.Now())
	cfg := testConfig()
	cfg.MaxBatchSize = 2
	cfg.MaxLatency = time.Hour
	s, err := New(q, repo, cfg, WithClock(fakeClock))
	require.NoError(t, err)
	startScheduler(t, s)
	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)

	// 2 в накопителе, 2 в очереди
	for i := 0; i < 4; i++ {
		enqueue(t, q, entity.NewStatusReport("c1", fmt.Sprintf("%d", i)))
	}
	require.Eventually(t, func() bool { return q.Len() == 2 }, time.Second, time.Millisecond)

	// пятый ждет места в очереди
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, entity.NewStatusReport("c1", "4")), context.DeadlineExceeded)

	fakeClock.Step(cfg.FlushInterval)
	require.Eventually(t, func() bool {
		return repo.Count() == 2
	}, time.Second, time.Millisecond)
}
