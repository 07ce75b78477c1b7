package repository

import (
	"context"
	"sync"

	"github.com/zaz600/go-status-collector/internal/entity"
)

// InMemoryStatusRepository хранит пачки в памяти. Используется без БД и в тестах.
type InMemoryStatusRepository struct {
	mu      *sync.RWMutex
	batches [][]entity.StatusReport
}

func NewInMemoryStatusRepository() *InMemoryStatusRepository {
	return &InMemoryStatusRepository{
		mu: &sync.RWMutex{},
	}
}

func (m *InMemoryStatusRepository) InsertBatch(_ context.Context, reports []entity.StatusReport) error {
	if len(reports) == 0 {
		return NewRejectedError(ErrEmptyBatch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make([]entity.StatusReport, len(reports))
	copy(batch, reports)
	m.batches = append(m.batches, batch)
	return nil
}

// Batches возвращает копию всех записанных пачек в порядке записи
func (m *InMemoryStatusRepository) Batches() [][]entity.StatusReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([][]entity.StatusReport, len(m.batches))
	copy(result, m.batches)
	return result
}

// Reports возвращает все записанные отчеты в порядке записи
func (m *InMemoryStatusRepository) Reports() []entity.StatusReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []entity.StatusReport
	for _, b := range m.batches {
		result = append(result, b...)
	}
	return result
}

// Count возвращает количество записанных отчетов
func (m *InMemoryStatusRepository) Count() int {
	return len(m.Reports())
}

func (m *InMemoryStatusRepository) Status(_ context.Context) error {
	return nil
}

func (m *InMemoryStatusRepository) Close(_ context.Context) error {
	return nil
}
