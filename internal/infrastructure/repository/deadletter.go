package repository

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/zaz600/go-status-collector/internal/entity"
)

// DeadLetter пачка, которую так и не удалось записать в хранилище.
// Хранится для ручного восстановления.
type DeadLetter struct {
	Reports  []entity.StatusReport `json:"reports"`
	Reason   string                `json:"reason"`
	Attempts uint                  `json:"attempts"`
	FailedAt time.Time             `json:"failed_at"`
}

func NewDeadLetter(reports []entity.StatusReport, reason error, attempts uint, failedAt time.Time) DeadLetter {
	d := DeadLetter{
		Reports:  reports,
		Attempts: attempts,
		FailedAt: failedAt,
	}
	if reason != nil {
		d.Reason = reason.Error()
	}
	return d
}

// DeadLetterSink хранилище для неудавшихся пачек
type DeadLetterSink interface {
	// Put сохраняет неудавшуюся пачку
	Put(ctx context.Context, d DeadLetter) error
	// Close закрывает, все, что надо закрыть
	Close() error
}

// FileDeadLetterSink дописывает неудавшиеся пачки в файл, по JSON объекту на строку
type FileDeadLetterSink struct {
	path    string
	file    *os.File
	encoder *json.Encoder
	mu      *sync.Mutex
}

func NewFileDeadLetterSink(path string) (*FileDeadLetterSink, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileDeadLetterSink{
		path:    path,
		file:    file,
		encoder: json.NewEncoder(file),
		mu:      &sync.Mutex{},
	}, nil
}

func (f *FileDeadLetterSink) Put(_ context.Context, d DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.encoder.Encode(d); err != nil {
		return err
	}
	return f.file.Sync()
}

func (f *FileDeadLetterSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

// InMemoryDeadLetterSink держит неудавшиеся пачки в памяти
type InMemoryDeadLetterSink struct {
	mu      *sync.RWMutex
	letters []DeadLetter
}

func NewInMemoryDeadLetterSink() *InMemoryDeadLetterSink {
	return &InMemoryDeadLetterSink{mu: &sync.RWMutex{}}
}

func (m *InMemoryDeadLetterSink) Put(_ context.Context, d DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.letters = append(m.letters, d)
	return nil
}

// Letters возвращает копию сохраненных пачек
func (m *InMemoryDeadLetterSink) Letters() []DeadLetter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]DeadLetter, len(m.letters))
	copy(result, m.letters)
	return result
}

func (m *InMemoryDeadLetterSink) Close() error {
	return nil
}
