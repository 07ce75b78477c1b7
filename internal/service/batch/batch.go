package batch

import (
	"github.com/zaz600/go-status-collector/internal/entity"
)

// Accumulator копит отчеты между сбросами в хранилище.
// Владелец у накопителя один, поэтому без блокировок.
type Accumulator struct {
	// maxSize размер пачки. Когда в буфере накапливается указанное число отчетов,
	// накопитель считается заполненным и новые отчеты из очереди не забираются до сброса.
	maxSize int
	// buffer буфер для временного хранения отчетов перед их записью в хранилище.
	buffer []entity.StatusReport
}

func NewAccumulator(maxSize int) *Accumulator {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Accumulator{
		maxSize: maxSize,
		buffer:  make([]entity.StatusReport, 0, maxSize),
	}
}

// Append добавляет отчет в конец буфера
func (a *Accumulator) Append(r entity.StatusReport) {
	a.buffer = append(a.buffer, r)
}

// DrainAll отдает накопленные отчеты в порядке поступления и очищает буфер.
// Возвращаемый срез принадлежит вызывающему.
func (a *Accumulator) DrainAll() []entity.StatusReport {
	if len(a.buffer) == 0 {
		return nil
	}
	batch := a.buffer
	a.buffer = make([]entity.StatusReport, 0, a.maxSize)
	return batch
}

func (a *Accumulator) IsEmpty() bool {
	return len(a.buffer) == 0
}

func (a *Accumulator) Len() int {
	return len(a.buffer)
}

// IsFull набралась ли полная пачка
func (a *Accumulator) IsFull() bool {
	return len(a.buffer) >= a.maxSize
}

// MaxSize размер пачки
func (a *Accumulator) MaxSize() int {
	return a.maxSize
}
