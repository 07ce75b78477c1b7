package scheduler

import "fmt"

// RetriesExhaustedError пачку не удалось записать за отведенное число попыток
type RetriesExhaustedError struct {
	Attempts uint
	Err      error
}

func NewRetriesExhaustedError(attempts uint, err error) *RetriesExhaustedError {
	return &RetriesExhaustedError{
		Attempts: attempts,
		Err:      err,
	}
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// WriteCanceledError запись пачки прервана отменой контекста до того, как кончились попытки.
// Attempts может быть 0, если до хранилища дело не дошло.
type WriteCanceledError struct {
	Attempts uint
	Err      error
}

func NewWriteCanceledError(attempts uint, err error) *WriteCanceledError {
	return &WriteCanceledError{
		Attempts: attempts,
		Err:      err,
	}
}

func (e *WriteCanceledError) Error() string {
	return fmt.Sprintf("write canceled after %d attempts: %v", e.Attempts, e.Err)
}

func (e *WriteCanceledError) Unwrap() error {
	return e.Err
}
