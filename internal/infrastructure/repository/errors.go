package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

// ErrEmptyBatch пустые пачки в хранилище не пишутся
var ErrEmptyBatch = errors.New("empty batch")

// TransientError временная ошибка хранилища: обрыв соединения, таймаут, deadlock, конфликт сериализации.
// Запись той же пачки можно повторить.
type TransientError struct {
	err error
}

func NewTransientError(err error) *TransientError {
	return &TransientError{err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient storage error: %v", e.err)
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// RejectedError хранилище отвергло пачку: некорректные данные, нарушение ограничений.
// Повтор той же пачки не поможет.
type RejectedError struct {
	err error
}

func NewRejectedError(err error) *RejectedError {
	return &RejectedError{err: err}
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("storage rejected batch: %v", e.err)
}

func (e *RejectedError) Unwrap() error {
	return e.err
}

// TableNotFoundError таблицы для отчетов нет в БД
type TableNotFoundError struct {
	Table string
}

func NewTableNotFoundError(table string) *TableNotFoundError {
	return &TableNotFoundError{Table: table}
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %s does not exist", e.Table)
}

// IsRetryable можно ли повторить запись после такой ошибки.
// Все, что не помечено как RejectedError, считается временным.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rejected *RejectedError
	return !errors.As(err, &rejected)
}

// Classify заворачивает ошибку драйвера в TransientError или RejectedError.
// Неизвестные ошибки считаются временными, число повторов все равно ограничено.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var transient *TransientError
	var rejected *RejectedError
	if errors.As(err, &transient) || errors.As(err, &rejected) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsTransactionRollback(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code),
			pgerrcode.IsSystemError(pgErr.Code):
			return NewTransientError(err)
		default:
			return NewRejectedError(err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return NewTransientError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return NewTransientError(err)
	}

	if errors.Is(err, ErrEmptyBatch) {
		return NewRejectedError(err)
	}
	return NewTransientError(err)
}
