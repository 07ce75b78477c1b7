package repository

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/zaz600/go-status-collector/internal/app/config"
	"github.com/zaz600/go-status-collector/internal/entity"
)

// StatusRepository интерфейс хранилища отчетов
type StatusRepository interface {
	// InsertBatch сохраняет пачку отчетов одним запросом, в порядке пачки.
	// Ошибки возвращаются классифицированными: TransientError или RejectedError.
	InsertBatch(ctx context.Context, reports []entity.StatusReport) error

	// Status статус подключения к хранилищу
	Status(ctx context.Context) error

	// Close закрывает, все, что надо закрыть
	Close(ctx context.Context) error
}

func NewRepository(ctx context.Context, cfg *config.CollectorConfig) (StatusRepository, error) {
	switch cfg.GetRepositoryType() {
	case config.DatabaseRepo:
		log.Info().Str("table", cfg.StatusTable).Msg("DatabaseRepo")
		repo, err := NewPgStatusRepository(ctx, cfg.DatabaseDSN, cfg.StatusTable, int32(cfg.DBMaxConns))
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		log.Warn().Msg("MemoryRepository, reports are lost on restart")
		return NewInMemoryStatusRepository(), nil
	}
}

func NewDeadLetterSink(cfg *config.CollectorConfig) (DeadLetterSink, error) {
	if cfg.DeadLetterPath == "" {
		log.Info().Msg("dead letters are written to log only")
		return nil, nil
	}
	log.Info().Str("path", cfg.DeadLetterPath).Msg("FileDeadLetterSink")
	sink, err := NewFileDeadLetterSink(cfg.DeadLetterPath)
	if err != nil {
		return nil, err
	}
	return sink, nil
}
