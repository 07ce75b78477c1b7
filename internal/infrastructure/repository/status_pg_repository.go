package repository

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/zaz600/go-status-collector/internal/entity"
)

type PgStatusRepository struct {
	pool    *pgxpool.Pool
	table   string
	dialect goqu.DialectWrapper
}

// NewPgStatusRepository открывает пул соединений и проверяет, что таблица для отчетов существует.
// Схему сервис не создает и не мигрирует.
func NewPgStatusRepository(ctx context.Context, databaseDSN string, table string, maxConns int32) (*PgStatusRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseDSN)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	repo := &PgStatusRepository{
		pool:    pool,
		table:   table,
		dialect: goqu.Dialect("postgres"),
	}

	if err = repo.checkTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// InsertBatch сохраняет пачку отчетов одним multi-row INSERT
func (p *PgStatusRepository) InsertBatch(ctx context.Context, reports []entity.StatusReport) error {
	query, args, err := BuildInsert(p.dialect, p.table, reports)
	if err != nil {
		return NewRejectedError(err)
	}
	_, err = p.pool.Exec(ctx, query, args...)
	return Classify(err)
}

// Status статус подключения к хранилищу
func (p *PgStatusRepository) Status(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close закрывает пул соединений
func (p *PgStatusRepository) Close(_ context.Context) error {
	p.pool.Close()
	return nil
}

func (p *PgStatusRepository) checkTable(ctx context.Context) error {
	var exists bool
	err := p.pool.QueryRow(ctx, `select to_regclass($1) is not null`, p.table).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return NewTableNotFoundError(p.table)
	}
	return nil
}
