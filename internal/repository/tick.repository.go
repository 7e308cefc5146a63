package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/krobus00/market-gateway/internal/entity"
)

const tickInsertChunkSize = 500

var tickColumns = []string{
	"symbol",
	"timestamp",
	"price",
	"volume",
	"side",
	"aggressor",
	"trade_id",
	"trade_time",
	"broker_buyer",
	"broker_seller",
	"created_at",
}

type TickRepository struct {
	db *sqlx.DB
}

func NewTickRepository(db *sqlx.DB) *TickRepository {
	return &TickRepository{db: db}
}

// InsertTicksBatch writes all ticks in one transaction. Either every row is
// stored or none is.
func (r *TickRepository) InsertTicksBatch(ctx context.Context, ticks []entity.TickRecord) (err error) {
	if len(ticks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tick batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for start := 0; start < len(ticks); start += tickInsertChunkSize {
		end := min(start+tickInsertChunkSize, len(ticks))

		queryBuilder := statementBuilder(r.db).
			Insert(entity.TickRecord{}.TableName()).
			Columns(tickColumns...)

		for _, tick := range ticks[start:end] {
			queryBuilder = queryBuilder.Values(
				tick.Symbol,
				tick.Timestamp,
				tick.Price,
				tick.Volume,
				tick.Side,
				tick.Aggressor,
				tick.TradeID,
				tick.TradeTime,
				tick.BrokerBuyer,
				tick.BrokerSeller,
				tick.CreatedAt,
			)
		}

		query, args, buildErr := queryBuilder.ToSql()
		if buildErr != nil {
			err = buildErr
			return err
		}

		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert tick batch: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tick batch: %w", err)
	}

	return nil
}

// GetLastTicks returns up to limit ticks for symbol, most recent first.
func (r *TickRepository) GetLastTicks(ctx context.Context, symbol string, limit int) ([]entity.TickRecord, error) {
	if limit <= 0 {
		return []entity.TickRecord{}, nil
	}

	queryBuilder := statementBuilder(r.db).
		Select(selectTickColumns()...).
		From(entity.TickRecord{}.TableName()).
		Where(sq.Eq{"symbol": symbol}).
		OrderBy("timestamp DESC", "id DESC").
		Limit(uint64(limit))

	return r.selectTicks(ctx, queryBuilder)
}

// GetTicksByPeriod returns the ticks of symbol within [from, to] (ms epoch),
// oldest first.
func (r *TickRepository) GetTicksByPeriod(ctx context.Context, symbol string, from, to int64) ([]entity.TickRecord, error) {
	queryBuilder := statementBuilder(r.db).
		Select(selectTickColumns()...).
		From(entity.TickRecord{}.TableName()).
		Where(sq.Eq{"symbol": symbol}).
		Where(sq.GtOrEq{"timestamp": from}).
		Where(sq.LtOrEq{"timestamp": to}).
		OrderBy("timestamp ASC", "id ASC")

	return r.selectTicks(ctx, queryBuilder)
}

// DeleteOlderThan removes ticks created before cutoff (ms epoch).
func (r *TickRepository) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	query, args, err := statementBuilder(r.db).
		Delete(entity.TickRecord{}.TableName()).
		Where(sq.Lt{"created_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (r *TickRepository) CountTicks(ctx context.Context) (int64, error) {
	query, args, err := statementBuilder(r.db).
		Select("COUNT(*)").
		From(entity.TickRecord{}.TableName()).
		ToSql()
	if err != nil {
		return 0, err
	}

	var count int64
	err = r.db.GetContext(ctx, &count, query, args...)
	return count, err
}

// Vacuum reclaims space after pruning. Only SQLite needs it here.
func (r *TickRepository) Vacuum(ctx context.Context) error {
	if r.db.DriverName() != constant.DriverSQLite {
		return nil
	}

	_, err := r.db.ExecContext(ctx, "VACUUM")
	return err
}

func (r *TickRepository) selectTicks(ctx context.Context, queryBuilder sq.SelectBuilder) ([]entity.TickRecord, error) {
	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	ticks := []entity.TickRecord{}
	err = r.db.SelectContext(ctx, &ticks, query, args...)
	if err != nil {
		return nil, err
	}

	return ticks, nil
}

func selectTickColumns() []string {
	return append([]string{"id"}, tickColumns...)
}

func statementBuilder(db *sqlx.DB) sq.StatementBuilderType {
	if db.DriverName() == constant.DriverSQLite {
		return sq.StatementBuilder.PlaceholderFormat(sq.Question)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}
