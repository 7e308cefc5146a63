package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-gateway/internal/entity"
)

type QuoteRepository struct {
	db *sqlx.DB
}

func NewQuoteRepository(db *sqlx.DB) *QuoteRepository {
	return &QuoteRepository{db: db}
}

// UpsertQuotes stores the latest snapshot per symbol in one transaction.
func (r *QuoteRepository) UpsertQuotes(ctx context.Context, quotes []entity.QuoteSnapshot) (err error) {
	if len(quotes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin quote upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	updatedAt := time.Now().UnixMilli()
	for _, quote := range quotes {
		query, args, buildErr := statementBuilder(r.db).
			Insert(quote.TableName()).
			Columns(
				"symbol",
				"timestamp",
				"last_price",
				"bid_price",
				"ask_price",
				"volume",
				"price_change",
				"updated_at",
			).
			Values(
				quote.Symbol,
				quote.Timestamp,
				quote.LastPrice,
				quote.BidPrice,
				quote.AskPrice,
				quote.Volume,
				quote.Change,
				updatedAt,
			).
			Suffix(`ON CONFLICT (symbol)
DO UPDATE SET
	timestamp = EXCLUDED.timestamp,
	last_price = EXCLUDED.last_price,
	bid_price = EXCLUDED.bid_price,
	ask_price = EXCLUDED.ask_price,
	volume = EXCLUDED.volume,
	price_change = EXCLUDED.price_change,
	updated_at = EXCLUDED.updated_at`).
			ToSql()
		if buildErr != nil {
			err = buildErr
			return err
		}

		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert quote %s: %w", quote.Symbol, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit quote upsert: %w", err)
	}

	return nil
}

// GetLatestQuote returns (nil, nil) when the symbol has no stored quote.
func (r *QuoteRepository) GetLatestQuote(ctx context.Context, symbol string) (*entity.QuoteSnapshot, error) {
	query, args, err := statementBuilder(r.db).
		Select(
			"symbol",
			"timestamp",
			"last_price",
			"bid_price",
			"ask_price",
			"volume",
			"price_change",
		).
		From(entity.QuoteSnapshot{}.TableName()).
		Where(sq.Eq{"symbol": symbol}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var quote entity.QuoteSnapshot
	err = r.db.GetContext(ctx, &quote, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &quote, nil
}

func (r *QuoteRepository) CountSymbols(ctx context.Context) (int64, error) {
	query, args, err := statementBuilder(r.db).
		Select("COUNT(*)").
		From(entity.QuoteSnapshot{}.TableName()).
		ToSql()
	if err != nil {
		return 0, err
	}

	var count int64
	err = r.db.GetContext(ctx, &count, query, args...)
	return count, err
}
