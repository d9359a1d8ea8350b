package exchange

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RateStore keeps the history of fetched rates.
type RateStore interface {
	Save(ctx context.Context, rate Rate) error
	// Latest returns nil when no rate was ever saved for the pair.
	Latest(ctx context.Context, from, to string) (*Rate, error)
}

type SQLiteRateStore struct {
	db *sql.DB
}

func NewSQLiteRateStore(db *sql.DB) *SQLiteRateStore {
	return &SQLiteRateStore{db: db}
}

var _ RateStore = (*SQLiteRateStore)(nil)

func (s *SQLiteRateStore) Save(ctx context.Context, rate Rate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (from_currency, to_currency, rate, provider, fetched_at)
		VALUES (@from, @to, @rate, @provider, @fetched_at)`,
		sql.Named("from", rate.From),
		sql.Named("to", rate.To),
		sql.Named("rate", rate.Value),
		sql.Named("provider", rate.Provider),
		sql.Named("fetched_at", rate.FetchedAt.UTC()))
	if err != nil {
		return fmt.Errorf("insert exchange rate: %w", err)
	}
	return nil
}

func (s *SQLiteRateStore) Latest(ctx context.Context, from, to string) (*Rate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT from_currency, to_currency, rate, provider, fetched_at
		FROM exchange_rates
		WHERE from_currency = @from AND to_currency = @to
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1`,
		sql.Named("from", from), sql.Named("to", to))

	var rate Rate
	err := row.Scan(&rate.From, &rate.To, &rate.Value, &rate.Provider, &rate.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest exchange rate: %w", err)
	}
	return &rate, nil
}
