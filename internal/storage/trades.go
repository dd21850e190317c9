package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	msgEditMissingTrade   = "tried to edit non existing external trade id"
	msgDeleteMissingTrade = "tried to delete non-existing external trade"
)

// AddExternalTrade stores a hand-entered trade and returns its id. The
// location is always LocationExternal.
func (s *Store) AddExternalTrade(ctx context.Context, trade ExternalTrade) (int64, error) {
	if err := validateTrade(trade); err != nil {
		return 0, err
	}

	var id int64
	err := s.write(ctx, "add external trade", advanceLastWrite, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO trades(time, location, pair, type, amount, rate, fee, fee_currency, link, notes)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			trade.Time, LocationExternal, trade.Pair, string(trade.Type),
			trade.Amount.String(), trade.Rate.String(), trade.Fee.String(),
			trade.FeeCurrency, trade.Link, trade.Notes)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// EditExternalTrade overwrites every field of the trade with trade.ID. A
// missing id yields a *NotFoundError and nothing is written.
func (s *Store) EditExternalTrade(ctx context.Context, trade ExternalTrade) error {
	if err := validateTrade(trade); err != nil {
		return err
	}
	return s.write(ctx, "edit external trade", advanceLastWrite, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE trades SET time = ?, location = ?, pair = ?, type = ?, amount = ?,
			 rate = ?, fee = ?, fee_currency = ?, link = ?, notes = ?
			 WHERE id = ? AND location = ?`,
			trade.Time, LocationExternal, trade.Pair, string(trade.Type),
			trade.Amount.String(), trade.Rate.String(), trade.Fee.String(),
			trade.FeeCurrency, trade.Link, trade.Notes,
			trade.ID, LocationExternal)
		if err != nil {
			return err
		}
		return requireAffected(result, msgEditMissingTrade)
	})
}

// DeleteExternalTrade removes the trade with id. A missing id yields a
// *NotFoundError.
func (s *Store) DeleteExternalTrade(ctx context.Context, id int64) error {
	return s.write(ctx, "delete external trade", advanceLastWrite, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM trades WHERE id = ? AND location = ?`, id, LocationExternal)
		if err != nil {
			return err
		}
		return requireAffected(result, msgDeleteMissingTrade)
	})
}

// ExternalTrades lists external trades within filter, oldest first. A range
// that ends before it starts is empty.
func (s *Store) ExternalTrades(ctx context.Context, filter TradeFilter) ([]ExternalTrade, error) {
	query := `SELECT id, time, location, pair, type, amount, rate, fee, fee_currency, link, notes
		FROM trades WHERE location = ?`
	args := []any{LocationExternal}
	if filter.From != 0 {
		query += ` AND time >= ?`
		args = append(args, filter.From)
	}
	if filter.To != 0 {
		query += ` AND time <= ?`
		args = append(args, filter.To)
	}
	query += ` ORDER BY time ASC, id ASC`

	trades := []ExternalTrade{}
	err := s.read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			trade, err := scanTrade(rows)
			if err != nil {
				return err
			}
			trades = append(trades, trade)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get external trades: %w", err)
	}
	return trades, nil
}

func scanTrade(rows *sql.Rows) (ExternalTrade, error) {
	var (
		t                                    ExternalTrade
		pair, kind, feeCurrency, link, notes sql.NullString
		amount, rate, fee                    sql.NullString
	)
	if err := rows.Scan(&t.ID, &t.Time, &t.Location, &pair, &kind, &amount, &rate, &fee, &feeCurrency, &link, &notes); err != nil {
		return ExternalTrade{}, fmt.Errorf("scan: %w", err)
	}
	t.Pair = pair.String
	t.Type = TradeType(kind.String)
	t.FeeCurrency = feeCurrency.String
	t.Link = link.String
	t.Notes = notes.String

	var err error
	if t.Amount, err = parseDecimal(amount); err != nil {
		return ExternalTrade{}, fmt.Errorf("trade %d amount: %w", t.ID, err)
	}
	if t.Rate, err = parseDecimal(rate); err != nil {
		return ExternalTrade{}, fmt.Errorf("trade %d rate: %w", t.ID, err)
	}
	if t.Fee, err = parseDecimal(fee); err != nil {
		return ExternalTrade{}, fmt.Errorf("trade %d fee: %w", t.ID, err)
	}
	return t, nil
}

func validateTrade(t ExternalTrade) error {
	switch {
	case t.Time <= 0:
		return inputErrorf("trade time must be a positive timestamp")
	case t.Pair == "":
		return inputErrorf("trade pair must not be empty")
	case !t.Type.Valid():
		return inputErrorf("invalid trade type %q", t.Type)
	case t.FeeCurrency == "":
		return inputErrorf("trade fee currency must not be empty")
	}
	return nil
}

func requireAffected(result sql.Result, message string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return &NotFoundError{Message: message}
	}
	return nil
}
