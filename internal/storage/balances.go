package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// AddMultipleBalances appends balances to the balance history.
func (s *Store) AddMultipleBalances(ctx context.Context, balances []TimedBalance) error {
	return s.write(ctx, "add multiple balances", advanceLastWrite, func(tx *sql.Tx) error {
		return insertBalances(ctx, tx, balances)
	})
}

// AddMultipleLocationData appends entries to the per-location value history.
func (s *Store) AddMultipleLocationData(ctx context.Context, data []TimedLocationData) error {
	return s.write(ctx, "add multiple location data", advanceLastWrite, func(tx *sql.Tx) error {
		return insertLocationData(ctx, tx, data)
	})
}

// WriteBalancesData records snapshot under a single timestamp: one balance
// per asset and one location entry per location plus the "total" entry
// holding the net usd value.
func (s *Store) WriteBalancesData(ctx context.Context, snapshot BalancesSnapshot) error {
	ts := s.now().Unix()

	assets := make([]string, 0, len(snapshot.Assets))
	for asset := range snapshot.Assets {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	balances := make([]TimedBalance, 0, len(assets))
	for _, asset := range assets {
		b := snapshot.Assets[asset]
		balances = append(balances, TimedBalance{Time: ts, Currency: asset, Amount: b.Amount, USDValue: b.USDValue})
	}

	locations := make([]string, 0, len(snapshot.Locations))
	for location := range snapshot.Locations {
		locations = append(locations, location)
	}
	sort.Strings(locations)
	data := make([]TimedLocationData, 0, len(locations)+1)
	for _, location := range locations {
		data = append(data, TimedLocationData{Time: ts, Location: location, USDValue: snapshot.Locations[location]})
	}
	data = append(data, TimedLocationData{Time: ts, Location: LocationTotal, USDValue: snapshot.NetUSD})

	return s.write(ctx, "write balances data", advanceLastWrite, func(tx *sql.Tx) error {
		if err := insertBalances(ctx, tx, balances); err != nil {
			return err
		}
		return insertLocationData(ctx, tx, data)
	})
}

// TimedBalances returns the balance history between from and to inclusive,
// oldest first. A zero bound is open.
func (s *Store) TimedBalances(ctx context.Context, from, to int64) ([]TimedBalance, error) {
	query, args := timeRange(`SELECT time, currency, amount, usd_value FROM timed_balances`, from, to)
	var out []TimedBalance
	err := s.read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query+` ORDER BY time ASC, rowid ASC`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				b               TimedBalance
				amount, usdText sql.NullString
			)
			if err := rows.Scan(&b.Time, &b.Currency, &amount, &usdText); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			if b.Amount, err = parseDecimal(amount); err != nil {
				return fmt.Errorf("amount of %s: %w", b.Currency, err)
			}
			if b.USDValue, err = parseDecimal(usdText); err != nil {
				return fmt.Errorf("usd value of %s: %w", b.Currency, err)
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get timed balances: %w", err)
	}
	return out, nil
}

// TimedLocationData returns the location history between from and to
// inclusive, oldest first. A zero bound is open.
func (s *Store) TimedLocationData(ctx context.Context, from, to int64) ([]TimedLocationData, error) {
	query, args := timeRange(`SELECT time, location, usd_value FROM timed_location_data`, from, to)
	var out []TimedLocationData
	err := s.read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query+` ORDER BY time ASC, rowid ASC`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				d       TimedLocationData
				usdText sql.NullString
			)
			if err := rows.Scan(&d.Time, &d.Location, &usdText); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			if d.USDValue, err = parseDecimal(usdText); err != nil {
				return fmt.Errorf("usd value of %s: %w", d.Location, err)
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get timed location data: %w", err)
	}
	return out, nil
}

// AddFiatBalance sets the held amount of a fiat currency, replacing any
// previous amount.
func (s *Store) AddFiatBalance(ctx context.Context, currency string, amount decimal.Decimal) error {
	if currency == "" {
		return inputErrorf("fiat currency must not be empty")
	}
	return s.write(ctx, "add fiat balance", advanceLastWrite, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO current_balances(asset, amount) VALUES(?, ?)`,
			currency, amount.String())
		return err
	})
}

// RemoveFiatBalance is a no-op for currencies without a balance.
func (s *Store) RemoveFiatBalance(ctx context.Context, currency string) error {
	return s.write(ctx, "remove fiat balance", advanceLastWrite, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM current_balances WHERE asset = ?`, currency)
		return err
	})
}

func (s *Store) FiatBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	err := s.read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT asset, amount FROM current_balances`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				asset  string
				amount sql.NullString
			)
			if err := rows.Scan(&asset, &amount); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			value, err := parseDecimal(amount)
			if err != nil {
				return fmt.Errorf("amount of %s: %w", asset, err)
			}
			out[asset] = value
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get fiat balances: %w", err)
	}
	return out, nil
}

func insertBalances(ctx context.Context, tx *sql.Tx, balances []TimedBalance) error {
	if len(balances) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO timed_balances(time, currency, amount, usd_value) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare balances insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range balances {
		if _, err := stmt.ExecContext(ctx, b.Time, b.Currency, b.Amount.String(), b.USDValue.String()); err != nil {
			return fmt.Errorf("insert balance %s: %w", b.Currency, err)
		}
	}
	return nil
}

func insertLocationData(ctx context.Context, tx *sql.Tx, data []TimedLocationData) error {
	if len(data) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO timed_location_data(time, location, usd_value) VALUES(?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare location data insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range data {
		if _, err := stmt.ExecContext(ctx, d.Time, d.Location, d.USDValue.String()); err != nil {
			return fmt.Errorf("insert location data %s: %w", d.Location, err)
		}
	}
	return nil
}

func timeRange(base string, from, to int64) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if from != 0 {
		clauses = append(clauses, `time >= ?`)
		args = append(args, from)
	}
	if to != 0 {
		clauses = append(clauses, `time <= ?`)
		args = append(args, to)
	}
	query := base
	for i, c := range clauses {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	return query, args
}

func parseDecimal(v sql.NullString) (decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v.String)
}
