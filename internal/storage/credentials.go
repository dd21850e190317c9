package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sevdimali/rotki/internal/exchange"
)

// AddExchange stores API credentials for a supported exchange. Names outside
// the supported set, and names already registered, are rejected with an
// *InputError.
func (s *Store) AddExchange(ctx context.Context, name string, creds ExchangeCredentials) error {
	if !exchange.IsSupported(name) {
		return inputErrorf("unsupported exchange %s", name)
	}
	return s.write(ctx, "add exchange", advanceLastWrite, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_credentials WHERE name = ?`, name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("lookup: %w", err)
		}
		if exists > 0 {
			return inputErrorf("exchange %s is already registered", name)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_credentials(name, api_key, api_secret) VALUES(?, ?, ?)`,
			name, creds.APIKey, creds.APISecret)
		return err
	})
}

func (s *Store) RemoveExchange(ctx context.Context, name string) error {
	if name == exchange.Reserved {
		return inputErrorf("%s credentials are not an exchange", name)
	}
	return s.write(ctx, "remove exchange", advanceLastWrite, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM user_credentials WHERE name = ?`, name)
		return err
	})
}

// ExchangeSecrets returns the stored exchange credentials by name. The
// premium credentials are not included.
func (s *Store) ExchangeSecrets(ctx context.Context) (map[string]ExchangeCredentials, error) {
	out := make(map[string]ExchangeCredentials)
	err := s.read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT name, api_key, api_secret FROM user_credentials WHERE name != ?`, exchange.Reserved)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				name        string
				key, secret sql.NullString
			)
			if err := rows.Scan(&name, &key, &secret); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			out[name] = ExchangeCredentials{APIKey: key.String, APISecret: secret.String}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get exchange secrets: %w", err)
	}
	return out, nil
}

// SetRotkehlchenPremium stores the premium API credentials. It leaves
// last_write_ts alone: on a fresh machine this is the first write, and an
// unset last write is what triggers the initial pull from the server.
func (s *Store) SetRotkehlchenPremium(ctx context.Context, creds ExchangeCredentials) error {
	return s.write(ctx, "set premium credentials", keepLastWrite, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO user_credentials(name, api_key, api_secret) VALUES(?, ?, ?)`,
			exchange.Reserved, creds.APIKey, creds.APISecret)
		return err
	})
}

// RotkehlchenPremium returns the premium API credentials, or ErrNotFound if
// none are stored.
func (s *Store) RotkehlchenPremium(ctx context.Context) (ExchangeCredentials, error) {
	var key, secret sql.NullString
	err := s.read(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			`SELECT api_key, api_secret FROM user_credentials WHERE name = ?`, exchange.Reserved).
			Scan(&key, &secret)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ExchangeCredentials{}, ErrNotFound
	}
	if err != nil {
		return ExchangeCredentials{}, fmt.Errorf("get premium credentials: %w", err)
	}
	return ExchangeCredentials{APIKey: key.String, APISecret: secret.String}, nil
}
