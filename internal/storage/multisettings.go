package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	categoryIgnoredAsset = "ignored_asset"
	categoryEthToken     = "eth_token"
)

// AddIgnoredAsset marks asset as ignored. Adding an asset that is already
// ignored changes nothing but still counts as a write.
func (s *Store) AddIgnoredAsset(ctx context.Context, asset string) error {
	if asset == "" {
		return inputErrorf("ignored asset must not be empty")
	}
	return s.write(ctx, "add ignored asset", advanceLastWrite, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO multisettings(name, value)
			 SELECT ?, ? WHERE NOT EXISTS (
				SELECT 1 FROM multisettings WHERE name = ? AND value = ?)`,
			categoryIgnoredAsset, asset, categoryIgnoredAsset, asset)
		return err
	})
}

// RemoveIgnoredAsset is a no-op for assets that are not ignored.
func (s *Store) RemoveIgnoredAsset(ctx context.Context, asset string) error {
	return s.write(ctx, "remove ignored asset", advanceLastWrite, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM multisettings WHERE name = ? AND value = ?`,
			categoryIgnoredAsset, asset)
		return err
	})
}

func (s *Store) IgnoredAssets(ctx context.Context) ([]string, error) {
	assets, err := s.category(ctx, categoryIgnoredAsset)
	if err != nil {
		return nil, fmt.Errorf("get ignored assets: %w", err)
	}
	return assets, nil
}

// WriteOwnedTokens replaces the owned token list with tokens.
func (s *Store) WriteOwnedTokens(ctx context.Context, tokens []string) error {
	return s.write(ctx, "write owned tokens", advanceLastWrite, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM multisettings WHERE name = ?`, categoryEthToken); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		if len(tokens) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO multisettings(name, value) VALUES(?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()
		for _, token := range tokens {
			if _, err := stmt.ExecContext(ctx, categoryEthToken, token); err != nil {
				return fmt.Errorf("insert %s: %w", token, err)
			}
		}
		return nil
	})
}

func (s *Store) OwnedTokens(ctx context.Context) ([]string, error) {
	tokens, err := s.category(ctx, categoryEthToken)
	if err != nil {
		return nil, fmt.Errorf("get owned tokens: %w", err)
	}
	return tokens, nil
}

func (s *Store) category(ctx context.Context, name string) ([]string, error) {
	values := []string{}
	err := s.read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT value FROM multisettings WHERE name = ? ORDER BY rowid`, name)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var value sql.NullString
			if err := rows.Scan(&value); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			values = append(values, value.String)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}
