package storage

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *Store) AddBlockchainAccount(ctx context.Context, blockchain, account string) error {
	if blockchain == "" || account == "" {
		return inputErrorf("blockchain and account must not be empty")
	}
	return s.write(ctx, "add blockchain account", advanceLastWrite, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO blockchain_accounts(blockchain, account) VALUES(?, ?)`,
			blockchain, account)
		return err
	})
}

// RemoveBlockchainAccount deletes the account, failing with an *InputError
// when it was never added.
func (s *Store) RemoveBlockchainAccount(ctx context.Context, blockchain, account string) error {
	return s.write(ctx, "remove blockchain account", advanceLastWrite, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM blockchain_accounts WHERE blockchain = ? AND account = ?`,
			blockchain, account).Scan(&count)
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		if count == 0 {
			return inputErrorf("tried to remove non-existing %s account %s", blockchain, account)
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM blockchain_accounts WHERE blockchain = ? AND account = ?`,
			blockchain, account)
		return err
	})
}

// BlockchainAccounts groups accounts by blockchain, each list in the order
// the accounts were added. Blockchains without accounts are absent.
func (s *Store) BlockchainAccounts(ctx context.Context) (map[string][]string, error) {
	out := make(map[string][]string)
	err := s.read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT blockchain, account FROM blockchain_accounts ORDER BY rowid`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var blockchain, account string
			if err := rows.Scan(&blockchain, &account); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			out[blockchain] = append(out[blockchain], account)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get blockchain accounts: %w", err)
	}
	return out, nil
}
