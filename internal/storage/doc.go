// Package storage keeps one user's settings, balances, accounts, exchange
// credentials and hand-entered trades in an encrypted SQLite database.
//
// A Store owns the single connection to <dir>/rotkehlchen.db. Every mutating
// call runs in its own transaction and is sealed back to disk before it
// returns.
package storage
