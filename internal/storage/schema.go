package storage

import (
	"strings"
)

// SchemaVersion is recorded in the version setting of every database.
const SchemaVersion = 1

type tableDef struct {
	name    string
	columns string
}

// The definitions are append-only: reimport relies on every column list
// being compatible with the previous one.
var tables = []tableDef{
	{name: "timed_balances", columns: `
		time INTEGER,
		currency VARCHAR[12],
		amount TEXT,
		usd_value TEXT`},
	{name: "timed_location_data", columns: `
		time INTEGER,
		location VARCHAR[24],
		usd_value TEXT`},
	{name: "user_credentials", columns: `
		name VARCHAR[24] NOT NULL PRIMARY KEY,
		api_key TEXT,
		api_secret TEXT`},
	{name: "blockchain_accounts", columns: `
		blockchain VARCHAR[24] NOT NULL,
		account TEXT NOT NULL`},
	{name: "multisettings", columns: `
		name VARCHAR[24] NOT NULL,
		value TEXT`},
	{name: "current_balances", columns: `
		asset VARCHAR[24] NOT NULL PRIMARY KEY,
		amount TEXT`},
	{name: "trades", columns: `
		id INTEGER PRIMARY KEY ASC,
		time INTEGER,
		location VARCHAR[24],
		pair VARCHAR[24],
		type VARCHAR[12],
		amount TEXT,
		rate TEXT,
		fee TEXT,
		fee_currency VARCHAR[12],
		link TEXT,
		notes TEXT`},
	{name: "settings", columns: `
		name VARCHAR[24] NOT NULL PRIMARY KEY,
		value TEXT`},
}

// timeSeriesTables are dropped by DropTimeSeries. timed_unique_data no longer
// has a definition but may linger in old files.
var timeSeriesTables = []string{"timed_balances", "timed_location_data", "timed_unique_data"}

// CreateTablesScript creates every table if it does not exist yet.
func CreateTablesScript() string {
	var b strings.Builder
	for _, t := range tables {
		b.WriteString("CREATE TABLE IF NOT EXISTS ")
		b.WriteString(t.name)
		b.WriteString(" (")
		b.WriteString(t.columns)
		b.WriteString("\n);\n")
	}
	return b.String()
}

// ReimportScript rebuilds every table from its current rows. It is only
// useful after a column's declared type changed.
func ReimportScript() string {
	var b strings.Builder
	b.WriteString("PRAGMA foreign_keys=OFF;\nBEGIN TRANSACTION;\n")
	for _, t := range tables {
		old := t.name + "_reimport_old"
		b.WriteString("ALTER TABLE " + t.name + " RENAME TO " + old + ";\n")
		b.WriteString("CREATE TABLE " + t.name + " (" + t.columns + "\n);\n")
		b.WriteString("INSERT INTO " + t.name + " SELECT * FROM " + old + ";\n")
		b.WriteString("DROP TABLE " + old + ";\n")
	}
	b.WriteString("COMMIT;\nPRAGMA foreign_keys=ON;\n")
	return b.String()
}
