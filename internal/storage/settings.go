package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

const (
	settingVersion             = "version"
	settingLastWriteTS         = "last_write_ts"
	settingLastDataUploadTS    = "last_data_upload_ts"
	settingPremiumShouldSync   = "premium_should_sync"
	settingUIFloatingPrecision = "ui_floating_precision"
	settingHistoricalDataStart = "historical_data_start"
	settingEthRPCPort          = "eth_rpc_port"
	settingMainCurrency        = "main_currency"

	DefaultHistoricalDataStart = "01/08/2015"
	DefaultEthRPCPort          = "8545"
	DefaultUIFloatingPrecision = 2
	DefaultMainCurrency        = "USD"
)

type settingKind int

const (
	kindString settingKind = iota
	kindInt
	kindBool
)

type settingSpec struct {
	kind     settingKind
	readOnly bool
	// fallback is applied at read time only and is never written back.
	fallback func(*Settings)
}

var settingSpecs = map[string]settingSpec{
	settingVersion:           {kind: kindInt, readOnly: true},
	settingLastWriteTS:       {kind: kindInt},
	settingLastDataUploadTS:  {kind: kindInt},
	settingPremiumShouldSync: {kind: kindBool},
	settingUIFloatingPrecision: {kind: kindInt, fallback: func(s *Settings) {
		s.UIFloatingPrecision = DefaultUIFloatingPrecision
	}},
	settingHistoricalDataStart: {kind: kindString, fallback: func(s *Settings) {
		s.HistoricalDataStart = DefaultHistoricalDataStart
	}},
	settingEthRPCPort: {kind: kindString, fallback: func(s *Settings) {
		s.EthRPCPort = DefaultEthRPCPort
	}},
}

// Settings is the typed view of the settings table. Keys without a known
// type end up in Extra untouched.
type Settings struct {
	DBVersion           int64             `json:"db_version"`
	LastWriteTS         int64             `json:"last_write_ts"`
	LastDataUploadTS    int64             `json:"last_data_upload_ts"`
	PremiumShouldSync   bool              `json:"premium_should_sync"`
	UIFloatingPrecision int64             `json:"ui_floating_precision"`
	HistoricalDataStart string            `json:"historical_data_start"`
	EthRPCPort          string            `json:"eth_rpc_port"`
	Extra               map[string]string `json:"extra,omitempty"`
}

func (s *Settings) assign(name, value string) error {
	spec, known := settingSpecs[name]
	if !known {
		if s.Extra == nil {
			s.Extra = make(map[string]string)
		}
		s.Extra[name] = value
		return nil
	}

	switch spec.kind {
	case kindInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("setting %s: %w", name, err)
		}
		switch name {
		case settingVersion:
			s.DBVersion = n
		case settingLastWriteTS:
			s.LastWriteTS = n
		case settingLastDataUploadTS:
			s.LastDataUploadTS = n
		case settingUIFloatingPrecision:
			s.UIFloatingPrecision = n
		}
	case kindBool:
		if name == settingPremiumShouldSync {
			s.PremiumShouldSync = parseStoredBool(value)
		}
	case kindString:
		switch name {
		case settingHistoricalDataStart:
			s.HistoricalDataStart = value
		case settingEthRPCPort:
			s.EthRPCPort = value
		}
	}
	return nil
}

// Settings reads every stored setting and fills in read-time defaults.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	var out Settings
	err := s.read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT name, value FROM settings`)
		if err != nil {
			return fmt.Errorf("get settings: %w", err)
		}
		defer rows.Close()

		seen := make(map[string]bool)
		for rows.Next() {
			var name string
			var value sql.NullString
			if err := rows.Scan(&name, &value); err != nil {
				return fmt.Errorf("get settings: scan: %w", err)
			}
			if err := out.assign(name, value.String); err != nil {
				return fmt.Errorf("get settings: %w", err)
			}
			seen[name] = true
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("get settings: iterate: %w", err)
		}

		for name, spec := range settingSpecs {
			if spec.fallback != nil && !seen[name] {
				spec.fallback(&out)
			}
		}
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	return out, nil
}

// SetSettings upserts values by name. Values for integer and boolean keys
// must parse; booleans are normalized to their stored form.
func (s *Store) SetSettings(ctx context.Context, values map[string]string) error {
	names := make([]string, 0, len(values))
	normalized := make(map[string]string, len(values))
	for name, value := range values {
		stored, err := normalizeSetting(name, value)
		if err != nil {
			return err
		}
		names = append(names, name)
		normalized[name] = stored
	}
	sort.Strings(names)

	return s.write(ctx, "set settings", advanceLastWrite, func(tx *sql.Tx) error {
		for _, name := range names {
			if err := upsertSetting(ctx, tx, name, normalized[name]); err != nil {
				return err
			}
		}
		return nil
	})
}

func normalizeSetting(name, value string) (string, error) {
	if name == "" {
		return "", inputErrorf("setting name must not be empty")
	}
	if name == "db_version" {
		name = settingVersion
	}
	spec, known := settingSpecs[name]
	if !known {
		return value, nil
	}
	if spec.readOnly {
		return "", inputErrorf("setting %s is read-only", name)
	}
	switch spec.kind {
	case kindInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return "", inputErrorf("setting %s must be an integer, got %q", name, value)
		}
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", inputErrorf("setting %s must be a boolean, got %q", name, value)
		}
		return formatStoredBool(b), nil
	}
	return value, nil
}

func (s *Store) MainCurrency(ctx context.Context) (string, error) {
	value, ok, err := s.setting(ctx, settingMainCurrency)
	if err != nil {
		return "", fmt.Errorf("get main currency: %w", err)
	}
	if !ok {
		return DefaultMainCurrency, nil
	}
	return value, nil
}

func (s *Store) SetMainCurrency(ctx context.Context, currency string) error {
	if currency == "" {
		return inputErrorf("main currency must not be empty")
	}
	return s.write(ctx, "set main currency", advanceLastWrite, func(tx *sql.Tx) error {
		return upsertSetting(ctx, tx, settingMainCurrency, currency)
	})
}

// UpdateLastWrite records the current time as the last local write.
func (s *Store) UpdateLastWrite(ctx context.Context) error {
	return s.write(ctx, "update last write", advanceLastWrite, func(*sql.Tx) error { return nil })
}

func (s *Store) LastWriteTS(ctx context.Context) (int64, error) {
	ts, err := s.intSetting(ctx, settingLastWriteTS)
	if err != nil {
		return 0, fmt.Errorf("get last write ts: %w", err)
	}
	return ts, nil
}

func (s *Store) UpdateLastDataUploadTS(ctx context.Context) error {
	return s.write(ctx, "update last data upload ts", advanceLastWrite, func(tx *sql.Tx) error {
		return upsertSetting(ctx, tx, settingLastDataUploadTS, strconv.FormatInt(s.now().Unix(), 10))
	})
}

func (s *Store) LastDataUploadTS(ctx context.Context) (int64, error) {
	ts, err := s.intSetting(ctx, settingLastDataUploadTS)
	if err != nil {
		return 0, fmt.Errorf("get last data upload ts: %w", err)
	}
	return ts, nil
}

func (s *Store) UpdatePremiumSync(ctx context.Context, shouldSync bool) error {
	return s.write(ctx, "update premium sync", advanceLastWrite, func(tx *sql.Tx) error {
		return upsertSetting(ctx, tx, settingPremiumShouldSync, formatStoredBool(shouldSync))
	})
}

func (s *Store) PremiumSync(ctx context.Context) (bool, error) {
	value, ok, err := s.setting(ctx, settingPremiumShouldSync)
	if err != nil {
		return false, fmt.Errorf("get premium sync: %w", err)
	}
	if !ok {
		return false, nil
	}
	return parseStoredBool(value), nil
}

func (s *Store) setting(ctx context.Context, name string) (string, bool, error) {
	var value sql.NullString
	err := s.read(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value.String, true, nil
}

func (s *Store) intSetting(ctx context.Context, name string) (int64, error) {
	value, ok, err := s.setting(ctx, name)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %s: %w", name, err)
	}
	return n, nil
}

// advanceLastWrite stamps last_write_ts inside tx. The stored value never
// moves backwards, even if the wall clock does.
func (s *Store) advanceLastWrite(ctx context.Context, tx *sql.Tx) error {
	ts := s.now().Unix()

	var current sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, settingLastWriteTS).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read last write ts: %w", err)
	default:
		if prev, perr := strconv.ParseInt(current.String, 10, 64); perr == nil && prev > ts {
			ts = prev
		}
	}
	if err := upsertSetting(ctx, tx, settingLastWriteTS, strconv.FormatInt(ts, 10)); err != nil {
		return fmt.Errorf("update last write ts: %w", err)
	}
	return nil
}

func upsertSetting(ctx context.Context, tx *sql.Tx, name, value string) error {
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO settings(name, value) VALUES(?, ?)`, name, value); err != nil {
		return fmt.Errorf("upsert setting %s: %w", name, err)
	}
	return nil
}

// Booleans are stored as "True" and "False".
func formatStoredBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseStoredBool(s string) bool {
	return s == "True"
}
