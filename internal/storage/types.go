package storage

import (
	"github.com/shopspring/decimal"
)

const (
	BlockchainBTC = "BTC"
	BlockchainETH = "ETH"

	// LocationExternal tags trades entered by hand rather than imported
	// from an exchange.
	LocationExternal = "external"
	// LocationTotal is the synthetic location carrying the net usd value of
	// a balances snapshot.
	LocationTotal = "total"
)

// TimedBalance is one asset's holdings at a point in time.
type TimedBalance struct {
	Time     int64
	Currency string
	Amount   decimal.Decimal
	USDValue decimal.Decimal
}

// TimedLocationData is the usd value held at one location at a point in
// time.
type TimedLocationData struct {
	Time     int64
	Location string
	USDValue decimal.Decimal
}

type AssetBalance struct {
	Amount   decimal.Decimal
	USDValue decimal.Decimal
}

// BalancesSnapshot is a valuation of the whole portfolio as produced by the
// balance query layer.
type BalancesSnapshot struct {
	Assets    map[string]AssetBalance
	Locations map[string]decimal.Decimal
	NetUSD    decimal.Decimal
}

type ExchangeCredentials struct {
	APIKey    string
	APISecret string
}

type TradeType string

const (
	TradeTypeBuy  TradeType = "buy"
	TradeTypeSell TradeType = "sell"
)

func (t TradeType) Valid() bool {
	return t == TradeTypeBuy || t == TradeTypeSell
}

type ExternalTrade struct {
	ID          int64
	Time        int64
	Location    string
	Pair        string
	Type        TradeType
	Amount      decimal.Decimal
	Rate        decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	Link        string
	Notes       string
}

// TradeFilter bounds a trade query by time, inclusive on both ends. A zero
// bound is open.
type TradeFilter struct {
	From int64
	To   int64
}
