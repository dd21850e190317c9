// Package exchange lists the exchanges whose API credentials can be stored.
package exchange

import "sort"

// Reserved is the credential name used for the application's own premium
// API access. It is not an exchange.
const Reserved = "rotkehlchen"

var supported = map[string]struct{}{
	"kraken":   {},
	"poloniex": {},
	"bittrex":  {},
	"bitmex":   {},
	"binance":  {},
}

// IsSupported reports whether name is a known exchange.
func IsSupported(name string) bool {
	_, ok := supported[name]
	return ok
}

// Supported returns the known exchange names, sorted.
func Supported() []string {
	names := make([]string, 0, len(supported))
	for name := range supported {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
