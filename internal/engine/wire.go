package engine

import (
	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// decodeLevels parses wire [price, qty] string pairs into PriceLevel,
// skipping (and counting) any pair that fails to parse as a decimal.
func decodeLevels(raw [][2]string) ([]types.PriceLevel, int) {
	out := make([]types.PriceLevel, 0, len(raw))
	bad := 0
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			bad++
			continue
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			bad++
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Quantity: qty})
	}
	return out, bad
}

// decodeDecimal parses a single wire decimal string.
func decodeDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
