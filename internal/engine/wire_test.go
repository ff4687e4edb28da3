package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecodeLevels_SkipsMalformed(t *testing.T) {
	raw := [][2]string{
		{"100", "1"},
		{"not-a-number", "2"},
		{"101", "oops"},
		{"102", "3"},
	}

	levels, bad := decodeLevels(raw)
	if len(levels) != 2 {
		t.Fatalf("expected 2 valid levels, got %d", len(levels))
	}
	if bad != 2 {
		t.Errorf("expected 2 malformed entries counted, got %d", bad)
	}

	hundred, _ := decimal.NewFromString("100")
	oneOhTwo, _ := decimal.NewFromString("102")
	if !levels[0].Price.Equal(hundred) || !levels[1].Price.Equal(oneOhTwo) {
		t.Errorf("unexpected decoded levels: %+v", levels)
	}
}

func TestDecodeDecimal_Error(t *testing.T) {
	if _, err := decodeDecimal("garbage"); err == nil {
		t.Error("expected error decoding a non-numeric string")
	}
}
