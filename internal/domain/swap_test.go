package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountOutMin(t *testing.T) {
	tests := []struct {
		name        string
		expected    int64
		slippageBps int64
		want        int64
	}{
		{"five percent", 100, 500, 95},
		{"half percent exact", 10_000, 50, 9_950},
		{"zero slippage", 1234, 0, 1234},
		{"rounds down", 999, 50, 994}, // 999 * 9950 / 10000 = 994.005
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AmountOutMin(big.NewInt(tt.expected), tt.slippageBps)
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestAmountOutMinNeverExceedsExpected(t *testing.T) {
	expected := big.NewInt(1_000_000_000_000)
	for _, bps := range []int64{0, 1, 50, 9999} {
		got := AmountOutMin(expected, bps)
		require.LessOrEqual(t, got.Cmp(expected), 0, "bps=%d", bps)
	}
}

func TestQuoteImpliedPrice(t *testing.T) {
	q := Quote{
		AmountIn:    big.NewInt(1000),      // base spent
		ExpectedOut: big.NewInt(1_000_000), // tokens received
	}
	assert.InDelta(t, 0.001, q.ImpliedPrice(SideBuy), 1e-12)

	q = Quote{
		AmountIn:    big.NewInt(1_000_000), // tokens sold
		ExpectedOut: big.NewInt(700),       // base received
	}
	assert.InDelta(t, 0.0007, q.ImpliedPrice(SideSell), 1e-12)
}

func TestQuoteImpliedPriceDegenerate(t *testing.T) {
	assert.Zero(t, Quote{}.ImpliedPrice(SideBuy))
	assert.Zero(t, Quote{AmountIn: big.NewInt(0), ExpectedOut: big.NewInt(1)}.ImpliedPrice(SideBuy))
	assert.Zero(t, Quote{AmountIn: big.NewInt(1), ExpectedOut: big.NewInt(0)}.ImpliedPrice(SideSell))
}
