package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexbotio/dexbot/internal/domain"
)

func TestFeeOraclePassThroughBelowCeiling(t *testing.T) {
	oracle := NewFeeOracle(fakeGasFeed{price: big.NewInt(20_000_000_000)}, big.NewInt(100_000_000_000), testLogger())

	rate, err := oracle.QuoteFeeRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20_000_000_000), rate.Int64())
}

func TestFeeOracleClampsToCeiling(t *testing.T) {
	ceiling := big.NewInt(100_000_000_000)
	oracle := NewFeeOracle(fakeGasFeed{price: big.NewInt(500_000_000_000)}, ceiling, testLogger())

	rate, err := oracle.QuoteFeeRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ceiling.Int64(), rate.Int64())
	assert.NotSame(t, ceiling, rate)
}

func TestFeeOracleNilCeilingDisablesClamp(t *testing.T) {
	oracle := NewFeeOracle(fakeGasFeed{price: big.NewInt(500_000_000_000)}, nil, testLogger())

	rate, err := oracle.QuoteFeeRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(500_000_000_000), rate.Int64())
}

func TestFeeOracleFeedFailureIsNetworkError(t *testing.T) {
	oracle := NewFeeOracle(fakeGasFeed{err: errors.New("rpc timeout")}, nil, testLogger())

	_, err := oracle.QuoteFeeRate(context.Background())
	require.Error(t, err)

	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "gas price quote", netErr.Op)
	assert.True(t, domain.IsRetryable(err))
}
