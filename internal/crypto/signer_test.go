package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSignerDerivesAddress(t *testing.T) {
	signer, err := NewSigner(testKeyHex, big.NewInt(1))
	require.NoError(t, err)

	// Well-known address for the well-known test key.
	assert.Equal(t, common.HexToAddress("0x96216849c49358B10257cb55b28eA603c874b05E"), signer.Address())
}

func TestNewSignerValidation(t *testing.T) {
	_, err := NewSigner("zz", big.NewInt(1))
	assert.Error(t, err)

	_, err = NewSigner(testKeyHex, nil)
	assert.Error(t, err)

	_, err = NewSigner(testKeyHex, big.NewInt(0))
	assert.Error(t, err)
}

func TestSignTxRecoversSender(t *testing.T) {
	chainID := big.NewInt(137)
	signer, err := NewSigner("0x"+testKeyHex, chainID)
	require.NoError(t, err)

	to := common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	tx := types.NewTransaction(7, to, big.NewInt(0), 300_000, big.NewInt(20_000_000_000), nil)

	signed, err := signer.SignTx(tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
}
