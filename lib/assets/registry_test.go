package assets

import (
	"testing"

	"github.com/getAlby/invoicehub.go/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	asset, err := Resolve("USDC", common.NetworkBaseSepolia)
	require.NoError(t, err)
	assert.Equal(t, int32(6), asset.Decimals)
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", asset.ContractAddress)
	assert.True(t, asset.IsContract("0x036cbd53842c5426634e7929541ec2318f3dcf7e"))
	assert.False(t, asset.IsContract("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))

	_, err = Resolve("usdt", common.NetworkBaseSepolia)
	assert.ErrorIs(t, err, ErrUnknownAsset)
	_, err = Resolve("usdc", "ethereum-mainnet")
	assert.ErrorIs(t, err, ErrUnsupportedNetwork)
}

func TestBaseUnitConversion(t *testing.T) {
	asset, err := Resolve(common.PaymentAssetUSDC, common.NetworkBaseMainnet)
	require.NoError(t, err)

	amount, err := asset.FromBaseUnits("40000000")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.NewFromInt(40)))

	amount, err = asset.FromBaseUnits("1")
	require.NoError(t, err)
	assert.Equal(t, "0.000001", amount.String())

	for _, bad := range []string{"", "abc", "1.5", "-10"} {
		_, err = asset.FromBaseUnits(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}

	assert.Equal(t, "12345678", asset.ToBaseUnits(decimal.RequireFromString("12.345678")))
	assert.Equal(t, "100000000", asset.ToBaseUnits(decimal.NewFromInt(100)))
}

func TestTransferURI(t *testing.T) {
	asset, err := Resolve(common.PaymentAssetUSDC, common.NetworkBaseSepolia)
	require.NoError(t, err)
	assert.Equal(t, int64(84532), asset.ChainID)

	to := "0x00000000000000000000000000000000000000aa"
	assert.Equal(t,
		"ethereum:0x036CbD53842c5426634e7929541eC2318f3dCF7e@84532/transfer?address="+to+"&uint256=2500000",
		asset.TransferURI(to, decimal.RequireFromString("2.5")))
	assert.Equal(t,
		"ethereum:0x036CbD53842c5426634e7929541eC2318f3dCF7e@84532/transfer?address="+to,
		asset.TransferURI(to, decimal.Zero))
}
