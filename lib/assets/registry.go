package assets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/getAlby/invoicehub.go/common"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownAsset       = errors.New("unknown asset")
	ErrUnsupportedNetwork = errors.New("asset is not deployed on network")
	ErrInvalidAmount      = errors.New("invalid base unit amount")
)

type Definition struct {
	ID        string
	Symbol    string
	Decimals  int32
	Contracts map[string]string
}

// Asset is a Definition resolved for one network.
type Asset struct {
	ID              string
	Symbol          string
	Decimals        int32
	NetworkID       string
	ChainID         int64
	ContractAddress string
}

var chainIDs = map[string]int64{
	common.NetworkBaseMainnet: 8453,
	common.NetworkBaseSepolia: 84532,
}

var definitions = map[string]Definition{
	common.PaymentAssetUSDC: {
		ID:       common.PaymentAssetUSDC,
		Symbol:   "USDC",
		Decimals: 6,
		Contracts: map[string]string{
			common.NetworkBaseMainnet: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			common.NetworkBaseSepolia: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		},
	},
}

// Resolve looks up the asset once at startup; everything downstream uses the returned value.
func Resolve(assetID, networkID string) (*Asset, error) {
	def, ok := definitions[strings.ToLower(assetID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	contract, ok := def.Contracts[networkID]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedNetwork, def.Symbol, networkID)
	}
	return &Asset{
		ID:              def.ID,
		Symbol:          def.Symbol,
		Decimals:        def.Decimals,
		NetworkID:       networkID,
		ChainID:         chainIDs[networkID],
		ContractAddress: contract,
	}, nil
}

// IsContract compares contract addresses case-insensitively.
func (a *Asset) IsContract(address string) bool {
	return strings.EqualFold(a.ContractAddress, address)
}

// FromBaseUnits converts an integer amount of the smallest unit into a decimal amount.
func (a *Asset) FromBaseUnits(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(value)
	if err != nil || !d.Equal(d.Truncate(0)) || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	return d.Shift(-a.Decimals), nil
}

// ToBaseUnits is the inverse of FromBaseUnits; sub-unit fractions are truncated.
func (a *Asset) ToBaseUnits(amount decimal.Decimal) string {
	return amount.Shift(a.Decimals).Truncate(0).String()
}

// TransferURI is the EIP-681 request for a token transfer of amount to address.
func (a *Asset) TransferURI(to string, amount decimal.Decimal) string {
	uri := fmt.Sprintf("ethereum:%s@%d/transfer?address=%s", a.ContractAddress, a.ChainID, to)
	if amount.IsPositive() {
		uri += "&uint256=" + a.ToBaseUnits(amount)
	}
	return uri
}
