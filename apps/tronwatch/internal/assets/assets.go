package assets

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	SymbolTRX  = "TRX"
	SymbolUSDT = "USDT"
)

const (
	NetworkMainnet = "mainnet"
	NetworkShasta  = "shasta"
)

// Asset represents a currency that can be received on TRON
type Asset struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Contract string `json:"contract,omitempty"` // empty for the native coin
	Decimals int32  `json:"decimals"`
}

func (a *Asset) IsNative() bool {
	return a.Contract == ""
}

// FromBaseUnits converts an integer amount in the smallest unit (sun for TRX) to a decimal amount
func (a *Asset) FromBaseUnits(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(-a.Decimals), nil
}

func (a *Asset) ToBaseUnits(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(a.Decimals).Truncate(0)
}

// AssetRegistry holds the assets of one network
type AssetRegistry struct {
	network    string
	assets     map[string]*Asset
	byContract map[string]*Asset
}

var usdtContracts = map[string]string{
	NetworkMainnet: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
	NetworkShasta:  "TG3XXyExBkPp9nzdajDZsozEu4BkaSJozs",
}

// NewAssetRegistry creates a registry for the given network. Unknown networks fall back to mainnet.
func NewAssetRegistry(network string) *AssetRegistry {
	if _, ok := usdtContracts[network]; !ok {
		network = NetworkMainnet
	}

	registry := &AssetRegistry{
		network:    network,
		assets:     make(map[string]*Asset),
		byContract: make(map[string]*Asset),
	}

	supportedAssets := []*Asset{
		{
			Symbol:   SymbolTRX,
			Name:     "Tronix",
			Decimals: 6,
		},
		{
			Symbol:   SymbolUSDT,
			Name:     "Tether USD",
			Contract: usdtContracts[network],
			Decimals: 6,
		},
	}

	for _, asset := range supportedAssets {
		registry.assets[asset.Symbol] = asset
		if asset.Contract != "" {
			registry.byContract[asset.Contract] = asset
		}
	}

	return registry
}

func (r *AssetRegistry) Network() string {
	return r.network
}

// GetBySymbol returns an asset by its symbol (case-insensitive)
func (r *AssetRegistry) GetBySymbol(symbol string) (*Asset, bool) {
	asset, exists := r.assets[strings.ToUpper(symbol)]
	return asset, exists
}

// GetByContract returns a token asset by its contract address
func (r *AssetRegistry) GetByContract(contract string) (*Asset, bool) {
	asset, exists := r.byContract[contract]
	return asset, exists
}

func (r *AssetRegistry) IsSupported(symbol string) bool {
	_, exists := r.GetBySymbol(symbol)
	return exists
}

func (r *AssetRegistry) USDT() *Asset {
	return r.assets[SymbolUSDT]
}

func (r *AssetRegistry) TRX() *Asset {
	return r.assets[SymbolTRX]
}
