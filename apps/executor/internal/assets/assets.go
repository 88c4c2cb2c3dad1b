package assets

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/config"
	"matcher/apps/executor/internal/model"
)

// DefaultDecimals applies to tokens nobody has described.
const DefaultDecimals = 18

// Asset represents a token with a known home network and decimals
type Asset struct {
	Symbol   string         `json:"symbol"`
	Network  string         `json:"network"`
	Address  common.Address `json:"address"`
	Decimals int            `json:"decimals"`
}

// AssetRegistry holds the canonical tokens. Its decimals win over anything stored in the
// database.
type AssetRegistry struct {
	bySymbol  map[string]*Asset
	byAddress map[common.Address]*Asset
}

// NewAssetRegistry creates a registry with the canonical tokens
func NewAssetRegistry() *AssetRegistry {
	registry := &AssetRegistry{
		bySymbol:  make(map[string]*Asset),
		byAddress: make(map[common.Address]*Asset),
	}

	canonical := []*Asset{
		{Symbol: "WBNB", Network: config.NetworkBSC, Address: common.HexToAddress("0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c"), Decimals: 18},
		{Symbol: "USDT", Network: config.NetworkBSC, Address: common.HexToAddress("0x55d398326f99059ff775485246999027b3197955"), Decimals: 18},
		{Symbol: "USDC", Network: config.NetworkBase, Address: common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"), Decimals: 6},
		{Symbol: "WETH", Network: config.NetworkBase, Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Decimals: 18},
	}
	for _, asset := range canonical {
		registry.bySymbol[asset.Symbol] = asset
		registry.byAddress[asset.Address] = asset
	}

	return registry
}

// GetBySymbol returns an asset by its symbol, case-insensitively
func (r *AssetRegistry) GetBySymbol(symbol string) (*Asset, bool) {
	asset, exists := r.bySymbol[strings.ToUpper(symbol)]
	return asset, exists
}

// GetByAddress returns an asset by its contract address
func (r *AssetRegistry) GetByAddress(address common.Address) (*Asset, bool) {
	asset, exists := r.byAddress[address]
	return asset, exists
}

// GetAllAsArray returns all assets as an array
func (r *AssetRegistry) GetAllAsArray() []*Asset {
	assets := make([]*Asset, 0, len(r.bySymbol))
	for _, asset := range r.bySymbol {
		assets = append(assets, asset)
	}
	return assets
}

// Global asset registry instance
var GlobalRegistry = NewAssetRegistry()

// TokenLookup reads token metadata from the order store.
type TokenLookup interface {
	GetTokens(ctx context.Context, networks []string, addresses []common.Address) ([]model.Token, error)
}

// PairInfo is what pricing and settlement need to know about a pair's tokens.
type PairInfo struct {
	BaseDecimals  int
	QuoteDecimals int
	BaseNetwork   string
	QuoteNetwork  string
}

// Resolver combines stored token rows with the canonical registry.
type Resolver struct {
	lookup   TokenLookup
	registry *AssetRegistry
	logger   *zap.Logger
}

func NewResolver(lookup TokenLookup, registry *AssetRegistry, logger *zap.Logger) *Resolver {
	return &Resolver{lookup: lookup, registry: registry, logger: logger}
}

// Pair resolves decimals and home networks for base and quote among networks. The store is
// consulted first; canonical entries are applied last so a bad row cannot override them.
// Unknown tokens get DefaultDecimals and the first of networks.
func (r *Resolver) Pair(ctx context.Context, networks []string, base, quote common.Address) PairInfo {
	fallback := config.NetworkBSC
	if len(networks) > 0 {
		fallback = networks[0]
	}
	info := PairInfo{
		BaseDecimals:  DefaultDecimals,
		QuoteDecimals: DefaultDecimals,
		BaseNetwork:   fallback,
		QuoteNetwork:  fallback,
	}

	if r.lookup != nil {
		tokens, err := r.lookup.GetTokens(ctx, networks, []common.Address{base, quote})
		if err != nil {
			r.logger.Warn("Failed to fetch token metadata", zap.Strings("networks", networks), zap.Error(err))
		}
		for _, t := range tokens {
			switch t.Address {
			case base:
				info.BaseDecimals, info.BaseNetwork = t.Decimals, orDefault(t.Network, info.BaseNetwork)
			case quote:
				info.QuoteDecimals, info.QuoteNetwork = t.Decimals, orDefault(t.Network, info.QuoteNetwork)
			}
		}
	}

	if a, ok := r.registry.GetByAddress(base); ok {
		if info.BaseDecimals != a.Decimals {
			r.logger.Warn("Overriding stored decimals with canonical value", zap.String("token", a.Symbol), zap.Int("stored", info.BaseDecimals), zap.Int("canonical", a.Decimals))
		}
		info.BaseDecimals, info.BaseNetwork = a.Decimals, a.Network
	}
	if a, ok := r.registry.GetByAddress(quote); ok {
		if info.QuoteDecimals != a.Decimals {
			r.logger.Warn("Overriding stored decimals with canonical value", zap.String("token", a.Symbol), zap.Int("stored", info.QuoteDecimals), zap.Int("canonical", a.Decimals))
		}
		info.QuoteDecimals, info.QuoteNetwork = a.Decimals, a.Network
	}
	return info
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
