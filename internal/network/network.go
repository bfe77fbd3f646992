// Package network holds the closed set of supported chain identifiers and
// the chain-id mapping used when the network is resolved via RPC.
package network

import (
	"fmt"
	"math/big"
)

// Names of all supported networks.
const (
	Base          = "base"
	BaseSepolia   = "base-sepolia"
	Avalanche     = "avalanche"
	AvalancheFuji = "avalanche-fuji"
	IoTeX         = "iotex"
	Sei           = "sei"
	SeiTestnet    = "sei-testnet"
	Polygon       = "polygon"
	PolygonAmoy   = "polygon-amoy"
	Peaq          = "peaq"
	BSC           = "bsc"
	BSCTestnet    = "bsc-testnet"
	Solana        = "solana"
	SolanaDevnet  = "solana-devnet"
)

// chainIDs maps EVM chain IDs to network names.
var chainIDs = map[int64]string{
	8453:  Base,
	84531: BaseSepolia,
	43114: Avalanche,
	43113: AvalancheFuji,
	4689:  IoTeX,
	1329:  Sei,
	1328:  SeiTestnet,
	137:   Polygon,
	80001: PolygonAmoy,
	3338:  Peaq,
	56:    BSC,
	97:    BSCTestnet,
}

var known = map[string]bool{
	Base: true, BaseSepolia: true,
	Avalanche: true, AvalancheFuji: true,
	IoTeX: true,
	Sei:   true, SeiTestnet: true,
	Polygon: true, PolygonAmoy: true,
	Peaq: true,
	BSC:  true, BSCTestnet: true,
	Solana: true, SolanaDevnet: true,
}

// Known reports whether name is in the closed set of supported networks.
func Known(name string) bool { return known[name] }

// FromChainID maps a chain ID to its network name. Unknown chain IDs yield
// "chain-<id>" so the server stays usable on unlisted chains.
func FromChainID(id *big.Int) string {
	if id != nil && id.IsInt64() {
		if name, ok := chainIDs[id.Int64()]; ok {
			return name
		}
	}
	return fmt.Sprintf("chain-%s", id)
}

// ChainID returns the chain ID for a known EVM network name, or nil.
func ChainID(name string) *big.Int {
	for id, n := range chainIDs {
		if n == name {
			return big.NewInt(id)
		}
	}
	return nil
}
