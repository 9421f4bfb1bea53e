package registry

import (
	"fmt"
	"strings"
)

// Chain carries the human-readable metadata for a supported network.
type Chain struct {
	ID           int64
	Name         string
	Slug         string
	NativeSymbol string
	ExplorerURL  string
}

// Contracts holds the marketplace deployments on one chain.
type Contracts struct {
	Escrow      string
	StableToken string
	CCIPRouter  string
}

// TargetChainID is the primary chain the marketplace escrow lives on.
const TargetChainID int64 = 43113

// StableTokenSymbol and StableTokenDecimals describe the settlement token on
// every supported chain.
const (
	StableTokenSymbol   = "USDT"
	StableTokenDecimals = 6
)

var chainByID = map[int64]Chain{
	43113: {
		ID:           43113,
		Name:         "Avalanche Fuji",
		Slug:         "fuji",
		NativeSymbol: "AVAX",
		ExplorerURL:  "https://testnet.snowtrace.io",
	},
	11155111: {
		ID:           11155111,
		Name:         "Ethereum Sepolia",
		Slug:         "sepolia",
		NativeSymbol: "ETH",
		ExplorerURL:  "https://sepolia.etherscan.io",
	},
}

var contractsByChainID = map[int64]Contracts{
	43113: {
		Escrow:      "0x5aD1E9f29Bf135cc4F29b8BdC0446D05e4eBC6B9",
		StableToken: "0x1B667Ad2eE104a2f9d7b42c07169cbD9bcbeD3E4",
		CCIPRouter:  "0xF694E193200268f9a4868e4Aa017A0118C9a8177",
	},
	11155111: {
		Escrow:      "0x93C8e5fD4A08F9B51cF6A04e3d52b2C9E4b32a71",
		StableToken: "0x7169D38820dfd117C3FA1f22a697dBA58d90BA06",
		CCIPRouter:  "0x0BF3dE8c5D3e8A2B34D2BEeB17ABfCeBaf363A59",
	},
}

// CCIP chain selectors are distinct from EVM chain IDs; the escrow contract's
// cross-chain entry point addresses destinations by selector.
var selectorByChainID = map[int64]uint64{
	43113:    14767482510784806043,
	11155111: 16015286601757825753,
}

// Ordered per-chain RPC endpoints; callers fall back down the list when the
// preferred endpoint is unreachable.
var rpcEndpointsByChainID = map[int64][]string{
	43113: {
		"https://api.avax-test.network/ext/bc/C/rpc",
		"https://avalanche-fuji-c-chain-rpc.publicnode.com",
		"https://rpc.ankr.com/avalanche_fuji",
	},
	11155111: {
		"https://ethereum-sepolia-rpc.publicnode.com",
		"https://rpc.sepolia.org",
	},
}

func ChainByID(chainID int64) (Chain, bool) {
	chain, ok := chainByID[chainID]
	return chain, ok
}

// Supported reports whether chainID carries a marketplace deployment.
func Supported(chainID int64) bool {
	_, ok := contractsByChainID[chainID]
	return ok
}

func SupportedChainIDs() []int64 {
	ids := make([]int64, 0, len(chainByID))
	for id := range chainByID {
		ids = append(ids, id)
	}
	return ids
}

func ContractsFor(chainID int64) (Contracts, bool) {
	contracts, ok := contractsByChainID[chainID]
	return contracts, ok
}

func ChainSelector(chainID int64) (uint64, bool) {
	selector, ok := selectorByChainID[chainID]
	return selector, ok
}

func ChainIDForSelector(selector uint64) (int64, bool) {
	for chainID, s := range selectorByChainID {
		if s == selector {
			return chainID, true
		}
	}
	return 0, false
}

func RPCEndpoints(chainID int64) ([]string, bool) {
	endpoints, ok := rpcEndpointsByChainID[chainID]
	return endpoints, ok
}

// ResolveRPCEndpoints prefers an explicit override, then the registry list.
func ResolveRPCEndpoints(override string, chainID int64) ([]string, error) {
	if strings.TrimSpace(override) != "" {
		return []string{strings.TrimSpace(override)}, nil
	}
	if endpoints, ok := RPCEndpoints(chainID); ok {
		return endpoints, nil
	}
	return nil, fmt.Errorf("no rpc endpoints configured for chain id %d; provide --rpc-url", chainID)
}

func ParseChain(input string) (Chain, error) {
	norm := strings.ToLower(strings.TrimSpace(input))
	if norm == "" {
		return Chain{}, fmt.Errorf("chain is required")
	}
	for _, chain := range chainByID {
		if chain.Slug == norm || strings.EqualFold(chain.Name, norm) {
			return chain, nil
		}
	}
	var id int64
	if _, err := fmt.Sscanf(norm, "%d", &id); err == nil {
		if chain, ok := chainByID[id]; ok {
			return chain, nil
		}
		return Chain{ID: id, Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id)}, nil
	}
	return Chain{}, fmt.Errorf("unsupported chain input: %s", input)
}
