package registry

import "testing"

func TestSupported(t *testing.T) {
	if !Supported(43113) {
		t.Fatal("avalanche fuji must be supported")
	}
	if !Supported(11155111) {
		t.Fatal("sepolia must be supported")
	}
	if Supported(137) {
		t.Fatal("polygon is not in the supported set")
	}
	if Supported(0) {
		t.Fatal("zero chain id must not be supported")
	}
}

func TestTargetChainHasContracts(t *testing.T) {
	contracts, ok := ContractsFor(TargetChainID)
	if !ok {
		t.Fatalf("no contracts for target chain %d", TargetChainID)
	}
	if contracts.Escrow == "" || contracts.StableToken == "" {
		t.Fatalf("incomplete contracts: %+v", contracts)
	}
}

func TestChainSelectorRoundTrip(t *testing.T) {
	for _, chainID := range SupportedChainIDs() {
		selector, ok := ChainSelector(chainID)
		if !ok {
			t.Fatalf("no selector for chain %d", chainID)
		}
		back, ok := ChainIDForSelector(selector)
		if !ok || back != chainID {
			t.Fatalf("selector %d resolved to chain %d, want %d", selector, back, chainID)
		}
	}
	if _, ok := ChainIDForSelector(42); ok {
		t.Fatal("unknown selector must not resolve")
	}
}

func TestResolveRPCEndpointsOverride(t *testing.T) {
	endpoints, err := ResolveRPCEndpoints("https://rpc.example.org", TargetChainID)
	if err != nil {
		t.Fatalf("resolve with override: %v", err)
	}
	if len(endpoints) != 1 || endpoints[0] != "https://rpc.example.org" {
		t.Fatalf("endpoints = %v", endpoints)
	}

	endpoints, err = ResolveRPCEndpoints("", TargetChainID)
	if err != nil {
		t.Fatalf("resolve defaults: %v", err)
	}
	if len(endpoints) < 2 {
		t.Fatalf("expected multiple fallback endpoints, got %v", endpoints)
	}

	if _, err := ResolveRPCEndpoints("", 137); err == nil {
		t.Fatal("expected an error for an unsupported chain without override")
	}
}

func TestParseChain(t *testing.T) {
	chain, err := ParseChain("43113")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if chain.ID != 43113 {
		t.Fatalf("chain id = %d", chain.ID)
	}
	bySlug, err := ParseChain("fuji")
	if err != nil || bySlug.ID != 43113 {
		t.Fatalf("parse by slug: %v, %+v", err, bySlug)
	}
	if _, err := ParseChain("not-a-chain"); err == nil {
		t.Fatal("expected an error for garbage input")
	}
}
