package connector

import (
	"context"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	cerr "github.com/avamarket/escrow-cli/internal/errors"
)

// Account is the normalized result of a successful wallet connection.
type Account struct {
	Address common.Address
	ChainID int64
}

// Signer signs transactions for the connected account.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

// Connector is one wallet backend. Implementations are a fixed set of
// variants selected by ID through the Registry, not duck-typed at call sites.
type Connector interface {
	ID() string
	Connect(ctx context.Context) (Account, error)
	Disconnect()
	// RequestChainSwitch asks the wallet to move to chainID. Implementations
	// must honor ctx cancellation; a canceled request counts as a user
	// rejection and a chain the wallet cannot serve must yield an
	// unsupported-by-wallet error.
	RequestChainSwitch(ctx context.Context, chainID int64) error
	// Signer returns nil for watch-only connectors.
	Signer() Signer
}

// Registry is a tagged-variant lookup over the configured connectors.
type Registry struct {
	byID map[string]Connector
}

func NewRegistry(connectors ...Connector) *Registry {
	byID := make(map[string]Connector, len(connectors))
	for _, c := range connectors {
		byID[strings.ToLower(c.ID())] = c
	}
	return &Registry{byID: byID}
}

func (r *Registry) Get(id string) (Connector, error) {
	c, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, cerr.New(cerr.KindConnectorUnavailable, "unknown wallet connector: "+id)
	}
	return c, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
