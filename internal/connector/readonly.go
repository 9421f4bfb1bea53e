package connector

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/registry"
)

// ReadonlyConnector is the watch-only variant: it observes balances and
// trades for a configured address but can never sign.
type ReadonlyConnector struct {
	address string
	chainID int64
}

func NewReadonly(address string, chainID int64) *ReadonlyConnector {
	if chainID == 0 {
		chainID = registry.TargetChainID
	}
	return &ReadonlyConnector{address: strings.TrimSpace(address), chainID: chainID}
}

func (c *ReadonlyConnector) ID() string { return "readonly" }

func (c *ReadonlyConnector) Connect(ctx context.Context) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, cerr.Wrap(cerr.KindUserRejected, "connection was cancelled", err)
	}
	if !common.IsHexAddress(c.address) {
		return Account{}, cerr.New(cerr.KindConnectorUnavailable, "the watch-only wallet needs a valid address")
	}
	return Account{Address: common.HexToAddress(c.address), ChainID: c.chainID}, nil
}

func (c *ReadonlyConnector) Disconnect() {}

func (c *ReadonlyConnector) RequestChainSwitch(ctx context.Context, chainID int64) error {
	if _, ok := registry.ChainByID(chainID); !ok {
		return cerr.New(cerr.KindUnsupportedByWallet, "this wallet cannot switch to the requested network")
	}
	return ctx.Err()
}

func (c *ReadonlyConnector) Signer() Signer { return nil }
