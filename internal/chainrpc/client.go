package chainrpc

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/registry"
)

// Backend is the narrow slice of an EVM JSON-RPC client the orchestration
// core consumes. *ethclient.Client satisfies it; tests plug in doubles.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Dialer resolves a Backend for a chain. Injected into the session so tests
// never touch the network.
type Dialer func(ctx context.Context, chainID int64) (Backend, error)

// NewDialer walks the registry's endpoint list for the chain and returns the
// first endpoint that answers eth_chainId with the expected value. An
// explicit override short-circuits the list.
func NewDialer(override string, log *slog.Logger) Dialer {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, chainID int64) (Backend, error) {
		endpoints, err := registry.ResolveRPCEndpoints(override, chainID)
		if err != nil {
			return nil, cerr.Wrap(cerr.KindUsage, "resolve rpc endpoints", err)
		}
		var lastErr error
		for _, endpoint := range endpoints {
			client, err := ethclient.DialContext(ctx, endpoint)
			if err != nil {
				lastErr = err
				log.Debug("rpc dial failed", "chain_id", chainID, "endpoint", endpoint, "err", err)
				continue
			}
			got, err := client.ChainID(ctx)
			if err != nil {
				client.Close()
				lastErr = err
				log.Debug("rpc chain id probe failed", "chain_id", chainID, "endpoint", endpoint, "err", err)
				continue
			}
			if got.Int64() != chainID {
				client.Close()
				lastErr = fmt.Errorf("endpoint %s serves chain %d, want %d", endpoint, got.Int64(), chainID)
				continue
			}
			return client, nil
		}
		return nil, cerr.Wrap(cerr.KindUnavailable, "the network is unreachable right now, please try again", lastErr)
	}
}
