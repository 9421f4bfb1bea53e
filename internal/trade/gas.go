package trade

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"

	"github.com/avamarket/escrow-cli/internal/chainrpc"
	cerr "github.com/avamarket/escrow-cli/internal/errors"
)

// estimateGasLimit dry-runs the call and applies the per-path safety
// multiplier. A failed simulation falls back to the fixed conservative
// constant for the call type; it never blocks submission.
func (e *Executor) estimateGasLimit(ctx context.Context, msg ethereum.CallMsg, crossChain bool) uint64 {
	multiplier := e.opts.GasMultiplierLocal
	fallback := e.opts.FallbackGasLocal
	if crossChain {
		multiplier = e.opts.GasMultiplierCrossChain
		fallback = e.opts.FallbackGasCrossChain
	}
	estimated, err := e.backend.EstimateGas(ctx, msg)
	if err != nil || estimated == 0 {
		e.log.Warn("gas simulation failed, using fallback limit",
			"chain_id", e.chainID, "cross_chain", crossChain, "fallback", fallback, "err", err)
		return fallback
	}
	return uint64(float64(estimated) * multiplier)
}

func (e *Executor) resolveFees(ctx context.Context) (tipCap, feeCap *big.Int, err error) {
	tipCap, err = resolveTipCap(ctx, e.backend, e.opts.MaxPriorityFeeGwei)
	if err != nil {
		return nil, nil, err
	}
	header, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, cerr.Wrap(cerr.KindUnavailable, "the network is unreachable right now, please try again", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err = resolveFeeCap(baseFee, tipCap, e.opts.MaxFeeGwei)
	if err != nil {
		return nil, nil, err
	}
	return tipCap, feeCap, nil
}

func resolveTipCap(ctx context.Context, backend chainrpc.Backend, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, cerr.Wrap(cerr.KindUsage, "parse max priority fee", err)
		}
		return v, nil
	}
	tipCap, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, cerr.Wrap(cerr.KindUsage, "parse max fee", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, cerr.New(cerr.KindUsage, "max fee must be >= max priority fee")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}
