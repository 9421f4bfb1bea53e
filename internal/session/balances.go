package session

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/avamarket/escrow-cli/internal/chainrpc"
	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/registry"
)

// Refresh re-reads native balance, token balance and allowance concurrently.
// Calls within the throttle window are no-ops unless force is set, and an
// in-flight refresh is never overlapped. Partial failures are logged, not
// propagated; only a full miss of all three reads surfaces an error.
func (s *Session) Refresh(ctx context.Context, force bool) error {
	s.mu.Lock()
	if !s.wallet.Connected || s.backend == nil || !registry.Supported(s.wallet.ChainID) {
		s.mu.Unlock()
		return nil
	}
	if s.refreshing {
		s.mu.Unlock()
		return nil
	}
	if !force && !s.lastRefresh.IsZero() && time.Since(s.lastRefresh) < s.opts.RefreshThrottle {
		s.mu.Unlock()
		return nil
	}
	s.refreshing = true
	backend := s.backend
	owner := s.wallet.Address
	chainID := s.wallet.ChainID
	epoch := s.switchEpoch
	s.mu.Unlock()

	contracts, ok := registry.ContractsFor(chainID)
	if !ok {
		s.mu.Lock()
		s.refreshing = false
		s.mu.Unlock()
		return nil
	}
	token := common.HexToAddress(contracts.StableToken)
	spender := common.HexToAddress(contracts.Escrow)

	var (
		nativeAmt    *big.Int
		tokenAmt     *big.Int
		allowanceAmt *big.Int
	)
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, s.opts.RPCTimeout)
		defer cancel()
		amt, err := backend.BalanceAt(callCtx, owner, nil)
		if err != nil {
			s.log.Warn("native balance read failed", "chain_id", chainID, "err", err)
			return nil
		}
		nativeAmt = amt
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, s.opts.RPCTimeout)
		defer cancel()
		amt, err := readTokenBalance(callCtx, backend, token, owner)
		if err != nil {
			s.log.Warn("token balance read failed", "chain_id", chainID, "err", err)
			return nil
		}
		tokenAmt = amt
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, s.opts.RPCTimeout)
		defer cancel()
		amt, err := readAllowance(callCtx, backend, token, owner, spender)
		if err != nil {
			s.log.Warn("allowance read failed", "chain_id", chainID, "err", err)
			return nil
		}
		allowanceAmt = amt
		return nil
	})
	_ = g.Wait()

	now := time.Now().UTC()

	s.mu.Lock()
	// A chain change or disconnect during the reads invalidates everything
	// fetched here; stale-chain values must never be published.
	if !s.wallet.Connected || s.wallet.ChainID != chainID || s.switchEpoch != epoch {
		s.refreshing = false
		s.mu.Unlock()
		return nil
	}
	if nativeAmt != nil {
		s.native = &BalanceSnapshot{Raw: nativeAmt, Decimals: 18, CapturedAt: now, ChainID: chainID}
		s.wallet.NativeBalance = new(big.Int).Set(nativeAmt)
	}
	if tokenAmt != nil {
		s.token = &BalanceSnapshot{Raw: tokenAmt, Decimals: registry.StableTokenDecimals, CapturedAt: now, ChainID: chainID}
	}
	if allowanceAmt != nil {
		s.allowance = &AllowanceState{Owner: owner, Spender: spender, Amount: allowanceAmt, ChainID: chainID}
	}
	s.lastRefresh = now
	s.refreshing = false
	s.mu.Unlock()
	s.emit(EventBalances, EventAllowance, EventWallet)

	if nativeAmt == nil && tokenAmt == nil && allowanceAmt == nil {
		return cerr.New(cerr.KindUnavailable, "balances could not be refreshed, please try again")
	}
	return nil
}

// Auto-refresh runs only while connected on a supported network; it is
// suspended on disconnect or wrong network and re-armed on recovery.
func (s *Session) startAutoRefreshLocked() {
	if s.autoStop != nil || !s.wallet.Connected || !registry.Supported(s.wallet.ChainID) {
		return
	}
	stop := make(chan struct{})
	s.autoStop = stop
	interval := s.opts.AutoRefreshInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = s.Refresh(context.Background(), false)
			}
		}
	}()
}

func (s *Session) stopAutoRefreshLocked() {
	if s.autoStop != nil {
		close(s.autoStop)
		s.autoStop = nil
	}
}

func readTokenBalance(ctx context.Context, backend chainrpc.Backend, token, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return unpackBigInt("balanceOf", out)
}

func readAllowance(ctx context.Context, backend chainrpc.Backend, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("pack allowance: %w", err)
	}
	out, err := backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return unpackBigInt("allowance", out)
}

func unpackBigInt(method string, out []byte) (*big.Int, error) {
	values, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: unexpected output arity %d", method, len(values))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected output type %T", method, values[0])
	}
	return amount, nil
}
