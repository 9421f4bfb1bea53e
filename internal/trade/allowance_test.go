package trade

import (
	"context"
	"math/big"
	"testing"

	"github.com/avamarket/escrow-cli/internal/session"
)

func TestEnsureAllowanceSkipsWhenSufficient(t *testing.T) {
	chain := newChainDouble()
	chain.allowance = big.NewInt(100)
	exec := newTestExecutor(chain, nil)

	payment, err := exec.EnsureAllowance(context.Background(), big.NewInt(50))
	if err != nil {
		t.Fatalf("ensure allowance: %v", err)
	}
	if payment != nil {
		t.Fatalf("payment = %+v, want nil for a sufficient allowance", payment)
	}
	if chain.sentCount() != 0 {
		t.Fatalf("transactions sent = %d, want 0", chain.sentCount())
	}
}

func TestEnsureAllowanceSubmitsWhenShort(t *testing.T) {
	chain := newChainDouble()
	chain.allowance = big.NewInt(0)
	refresh := &refreshRecorder{}
	exec := newTestExecutor(chain, refresh)

	payment, err := exec.EnsureAllowance(context.Background(), big.NewInt(50))
	if err != nil {
		t.Fatalf("ensure allowance: %v", err)
	}
	if payment == nil || payment.Status != TxConfirmed {
		t.Fatalf("payment = %+v, want a confirmed approval", payment)
	}
	if chain.sentCount() != 1 {
		t.Fatalf("transactions sent = %d, want 1", chain.sentCount())
	}
	tx := chain.lastSent()
	if tx.To() == nil || *tx.To() != tokenAddr {
		t.Fatalf("approval target = %v, want token %s", tx.To(), tokenAddr)
	}
	// Unlimited approval so later purchases below the ceiling skip this step.
	if payment.AmountBaseUnits != MaxApproval().String() {
		t.Fatalf("approval amount = %s, want max", payment.AmountBaseUnits)
	}
	if refresh.count() != 1 {
		t.Fatalf("scheduled refreshes = %d, want 1", refresh.count())
	}
}

func TestEnsureAllowancePrefersSessionCache(t *testing.T) {
	chain := newChainDouble()
	chain.allowance = big.NewInt(0) // on-chain read would report short
	exec := newTestExecutor(chain, nil)
	exec.cachedAllowance = func() *session.AllowanceState {
		return &session.AllowanceState{
			Owner:   buyerAddr,
			Spender: escrowAddr,
			Amount:  big.NewInt(1_000_000),
			ChainID: 43113,
		}
	}

	payment, err := exec.EnsureAllowance(context.Background(), big.NewInt(50))
	if err != nil {
		t.Fatalf("ensure allowance: %v", err)
	}
	if payment != nil {
		t.Fatal("cached allowance should have been trusted, no approval expected")
	}
	if chain.sentCount() != 0 {
		t.Fatalf("transactions sent = %d, want 0", chain.sentCount())
	}
}

func TestEnsureAllowanceIgnoresCacheFromOtherChain(t *testing.T) {
	chain := newChainDouble()
	chain.allowance = big.NewInt(1_000_000)
	exec := newTestExecutor(chain, nil)
	exec.cachedAllowance = func() *session.AllowanceState {
		return &session.AllowanceState{
			Owner:   buyerAddr,
			Spender: escrowAddr,
			Amount:  big.NewInt(0),
			ChainID: 11155111, // stale, different chain
		}
	}

	payment, err := exec.EnsureAllowance(context.Background(), big.NewInt(50))
	if err != nil {
		t.Fatalf("ensure allowance: %v", err)
	}
	if payment != nil {
		t.Fatal("on-chain allowance was sufficient, no approval expected")
	}
}

func TestApproveExactAmount(t *testing.T) {
	chain := newChainDouble()
	exec := newTestExecutor(chain, nil)

	payment, err := exec.Approve(context.Background(), big.NewInt(123))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if payment.AmountBaseUnits != "123" {
		t.Fatalf("amount = %s, want 123", payment.AmountBaseUnits)
	}
	if payment.Token != "USDT" {
		t.Fatalf("token = %s, want USDT", payment.Token)
	}
}
