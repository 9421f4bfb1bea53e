package trade

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/registry"
)

var erc20ABI = mustABI(registry.ERC20MinimalABI)

// maxUint256 is the canonical unlimited approval amount.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// MaxApproval returns a copy of the unlimited approval amount.
func MaxApproval() *big.Int { return new(big.Int).Set(maxUint256) }

// AllowanceFor returns the spender allowance the escrow currently holds for
// owner, preferring the session cache when it matches this chain and pair.
func (e *Executor) AllowanceFor(ctx context.Context) (*big.Int, error) {
	if e.cachedAllowance != nil {
		if cached := e.cachedAllowance(); cached != nil &&
			cached.ChainID == e.chainID &&
			cached.Owner == e.signer.Address() &&
			cached.Spender == e.escrow &&
			cached.Amount != nil {
			return new(big.Int).Set(cached.Amount), nil
		}
	}
	data, err := erc20ABI.Pack("allowance", e.signer.Address(), e.escrow)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "pack allowance read", err)
	}
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.token, Data: data}, nil)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindUnavailable, "the token allowance could not be read, please try again", err)
	}
	values, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(values) != 1 {
		return nil, cerr.Wrap(cerr.KindUnavailable, "the token allowance could not be read, please try again", err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, cerr.New(cerr.KindUnavailable, "the token allowance could not be read, please try again")
	}
	return amount, nil
}

// EnsureAllowance guarantees the escrow may spend at least required of the
// stable token. A sufficient existing allowance is a no-op; otherwise an
// unlimited approval is submitted and awaited before returning.
func (e *Executor) EnsureAllowance(ctx context.Context, required *big.Int) (*PaymentTransaction, error) {
	current, err := e.AllowanceFor(ctx)
	if err != nil {
		return nil, err
	}
	if current.Cmp(required) >= 0 {
		return nil, nil
	}
	return e.Approve(ctx, maxUint256)
}

// Approve submits an ERC-20 approve for the escrow spender and waits for the
// receipt on the local-path timeout.
func (e *Executor) Approve(ctx context.Context, amount *big.Int) (*PaymentTransaction, error) {
	data, err := erc20ABI.Pack("approve", e.escrow, amount)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "pack approve calldata", err)
	}
	msg := ethereum.CallMsg{From: e.signer.Address(), To: &e.token, Data: data}
	gasLimit := e.estimateGasLimit(ctx, msg, false)

	signed, err := e.submit(ctx, msg, gasLimit)
	if err != nil {
		translated := translateRevert(err, false)
		if translated.Kind == cerr.KindUnknown {
			return nil, cerr.Wrap(cerr.KindApprovalFailed, "the token approval failed, please try again", err)
		}
		return nil, translated
	}

	payment := &PaymentTransaction{
		PaymentID:       newPaymentID(),
		Hash:            signed.Hash().Hex(),
		AmountBaseUnits: amount.String(),
		Token:           e.tokenSymbol,
		From:            e.signer.Address().Hex(),
		To:              e.token.Hex(),
		Status:          TxPending,
		SubmittedAt:     time.Now().UTC(),
		ChainID:         e.chainID,
	}
	e.persist(payment, IntentApprove)

	if _, err := e.waitReceipt(ctx, signed.Hash(), e.opts.ReceiptTimeoutLocal); err != nil {
		if cerr.KindOf(err) == cerr.KindReceiptTimeout {
			return payment, err
		}
		payment.Status = TxFailed
		e.persist(payment, IntentApprove)
		return payment, cerr.Wrap(cerr.KindApprovalFailed, "the token approval failed, please try again", err)
	}
	payment.Status = TxConfirmed
	e.persist(payment, IntentApprove)
	if e.scheduleRefresh != nil {
		e.scheduleRefresh(e.opts.RefreshDelayLocal)
	}
	return payment, nil
}

// TokenDecimals reads the token's decimals, falling back to the registry
// constant when the call fails.
func (e *Executor) TokenDecimals(ctx context.Context) uint8 {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return registry.StableTokenDecimals
	}
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.token, Data: data}, nil)
	if err != nil {
		return registry.StableTokenDecimals
	}
	values, err := erc20ABI.Unpack("decimals", out)
	if err != nil || len(values) != 1 {
		return registry.StableTokenDecimals
	}
	if d, ok := values[0].(uint8); ok {
		return d
	}
	return registry.StableTokenDecimals
}
