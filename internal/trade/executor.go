// Package trade implements the purchase state machine against the escrow
// contract: trade validation, gas and bridging-fee estimation, submission,
// receipt awaiting and event decoding, for both same-chain and cross-chain
// purchases.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/avamarket/escrow-cli/internal/chainrpc"
	"github.com/avamarket/escrow-cli/internal/connector"
	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/registry"
	"github.com/avamarket/escrow-cli/internal/session"
	"github.com/avamarket/escrow-cli/internal/store"
)

type Options struct {
	GasMultiplierLocal      float64
	GasMultiplierCrossChain float64
	FallbackGasLocal        uint64
	FallbackGasCrossChain   uint64
	DefaultCrossChainFeeWei *big.Int
	ReceiptPollInterval     time.Duration
	ReceiptTimeoutLocal     time.Duration
	ReceiptTimeoutCross     time.Duration
	RefreshDelayLocal       time.Duration
	RefreshDelayCross       time.Duration
	MaxFeeGwei              string
	MaxPriorityFeeGwei      string
}

func DefaultOptions() Options {
	return Options{
		GasMultiplierLocal:      1.2,
		GasMultiplierCrossChain: 1.3,
		FallbackGasLocal:        450_000,
		FallbackGasCrossChain:   1_500_000,
		DefaultCrossChainFeeWei: big.NewInt(10_000_000_000_000_000), // 0.01 native
		ReceiptPollInterval:     2 * time.Second,
		ReceiptTimeoutLocal:     60 * time.Second,
		ReceiptTimeoutCross:     120 * time.Second,
		RefreshDelayLocal:       5 * time.Second,
		RefreshDelayCross:       30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.GasMultiplierLocal <= 1 {
		o.GasMultiplierLocal = def.GasMultiplierLocal
	}
	if o.GasMultiplierCrossChain <= 1 {
		o.GasMultiplierCrossChain = def.GasMultiplierCrossChain
	}
	if o.FallbackGasLocal == 0 {
		o.FallbackGasLocal = def.FallbackGasLocal
	}
	if o.FallbackGasCrossChain == 0 {
		o.FallbackGasCrossChain = def.FallbackGasCrossChain
	}
	if o.DefaultCrossChainFeeWei == nil {
		o.DefaultCrossChainFeeWei = def.DefaultCrossChainFeeWei
	}
	if o.ReceiptPollInterval <= 0 {
		o.ReceiptPollInterval = def.ReceiptPollInterval
	}
	if o.ReceiptTimeoutLocal <= 0 {
		o.ReceiptTimeoutLocal = def.ReceiptTimeoutLocal
	}
	if o.ReceiptTimeoutCross <= 0 {
		o.ReceiptTimeoutCross = def.ReceiptTimeoutCross
	}
	if o.RefreshDelayLocal <= 0 {
		o.RefreshDelayLocal = def.RefreshDelayLocal
	}
	if o.RefreshDelayCross <= 0 {
		o.RefreshDelayCross = def.RefreshDelayCross
	}
	return o
}

// Deps carries everything the executor needs; tests inject doubles here.
type Deps struct {
	Backend         chainrpc.Backend
	Signer          connector.Signer
	ChainID         int64
	Escrow          common.Address
	Token           common.Address
	TokenSymbol     string
	Store           *store.Store
	Log             *slog.Logger
	CachedAllowance func() *session.AllowanceState
	ScheduleRefresh func(delay time.Duration)
	Opts            Options
}

type Executor struct {
	backend         chainrpc.Backend
	signer          connector.Signer
	chainID         int64
	escrow          common.Address
	token           common.Address
	tokenSymbol     string
	store           *store.Store
	log             *slog.Logger
	cachedAllowance func() *session.AllowanceState
	scheduleRefresh func(delay time.Duration)
	opts            Options
}

func New(deps Deps) *Executor {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	symbol := deps.TokenSymbol
	if symbol == "" {
		symbol = registry.StableTokenSymbol
	}
	return &Executor{
		backend:         deps.Backend,
		signer:          deps.Signer,
		chainID:         deps.ChainID,
		escrow:          deps.Escrow,
		token:           deps.Token,
		tokenSymbol:     symbol,
		store:           deps.Store,
		log:             log,
		cachedAllowance: deps.CachedAllowance,
		scheduleRefresh: deps.ScheduleRefresh,
		opts:            deps.Opts.withDefaults(),
	}
}

// FromSession builds an executor bound to the active wallet session,
// enforcing the purchase preconditions: connected wallet, supported network
// and resolvable contract addresses. Any failure here is fatal for the call.
func FromSession(sess *session.Session, st *store.Store, log *slog.Logger, opts Options) (*Executor, error) {
	state := sess.WalletState()
	if !state.Connected {
		return nil, cerr.New(cerr.KindNotConnected, "connect a wallet first")
	}
	switch sess.NetworkStatus() {
	case session.NetworkConnected:
	case session.NetworkSwitching:
		return nil, cerr.New(cerr.KindSwitchInProgress, "a network switch is in progress, please wait")
	default:
		return nil, cerr.New(cerr.KindWrongNetwork, "switch to a supported network first")
	}
	contracts, ok := sess.CurrentContracts()
	if !ok {
		return nil, cerr.New(cerr.KindContractsUnavailable, "the marketplace contracts are not deployed on this network")
	}
	backend, ok := sess.Backend()
	if !ok {
		return nil, cerr.New(cerr.KindUnavailable, "the network is unreachable right now, please try again")
	}
	signer, ok := sess.Signer()
	if !ok {
		return nil, cerr.New(cerr.KindUsage, "the connected wallet cannot sign transactions")
	}
	return New(Deps{
		Backend:         backend,
		Signer:          signer,
		ChainID:         state.ChainID,
		Escrow:          common.HexToAddress(contracts.Escrow),
		Token:           common.HexToAddress(contracts.StableToken),
		TokenSymbol:     registry.StableTokenSymbol,
		Store:           st,
		Log:             log,
		CachedAllowance: sess.Allowance,
		ScheduleRefresh: sess.ScheduleRefresh,
		Opts:            opts,
	}), nil
}

// CrossChainParams selects the cross-chain purchase path.
type CrossChainParams struct {
	DestinationChainSelector uint64
	DestinationContract      common.Address
	// PayFeesInNative attaches the estimated bridging fee as native value;
	// otherwise the router charges the fee token directly.
	PayFeesInNative bool
}

type BuyParams struct {
	TradeID           *big.Int
	Quantity          *big.Int
	LogisticsProvider common.Address
	CrossChain        *CrossChainParams
}

// GetTrade reads the listing snapshot for tradeID from the escrow contract.
func (e *Executor) GetTrade(ctx context.Context, tradeID *big.Int) (TradeRecord, error) {
	data, err := escrowABI.Pack("getTrade", tradeID)
	if err != nil {
		return TradeRecord{}, cerr.Wrap(cerr.KindInternal, "pack trade read", err)
	}
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.escrow, Data: data}, nil)
	if err != nil {
		return TradeRecord{}, translateRevert(err, false)
	}
	values, err := escrowABI.Unpack("getTrade", out)
	if err != nil || len(values) != 5 {
		return TradeRecord{}, cerr.Wrap(cerr.KindUnavailable, "the trade could not be read, please try again", err)
	}
	record := TradeRecord{
		Seller:            values[0].(common.Address),
		UnitCost:          values[1].(*big.Int),
		TotalQuantity:     values[2].(*big.Int),
		RemainingQuantity: values[3].(*big.Int),
		Active:            values[4].(bool),
	}
	if record.Seller == (common.Address{}) {
		return TradeRecord{}, cerr.New(cerr.KindInvalidTradeID, "this trade could not be found")
	}
	return record, nil
}

// BuyTrade runs the full purchase state machine. Validation failures are
// reported before any transaction is submitted; a receipt timeout returns
// the still-pending record alongside the error so callers can re-check.
func (e *Executor) BuyTrade(ctx context.Context, params BuyParams) (*PaymentTransaction, error) {
	if params.TradeID == nil || params.TradeID.Sign() <= 0 {
		return nil, cerr.New(cerr.KindInvalidTradeID, "a trade id is required")
	}
	if params.Quantity == nil || params.Quantity.Sign() <= 0 {
		return nil, cerr.New(cerr.KindUsage, "quantity must be a positive integer")
	}
	if params.LogisticsProvider == (common.Address{}) {
		return nil, cerr.New(cerr.KindInvalidLogisticsProvider, "a logistics provider is required")
	}
	crossChain := params.CrossChain != nil
	if crossChain {
		if _, ok := registry.ChainIDForSelector(params.CrossChain.DestinationChainSelector); !ok {
			return nil, cerr.New(cerr.KindUsage, "unknown destination chain selector")
		}
		if params.CrossChain.DestinationContract == (common.Address{}) {
			return nil, cerr.New(cerr.KindUsage, "a destination contract is required for cross-chain purchases")
		}
	}

	record, err := e.GetTrade(ctx, params.TradeID)
	if err != nil {
		return nil, err
	}
	if !record.Active {
		return nil, cerr.New(cerr.KindTradeInactive, "this trade is no longer active")
	}
	if record.RemainingQuantity.Cmp(params.Quantity) < 0 {
		return nil, cerr.New(cerr.KindInsufficientStock, "the requested quantity is no longer available")
	}
	if record.Seller == e.signer.Address() {
		return nil, cerr.New(cerr.KindBuyerIsSeller, "you cannot buy your own trade")
	}

	// The one total-cost computation: used for the allowance check and as
	// the transaction argument, never recomputed.
	totalCost := new(big.Int).Mul(record.UnitCost, params.Quantity)

	allowance, err := e.AllowanceFor(ctx)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(totalCost) < 0 {
		return nil, cerr.New(cerr.KindInsufficientAllowance, "the escrow contract is not approved to spend enough of your tokens; run approve first")
	}

	var (
		calldata []byte
		value    = big.NewInt(0)
	)
	if crossChain {
		fee := e.quoteCrossChainFee(ctx, params.CrossChain, totalCost)
		if params.CrossChain.PayFeesInNative {
			value = fee
		}
		calldata, err = escrowABI.Pack("buyCrossChainTrade",
			params.TradeID, params.Quantity, params.LogisticsProvider,
			e.token, record.UnitCost, totalCost,
			params.CrossChain.DestinationChainSelector,
			params.CrossChain.DestinationContract,
			params.CrossChain.PayFeesInNative,
		)
	} else {
		calldata, err = escrowABI.Pack("buyTrade",
			params.TradeID, params.Quantity, params.LogisticsProvider,
			e.token, record.UnitCost, totalCost,
		)
	}
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "pack purchase calldata", err)
	}

	msg := ethereum.CallMsg{From: e.signer.Address(), To: &e.escrow, Value: value, Data: calldata}
	gasLimit := e.estimateGasLimit(ctx, msg, crossChain)

	signed, err := e.submit(ctx, msg, gasLimit)
	if err != nil {
		return nil, translateRevert(err, crossChain)
	}

	payment := &PaymentTransaction{
		PaymentID:       newPaymentID(),
		Hash:            signed.Hash().Hex(),
		AmountBaseUnits: totalCost.String(),
		Token:           e.tokenSymbol,
		From:            e.signer.Address().Hex(),
		To:              e.escrow.Hex(),
		Status:          TxPending,
		SubmittedAt:     time.Now().UTC(),
		ChainID:         e.chainID,
		CrossChain:      crossChain,
	}
	e.persist(payment, IntentBuy)

	timeout := e.opts.ReceiptTimeoutLocal
	refreshDelay := e.opts.RefreshDelayLocal
	if crossChain {
		timeout = e.opts.ReceiptTimeoutCross
		refreshDelay = e.opts.RefreshDelayCross
	}
	receipt, err := e.waitReceipt(ctx, signed.Hash(), timeout)
	if err != nil {
		if cerr.KindOf(err) == cerr.KindReceiptTimeout {
			// Still pending, not failed; the caller can re-check later.
			return payment, err
		}
		payment.Status = TxFailed
		e.persist(payment, IntentBuy)
		return payment, err
	}

	events := decodeReceiptEvents(receipt)
	payment.Status = TxConfirmed
	payment.PurchaseID = events.PurchaseID
	if crossChain {
		payment.MessageID = events.MessageID
	}
	e.persist(payment, IntentBuy)

	if e.scheduleRefresh != nil {
		e.scheduleRefresh(refreshDelay)
	}
	e.log.Info("purchase confirmed",
		"tx_hash", payment.Hash, "chain_id", e.chainID,
		"cross_chain", crossChain, "purchase_id", payment.PurchaseID)
	return payment, nil
}

// quoteCrossChainFee asks the escrow contract for the bridging fee. A failed
// quote falls back to the fixed default rather than aborting; if the guess
// is short the transaction reverts safely on-chain.
func (e *Executor) quoteCrossChainFee(ctx context.Context, cc *CrossChainParams, totalCost *big.Int) *big.Int {
	data, err := escrowABI.Pack("getCrossChainFee",
		cc.DestinationChainSelector, cc.DestinationContract, totalCost, cc.PayFeesInNative)
	if err != nil {
		e.log.Warn("pack fee quote failed, using default fee", "err", err)
		return new(big.Int).Set(e.opts.DefaultCrossChainFeeWei)
	}
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.escrow, Data: data}, nil)
	if err != nil {
		e.log.Warn("bridging fee quote failed, using default fee",
			"chain_id", e.chainID, "default_wei", e.opts.DefaultCrossChainFeeWei, "err", err)
		return new(big.Int).Set(e.opts.DefaultCrossChainFeeWei)
	}
	values, err := escrowABI.Unpack("getCrossChainFee", out)
	if err != nil || len(values) != 1 {
		e.log.Warn("bridging fee quote undecodable, using default fee", "err", err)
		return new(big.Int).Set(e.opts.DefaultCrossChainFeeWei)
	}
	fee, ok := values[0].(*big.Int)
	if !ok || fee.Sign() <= 0 {
		return new(big.Int).Set(e.opts.DefaultCrossChainFeeWei)
	}
	return fee
}

func (e *Executor) submit(ctx context.Context, msg ethereum.CallMsg, gasLimit uint64) (*types.Transaction, error) {
	tipCap, feeCap, err := e.resolveFees(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := e.backend.PendingNonceAt(ctx, e.signer.Address())
	if err != nil {
		return nil, cerr.Wrap(cerr.KindUnavailable, "the network is unreachable right now, please try again", err)
	}
	chainID := big.NewInt(e.chainID)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        msg.To,
		Value:     msg.Value,
		Data:      msg.Data,
	})
	signed, err := e.signer.SignTx(chainID, tx)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindUserRejected, "the transaction was declined in the wallet", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// waitReceipt polls until the transaction is mined or the timeout elapses.
// A timeout is reported distinctly from an on-chain revert.
func (e *Executor) waitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(e.opts.ReceiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			return nil, cerr.New(cerr.KindUnknown, "the purchase failed on-chain, please try again")
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			e.log.Debug("receipt poll failed", "tx_hash", hash.Hex(), "err", err)
		}
		select {
		case <-waitCtx.Done():
			return nil, cerr.Wrap(cerr.KindReceiptTimeout, "the transaction was not confirmed in time; it may still complete", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Executor) persist(payment *PaymentTransaction, intent string) {
	if e.store == nil {
		return
	}
	payload, err := json.Marshal(payment)
	if err != nil {
		e.log.Warn("marshal payment record failed", "payment_id", payment.PaymentID, "err", err)
		return
	}
	record := store.Record{
		PaymentID: payment.PaymentID,
		Intent:    intent,
		Status:    string(payment.Status),
		ChainID:   payment.ChainID,
		TxHash:    payment.Hash,
		CreatedAt: payment.SubmittedAt.Format(time.RFC3339),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	if err := e.store.Save(record); err != nil {
		e.log.Warn("persist payment record failed", "payment_id", payment.PaymentID, "err", err)
	}
}
