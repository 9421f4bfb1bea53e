package trade

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/session"
)

var (
	buyerAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	sellerAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	escrowAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")
	tokenAddr  = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

type testSigner struct{ addr common.Address }

func (s *testSigner) Address() common.Address { return s.addr }
func (s *testSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

// chainDouble is an in-memory Backend standing in for the escrow chain.
type chainDouble struct {
	mu sync.Mutex

	seller    common.Address
	unitCost  *big.Int
	total     *big.Int
	remaining *big.Int
	active    bool

	allowance *big.Int
	feeQuote  *big.Int
	feeErr    error

	estimateErr error
	estimated   uint64
	sendErr     error
	sent        []*types.Transaction
	receiptLogs []*types.Log
	revert      bool
}

func newChainDouble() *chainDouble {
	return &chainDouble{
		seller:    sellerAddr,
		unitCost:  big.NewInt(2_000_000),
		total:     big.NewInt(10),
		remaining: big.NewInt(10),
		active:    true,
		allowance: MaxApproval(),
		estimated: 200_000,
	}
}

func (c *chainDouble) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(43113), nil }

func (c *chainDouble) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *chainDouble) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if method, err := escrowABI.MethodById(msg.Data[:4]); err == nil {
		switch method.Name {
		case "getTrade":
			return method.Outputs.Pack(c.seller, c.unitCost, c.total, c.remaining, c.active)
		case "getCrossChainFee":
			if c.feeErr != nil {
				return nil, c.feeErr
			}
			if c.feeQuote == nil {
				return nil, errors.New("fee quote unavailable")
			}
			return method.Outputs.Pack(c.feeQuote)
		}
	}
	if method, err := erc20ABI.MethodById(msg.Data[:4]); err == nil && method.Name == "allowance" {
		return method.Outputs.Pack(c.allowance)
	}
	return nil, errors.New("unexpected contract call")
}

func (c *chainDouble) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if c.estimateErr != nil {
		return 0, c.estimateErr
	}
	return c.estimated, nil
}

func (c *chainDouble) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *chainDouble) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(25_000_000_000)}, nil
}

func (c *chainDouble) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (c *chainDouble) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, tx)
	return nil
}

func (c *chainDouble) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if c.revert {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: txHash, Logs: c.receiptLogs}, nil
}

func (c *chainDouble) Close() {}

func (c *chainDouble) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *chainDouble) lastSent() *types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func purchaseCreatedLog(purchaseID common.Hash) *types.Log {
	return &types.Log{Topics: []common.Hash{
		escrowABI.Events["PurchaseCreated"].ID,
		purchaseID,
		common.BigToHash(big.NewInt(1)),
		common.BytesToHash(buyerAddr.Bytes()),
	}}
}

func messageSentLog(messageID common.Hash) *types.Log {
	return &types.Log{Topics: []common.Hash{
		escrowABI.Events["CrossChainMessageSent"].ID,
		messageID,
	}}
}

type refreshRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *refreshRecorder) schedule(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, delay)
}

func (r *refreshRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delays)
}

func newTestExecutor(chain *chainDouble, refresh *refreshRecorder) *Executor {
	opts := DefaultOptions()
	opts.ReceiptPollInterval = time.Millisecond
	opts.ReceiptTimeoutLocal = 200 * time.Millisecond
	opts.ReceiptTimeoutCross = 200 * time.Millisecond
	deps := Deps{
		Backend:     chain,
		Signer:      &testSigner{addr: buyerAddr},
		ChainID:     43113,
		Escrow:      escrowAddr,
		Token:       tokenAddr,
		TokenSymbol: "USDT",
		Log:         slog.Default(),
		Opts:        opts,
	}
	if refresh != nil {
		deps.ScheduleRefresh = refresh.schedule
	}
	return New(deps)
}

func buyParams() BuyParams {
	return BuyParams{
		TradeID:           big.NewInt(1),
		Quantity:          big.NewInt(2),
		LogisticsProvider: common.HexToAddress("0x5555555555555555555555555555555555555555"),
	}
}

func TestBuyTradeRejectsInactiveBeforeSubmission(t *testing.T) {
	chain := newChainDouble()
	chain.active = false
	exec := newTestExecutor(chain, nil)

	_, err := exec.BuyTrade(context.Background(), buyParams())
	if cerr.KindOf(err) != cerr.KindTradeInactive {
		t.Fatalf("kind = %s, want %s", cerr.KindOf(err), cerr.KindTradeInactive)
	}
	if chain.sentCount() != 0 {
		t.Fatalf("transactions sent = %d, want 0", chain.sentCount())
	}
}

func TestBuyTradeRejectsInsufficientStockBeforeSubmission(t *testing.T) {
	chain := newChainDouble()
	chain.remaining = big.NewInt(1)
	exec := newTestExecutor(chain, nil)

	params := buyParams()
	params.Quantity = big.NewInt(5)
	_, err := exec.BuyTrade(context.Background(), params)
	if cerr.KindOf(err) != cerr.KindInsufficientStock {
		t.Fatalf("kind = %s, want %s", cerr.KindOf(err), cerr.KindInsufficientStock)
	}
	if chain.sentCount() != 0 {
		t.Fatalf("transactions sent = %d, want 0", chain.sentCount())
	}
}

func TestBuyTradeRejectsBuyerIsSeller(t *testing.T) {
	chain := newChainDouble()
	chain.seller = buyerAddr
	exec := newTestExecutor(chain, nil)

	_, err := exec.BuyTrade(context.Background(), buyParams())
	if cerr.KindOf(err) != cerr.KindBuyerIsSeller {
		t.Fatalf("kind = %s, want %s", cerr.KindOf(err), cerr.KindBuyerIsSeller)
	}
	if chain.sentCount() != 0 {
		t.Fatalf("transactions sent = %d, want 0", chain.sentCount())
	}
}

func TestBuyTradeRejectsShortAllowance(t *testing.T) {
	chain := newChainDouble()
	chain.allowance = big.NewInt(1)
	exec := newTestExecutor(chain, nil)

	_, err := exec.BuyTrade(context.Background(), buyParams())
	if cerr.KindOf(err) != cerr.KindInsufficientAllowance {
		t.Fatalf("kind = %s, want %s", cerr.KindOf(err), cerr.KindInsufficientAllowance)
	}
	if chain.sentCount() != 0 {
		t.Fatalf("transactions sent = %d, want 0", chain.sentCount())
	}
}

func TestBuyTradeMissingTrade(t *testing.T) {
	chain := newChainDouble()
	chain.seller = common.Address{}
	exec := newTestExecutor(chain, nil)

	_, err := exec.BuyTrade(context.Background(), buyParams())
	if cerr.KindOf(err) != cerr.KindInvalidTradeID {
		t.Fatalf("kind = %s, want %s", cerr.KindOf(err), cerr.KindInvalidTradeID)
	}
}

func TestBuyTradeSameChainRoundTrip(t *testing.T) {
	chain := newChainDouble()
	purchaseID := common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	chain.receiptLogs = []*types.Log{purchaseCreatedLog(purchaseID)}
	refresh := &refreshRecorder{}
	exec := newTestExecutor(chain, refresh)

	payment, err := exec.BuyTrade(context.Background(), buyParams())
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if payment.Status != TxConfirmed {
		t.Fatalf("status = %s, want %s", payment.Status, TxConfirmed)
	}
	if payment.CrossChain {
		t.Fatal("same-chain purchase flagged cross-chain")
	}
	if payment.Token != "USDT" {
		t.Fatalf("token = %s, want USDT", payment.Token)
	}
	// unitCost 2_000_000 x quantity 2
	if payment.AmountBaseUnits != "4000000" {
		t.Fatalf("amount = %s, want 4000000", payment.AmountBaseUnits)
	}
	if payment.PurchaseID != purchaseID.Hex() {
		t.Fatalf("purchase id = %s, want %s", payment.PurchaseID, purchaseID.Hex())
	}
	if payment.MessageID != "" {
		t.Fatalf("message id = %s, want empty on the local path", payment.MessageID)
	}
	if refresh.count() != 1 {
		t.Fatalf("scheduled refreshes = %d, want 1", refresh.count())
	}
}

func TestBuyTradeSimulationFailureStillSubmits(t *testing.T) {
	chain := newChainDouble()
	chain.estimateErr = errors.New("execution reverted during simulation")
	chain.receiptLogs = []*types.Log{purchaseCreatedLog(common.HexToHash("0x01"))}
	exec := newTestExecutor(chain, nil)

	payment, err := exec.BuyTrade(context.Background(), buyParams())
	if err != nil {
		t.Fatalf("buy with failed simulation: %v", err)
	}
	if payment.Status != TxConfirmed {
		t.Fatalf("status = %s, want %s", payment.Status, TxConfirmed)
	}
	tx := chain.lastSent()
	if tx == nil {
		t.Fatal("no transaction submitted")
	}
	if tx.Gas() != DefaultOptions().FallbackGasLocal {
		t.Fatalf("gas limit = %d, want fallback %d", tx.Gas(), DefaultOptions().FallbackGasLocal)
	}
}

func TestBuyTradeGasMultiplierApplied(t *testing.T) {
	chain := newChainDouble()
	chain.estimated = 100_000
	chain.receiptLogs = []*types.Log{purchaseCreatedLog(common.HexToHash("0x01"))}
	exec := newTestExecutor(chain, nil)

	if _, err := exec.BuyTrade(context.Background(), buyParams()); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got := chain.lastSent().Gas(); got != 120_000 {
		t.Fatalf("gas limit = %d, want 120000", got)
	}
}

func TestBuyTradeCrossChain(t *testing.T) {
	chain := newChainDouble()
	chain.feeQuote = big.NewInt(5_000_000_000_000_000)
	messageID := common.HexToHash("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	chain.receiptLogs = []*types.Log{
		purchaseCreatedLog(common.HexToHash("0x02")),
		messageSentLog(messageID),
	}
	exec := newTestExecutor(chain, nil)

	params := buyParams()
	params.CrossChain = &CrossChainParams{
		DestinationChainSelector: 14767482510784806043,
		DestinationContract:      escrowAddr,
		PayFeesInNative:          true,
	}
	payment, err := exec.BuyTrade(context.Background(), params)
	if err != nil {
		t.Fatalf("cross-chain buy: %v", err)
	}
	if !payment.CrossChain {
		t.Fatal("payment not flagged cross-chain")
	}
	if payment.MessageID != messageID.Hex() {
		t.Fatalf("message id = %s, want %s", payment.MessageID, messageID.Hex())
	}
	tx := chain.lastSent()
	if tx.Value().Cmp(chain.feeQuote) != 0 {
		t.Fatalf("tx value = %s, want quoted fee %s", tx.Value(), chain.feeQuote)
	}
}

func TestBuyTradeCrossChainFeeQuoteFallback(t *testing.T) {
	chain := newChainDouble()
	chain.feeErr = errors.New("quote service down")
	chain.receiptLogs = []*types.Log{purchaseCreatedLog(common.HexToHash("0x03"))}
	exec := newTestExecutor(chain, nil)

	params := buyParams()
	params.CrossChain = &CrossChainParams{
		DestinationChainSelector: 16015286601757825753,
		DestinationContract:      escrowAddr,
		PayFeesInNative:          true,
	}
	payment, err := exec.BuyTrade(context.Background(), params)
	if err != nil {
		t.Fatalf("cross-chain buy with failed quote: %v", err)
	}
	if payment.Status != TxConfirmed {
		t.Fatalf("status = %s, want %s", payment.Status, TxConfirmed)
	}
	tx := chain.lastSent()
	if tx.Value().Cmp(DefaultOptions().DefaultCrossChainFeeWei) != 0 {
		t.Fatalf("tx value = %s, want default fee %s", tx.Value(), DefaultOptions().DefaultCrossChainFeeWei)
	}
}

func TestBuyTradeOnChainRevert(t *testing.T) {
	chain := newChainDouble()
	chain.revert = true
	exec := newTestExecutor(chain, nil)

	payment, err := exec.BuyTrade(context.Background(), buyParams())
	if err == nil {
		t.Fatal("expected an error for a reverted purchase")
	}
	if payment == nil || payment.Status != TxFailed {
		t.Fatalf("payment = %+v, want failed record", payment)
	}
}

func TestBuyTradeUndecodableEventDegradesGracefully(t *testing.T) {
	chain := newChainDouble()
	chain.receiptLogs = []*types.Log{
		{Topics: []common.Hash{common.HexToHash("0xdead")}}, // unknown event, skipped
	}
	exec := newTestExecutor(chain, nil)

	payment, err := exec.BuyTrade(context.Background(), buyParams())
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if payment.Status != TxConfirmed {
		t.Fatalf("status = %s, want %s", payment.Status, TxConfirmed)
	}
	if payment.PurchaseID != "" {
		t.Fatalf("purchase id = %s, want empty when no event decodes", payment.PurchaseID)
	}
}

func TestGetTradeReadsListing(t *testing.T) {
	chain := newChainDouble()
	exec := newTestExecutor(chain, nil)

	record, err := exec.GetTrade(context.Background(), big.NewInt(1))
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if record.Seller != sellerAddr || !record.Active {
		t.Fatalf("record = %+v", record)
	}
	if record.UnitCost.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Fatalf("unit cost = %s", record.UnitCost)
	}
}

func TestFromSessionPreconditions(t *testing.T) {
	sess := session.New(nil, nil, slog.Default(), session.Options{})
	_, err := FromSession(sess, nil, slog.Default(), Options{})
	if cerr.KindOf(err) != cerr.KindNotConnected {
		t.Fatalf("kind = %s, want %s", cerr.KindOf(err), cerr.KindNotConnected)
	}
}
