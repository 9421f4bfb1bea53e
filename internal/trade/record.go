package trade

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// TxStatus tracks the lifecycle of a submitted payment transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

const (
	IntentBuy     = "buy"
	IntentApprove = "approve"
)

// TradeRecord is the on-chain listing snapshot read per purchase attempt.
// It is advisory: the contract remains the final authority at submission.
type TradeRecord struct {
	Seller            common.Address
	UnitCost          *big.Int
	TotalQuantity     *big.Int
	RemainingQuantity *big.Int
	Active            bool
}

// PaymentTransaction is the one artifact handed back to callers after a
// purchase or approval. Once confirmed or failed it is never mutated again.
type PaymentTransaction struct {
	PaymentID       string    `json:"payment_id"`
	Hash            string    `json:"hash"`
	AmountBaseUnits string    `json:"amount_base_units"`
	Token           string    `json:"token"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Status          TxStatus  `json:"status"`
	SubmittedAt     time.Time `json:"submitted_at"`
	ChainID         int64     `json:"chain_id"`
	PurchaseID      string    `json:"purchase_id,omitempty"`
	MessageID       string    `json:"message_id,omitempty"`
	CrossChain      bool      `json:"cross_chain"`
}

func newPaymentID() string {
	return "pay_" + uuid.NewString()
}
