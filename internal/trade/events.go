package trade

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/avamarket/escrow-cli/internal/registry"
)

var escrowABI = mustABI(registry.EscrowABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// receiptEvents is what the typed decoder recovered from a receipt. Absent
// identifiers stay empty; the purchase still succeeded on-chain.
type receiptEvents struct {
	PurchaseID string
	MessageID  string
}

// decodeReceiptEvents tries each known event signature against every log and
// keeps the matches. Logs that match nothing are skipped; no errors are used
// for control flow.
func decodeReceiptEvents(receipt *types.Receipt) receiptEvents {
	var out receiptEvents
	if receipt == nil {
		return out
	}
	purchaseID := escrowABI.Events["PurchaseCreated"].ID
	messageID := escrowABI.Events["CrossChainMessageSent"].ID
	for _, entry := range receipt.Logs {
		if entry == nil || len(entry.Topics) < 2 {
			continue
		}
		switch entry.Topics[0] {
		case purchaseID:
			if out.PurchaseID == "" {
				out.PurchaseID = entry.Topics[1].Hex()
			}
		case messageID:
			if out.MessageID == "" {
				out.MessageID = entry.Topics[1].Hex()
			}
		}
	}
	return out
}
