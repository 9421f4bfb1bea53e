package errors

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error classification consumed by the
// CLI surface and by callers deciding whether a retry is worth offering.
type Kind string

const (
	KindNotConnected             Kind = "not_connected"
	KindWrongNetwork             Kind = "wrong_network"
	KindSwitchInProgress         Kind = "switch_in_progress"
	KindSwitchTimedOut           Kind = "switch_timed_out"
	KindSwitchRejectedByUser     Kind = "switch_rejected_by_user"
	KindUnsupportedByWallet      Kind = "unsupported_by_wallet"
	KindConnectorUnavailable     Kind = "connector_unavailable"
	KindContractsUnavailable     Kind = "contracts_unavailable_on_chain"
	KindInvalidTradeID           Kind = "invalid_trade_id"
	KindTradeInactive            Kind = "trade_inactive"
	KindInsufficientStock        Kind = "insufficient_stock"
	KindInsufficientTokenBalance Kind = "insufficient_token_balance"
	KindInsufficientAllowance    Kind = "insufficient_allowance"
	KindInvalidLogisticsProvider Kind = "invalid_logistics_provider"
	KindBuyerIsSeller            Kind = "buyer_is_seller"
	KindUnsupportedSourceChain   Kind = "unsupported_source_chain_for_bridging"
	KindInsufficientBridgingFee  Kind = "insufficient_bridging_fee"
	KindUserRejected             Kind = "user_rejected_transaction"
	KindGasOrSimulationFailure   Kind = "gas_or_simulation_failure"
	KindInsufficientGasFunds     Kind = "insufficient_gas_funds"
	KindApprovalFailed           Kind = "approval_failed"
	KindReceiptTimeout           Kind = "receipt_timeout"
	KindUnavailable              Kind = "unavailable"
	KindUsage                    Kind = "usage"
	KindInternal                 Kind = "internal"
	KindUnknown                  Kind = "unknown"
)

// Error is a typed error carrying a stable kind. Message is the short,
// non-technical sentence shown to users; Cause keeps the raw failure for logs.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the kind carried by err, or KindUnknown for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if typed, ok := As(err); ok {
		return typed.Kind
	}
	return KindUnknown
}

// Retryable reports whether the failure class is transient infrastructure
// trouble where offering a retry makes sense. User cancellations and
// validation failures are never retryable.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindSwitchTimedOut, KindUnavailable, KindReceiptTimeout:
		return true
	default:
		return false
	}
}

// ExitCode maps kinds onto stable process exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindUsage:
		return 2
	case KindNotConnected, KindWrongNetwork, KindConnectorUnavailable:
		return 10
	case KindSwitchInProgress, KindSwitchTimedOut, KindSwitchRejectedByUser, KindUnsupportedByWallet:
		return 11
	case KindUnavailable, KindReceiptTimeout:
		return 12
	case KindUserRejected:
		return 13
	case KindInvalidTradeID, KindTradeInactive, KindInsufficientStock,
		KindInsufficientTokenBalance, KindInsufficientAllowance,
		KindInvalidLogisticsProvider, KindBuyerIsSeller,
		KindUnsupportedSourceChain, KindInsufficientBridgingFee,
		KindContractsUnavailable:
		return 14
	case KindGasOrSimulationFailure, KindInsufficientGasFunds, KindApprovalFailed:
		return 15
	default:
		return 1
	}
}
