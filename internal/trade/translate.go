package trade

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	cerr "github.com/avamarket/escrow-cli/internal/errors"
)

// dataError is satisfied by go-ethereum rpc errors that carry revert data.
type dataError interface {
	Error() string
	ErrorData() interface{}
}

// decodeRevertFromError extracts a human-readable revert reason from an RPC
// error, decoding the standard Error(string) payload when present.
func decodeRevertFromError(err error) string {
	if err == nil {
		return ""
	}
	var de dataError
	if asDataError(err, &de) {
		switch data := de.ErrorData().(type) {
		case string:
			if buf, decErr := hexutil.Decode(data); decErr == nil {
				if reason := decodeRevertData(buf); reason != "" {
					return reason
				}
			}
		case []byte:
			if reason := decodeRevertData(data); reason != "" {
				return reason
			}
		}
	}
	return err.Error()
}

func asDataError(err error, target *dataError) bool {
	for err != nil {
		if de, ok := err.(dataError); ok {
			*target = de
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// errorStringSelector is the 4-byte selector of Error(string).
var errorStringSelector = common.FromHex("0x08c379a0")

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if string(data[:4]) != string(errorStringSelector) {
		return "custom error " + hexutil.Encode(data[:4])
	}
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		return ""
	}
	values, err := abi.Arguments{{Type: stringTy}}.Unpack(data[4:])
	if err != nil || len(values) != 1 {
		return ""
	}
	reason, _ := values[0].(string)
	return reason
}

// translateRevert maps contract revert-reason families and wallet failures
// onto the stable error taxonomy. Callers cannot tell from the kind alone
// whether a failure was caught pre-flight or on-chain, which is the point.
func translateRevert(err error, crossChain bool) *cerr.Error {
	reason := strings.ToLower(decodeRevertFromError(err))
	switch {
	case containsAny(reason, "user denied", "user rejected", "request rejected"):
		return cerr.Wrap(cerr.KindUserRejected, "the transaction was declined in the wallet", err)
	case containsAny(reason, "insufficient allowance", "exceeds allowance"):
		return cerr.Wrap(cerr.KindInsufficientAllowance, "the escrow contract is not approved to spend enough of your tokens", err)
	case containsAny(reason, "insufficient balance", "exceeds balance", "transfer amount exceeds"):
		return cerr.Wrap(cerr.KindInsufficientTokenBalance, "your token balance is too low for this purchase", err)
	case containsAny(reason, "insufficient funds for gas", "insufficient funds"):
		return cerr.Wrap(cerr.KindInsufficientGasFunds, "your wallet does not hold enough gas for this transaction", err)
	case containsAny(reason, "trade does not exist", "invalid trade", "unknown trade"):
		return cerr.Wrap(cerr.KindInvalidTradeID, "this trade could not be found", err)
	case containsAny(reason, "trade not active", "trade inactive", "not active"):
		return cerr.Wrap(cerr.KindTradeInactive, "this trade is no longer active", err)
	case containsAny(reason, "exceeds stock", "insufficient stock", "quantity too high", "exceeds remaining"):
		return cerr.Wrap(cerr.KindInsufficientStock, "the requested quantity is no longer available", err)
	case containsAny(reason, "logistics"):
		return cerr.Wrap(cerr.KindInvalidLogisticsProvider, "the selected logistics provider is not accepted", err)
	case containsAny(reason, "buyer is seller", "own trade", "cannot buy own"):
		return cerr.Wrap(cerr.KindBuyerIsSeller, "you cannot buy your own trade", err)
	case containsAny(reason, "source chain", "chain not allowlisted", "sender not allowed"):
		return cerr.Wrap(cerr.KindUnsupportedSourceChain, "purchases cannot be bridged from this network", err)
	case containsAny(reason, "insufficient fee", "fee too low"):
		return cerr.Wrap(cerr.KindInsufficientBridgingFee, "the bridging fee was too low, please try again", err)
	case containsAny(reason, "gas required exceeds", "out of gas", "intrinsic gas"):
		return cerr.Wrap(cerr.KindGasOrSimulationFailure, "the transaction could not be priced, please try again", err)
	}
	if crossChain {
		return cerr.Wrap(cerr.KindUnknown, "the cross-chain purchase failed, please try again", err)
	}
	return cerr.Wrap(cerr.KindUnknown, "the purchase failed, please try again", err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
