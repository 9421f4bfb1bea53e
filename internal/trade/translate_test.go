package trade

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	cerr "github.com/avamarket/escrow-cli/internal/errors"
)

// rpcDataError mimics go-ethereum's rpc error carrying revert data.
type rpcDataError struct {
	msg  string
	data interface{}
}

func (e *rpcDataError) Error() string          { return e.msg }
func (e *rpcDataError) ErrorData() interface{} { return e.data }

func encodeRevertReason(t *testing.T, reason string) string {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("string type: %v", err)
	}
	packed, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	if err != nil {
		t.Fatalf("pack reason: %v", err)
	}
	return hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...))
}

func TestTranslateRevertReasonFamilies(t *testing.T) {
	cases := []struct {
		reason string
		want   cerr.Kind
	}{
		{"ERC20: insufficient allowance", cerr.KindInsufficientAllowance},
		{"ERC20: transfer amount exceeds balance", cerr.KindInsufficientTokenBalance},
		{"Trade does not exist", cerr.KindInvalidTradeID},
		{"Trade not active", cerr.KindTradeInactive},
		{"Quantity exceeds stock", cerr.KindInsufficientStock},
		{"Invalid logistics provider", cerr.KindInvalidLogisticsProvider},
		{"Buyer is seller", cerr.KindBuyerIsSeller},
		{"Source chain not allowlisted", cerr.KindUnsupportedSourceChain},
		{"Insufficient fee for cross chain message", cerr.KindInsufficientBridgingFee},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			err := &rpcDataError{
				msg:  "execution reverted",
				data: encodeRevertReason(t, tc.reason),
			}
			got := translateRevert(err, false)
			if got.Kind != tc.want {
				t.Fatalf("kind = %s, want %s", got.Kind, tc.want)
			}
		})
	}
}

func TestTranslateRevertPlainMessages(t *testing.T) {
	cases := []struct {
		msg  string
		want cerr.Kind
	}{
		{"user denied transaction signature", cerr.KindUserRejected},
		{"insufficient funds for gas * price + value", cerr.KindInsufficientGasFunds},
		{"gas required exceeds allowance", cerr.KindGasOrSimulationFailure},
	}
	for _, tc := range cases {
		got := translateRevert(errors.New(tc.msg), false)
		if got.Kind != tc.want {
			t.Fatalf("%q: kind = %s, want %s", tc.msg, got.Kind, tc.want)
		}
	}
}

func TestTranslateRevertWrappedDataError(t *testing.T) {
	inner := &rpcDataError{
		msg:  "execution reverted",
		data: encodeRevertReason(t, "Trade not active"),
	}
	wrapped := fmt.Errorf("send transaction: %w", inner)
	got := translateRevert(wrapped, false)
	if got.Kind != cerr.KindTradeInactive {
		t.Fatalf("kind = %s, want %s", got.Kind, cerr.KindTradeInactive)
	}
}

func TestTranslateRevertFallthroughWording(t *testing.T) {
	local := translateRevert(errors.New("something strange"), false)
	if local.Kind != cerr.KindUnknown {
		t.Fatalf("kind = %s, want %s", local.Kind, cerr.KindUnknown)
	}
	cross := translateRevert(errors.New("something strange"), true)
	if cross.Message == local.Message {
		t.Fatal("cross-chain fallthrough must use distinct wording")
	}
}

func TestDecodeRevertDataCustomError(t *testing.T) {
	got := decodeRevertData([]byte{0xde, 0xad, 0xbe, 0xef})
	if got != "custom error 0xdeadbeef" {
		t.Fatalf("decoded = %q", got)
	}
}
