package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("rpc: connection refused")
	err := Wrap(KindUnavailable, "the network is unreachable", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("wrapped cause not reachable via errors.Is")
	}
	if err.Error() != "the network is unreachable: rpc: connection refused" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestAsThroughWrapping(t *testing.T) {
	inner := New(KindTradeInactive, "this trade is no longer active")
	outer := fmt.Errorf("buy: %w", inner)
	typed, ok := As(outer)
	if !ok || typed.Kind != KindTradeInactive {
		t.Fatalf("As = %+v, %v", typed, ok)
	}
	if KindOf(outer) != KindTradeInactive {
		t.Fatalf("KindOf = %s", KindOf(outer))
	}
}

func TestKindOfUntyped(t *testing.T) {
	if KindOf(stderrors.New("boom")) != KindUnknown {
		t.Fatal("untyped errors must map to unknown")
	}
	if KindOf(nil) != "" {
		t.Fatal("nil error must map to empty kind")
	}
}

func TestRetryable(t *testing.T) {
	retryable := []Kind{KindSwitchTimedOut, KindUnavailable, KindReceiptTimeout}
	for _, kind := range retryable {
		if !Retryable(New(kind, "x")) {
			t.Fatalf("kind %s should be retryable", kind)
		}
	}
	never := []Kind{KindUserRejected, KindSwitchRejectedByUser, KindUnsupportedByWallet, KindInsufficientStock}
	for _, kind := range never {
		if Retryable(New(kind, "x")) {
			t.Fatalf("kind %s must not be retryable", kind)
		}
	}
}

func TestExitCodes(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("nil exit code = %d", got)
	}
	cases := map[Kind]int{
		KindUsage:             2,
		KindNotConnected:      10,
		KindSwitchTimedOut:    11,
		KindUnavailable:       12,
		KindUserRejected:      13,
		KindTradeInactive:     14,
		KindInsufficientStock: 14,
		KindApprovalFailed:    15,
		KindUnknown:           1,
	}
	for kind, want := range cases {
		if got := ExitCode(New(kind, "x")); got != want {
			t.Fatalf("exit code for %s = %d, want %d", kind, got, want)
		}
	}
}
