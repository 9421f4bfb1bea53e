package session

import (
	"context"
	"errors"
	"time"

	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/registry"
)

// SwitchRetryDelay implements the caller-driven retry policy for transient
// switch failures: base delay doubled per attempt, capped at two attempts.
// The session never retries on its own.
func SwitchRetryDelay(attempt int) (time.Duration, bool) {
	const base = 500 * time.Millisecond
	if attempt < 0 || attempt >= 2 {
		return 0, false
	}
	return base << uint(attempt), true
}

// SwitchToSupported drives a single-flight chain switch through the wallet
// connector. Already being on targetChainID is an immediate success with no
// wallet request. A second call while one switch is outstanding is rejected,
// never queued. The attempt is abandoned after the configured timeout, and a
// late settlement of an abandoned attempt never mutates state.
func (s *Session) SwitchToSupported(ctx context.Context, targetChainID int64) error {
	s.mu.Lock()
	if !s.wallet.Connected {
		s.mu.Unlock()
		return cerr.New(cerr.KindNotConnected, "connect a wallet before switching networks")
	}
	if s.switching {
		s.mu.Unlock()
		return cerr.New(cerr.KindSwitchInProgress, "a network switch is already in progress")
	}
	if s.wallet.ChainID == targetChainID {
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	s.switching = true
	s.switchEpoch++
	epoch := s.switchEpoch
	switchCtx, cancel := context.WithTimeout(ctx, s.opts.SwitchTimeout)
	s.switchCancel = cancel
	s.mu.Unlock()
	s.emit(EventNetwork)

	err := conn.RequestChainSwitch(switchCtx, targetChainID)
	timedOut := switchCtx.Err() != nil && ctx.Err() == nil
	cancel()

	s.mu.Lock()
	if s.switchEpoch != epoch {
		// The session ended or was reset while the request was in flight;
		// its settlement must not touch state.
		s.mu.Unlock()
		return cerr.New(cerr.KindNotConnected, "the wallet session ended before the network switch completed")
	}
	s.switching = false
	s.switchCancel = nil

	if err != nil {
		classified := classifySwitchErr(err, timedOut)
		s.wallet.LastError = userMessage(classified)
		s.mu.Unlock()
		s.emit(EventNetwork, EventWallet)
		return classified
	}

	oldBackend := s.backend
	s.backend = nil
	s.wallet.ChainID = targetChainID
	// Snapshots from the previous chain must never survive a chain change.
	s.native = nil
	s.token = nil
	s.allowance = nil
	s.wallet.NativeBalance = nil
	s.lastRefresh = time.Time{}
	s.stopAutoRefreshLocked()
	s.mu.Unlock()

	if oldBackend != nil {
		oldBackend.Close()
	}
	s.emit(EventNetwork, EventBalances, EventAllowance)

	if !registry.Supported(targetChainID) {
		return nil
	}
	backend, err := s.dial(ctx, targetChainID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.switchEpoch != epoch || !s.wallet.Connected || s.wallet.ChainID != targetChainID {
		s.mu.Unlock()
		backend.Close()
		return nil
	}
	s.backend = backend
	s.startAutoRefreshLocked()
	s.mu.Unlock()

	go func() { _ = s.Refresh(context.Background(), true) }()
	return nil
}

// classifySwitchErr separates user cancellation (no retry), transient
// infrastructure failure (retry worth offering) and wallet inability (retry
// useless). Callers combine this with SwitchRetryDelay.
func classifySwitchErr(err error, timedOut bool) error {
	if typed, ok := cerr.As(err); ok {
		switch typed.Kind {
		case cerr.KindUnsupportedByWallet, cerr.KindSwitchRejectedByUser, cerr.KindSwitchTimedOut:
			return typed
		}
	}
	if timedOut || errors.Is(err, context.DeadlineExceeded) {
		return cerr.Wrap(cerr.KindSwitchTimedOut, "the network switch did not complete in time", err)
	}
	if errors.Is(err, context.Canceled) {
		return cerr.Wrap(cerr.KindSwitchRejectedByUser, "the network switch was cancelled", err)
	}
	return cerr.Wrap(cerr.KindUnavailable, "the network switch failed, please try again", err)
}
