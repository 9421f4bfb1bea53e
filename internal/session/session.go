// Package session owns the wallet-facing singleton state of the payment
// core: wallet connection, network status, balance snapshots and the token
// allowance. All mutation goes through the operations defined here; the CLI
// and other collaborators only read the published copies.
package session

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/avamarket/escrow-cli/internal/chainrpc"
	"github.com/avamarket/escrow-cli/internal/connector"
	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/registry"
)

// NetworkStatus is pure derived state; no two values can hold at once.
type NetworkStatus string

const (
	NetworkDisconnected NetworkStatus = "disconnected"
	NetworkConnected    NetworkStatus = "connected"
	NetworkWrongNetwork NetworkStatus = "wrong_network"
	NetworkSwitching    NetworkStatus = "switching"
)

// Event identifies which slice of published state changed.
type Event string

const (
	EventWallet    Event = "wallet"
	EventNetwork   Event = "network"
	EventBalances  Event = "balances"
	EventAllowance Event = "allowance"
)

// WalletState is the normalized connection state. Reset wholesale on
// disconnect; never patched field-by-field across accounts.
type WalletState struct {
	Connected     bool
	Address       common.Address
	ChainID       int64
	NativeBalance *big.Int
	Busy          bool
	LastError     string
}

// BalanceSnapshot is an immutable point-in-time balance read. A refresh
// always produces a new snapshot; existing ones are never mutated.
type BalanceSnapshot struct {
	Raw        *big.Int
	Decimals   int
	CapturedAt time.Time
	ChainID    int64
}

// AllowanceState is the last observed ERC20 allowance from owner to the
// escrow contract. It is re-read whenever owner, spender or chain changes.
type AllowanceState struct {
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
	ChainID int64
}

type Options struct {
	RefreshThrottle     time.Duration
	AutoRefreshInterval time.Duration
	SwitchTimeout       time.Duration
	RPCTimeout          time.Duration
}

func DefaultOptions() Options {
	return Options{
		RefreshThrottle:     2 * time.Second,
		AutoRefreshInterval: 5 * time.Minute,
		SwitchTimeout:       30 * time.Second,
		RPCTimeout:          10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.RefreshThrottle <= 0 {
		o.RefreshThrottle = def.RefreshThrottle
	}
	if o.AutoRefreshInterval <= 0 {
		o.AutoRefreshInterval = def.AutoRefreshInterval
	}
	if o.SwitchTimeout <= 0 {
		o.SwitchTimeout = def.SwitchTimeout
	}
	if o.RPCTimeout <= 0 {
		o.RPCTimeout = def.RPCTimeout
	}
	return o
}

// Session is the dependency-injected service object owning the wallet
// singletons for one active session.
type Session struct {
	mu         sync.Mutex
	log        *slog.Logger
	dial       chainrpc.Dialer
	connectors *connector.Registry
	opts       Options

	conn    connector.Connector
	backend chainrpc.Backend
	wallet  WalletState

	switching    bool
	switchCancel context.CancelFunc
	switchEpoch  uint64

	native      *BalanceSnapshot
	token       *BalanceSnapshot
	allowance   *AllowanceState
	lastRefresh time.Time
	refreshing  bool

	autoStop      chan struct{}
	pendingTimers []*time.Timer

	subs []func(Event)
}

func New(connectors *connector.Registry, dial chainrpc.Dialer, log *slog.Logger, opts Options) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		log:        log,
		dial:       dial,
		connectors: connectors,
		opts:       opts.withDefaults(),
	}
}

// Subscribe registers an observer; it is invoked outside the session lock.
func (s *Session) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Session) emit(events ...Event) {
	s.mu.Lock()
	subs := make([]func(Event), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// Connect establishes a wallet session through the named connector. Any
// previous session is fully torn down first so no state leaks across
// accounts.
func (s *Session) Connect(ctx context.Context, connectorID string) error {
	conn, err := s.connectors.Get(connectorID)
	if err != nil {
		return err
	}

	s.Disconnect()

	s.mu.Lock()
	s.wallet.Busy = true
	s.mu.Unlock()
	s.emit(EventWallet)

	account, err := conn.Connect(ctx)
	if err != nil {
		s.mu.Lock()
		s.wallet.Busy = false
		s.wallet.LastError = userMessage(err)
		s.mu.Unlock()
		s.emit(EventWallet)
		return err
	}

	var backend chainrpc.Backend
	if registry.Supported(account.ChainID) {
		backend, err = s.dial(ctx, account.ChainID)
		if err != nil {
			conn.Disconnect()
			s.mu.Lock()
			s.wallet.Busy = false
			s.wallet.LastError = userMessage(err)
			s.mu.Unlock()
			s.emit(EventWallet)
			return err
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.backend = backend
	s.wallet = WalletState{Connected: true, Address: account.Address, ChainID: account.ChainID}
	s.startAutoRefreshLocked()
	s.mu.Unlock()
	s.emit(EventWallet, EventNetwork)

	go func() { _ = s.Refresh(context.Background(), true) }()
	return nil
}

// Disconnect is idempotent: it resets the wallet state, drops every derived
// cache, cancels any in-flight network switch and stops all timers.
func (s *Session) Disconnect() {
	s.mu.Lock()
	wasConnected := s.wallet.Connected
	if s.switchCancel != nil {
		s.switchCancel()
		s.switchCancel = nil
	}
	s.switching = false
	s.switchEpoch++
	s.stopAutoRefreshLocked()
	for _, t := range s.pendingTimers {
		t.Stop()
	}
	s.pendingTimers = nil
	conn := s.conn
	backend := s.backend
	s.conn = nil
	s.backend = nil
	s.wallet = WalletState{}
	s.native = nil
	s.token = nil
	s.allowance = nil
	s.lastRefresh = time.Time{}
	s.refreshing = false
	s.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
	if backend != nil {
		backend.Close()
	}
	if wasConnected {
		s.emit(EventWallet, EventNetwork, EventBalances, EventAllowance)
	}
}

// NetworkStatus derives the state machine value from current wallet state.
func (s *Session) NetworkStatus() NetworkStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.networkStatusLocked()
}

func (s *Session) networkStatusLocked() NetworkStatus {
	switch {
	case !s.wallet.Connected:
		return NetworkDisconnected
	case s.switching:
		return NetworkSwitching
	case registry.Supported(s.wallet.ChainID):
		return NetworkConnected
	default:
		return NetworkWrongNetwork
	}
}

// WalletState returns a copy of the published wallet state.
func (s *Session) WalletState() WalletState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.wallet
	if s.wallet.NativeBalance != nil {
		state.NativeBalance = new(big.Int).Set(s.wallet.NativeBalance)
	}
	return state
}

func (s *Session) Balances() (native, token *BalanceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.native), copySnapshot(s.token)
}

func (s *Session) Allowance() *AllowanceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowance == nil {
		return nil
	}
	out := *s.allowance
	out.Amount = new(big.Int).Set(s.allowance.Amount)
	return &out
}

// Backend exposes the active chain's RPC backend for the trade executor.
func (s *Session) Backend() (chainrpc.Backend, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend, s.backend != nil
}

// Signer returns the connected wallet's signer, if it can sign at all.
func (s *Session) Signer() (connector.Signer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, false
	}
	signer := s.conn.Signer()
	return signer, signer != nil
}

// CurrentContracts resolves the marketplace deployment for the active chain.
func (s *Session) CurrentContracts() (registry.Contracts, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wallet.Connected {
		return registry.Contracts{}, false
	}
	return registry.ContractsFor(s.wallet.ChainID)
}

// ScheduleRefresh arms a one-shot forced refresh, used after purchases and
// approvals where the balance change is not immediately visible. The timer is
// tied to the session and cancelled on disconnect.
func (s *Session) ScheduleRefresh(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wallet.Connected {
		return
	}
	epoch := s.switchEpoch
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		live := s.wallet.Connected && s.switchEpoch == epoch
		s.mu.Unlock()
		if live {
			_ = s.Refresh(context.Background(), true)
		}
	})
	s.pendingTimers = append(s.pendingTimers, timer)
}

func copySnapshot(in *BalanceSnapshot) *BalanceSnapshot {
	if in == nil {
		return nil
	}
	out := *in
	out.Raw = new(big.Int).Set(in.Raw)
	return &out
}

func userMessage(err error) string {
	if typed, ok := cerr.As(err); ok {
		return typed.Message
	}
	return strings.TrimSpace(err.Error())
}

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
