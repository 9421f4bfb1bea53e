package app

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/registry"
	"github.com/avamarket/escrow-cli/internal/session"
)

type walletStatusView struct {
	Connected     bool     `json:"connected"`
	Address       string   `json:"address,omitempty"`
	ChainID       int64    `json:"chain_id,omitempty"`
	ChainName     string   `json:"chain_name,omitempty"`
	NetworkStatus string   `json:"network_status"`
	NativeBalance string   `json:"native_balance,omitempty"`
	LastError     string   `json:"last_error,omitempty"`
	Connectors    []string `json:"connectors,omitempty"`
}

type balancesView struct {
	ChainID     int64         `json:"chain_id"`
	Address     string        `json:"address"`
	Native      *snapshotView `json:"native,omitempty"`
	Token       *snapshotView `json:"token,omitempty"`
	TokenSymbol string        `json:"token_symbol"`
	Allowance   string        `json:"allowance,omitempty"`
}

type snapshotView struct {
	RawBaseUnits string    `json:"raw_base_units"`
	Decimals     int       `json:"decimals"`
	CapturedAt   time.Time `json:"captured_at"`
	ChainID      int64     `json:"chain_id"`
}

func (s *runtimeState) statusView(sess *session.Session) walletStatusView {
	state := sess.WalletState()
	view := walletStatusView{
		Connected:     state.Connected,
		NetworkStatus: string(sess.NetworkStatus()),
		LastError:     state.LastError,
	}
	if state.Connected {
		view.Address = state.Address.Hex()
		view.ChainID = state.ChainID
		if chain, ok := registry.ChainByID(state.ChainID); ok {
			view.ChainName = chain.Name
		}
		if state.NativeBalance != nil {
			view.NativeBalance = state.NativeBalance.String()
		}
	}
	return view
}

func (s *runtimeState) newConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect the configured wallet and report its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := s.newSession()
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			if err := sess.Connect(ctx, s.connectorID()); err != nil {
				return err
			}
			// The connect-triggered refresh runs in the background; force a
			// synchronous one so the reported state includes balances.
			if sess.NetworkStatus() == session.NetworkConnected {
				_ = sess.Refresh(ctx, true)
			}
			return s.emitSuccess(s.lastCommand, sess.WalletState().ChainID, s.statusView(sess))
		},
	}
}

func (s *runtimeState) newDisconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := s.newSession()
			sess.Disconnect()
			return s.emitSuccess(s.lastCommand, 0, s.statusView(sess))
		},
	}
}

func (s *runtimeState) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show wallet connection and network status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := s.newSession()
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			if err := sess.Connect(ctx, s.connectorID()); err != nil {
				view := s.statusView(sess)
				view.Connectors = s.connectorIDs()
				return s.emitSuccess(s.lastCommand, 0, view)
			}
			view := s.statusView(sess)
			view.Connectors = s.connectorIDs()
			return s.emitSuccess(s.lastCommand, sess.WalletState().ChainID, view)
		},
	}
}

func (s *runtimeState) connectorIDs() []string {
	s.newSession()
	return s.connectors.IDs()
}

func (s *runtimeState) newSwitchNetworkCommand() *cobra.Command {
	var retry bool
	cmd := &cobra.Command{
		Use:   "switch-network <chain-id>",
		Short: "Switch the wallet to a supported network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cerr.Wrap(cerr.KindUsage, "parse chain id", err)
			}
			sess := s.newSession()
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout+s.settings.SwitchTimeout)
			defer cancel()
			if err := sess.Connect(ctx, s.connectorID()); err != nil {
				return err
			}
			err = sess.SwitchToSupported(ctx, target)
			if retry {
				for attempt := 0; err != nil && cerr.Retryable(err); attempt++ {
					delay, ok := session.SwitchRetryDelay(attempt)
					if !ok {
						break
					}
					s.log.Warn("network switch failed, retrying",
						"chain_id", target, "attempt", attempt, "delay", delay, "err", err)
					select {
					case <-ctx.Done():
						return err
					case <-time.After(delay):
					}
					err = sess.SwitchToSupported(ctx, target)
				}
			}
			if err != nil {
				return err
			}
			return s.emitSuccess(s.lastCommand, target, s.statusView(sess))
		},
	}
	cmd.Flags().BoolVar(&retry, "retry", false, "Retry transient switch failures with backoff")
	return cmd
}

func (s *runtimeState) newBalancesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Show native and stable token balances and the escrow allowance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := s.newSession()
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			if err := sess.Connect(ctx, s.connectorID()); err != nil {
				return err
			}
			if sess.NetworkStatus() != session.NetworkConnected {
				return cerr.New(cerr.KindWrongNetwork, "switch to a supported network first")
			}
			if err := sess.Refresh(ctx, true); err != nil {
				return err
			}
			state := sess.WalletState()
			native, token := sess.Balances()
			view := balancesView{
				ChainID:     state.ChainID,
				Address:     state.Address.Hex(),
				Native:      snapshotToView(native),
				Token:       snapshotToView(token),
				TokenSymbol: registry.StableTokenSymbol,
			}
			if allowance := sess.Allowance(); allowance != nil {
				view.Allowance = allowance.Amount.String()
			}
			return s.emitSuccess(s.lastCommand, state.ChainID, view)
		},
	}
}

func snapshotToView(in *session.BalanceSnapshot) *snapshotView {
	if in == nil {
		return nil
	}
	return &snapshotView{
		RawBaseUnits: in.Raw.String(),
		Decimals:     in.Decimals,
		CapturedAt:   in.CapturedAt,
		ChainID:      in.ChainID,
	}
}
