package app

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/registry"
	"github.com/avamarket/escrow-cli/internal/session"
	"github.com/avamarket/escrow-cli/internal/trade"
)

type tradeView struct {
	TradeID           string `json:"trade_id"`
	Seller            string `json:"seller"`
	UnitCost          string `json:"unit_cost_base_units"`
	TotalQuantity     string `json:"total_quantity"`
	RemainingQuantity string `json:"remaining_quantity"`
	Active            bool   `json:"active"`
}

// connectedExecutor connects the wallet and builds a trade executor with the
// payment store attached.
func (s *runtimeState) connectedExecutor(ctx context.Context) (*trade.Executor, *session.Session, error) {
	sess := s.newSession()
	if err := sess.Connect(ctx, s.connectorID()); err != nil {
		return nil, nil, err
	}
	st, err := s.openStore()
	if err != nil {
		return nil, nil, err
	}
	exec, err := trade.FromSession(sess, st, s.log, s.executorOptions())
	if err != nil {
		return nil, nil, err
	}
	return exec, sess, nil
}

func (s *runtimeState) newApproveCommand() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the escrow contract to spend the stable token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout+s.settings.ReceiptTimeoutLocal)
			defer cancel()
			exec, sess, err := s.connectedExecutor(ctx)
			if err != nil {
				return err
			}

			var payment *trade.PaymentTransaction
			if strings.EqualFold(strings.TrimSpace(amount), "max") || strings.TrimSpace(amount) == "" {
				payment, err = exec.Approve(ctx, trade.MaxApproval())
			} else {
				required, parseErr := parseBaseUnits(amount)
				if parseErr != nil {
					return parseErr
				}
				payment, err = exec.EnsureAllowance(ctx, required)
			}
			if err != nil {
				return err
			}
			chainID := sess.WalletState().ChainID
			if payment == nil {
				return s.emitSuccess(s.lastCommand, chainID, map[string]any{
					"approved": false,
					"reason":   "existing allowance is sufficient",
				})
			}
			return s.emitSuccess(s.lastCommand, chainID, payment)
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "max", "Required amount in token base units, or 'max'")
	return cmd
}

func (s *runtimeState) newBuyCommand() *cobra.Command {
	var (
		tradeID      string
		quantity     string
		logistics    string
		crossChain   bool
		destSelector uint64
		destContract string
		feeNative    bool
		autoApprove  bool
	)
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy a trade through the escrow contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout := s.settings.Timeout + s.settings.ReceiptTimeoutLocal
			if crossChain {
				timeout = s.settings.Timeout + s.settings.ReceiptTimeoutCross
			}
			if autoApprove {
				timeout += s.settings.ReceiptTimeoutLocal
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			exec, sess, err := s.connectedExecutor(ctx)
			if err != nil {
				return err
			}

			id, err := parseBaseUnits(tradeID)
			if err != nil {
				return cerr.New(cerr.KindInvalidTradeID, "a numeric trade id is required")
			}
			qty, err := parseBaseUnits(quantity)
			if err != nil {
				return cerr.Wrap(cerr.KindUsage, "parse --quantity", err)
			}
			if !common.IsHexAddress(logistics) {
				return cerr.New(cerr.KindInvalidLogisticsProvider, "a logistics provider address is required")
			}

			params := trade.BuyParams{
				TradeID:           id,
				Quantity:          qty,
				LogisticsProvider: common.HexToAddress(logistics),
			}
			if crossChain {
				if destSelector == 0 {
					if selector, ok := registry.ChainSelector(registry.TargetChainID); ok {
						destSelector = selector
					}
				}
				if !common.IsHexAddress(destContract) {
					return cerr.New(cerr.KindUsage, "a destination contract address is required for cross-chain purchases")
				}
				params.CrossChain = &trade.CrossChainParams{
					DestinationChainSelector: destSelector,
					DestinationContract:      common.HexToAddress(destContract),
					PayFeesInNative:          feeNative,
				}
			}

			if autoApprove {
				record, err := exec.GetTrade(ctx, id)
				if err != nil {
					return err
				}
				required := new(big.Int).Mul(record.UnitCost, qty)
				if _, err := exec.EnsureAllowance(ctx, required); err != nil {
					return err
				}
			}

			payment, err := exec.BuyTrade(ctx, params)
			if err != nil && cerr.KindOf(err) != cerr.KindReceiptTimeout {
				return err
			}
			chainID := sess.WalletState().ChainID
			if err != nil {
				// Receipt timeout: the transaction may still confirm. Report
				// the pending record instead of failing outright.
				s.log.Warn("purchase still pending at timeout", "tx_hash", payment.Hash)
			}
			return s.emitSuccess(s.lastCommand, chainID, payment)
		},
	}
	cmd.Flags().StringVar(&tradeID, "trade", "", "Trade id")
	cmd.Flags().StringVar(&quantity, "quantity", "1", "Units to buy")
	cmd.Flags().StringVar(&logistics, "logistics", "", "Logistics provider address")
	cmd.Flags().BoolVar(&crossChain, "cross-chain", false, "Use the cross-chain purchase path")
	cmd.Flags().Uint64Var(&destSelector, "dest-selector", 0, "Destination chain selector (defaults to the target chain)")
	cmd.Flags().StringVar(&destContract, "dest-contract", "", "Destination escrow contract address")
	cmd.Flags().BoolVar(&feeNative, "fee-native", true, "Pay the bridging fee in the native token")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Submit a token approval first if the allowance is short")
	_ = cmd.MarkFlagRequired("trade")
	_ = cmd.MarkFlagRequired("logistics")
	return cmd
}

func (s *runtimeState) newTradeCommand() *cobra.Command {
	root := &cobra.Command{Use: "trade", Short: "Trade listing commands"}
	get := &cobra.Command{
		Use:   "get <trade-id>",
		Short: "Read a trade listing from the escrow contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBaseUnits(args[0])
			if err != nil {
				return cerr.New(cerr.KindInvalidTradeID, "a numeric trade id is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()

			sess := s.newSession()
			if err := sess.Connect(ctx, s.connectorID()); err != nil {
				return err
			}
			if sess.NetworkStatus() != session.NetworkConnected {
				return cerr.New(cerr.KindWrongNetwork, "switch to a supported network first")
			}
			contracts, ok := sess.CurrentContracts()
			if !ok {
				return cerr.New(cerr.KindContractsUnavailable, "the marketplace contracts are not deployed on this network")
			}
			backend, ok := sess.Backend()
			if !ok {
				return cerr.New(cerr.KindUnavailable, "the network is unreachable right now, please try again")
			}
			state := sess.WalletState()
			// Reads need no signer; build the executor directly so watch-only
			// connectors can inspect listings too.
			exec := trade.New(trade.Deps{
				Backend: backend,
				ChainID: state.ChainID,
				Escrow:  common.HexToAddress(contracts.Escrow),
				Token:   common.HexToAddress(contracts.StableToken),
				Log:     s.log,
				Opts:    s.executorOptions(),
			})
			record, err := exec.GetTrade(ctx, id)
			if err != nil {
				return err
			}
			return s.emitSuccess(s.lastCommand, state.ChainID, tradeView{
				TradeID:           id.String(),
				Seller:            record.Seller.Hex(),
				UnitCost:          record.UnitCost.String(),
				TotalQuantity:     record.TotalQuantity.String(),
				RemainingQuantity: record.RemainingQuantity.String(),
				Active:            record.Active,
			})
		},
	}
	root.AddCommand(get)
	return root
}

func (s *runtimeState) newTxCommand() *cobra.Command {
	root := &cobra.Command{Use: "tx", Short: "Payment transaction history"}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded payment transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore()
			if err != nil {
				return err
			}
			records, err := st.List(status, limit)
			if err != nil {
				return cerr.Wrap(cerr.KindInternal, "list payments", err)
			}
			payments := make([]trade.PaymentTransaction, 0, len(records))
			for _, record := range records {
				var payment trade.PaymentTransaction
				if err := json.Unmarshal(record.Payload, &payment); err != nil {
					s.log.Warn("skip undecodable payment record", "payment_id", record.PaymentID, "err", err)
					continue
				}
				payments = append(payments, payment)
			}
			return s.emitSuccess(s.lastCommand, 0, payments)
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (pending, confirmed, failed)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum rows returned")

	statusCmd := &cobra.Command{
		Use:   "status <payment-id-or-tx-hash>",
		Short: "Show one recorded payment transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore()
			if err != nil {
				return err
			}
			ref := strings.TrimSpace(args[0])
			record, err := st.Get(ref)
			if err != nil && strings.HasPrefix(ref, "0x") {
				record, err = st.FindByTxHash(ref)
			}
			if err != nil {
				return cerr.Wrap(cerr.KindUsage, "payment not found", err)
			}
			var payment trade.PaymentTransaction
			if err := json.Unmarshal(record.Payload, &payment); err != nil {
				return cerr.Wrap(cerr.KindInternal, "decode payment record", err)
			}
			return s.emitSuccess(s.lastCommand, payment.ChainID, payment)
		},
	}

	root.AddCommand(list)
	root.AddCommand(statusCmd)
	return root
}

func parseBaseUnits(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	n, ok := new(big.Int).SetString(clean, 10)
	if !ok || n.Sign() <= 0 {
		return nil, cerr.New(cerr.KindUsage, "expected a positive integer, got "+v)
	}
	return n, nil
}
