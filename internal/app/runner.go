// Package app wires the CLI surface: command registration, configuration
// loading, session construction and envelope rendering.
package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/avamarket/escrow-cli/internal/chainrpc"
	"github.com/avamarket/escrow-cli/internal/config"
	"github.com/avamarket/escrow-cli/internal/connector"
	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/logging"
	"github.com/avamarket/escrow-cli/internal/out"
	"github.com/avamarket/escrow-cli/internal/registry"
	"github.com/avamarket/escrow-cli/internal/session"
	"github.com/avamarket/escrow-cli/internal/store"
	"github.com/avamarket/escrow-cli/internal/trade"
	"github.com/avamarket/escrow-cli/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	log         *slog.Logger
	session     *session.Session
	connectors  *connector.Registry
	store       *store.Store
	lastCommand string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: slog.Default()}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.teardown()
	if err == nil {
		return 0
	}
	state.renderError(err)
	return cerr.ExitCode(err)
}

func (s *runtimeState) teardown() {
	if s.session != nil {
		s.session.Disconnect()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Wallet and escrow purchase CLI for the marketplace contracts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return cerr.Wrap(cerr.KindUsage, "load configuration", err)
			}
			s.settings = settings
			s.log = logging.New(settings.Verbose)
			s.lastCommand = trimRootPath(cmd.CommandPath())
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return cerr.Wrap(cerr.KindUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "RPC request timeout")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "Override the chain RPC endpoint")
	cmd.PersistentFlags().StringVar(&s.flags.Chain, "chain", "", "Chain id the wallet starts on")
	cmd.PersistentFlags().StringVar(&s.flags.Connector, "connector", "", "Wallet connector (local, readonly)")
	cmd.PersistentFlags().BoolVar(&s.flags.Verbose, "verbose", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&s.flags.MaxFeeGwei, "max-fee", "", "Max fee per gas in gwei")
	cmd.PersistentFlags().StringVar(&s.flags.MaxPriorityFeeGwei, "max-priority-fee", "", "Max priority fee per gas in gwei")

	cmd.AddCommand(s.newConnectCommand())
	cmd.AddCommand(s.newDisconnectCommand())
	cmd.AddCommand(s.newStatusCommand())
	cmd.AddCommand(s.newSwitchNetworkCommand())
	cmd.AddCommand(s.newBalancesCommand())
	cmd.AddCommand(s.newApproveCommand())
	cmd.AddCommand(s.newBuyCommand())
	cmd.AddCommand(s.newTradeCommand())
	cmd.AddCommand(s.newTxCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				cmd.Println(version.Long())
				return
			}
			cmd.Println(version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

// newSession builds the connector registry and wallet session for this
// invocation. The session owns all wallet singletons; commands only call its
// documented operations.
func (s *runtimeState) newSession() *session.Session {
	if s.session != nil {
		return s.session
	}
	defaultChain := s.settings.ChainID
	if defaultChain == 0 {
		defaultChain = registry.TargetChainID
	}
	s.connectors = connector.NewRegistry(
		connector.NewLocal(connector.LocalConfigFromEnv(defaultChain)),
		connector.NewReadonly(os.Getenv("ESCROW_WATCH_ADDRESS"), defaultChain),
	)
	dial := chainrpc.NewDialer(s.settings.RPCURL, s.log)
	s.session = session.New(s.connectors, dial, s.log, session.Options{
		RefreshThrottle:     s.settings.RefreshThrottle,
		AutoRefreshInterval: s.settings.AutoRefreshInterval,
		SwitchTimeout:       s.settings.SwitchTimeout,
		RPCTimeout:          s.settings.Timeout,
	})
	return s.session
}

func (s *runtimeState) connectorID() string {
	if strings.TrimSpace(s.settings.Connector) != "" {
		return s.settings.Connector
	}
	return "local"
}

func (s *runtimeState) openStore() (*store.Store, error) {
	if s.store != nil {
		return s.store, nil
	}
	st, err := store.Open(s.settings.StorePath, s.settings.StoreLockPath)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "open payment store", err)
	}
	s.store = st
	return st, nil
}

func (s *runtimeState) executorOptions() trade.Options {
	opts := trade.DefaultOptions()
	opts.ReceiptTimeoutLocal = s.settings.ReceiptTimeoutLocal
	opts.ReceiptTimeoutCross = s.settings.ReceiptTimeoutCross
	opts.MaxFeeGwei = s.settings.MaxFeeGwei
	opts.MaxPriorityFeeGwei = s.settings.MaxPriorityFeeGwei
	return opts
}

func (s *runtimeState) emitSuccess(command string, chainID int64, data any) error {
	env := out.NewEnvelope(command, chainID)
	env.Success = true
	env.Data = data
	env.Meta.Timestamp = s.runner.now().UTC()
	return out.Render(s.runner.stdout, env, s.settings.OutputMode)
}

func (s *runtimeState) renderError(err error) {
	command := s.lastCommand
	if command == "" {
		command = version.CLIName
	}
	mode := s.settings.OutputMode
	if mode == "" {
		mode = "json"
	}
	env := out.NewEnvelope(command, 0)
	env.Meta.Timestamp = s.runner.now().UTC()
	env.FromError(err)
	_ = out.Render(s.runner.stderr, env, mode)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := cerr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return cerr.Wrap(cerr.KindUsage, "invalid command input", err)
	}
	return cerr.Wrap(cerr.KindInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
