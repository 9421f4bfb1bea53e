// Package config resolves CLI settings from defaults, an optional config
// file, environment variables, and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath         string
	JSON               bool
	Plain              bool
	Timeout            string
	RPCURL             string
	Chain              string
	Connector          string
	Verbose            bool
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

type Settings struct {
	OutputMode          string
	Timeout             time.Duration
	RPCURL              string
	ChainID             int64
	Connector           string
	Verbose             bool
	SwitchTimeout       time.Duration
	RefreshThrottle     time.Duration
	AutoRefreshInterval time.Duration
	ReceiptTimeoutLocal time.Duration
	ReceiptTimeoutCross time.Duration
	MaxFeeGwei          string
	MaxPriorityFeeGwei  string
	StorePath           string
	StoreLockPath       string
}

type fileConfig struct {
	Output    string `yaml:"output"`
	Timeout   string `yaml:"timeout"`
	RPCURL    string `yaml:"rpc_url"`
	ChainID   *int64 `yaml:"chain_id"`
	Connector string `yaml:"connector"`
	Network   struct {
		SwitchTimeout       string `yaml:"switch_timeout"`
		RefreshThrottle     string `yaml:"refresh_throttle"`
		AutoRefreshInterval string `yaml:"auto_refresh_interval"`
	} `yaml:"network"`
	Gas struct {
		MaxFeeGwei         string `yaml:"max_fee_gwei"`
		MaxPriorityFeeGwei string `yaml:"max_priority_fee_gwei"`
	} `yaml:"gas"`
	Receipts struct {
		TimeoutLocal      string `yaml:"timeout_local"`
		TimeoutCrossChain string `yaml:"timeout_cross_chain"`
	} `yaml:"receipts"`
	Payments struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"payments"`
}

func Load(flags GlobalFlags) (Settings, error) {
	// A local .env is a developer convenience; absence is not an error.
	_ = godotenv.Load()

	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	storePath, lockPath, err := defaultStorePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:          "json",
		Timeout:             10 * time.Second,
		SwitchTimeout:       30 * time.Second,
		RefreshThrottle:     2 * time.Second,
		AutoRefreshInterval: 5 * time.Minute,
		ReceiptTimeoutLocal: 60 * time.Second,
		ReceiptTimeoutCross: 120 * time.Second,
		StorePath:           storePath,
		StoreLockPath:       lockPath,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "escrow", "config.yaml"), nil
}

func defaultStorePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "escrow")
	return filepath.Join(dir, "payments.db"), filepath.Join(dir, "payments.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.ChainID != nil {
		settings.ChainID = *cfg.ChainID
	}
	if cfg.Connector != "" {
		settings.Connector = cfg.Connector
	}
	if cfg.Network.SwitchTimeout != "" {
		d, err := time.ParseDuration(cfg.Network.SwitchTimeout)
		if err != nil {
			return fmt.Errorf("config network.switch_timeout: %w", err)
		}
		settings.SwitchTimeout = d
	}
	if cfg.Network.RefreshThrottle != "" {
		d, err := time.ParseDuration(cfg.Network.RefreshThrottle)
		if err != nil {
			return fmt.Errorf("config network.refresh_throttle: %w", err)
		}
		settings.RefreshThrottle = d
	}
	if cfg.Network.AutoRefreshInterval != "" {
		d, err := time.ParseDuration(cfg.Network.AutoRefreshInterval)
		if err != nil {
			return fmt.Errorf("config network.auto_refresh_interval: %w", err)
		}
		settings.AutoRefreshInterval = d
	}
	if cfg.Gas.MaxFeeGwei != "" {
		settings.MaxFeeGwei = cfg.Gas.MaxFeeGwei
	}
	if cfg.Gas.MaxPriorityFeeGwei != "" {
		settings.MaxPriorityFeeGwei = cfg.Gas.MaxPriorityFeeGwei
	}
	if cfg.Receipts.TimeoutLocal != "" {
		d, err := time.ParseDuration(cfg.Receipts.TimeoutLocal)
		if err != nil {
			return fmt.Errorf("config receipts.timeout_local: %w", err)
		}
		settings.ReceiptTimeoutLocal = d
	}
	if cfg.Receipts.TimeoutCrossChain != "" {
		d, err := time.ParseDuration(cfg.Receipts.TimeoutCrossChain)
		if err != nil {
			return fmt.Errorf("config receipts.timeout_cross_chain: %w", err)
		}
		settings.ReceiptTimeoutCross = d
	}
	if cfg.Payments.Path != "" {
		settings.StorePath = cfg.Payments.Path
	}
	if cfg.Payments.LockPath != "" {
		settings.StoreLockPath = cfg.Payments.LockPath
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("ESCROW_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("ESCROW_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("ESCROW_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("ESCROW_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.ChainID = n
		}
	}
	if v := os.Getenv("ESCROW_CONNECTOR"); v != "" {
		settings.Connector = v
	}
	if v := os.Getenv("ESCROW_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Verbose = b
		}
	}
	if v := os.Getenv("ESCROW_SWITCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.SwitchTimeout = d
		}
	}
	if v := os.Getenv("ESCROW_MAX_FEE_GWEI"); v != "" {
		settings.MaxFeeGwei = v
	}
	if v := os.Getenv("ESCROW_MAX_PRIORITY_FEE_GWEI"); v != "" {
		settings.MaxPriorityFeeGwei = v
	}
	if v := os.Getenv("ESCROW_PAYMENTS_PATH"); v != "" {
		settings.StorePath = v
	}
	if v := os.Getenv("ESCROW_PAYMENTS_LOCK_PATH"); v != "" {
		settings.StoreLockPath = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = flags.RPCURL
	}
	if strings.TrimSpace(flags.Chain) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(flags.Chain), 10, 64)
		if err != nil {
			return fmt.Errorf("parse --chain: %w", err)
		}
		settings.ChainID = id
	}
	if strings.TrimSpace(flags.Connector) != "" {
		settings.Connector = flags.Connector
	}
	if flags.Verbose {
		settings.Verbose = true
	}
	if flags.MaxFeeGwei != "" {
		settings.MaxFeeGwei = flags.MaxFeeGwei
	}
	if flags.MaxPriorityFeeGwei != "" {
		settings.MaxPriorityFeeGwei = flags.MaxPriorityFeeGwei
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
