package connector

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	cerr "github.com/avamarket/escrow-cli/internal/errors"
	"github.com/avamarket/escrow-cli/internal/registry"
)

const (
	EnvPrivateKey           = "ESCROW_PRIVATE_KEY"
	EnvPrivateKeyFile       = "ESCROW_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "ESCROW_KEYSTORE_PATH"
	EnvKeystorePassword     = "ESCROW_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "ESCROW_KEYSTORE_PASSWORD_FILE"
)

// LocalConnector is the signing wallet variant: a locally held key loaded
// from the environment, a key file, or an encrypted keystore.
type LocalConnector struct {
	cfg    LocalConfig
	signer *LocalSigner
}

type LocalConfig struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
	// DefaultChainID is the chain the wallet reports on connect.
	DefaultChainID int64
}

func LocalConfigFromEnv(defaultChainID int64) LocalConfig {
	return LocalConfig{
		PrivateKeyHex:        strings.TrimSpace(os.Getenv(EnvPrivateKey)),
		PrivateKeyFile:       strings.TrimSpace(os.Getenv(EnvPrivateKeyFile)),
		KeystorePath:         strings.TrimSpace(os.Getenv(EnvKeystorePath)),
		KeystorePassword:     strings.TrimSpace(os.Getenv(EnvKeystorePassword)),
		KeystorePasswordFile: strings.TrimSpace(os.Getenv(EnvKeystorePasswordFile)),
		DefaultChainID:       defaultChainID,
	}
}

func NewLocal(cfg LocalConfig) *LocalConnector {
	if cfg.DefaultChainID == 0 {
		cfg.DefaultChainID = registry.TargetChainID
	}
	return &LocalConnector{cfg: cfg}
}

func (c *LocalConnector) ID() string { return "local" }

func (c *LocalConnector) Connect(ctx context.Context) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, cerr.Wrap(cerr.KindUserRejected, "connection was cancelled", err)
	}
	signer, err := newLocalSigner(c.cfg)
	if err != nil {
		return Account{}, cerr.Wrap(cerr.KindConnectorUnavailable, "the local wallet is not configured", err)
	}
	c.signer = signer
	return Account{Address: signer.Address(), ChainID: c.cfg.DefaultChainID}, nil
}

func (c *LocalConnector) Disconnect() {
	c.signer = nil
}

func (c *LocalConnector) RequestChainSwitch(ctx context.Context, chainID int64) error {
	if _, ok := registry.ChainByID(chainID); !ok {
		return cerr.New(cerr.KindUnsupportedByWallet, "this wallet cannot switch to the requested network")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (c *LocalConnector) Signer() Signer {
	if c.signer == nil {
		return nil
	}
	return c.signer
}

// LocalSigner holds the decrypted key for the session lifetime.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (s *LocalSigner) Address() common.Address { return s.address }

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, s.privateKey)
}

func newLocalSigner(cfg LocalConfig) (*LocalSigner, error) {
	pk, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("invalid ECDSA public key")
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(*pub)}, nil
}

func loadPrivateKey(cfg LocalConfig) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(cfg.PrivateKeyHex) != "" {
		return parseHexKey(cfg.PrivateKeyHex)
	}
	if strings.TrimSpace(cfg.PrivateKeyFile) != "" {
		buf, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		return parseHexKey(string(buf))
	}
	if strings.TrimSpace(cfg.KeystorePath) != "" {
		password := cfg.KeystorePassword
		if strings.TrimSpace(password) == "" && strings.TrimSpace(cfg.KeystorePasswordFile) != "" {
			buf, err := os.ReadFile(cfg.KeystorePasswordFile)
			if err != nil {
				return nil, fmt.Errorf("read keystore password file: %w", err)
			}
			password = strings.TrimSpace(string(buf))
		}
		if strings.TrimSpace(password) == "" {
			return nil, fmt.Errorf("keystore password is required")
		}
		buf, err := os.ReadFile(cfg.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("read keystore file: %w", err)
		}
		key, err := keystore.DecryptKey(buf, password)
		if err != nil {
			return nil, fmt.Errorf("decrypt keystore: %w", err)
		}
		return key.PrivateKey, nil
	}
	return nil, fmt.Errorf("missing signing key: set %s or %s or %s", EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath)
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}
