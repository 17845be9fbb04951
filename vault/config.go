package vault

import (
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/sharebridge/vault-go/agreement"
)

var (
	ErrCfgZeroVaultAddress = errors.New("vault address is zero")
	ErrCfgZeroAssetAddress = errors.New("asset address is zero")
	ErrCfgNilPipeline      = errors.New("pipeline is nil")
	ErrCfgNilRelay         = errors.New("asset relay is nil")
	ErrCfgNilValuation     = errors.New("valuation source is nil")
	ErrCfgNilRegistry      = errors.New("component registry is nil")
)

// Config wires the vault to its collaborators. VaultAddress is the
// custody identity the relay recognizes for this vault.
type Config struct {
	VaultAddress ethcommon.Address
	Asset        ethcommon.Address

	Relay     agreement.AssetRelay
	Valuation agreement.ValuationSource
	Registry  agreement.ComponentRegistry
}

func (cfg *Config) Validate() error {
	if cfg.VaultAddress == agreement.ZeroAddress {
		return ErrCfgZeroVaultAddress
	}
	if cfg.Asset == agreement.ZeroAddress {
		return ErrCfgZeroAssetAddress
	}
	if cfg.Relay == nil {
		return ErrCfgNilRelay
	}
	if cfg.Valuation == nil {
		return ErrCfgNilValuation
	}
	if cfg.Registry == nil {
		return ErrCfgNilRegistry
	}
	return nil
}
