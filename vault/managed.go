package vault

import (
	"errors"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/sharebridge/vault-go/agreement"
	"github.com/sharebridge/vault-go/hookpipe"
)

var (
	ErrDirectWithdrawDisabled   = errors.New("direct withdraw is disabled, use redeem")
	ErrInsufficientOutputAssets = errors.New("output assets below requested minimum")
	ErrInvalidArrayLengths      = errors.New("batch arrays must have equal lengths")
	ErrNilAuthOracle            = errors.New("auth oracle is nil")
)

// ManagedVault is the operator-driven withdrawal variant. Direct
// withdraw is disabled; only redeem remains, gated to the operator and
// carrying an optional minimum-assets floor.
type ManagedVault struct {
	*ShareVault
	auth agreement.AuthOracle
}

func NewManaged(cfg *Config, pipeline *hookpipe.Pipeline, auth agreement.AuthOracle) (*ManagedVault, error) {
	if auth == nil {
		return nil, ErrNilAuthOracle
	}
	sv, err := New(cfg, pipeline)
	if err != nil {
		return nil, err
	}
	return &ManagedVault{ShareVault: sv, auth: auth}, nil
}

// Withdraw always rejects on the managed variant.
func (m *ManagedVault) Withdraw(actor ethcommon.Address, assets *big.Int, receiver, owner ethcommon.Address) (*big.Int, error) {
	return nil, ErrDirectWithdrawDisabled
}

// Redeem burns shares for the owner and sends the assets to the
// receiver. Operator only. minAssets of zero disables the floor.
func (m *ManagedVault) Redeem(caller ethcommon.Address, shares *big.Int, receiver, owner ethcommon.Address, minAssets *big.Int) (*big.Int, error) {
	if !m.auth.IsAuthorized(caller, agreement.RoleOperator) {
		return nil, ErrUnauthorized
	}

	// floor is checked before any state moves
	if err := m.PreviewRedeemFloor(shares, minAssets); err != nil {
		return nil, err
	}

	return m.ShareVault.redeemNoAllowance(caller, shares, receiver, owner)
}

// PreviewRedeemFloor reports whether a redeem of shares would clear the
// minAssets floor at the current exchange rate.
func (m *ManagedVault) PreviewRedeemFloor(shares, minAssets *big.Int) error {
	if minAssets == nil || minAssets.Sign() == 0 {
		return nil
	}
	assets, err := m.PreviewRedeem(shares)
	if err != nil {
		return err
	}
	if assets.Cmp(minAssets) < 0 {
		return ErrInsufficientOutputAssets
	}
	return nil
}

// BatchRedeem settles all entries or none. Floors, balances and every
// entry's hook checks are evaluated at the pre-settlement exchange rate
// before the first entry moves; the first failure aborts the whole
// batch with no state changed.
func (m *ManagedVault) BatchRedeem(caller ethcommon.Address, shares []*big.Int, to, owner []ethcommon.Address, minAssets []*big.Int) ([]*big.Int, error) {
	if !m.auth.IsAuthorized(caller, agreement.RoleOperator) {
		return nil, ErrUnauthorized
	}
	if len(shares) != len(to) || len(shares) != len(owner) || len(shares) != len(minAssets) {
		return nil, ErrInvalidArrayLengths
	}

	for i := range shares {
		if err := m.PreviewRedeemFloor(shares[i], minAssets[i]); err != nil {
			return nil, err
		}
	}

	return m.ShareVault.batchRedeemShares(caller, shares, to, owner)
}
