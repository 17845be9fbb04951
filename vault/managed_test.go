package vault

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharebridge/vault-go/agreement"
	"github.com/sharebridge/vault-go/common"
	"github.com/sharebridge/vault-go/hookpipe"
)

type managedEnv struct {
	relay    *agreement.SimAssetRelay
	auth     *agreement.SimAuthOracle
	pipeline *hookpipe.Pipeline
	asset    ethcommon.Address
	operator ethcommon.Address
	vault    *ManagedVault
}

func newManagedEnv(t *testing.T) *managedEnv {
	relay := agreement.NewSimAssetRelay()
	registry := agreement.NewSimRegistry()
	auth := agreement.NewSimAuthOracle()
	asset := common.RandEthAddress()
	vaultAddr := common.RandEthAddress()
	operator := common.RandEthAddress()
	auth.Grant(operator, agreement.RoleOperator)

	cfg := &Config{
		VaultAddress: vaultAddr,
		Asset:        asset,
		Relay:        relay,
		Valuation:    &agreement.RelayValuation{Relay: relay, Asset: asset, Custody: vaultAddr},
		Registry:     registry,
	}
	pipeline := hookpipe.NewPipeline(nil)
	mv, err := NewManaged(cfg, pipeline, auth)
	require.NoError(t, err)

	return &managedEnv{relay: relay, auth: auth, pipeline: pipeline, asset: asset, operator: operator, vault: mv}
}

func (e *managedEnv) depositFor(t *testing.T, user ethcommon.Address, amount int64) {
	e.relay.Fund(e.asset, user, big.NewInt(amount))
	_, err := e.vault.Deposit(user, big.NewInt(amount), user)
	require.NoError(t, err)
}

func TestManagedDirectWithdrawDisabled(t *testing.T) {
	e := newManagedEnv(t)
	user := common.RandEthAddress()
	e.depositFor(t, user, 100)

	_, err := e.vault.Withdraw(user, big.NewInt(10), user, user)
	assert.ErrorIs(t, err, ErrDirectWithdrawDisabled)
}

func TestManagedRedeemOperatorOnly(t *testing.T) {
	e := newManagedEnv(t)
	user := common.RandEthAddress()
	e.depositFor(t, user, 100)

	_, err := e.vault.Redeem(user, big.NewInt(10), user, user, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assets, err := e.vault.Redeem(e.operator, big.NewInt(10), user, user, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), assets)
}

func TestManagedRedeemMinAssetsFloor(t *testing.T) {
	e := newManagedEnv(t)
	user := common.RandEthAddress()
	e.depositFor(t, user, 100)

	// 10 shares are worth 10 assets; a floor of 11 cannot be met
	_, err := e.vault.Redeem(e.operator, big.NewInt(10), user, user, big.NewInt(11))
	assert.ErrorIs(t, err, ErrInsufficientOutputAssets)
	assert.Equal(t, big.NewInt(100), e.vault.BalanceOf(user))

	_, err = e.vault.Redeem(e.operator, big.NewInt(10), user, user, big.NewInt(10))
	assert.NoError(t, err)
}

func TestBatchRedeemArrayLengths(t *testing.T) {
	e := newManagedEnv(t)
	user := common.RandEthAddress()
	e.depositFor(t, user, 100)

	_, err := e.vault.BatchRedeem(
		e.operator,
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
		[]ethcommon.Address{user},
		[]ethcommon.Address{user, user},
		[]*big.Int{nil, nil},
	)
	assert.ErrorIs(t, err, ErrInvalidArrayLengths)
}

func TestBatchRedeemRunsHooksPerEntry(t *testing.T) {
	e := newManagedEnv(t)
	a := common.RandEthAddress()
	b := common.RandEthAddress()
	e.depositFor(t, a, 100)
	e.depositFor(t, b, 100)

	calls := 0
	counter := &funcHook{
		addr: common.RandEthAddress(),
		onWithdraw: func(ctx *hookpipe.HookContext) error {
			calls++
			return nil
		},
	}
	require.NoError(t, e.pipeline.AddHook(agreement.TagWithdraw, counter))

	out, err := e.vault.BatchRedeem(
		e.operator,
		[]*big.Int{big.NewInt(10), big.NewInt(20)},
		[]ethcommon.Address{a, b},
		[]ethcommon.Address{a, b},
		[]*big.Int{nil, nil},
	)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, big.NewInt(10), out[0])
	assert.Equal(t, big.NewInt(20), out[1])
}

func TestBatchRedeemFloorAbortsWholeBatch(t *testing.T) {
	e := newManagedEnv(t)
	user := common.RandEthAddress()
	e.depositFor(t, user, 100)

	_, err := e.vault.BatchRedeem(
		e.operator,
		[]*big.Int{big.NewInt(10), big.NewInt(10)},
		[]ethcommon.Address{user, user},
		[]ethcommon.Address{user, user},
		[]*big.Int{nil, big.NewInt(1000)},
	)
	assert.ErrorIs(t, err, ErrInsufficientOutputAssets)

	// nothing settled, including the first (valid) entry
	assert.Equal(t, big.NewInt(100), e.vault.BalanceOf(user))
	assert.Equal(t, int64(0), e.relay.BalanceOf(e.asset, user).Int64())
}

func TestBatchRedeemOverdrawnOwnerAbortsWholeBatch(t *testing.T) {
	e := newManagedEnv(t)
	user := common.RandEthAddress()
	e.depositFor(t, user, 100)

	// each entry alone fits the balance, their sum does not
	_, err := e.vault.BatchRedeem(
		e.operator,
		[]*big.Int{big.NewInt(60), big.NewInt(60)},
		[]ethcommon.Address{user, user},
		[]ethcommon.Address{user, user},
		[]*big.Int{nil, nil},
	)
	assert.ErrorIs(t, err, ErrInsufficientShares)

	// nothing settled, including the first entry
	assert.Equal(t, big.NewInt(100), e.vault.BalanceOf(user))
	assert.Equal(t, big.NewInt(100), e.vault.TotalShares())
	assert.Equal(t, int64(0), e.relay.BalanceOf(e.asset, user).Int64())
}

func TestBatchRedeemNonOperator(t *testing.T) {
	e := newManagedEnv(t)
	user := common.RandEthAddress()
	e.depositFor(t, user, 100)

	_, err := e.vault.BatchRedeem(user, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
