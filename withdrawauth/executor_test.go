package withdrawauth

import (
	"crypto/ecdsa"
	"database/sql"
	"fmt"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharebridge/vault-go/agreement"
	"github.com/sharebridge/vault-go/common"
	"github.com/sharebridge/vault-go/hookpipe"
	"github.com/sharebridge/vault-go/vault"
)

type executorEnv struct {
	relay    *agreement.SimAssetRelay
	asset    ethcommon.Address
	operator ethcommon.Address
	vault    *vault.ManagedVault
	executor *Executor
	sink     *agreement.CollectSink
	now      int64

	ownerKey *ecdsa.PrivateKey
	owner    ethcommon.Address
}

func newExecutorEnv(t *testing.T) *executorEnv {
	relay := agreement.NewSimAssetRelay()
	auth := agreement.NewSimAuthOracle()
	sink := &agreement.CollectSink{}

	asset := common.RandEthAddress()
	vaultAddr := common.RandEthAddress()
	operator := common.RandEthAddress()
	auth.Grant(operator, agreement.RoleOperator)

	mv, err := vault.NewManaged(&vault.Config{
		VaultAddress: vaultAddr,
		Asset:        asset,
		Relay:        relay,
		Valuation:    &agreement.RelayValuation{Relay: relay, Asset: asset, Custody: vaultAddr},
		Registry:     agreement.NewSimRegistry(),
	}, hookpipe.NewPipeline(nil), auth)
	require.NoError(t, err)

	// named shared-cache DSN so all pooled connections see one database
	sqlDB, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	ndb, err := NewNonceDB(sqlDB)
	require.NoError(t, err)

	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)

	// owner holds 100 shares against 100 assets of custody
	relay.Fund(asset, owner, big.NewInt(100))
	_, err = mv.Deposit(owner, big.NewInt(100), owner)
	require.NoError(t, err)

	domain := &Domain{
		Name:     "ShareVault",
		Version:  "1",
		ChainID:  big.NewInt(31337),
		Contract: vaultAddr,
	}
	x := NewExecutor(domain, ndb, mv, auth, sink)

	env := &executorEnv{
		relay: relay, asset: asset, operator: operator,
		vault: mv, executor: x, sink: sink, now: 1_000_000,
		ownerKey: ownerKey, owner: owner,
	}
	x.nowFn = func() int64 { return env.now }
	return env
}

func (e *executorEnv) signedRequest(t *testing.T, shares, minAssets int64, nonce uint64) *SignedRequest {
	req := &WithdrawalRequest{
		Owner:          e.owner,
		To:             common.RandEthAddress(),
		Shares:         big.NewInt(shares),
		MinAssets:      big.NewInt(minAssets),
		Nonce:          nonce,
		ExpirationTime: e.now + 600,
	}
	sig, err := crypto.Sign(e.executor.Domain().Digest(req).Bytes(), e.ownerKey)
	require.NoError(t, err)
	return &SignedRequest{Request: req, Signature: sig}
}

func TestExecuteSignedWithdrawal(t *testing.T) {
	e := newExecutorEnv(t)
	sr := e.signedRequest(t, 40, 40, 1)

	assets, err := e.executor.Execute(e.operator, sr.Request, sr.Signature)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(40), assets)
	assert.Equal(t, big.NewInt(40), e.relay.BalanceOf(e.asset, sr.Request.To))
	assert.Equal(t, big.NewInt(60), e.vault.BalanceOf(e.owner))

	used, err := e.executor.IsNonceUsed(e.owner, 1)
	require.NoError(t, err)
	assert.True(t, used)

	events := e.sink.Named("WithdrawalExecuted")
	require.Len(t, events, 1)
	ev := events[0].(*agreement.WithdrawalExecutedEvent)
	assert.Equal(t, e.owner, ev.Owner)
	assert.Equal(t, uint64(1), ev.Nonce)

	// replaying the same signed request hits the consumed nonce
	_, err = e.executor.Execute(e.operator, sr.Request, sr.Signature)
	assert.ErrorIs(t, err, ErrWithdrawNonceReuse)
}

func TestSignatureWith27Convention(t *testing.T) {
	e := newExecutorEnv(t)
	sr := e.signedRequest(t, 10, 10, 1)
	sr.Signature[64] += 27

	_, err := e.executor.Execute(e.operator, sr.Request, sr.Signature)
	require.NoError(t, err)
}

func TestExpiredRequest(t *testing.T) {
	e := newExecutorEnv(t)
	sr := e.signedRequest(t, 10, 10, 1)
	e.now = sr.Request.ExpirationTime + 1

	_, err := e.executor.Execute(e.operator, sr.Request, sr.Signature)
	assert.ErrorIs(t, err, ErrWithdrawalRequestExpired)

	used, err := e.executor.IsNonceUsed(e.owner, 1)
	require.NoError(t, err)
	assert.False(t, used)
}

func TestInvalidSignature(t *testing.T) {
	e := newExecutorEnv(t)
	sr := e.signedRequest(t, 10, 10, 1)

	// signed by someone other than the owner
	strangerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	forged, err := crypto.Sign(e.executor.Domain().Digest(sr.Request).Bytes(), strangerKey)
	require.NoError(t, err)
	_, err = e.executor.Execute(e.operator, sr.Request, forged)
	assert.ErrorIs(t, err, ErrWithdrawInvalidSignature)

	// request mutated after signing
	sr.Request.Shares = big.NewInt(99)
	_, err = e.executor.Execute(e.operator, sr.Request, sr.Signature)
	assert.ErrorIs(t, err, ErrWithdrawInvalidSignature)

	// malformed signature length
	_, err = e.executor.Execute(e.operator, sr.Request, []byte{0x01})
	assert.ErrorIs(t, err, ErrWithdrawInvalidSignature)
}

func TestOperatorGateAndEmptyBatch(t *testing.T) {
	e := newExecutorEnv(t)
	sr := e.signedRequest(t, 10, 10, 1)

	_, err := e.executor.Execute(common.RandEthAddress(), sr.Request, sr.Signature)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = e.executor.ExecuteBatch(e.operator, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestBatchAbortsOnBadEntry(t *testing.T) {
	e := newExecutorEnv(t)
	good := e.signedRequest(t, 10, 10, 1)
	expired := e.signedRequest(t, 10, 10, 2)
	expired.Request.ExpirationTime = e.now - 1
	sig, err := crypto.Sign(e.executor.Domain().Digest(expired.Request).Bytes(), e.ownerKey)
	require.NoError(t, err)
	expired.Signature = sig

	_, err = e.executor.ExecuteBatch(e.operator, []*SignedRequest{good, expired})
	assert.ErrorIs(t, err, ErrWithdrawalRequestExpired)

	// nothing settled, no nonce consumed
	assert.Equal(t, big.NewInt(100), e.vault.BalanceOf(e.owner))
	used, err := e.executor.IsNonceUsed(e.owner, 1)
	require.NoError(t, err)
	assert.False(t, used)
}

func TestBatchRejectsDuplicateNonce(t *testing.T) {
	e := newExecutorEnv(t)
	a := e.signedRequest(t, 10, 10, 7)
	b := e.signedRequest(t, 20, 20, 7)

	_, err := e.executor.ExecuteBatch(e.operator, []*SignedRequest{a, b})
	assert.ErrorIs(t, err, ErrWithdrawNonceReuse)
	assert.Equal(t, big.NewInt(100), e.vault.BalanceOf(e.owner))
}

func TestBatchExecutesAllEntries(t *testing.T) {
	e := newExecutorEnv(t)
	a := e.signedRequest(t, 30, 30, 1)
	b := e.signedRequest(t, 20, 20, 2)

	out, err := e.executor.ExecuteBatch(e.operator, []*SignedRequest{a, b})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, big.NewInt(30), out[0])
	assert.Equal(t, big.NewInt(20), out[1])
	assert.Equal(t, big.NewInt(50), e.vault.BalanceOf(e.owner))
	assert.Len(t, e.sink.Named("WithdrawalExecuted"), 2)
}

func TestOverdrawnBatchSettlesNothing(t *testing.T) {
	e := newExecutorEnv(t)
	a := e.signedRequest(t, 30, 30, 1)
	b := e.signedRequest(t, 80, 80, 2)

	// the second entry overdraws the owner's 100 shares; neither entry
	// may settle and neither nonce may burn
	_, err := e.executor.ExecuteBatch(e.operator, []*SignedRequest{a, b})
	assert.ErrorIs(t, err, vault.ErrInsufficientShares)

	assert.Equal(t, big.NewInt(100), e.vault.BalanceOf(e.owner))
	assert.Equal(t, big.NewInt(0), e.relay.BalanceOf(e.asset, a.Request.To))
	used, err := e.executor.IsNonceUsed(e.owner, 1)
	require.NoError(t, err)
	assert.False(t, used)

	// the surviving request settles exactly once afterwards
	assets, err := e.executor.Execute(e.operator, a.Request, a.Signature)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(30), assets)
	assert.Equal(t, big.NewInt(70), e.vault.BalanceOf(e.owner))

	_, err = e.executor.Execute(e.operator, a.Request, a.Signature)
	assert.ErrorIs(t, err, ErrWithdrawNonceReuse)
}

func TestMinAssetsFloorLeavesNonceUnused(t *testing.T) {
	e := newExecutorEnv(t)
	// 10 shares redeem to 10 assets, below the demanded floor
	sr := e.signedRequest(t, 10, 11, 1)

	_, err := e.executor.Execute(e.operator, sr.Request, sr.Signature)
	assert.ErrorIs(t, err, vault.ErrInsufficientOutputAssets)

	used, err := e.executor.IsNonceUsed(e.owner, 1)
	require.NoError(t, err)
	assert.False(t, used)
	assert.Equal(t, big.NewInt(100), e.vault.BalanceOf(e.owner))
}
