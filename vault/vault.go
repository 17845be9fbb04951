package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/sharebridge/vault-go/agreement"
	"github.com/sharebridge/vault-go/hookpipe"
)

var (
	ErrUnauthorized       = errors.New("caller is not authorized")
	ErrReentrantCall      = errors.New("reentrant call into the same operation family")
	ErrZeroAmount         = errors.New("amount must be positive")
	ErrZeroAddress        = errors.New("address is zero")
	ErrInsufficientShares = errors.New("shares exceed available balance")
	ErrAllowanceExceeded  = errors.New("allowance exceeded")
)

// HookCheckFailedError signals that a pipeline hook rejected the
// operation. The hook's own reason travels verbatim.
type HookCheckFailedError struct {
	Reason string
	cause  error
}

func (e *HookCheckFailedError) Error() string {
	return fmt.Sprintf("hook check failed: %s", e.Reason)
}

func (e *HookCheckFailedError) Unwrap() error { return e.cause }

// WrapHookErr converts a pipeline rejection into a HookCheckFailedError
// carrying the hook's verbatim reason. Also used by the gated deposit
// escrow, which fronts the same pipeline.
func WrapHookErr(err error) error {
	var rej *hookpipe.Rejection
	if errors.As(err, &rej) {
		return &HookCheckFailedError{Reason: rej.Reason, cause: err}
	}
	return &HookCheckFailedError{Reason: err.Error(), cause: err}
}

// ShareVault does proportional share accounting over an externally
// valued asset pool. Every balance-changing operation runs its tag's
// hook pipeline to completion before any state mutates.
type ShareVault struct {
	cfg      *Config
	pipeline *hookpipe.Pipeline

	mu          sync.Mutex
	balances    map[ethcommon.Address]*big.Int
	allowances  map[ethcommon.Address]map[ethcommon.Address]*big.Int
	totalShares *big.Int

	// reentrancy flags per operation family
	inDeposit  bool
	inWithdraw bool
}

func New(cfg *Config, pipeline *hookpipe.Pipeline) (*ShareVault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pipeline == nil {
		return nil, ErrCfgNilPipeline
	}
	return &ShareVault{
		cfg:         cfg,
		pipeline:    pipeline,
		balances:    make(map[ethcommon.Address]*big.Int),
		allowances:  make(map[ethcommon.Address]map[ethcommon.Address]*big.Int),
		totalShares: new(big.Int),
	}, nil
}

func (v *ShareVault) Address() ethcommon.Address { return v.cfg.VaultAddress }
func (v *ShareVault) Asset() ethcommon.Address   { return v.cfg.Asset }

func (v *ShareVault) Pipeline() *hookpipe.Pipeline { return v.pipeline }

func (v *ShareVault) TotalShares() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalShares)
}

func (v *ShareVault) TotalAssets() (*big.Int, error) {
	return v.cfg.Valuation.TotalAssets()
}

func (v *ShareVault) BalanceOf(addr ethcommon.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if b, ok := v.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// ConvertToShares floors. Bootstrap (no shares yet) is 1:1.
func (v *ShareVault) ConvertToShares(assets *big.Int) (*big.Int, error) {
	v.mu.Lock()
	totalShares := new(big.Int).Set(v.totalShares)
	v.mu.Unlock()

	if totalShares.Sign() == 0 {
		return new(big.Int).Set(assets), nil
	}
	totalAssets, err := v.TotalAssets()
	if err != nil {
		return nil, err
	}
	if totalAssets.Sign() == 0 {
		return new(big.Int).Set(assets), nil
	}
	out := new(big.Int).Mul(assets, totalShares)
	return out.Div(out, totalAssets), nil
}

// ConvertToAssets floors, so rounding always favors the protocol.
func (v *ShareVault) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	v.mu.Lock()
	totalShares := new(big.Int).Set(v.totalShares)
	v.mu.Unlock()

	if totalShares.Sign() == 0 {
		return new(big.Int).Set(shares), nil
	}
	totalAssets, err := v.TotalAssets()
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(shares, totalAssets)
	return out.Div(out, totalShares), nil
}

func (v *ShareVault) PreviewDeposit(assets *big.Int) (*big.Int, error) {
	return v.ConvertToShares(assets)
}

func (v *ShareVault) PreviewRedeem(shares *big.Int) (*big.Int, error) {
	return v.ConvertToAssets(shares)
}

// previewWithdraw rounds shares up so the withdrawer can never extract
// more assets than the shares burnt are worth.
func (v *ShareVault) previewWithdraw(assets *big.Int) (*big.Int, error) {
	v.mu.Lock()
	totalShares := new(big.Int).Set(v.totalShares)
	v.mu.Unlock()

	if totalShares.Sign() == 0 {
		return new(big.Int).Set(assets), nil
	}
	totalAssets, err := v.TotalAssets()
	if err != nil {
		return nil, err
	}
	if totalAssets.Sign() == 0 {
		return new(big.Int).Set(assets), nil
	}
	num := new(big.Int).Mul(assets, totalShares)
	num.Add(num, new(big.Int).Sub(totalAssets, big.NewInt(1)))
	return num.Div(num, totalAssets), nil
}

func (v *ShareVault) enterDeposit() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.inDeposit {
		return ErrReentrantCall
	}
	v.inDeposit = true
	return nil
}

func (v *ShareVault) leaveDeposit() {
	v.mu.Lock()
	v.inDeposit = false
	v.mu.Unlock()
}

func (v *ShareVault) enterWithdraw() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.inWithdraw {
		return ErrReentrantCall
	}
	v.inWithdraw = true
	return nil
}

func (v *ShareVault) leaveWithdraw() {
	v.mu.Lock()
	v.inWithdraw = false
	v.mu.Unlock()
}

// Deposit pulls assets from the actor into vault custody and mints
// shares to the receiver. The deposit pipeline and the mint leg of the
// transfer pipeline both evaluate before any asset moves.
func (v *ShareVault) Deposit(actor ethcommon.Address, assets *big.Int, receiver ethcommon.Address) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if receiver == agreement.ZeroAddress {
		return nil, ErrZeroAddress
	}

	if err := v.enterDeposit(); err != nil {
		return nil, err
	}
	defer v.leaveDeposit()

	shares, err := v.PreviewDeposit(assets)
	if err != nil {
		return nil, err
	}

	if err := v.pipeline.RunAll(agreement.TagDeposit, &hookpipe.HookContext{
		Actor:    actor,
		Receiver: receiver,
		Assets:   assets,
		Shares:   shares,
	}); err != nil {
		return nil, WrapHookErr(err)
	}
	if err := v.pipeline.RunAll(agreement.TagTransfer, &hookpipe.HookContext{
		Actor:    agreement.ZeroAddress,
		Receiver: receiver,
		Assets:   assets,
		Shares:   shares,
	}); err != nil {
		return nil, WrapHookErr(err)
	}

	if err := v.cfg.Relay.Pull(v.cfg.Asset, actor, v.cfg.VaultAddress, assets); err != nil {
		return nil, err
	}

	v.creditShares(receiver, shares)
	v.pipeline.MarkExecuted(agreement.TagDeposit)
	v.pipeline.MarkExecuted(agreement.TagTransfer)

	logger.WithFields(logger.Fields{
		"actor":    actor.Hex(),
		"receiver": receiver.Hex(),
		"assets":   assets.String(),
		"shares":   shares.String(),
	}).Info("deposit")

	return shares, nil
}

// Withdraw burns the share equivalent of assets and releases assets to
// the receiver. If actor != owner an allowance is spent in shares.
func (v *ShareVault) Withdraw(actor ethcommon.Address, assets *big.Int, receiver, owner ethcommon.Address) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	shares, err := v.previewWithdraw(assets)
	if err != nil {
		return nil, err
	}
	if err := v.withdrawShares(actor, shares, assets, receiver, owner, true); err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns shares and releases their asset value to the receiver.
func (v *ShareVault) Redeem(actor ethcommon.Address, shares *big.Int, receiver, owner ethcommon.Address) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	assets, err := v.PreviewRedeem(shares)
	if err != nil {
		return nil, err
	}
	if err := v.withdrawShares(actor, shares, assets, receiver, owner, true); err != nil {
		return nil, err
	}
	return assets, nil
}

// redeemNoAllowance is the operator path of the managed variant: the
// operator gate replaces the allowance check.
func (v *ShareVault) redeemNoAllowance(actor ethcommon.Address, shares *big.Int, receiver, owner ethcommon.Address) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	assets, err := v.PreviewRedeem(shares)
	if err != nil {
		return nil, err
	}
	if err := v.withdrawShares(actor, shares, assets, receiver, owner, false); err != nil {
		return nil, err
	}
	return assets, nil
}

func (v *ShareVault) withdrawShares(actor ethcommon.Address, shares, assets *big.Int, receiver, owner ethcommon.Address, spendAllowance bool) error {
	if receiver == agreement.ZeroAddress || owner == agreement.ZeroAddress {
		return ErrZeroAddress
	}

	if err := v.enterWithdraw(); err != nil {
		return err
	}
	defer v.leaveWithdraw()

	if err := v.pipeline.RunAll(agreement.TagWithdraw, &hookpipe.HookContext{
		Actor:    actor,
		Receiver: receiver,
		Owner:    owner,
		Assets:   assets,
		Shares:   shares,
	}); err != nil {
		return WrapHookErr(err)
	}
	if err := v.pipeline.RunAll(agreement.TagTransfer, &hookpipe.HookContext{
		Actor:    owner,
		Receiver: agreement.ZeroAddress,
		Assets:   assets,
		Shares:   shares,
	}); err != nil {
		return WrapHookErr(err)
	}

	v.mu.Lock()
	bal, ok := v.balances[owner]
	if !ok || bal.Cmp(shares) < 0 {
		v.mu.Unlock()
		return ErrInsufficientShares
	}
	spentAllowance := false
	if spendAllowance && actor != owner {
		allowed := v.allowanceLocked(owner, actor)
		if allowed.Cmp(shares) < 0 {
			v.mu.Unlock()
			return ErrAllowanceExceeded
		}
		allowed.Sub(allowed, shares)
		spentAllowance = true
	}
	v.mu.Unlock()

	if assets.Sign() > 0 {
		if err := v.cfg.Relay.Push(v.cfg.Asset, v.cfg.VaultAddress, receiver, assets); err != nil {
			// nothing has settled; the spent allowance must come back
			if spentAllowance {
				v.mu.Lock()
				v.allowanceLocked(owner, actor).Add(v.allowanceLocked(owner, actor), shares)
				v.mu.Unlock()
			}
			return err
		}
	}

	v.mu.Lock()
	v.balances[owner].Sub(v.balances[owner], shares)
	v.totalShares.Sub(v.totalShares, shares)
	v.mu.Unlock()

	v.pipeline.MarkExecuted(agreement.TagWithdraw)
	v.pipeline.MarkExecuted(agreement.TagTransfer)

	logger.WithFields(logger.Fields{
		"actor":    actor.Hex(),
		"owner":    owner.Hex(),
		"receiver": receiver.Hex(),
		"assets":   assets.String(),
		"shares":   shares.String(),
	}).Info("withdraw")

	return nil
}

// batchRedeemShares settles a batch of redemptions at one exchange
// rate. Amount, balance and pipeline checks for every entry evaluate
// before the first entry settles, so a late entry can never leave a
// partially applied batch behind.
func (v *ShareVault) batchRedeemShares(actor ethcommon.Address, shares []*big.Int, receivers, owners []ethcommon.Address) ([]*big.Int, error) {
	if err := v.enterWithdraw(); err != nil {
		return nil, err
	}
	defer v.leaveWithdraw()

	assets := make([]*big.Int, len(shares))
	for i := range shares {
		if shares[i] == nil || shares[i].Sign() <= 0 {
			return nil, ErrZeroAmount
		}
		if receivers[i] == agreement.ZeroAddress || owners[i] == agreement.ZeroAddress {
			return nil, ErrZeroAddress
		}
		a, err := v.PreviewRedeem(shares[i])
		if err != nil {
			return nil, err
		}
		assets[i] = a
	}

	// per-owner aggregate share demand against current balances
	needed := make(map[ethcommon.Address]*big.Int)
	for i, owner := range owners {
		if needed[owner] == nil {
			needed[owner] = new(big.Int)
		}
		needed[owner].Add(needed[owner], shares[i])
	}
	v.mu.Lock()
	for owner, total := range needed {
		bal, ok := v.balances[owner]
		if !ok || bal.Cmp(total) < 0 {
			v.mu.Unlock()
			return nil, ErrInsufficientShares
		}
	}
	v.mu.Unlock()

	for i := range shares {
		if err := v.pipeline.RunAll(agreement.TagWithdraw, &hookpipe.HookContext{
			Actor:    actor,
			Receiver: receivers[i],
			Owner:    owners[i],
			Assets:   assets[i],
			Shares:   shares[i],
		}); err != nil {
			return nil, WrapHookErr(err)
		}
		if err := v.pipeline.RunAll(agreement.TagTransfer, &hookpipe.HookContext{
			Actor:    owners[i],
			Receiver: agreement.ZeroAddress,
			Assets:   assets[i],
			Shares:   shares[i],
		}); err != nil {
			return nil, WrapHookErr(err)
		}
	}

	for i := range shares {
		if assets[i].Sign() > 0 {
			if err := v.cfg.Relay.Push(v.cfg.Asset, v.cfg.VaultAddress, receivers[i], assets[i]); err != nil {
				return nil, err
			}
		}
		v.mu.Lock()
		v.balances[owners[i]].Sub(v.balances[owners[i]], shares[i])
		v.totalShares.Sub(v.totalShares, shares[i])
		v.mu.Unlock()
		v.pipeline.MarkExecuted(agreement.TagWithdraw)
		v.pipeline.MarkExecuted(agreement.TagTransfer)
	}

	logger.WithFields(logger.Fields{
		"actor": actor.Hex(),
		"count": len(shares),
	}).Info("batch redeem")

	return assets, nil
}

// Transfer moves shares between holders, gated by the transfer pipeline.
func (v *ShareVault) Transfer(actor, to ethcommon.Address, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrZeroAmount
	}
	if to == agreement.ZeroAddress {
		return ErrZeroAddress
	}

	if err := v.pipeline.RunAll(agreement.TagTransfer, &hookpipe.HookContext{
		Actor:    actor,
		Receiver: to,
		Shares:   shares,
	}); err != nil {
		return WrapHookErr(err)
	}

	v.mu.Lock()
	bal, ok := v.balances[actor]
	if !ok || bal.Cmp(shares) < 0 {
		v.mu.Unlock()
		return ErrInsufficientShares
	}
	bal.Sub(bal, shares)
	if v.balances[to] == nil {
		v.balances[to] = new(big.Int)
	}
	v.balances[to].Add(v.balances[to], shares)
	v.mu.Unlock()

	v.pipeline.MarkExecuted(agreement.TagTransfer)
	return nil
}

func (v *ShareVault) Approve(owner, spender ethcommon.Address, shares *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.allowances[owner] == nil {
		v.allowances[owner] = make(map[ethcommon.Address]*big.Int)
	}
	v.allowances[owner][spender] = new(big.Int).Set(shares)
}

func (v *ShareVault) Allowance(owner, spender ethcommon.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.allowanceLocked(owner, spender))
}

func (v *ShareVault) allowanceLocked(owner, spender ethcommon.Address) *big.Int {
	if v.allowances[owner] == nil {
		v.allowances[owner] = make(map[ethcommon.Address]*big.Int)
	}
	if v.allowances[owner][spender] == nil {
		v.allowances[owner][spender] = new(big.Int)
	}
	return v.allowances[owner][spender]
}

// MintTo is the privileged mint entry point used by the gated deposit
// escrow on acceptance. The share amount is computed by the caller (the
// batch apportionment happens escrow-side); the caller must be a listed
// component. The mint leg of the transfer pipeline still applies.
func (v *ShareVault) MintTo(caller, recipient ethcommon.Address, assets, shares *big.Int) error {
	if !v.cfg.Registry.IsListed(caller) {
		return ErrUnauthorized
	}
	if recipient == agreement.ZeroAddress {
		return ErrZeroAddress
	}
	if shares == nil || shares.Sign() < 0 {
		return ErrZeroAmount
	}

	if err := v.pipeline.RunAll(agreement.TagTransfer, &hookpipe.HookContext{
		Actor:    agreement.ZeroAddress,
		Receiver: recipient,
		Assets:   assets,
		Shares:   shares,
	}); err != nil {
		return WrapHookErr(err)
	}

	v.creditShares(recipient, shares)
	v.pipeline.MarkExecuted(agreement.TagTransfer)
	return nil
}

// BatchMintTo mints a batch atomically: every mint leg of the transfer
// pipeline evaluates before the first share is credited, so a late
// rejection cannot leave a partially minted batch behind.
func (v *ShareVault) BatchMintTo(caller ethcommon.Address, recipients []ethcommon.Address, assets, shares []*big.Int) error {
	if !v.cfg.Registry.IsListed(caller) {
		return ErrUnauthorized
	}
	if len(recipients) != len(assets) || len(recipients) != len(shares) {
		return ErrInvalidArrayLengths
	}

	for i := range recipients {
		if recipients[i] == agreement.ZeroAddress {
			return ErrZeroAddress
		}
		if shares[i] == nil || shares[i].Sign() < 0 {
			return ErrZeroAmount
		}
		if err := v.pipeline.RunAll(agreement.TagTransfer, &hookpipe.HookContext{
			Actor:    agreement.ZeroAddress,
			Receiver: recipients[i],
			Assets:   assets[i],
			Shares:   shares[i],
		}); err != nil {
			return WrapHookErr(err)
		}
	}

	for i := range recipients {
		v.creditShares(recipients[i], shares[i])
		v.pipeline.MarkExecuted(agreement.TagTransfer)
	}
	return nil
}

func (v *ShareVault) creditShares(receiver ethcommon.Address, shares *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balances[receiver] == nil {
		v.balances[receiver] = new(big.Int)
	}
	v.balances[receiver].Add(v.balances[receiver], shares)
	v.totalShares.Add(v.totalShares, shares)
}
