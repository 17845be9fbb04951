package escrow

import (
	"errors"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/sharebridge/vault-go/agreement"
	"github.com/sharebridge/vault-go/hookpipe"
	"github.com/sharebridge/vault-go/vault"
)

var (
	ErrUnauthorized       = errors.New("caller is not authorized")
	ErrZeroAmount         = errors.New("amount must be positive")
	ErrZeroAddress        = errors.New("address is zero")
	ErrAmountTooLarge     = errors.New("amount exceeds the supported range")
	ErrDepositNotFound    = errors.New("deposit not found")
	ErrDepositNotPending  = errors.New("deposit is not pending")
	ErrEmptyBatch         = errors.New("batch contains no ids")
	ErrReclaimNotEligible = errors.New("deposit is not yet reclaimable")

	ErrCfgZeroEscrowAddress = errors.New("escrow address is zero")
	ErrCfgZeroPendingTTL    = errors.New("pending ttl must be positive")
)

type Config struct {
	// EscrowAddress is the custody identity holding funds while pending.
	EscrowAddress ethcommon.Address
	// PendingTTLSeconds is added to the request time to form the
	// deposit's expiration.
	PendingTTLSeconds int64
}

func (cfg *Config) Validate() error {
	if cfg.EscrowAddress == agreement.ZeroAddress {
		return ErrCfgZeroEscrowAddress
	}
	if cfg.PendingTTLSeconds <= 0 {
		return ErrCfgZeroPendingTTL
	}
	return nil
}

// GatedDepositVault fronts the share vault with a two-phase deposit.
// Requested funds sit in escrow custody until the operator accepts
// (mint) or refunds them; the depositor has an emergency exit once the
// deposit expires or the operator's round has moved past it.
type GatedDepositVault struct {
	cfg   *Config
	mu    sync.Mutex
	db    *EscrowDB
	vault *vault.ShareVault
	relay agreement.AssetRelay
	auth  agreement.AuthOracle
	sink  agreement.EventSink

	nowFn func() int64
}

func New(cfg *Config, db *EscrowDB, sv *vault.ShareVault, relay agreement.AssetRelay, auth agreement.AuthOracle, sink agreement.EventSink) (*GatedDepositVault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = &agreement.LogSink{}
	}
	return &GatedDepositVault{
		cfg:   cfg,
		db:    db,
		vault: sv,
		relay: relay,
		auth:  auth,
		sink:  sink,
		nowFn: func() int64 { return time.Now().Unix() },
	}, nil
}

func (g *GatedDepositVault) Address() ethcommon.Address { return g.cfg.EscrowAddress }

func (g *GatedDepositVault) DB() *EscrowDB { return g.db }

// Round returns the current operator resolution round.
func (g *GatedDepositVault) Round() (uint64, error) {
	return g.db.GetRound()
}

// RequestDeposit runs the deposit pipeline, then moves assets into
// escrow custody and records a pending deposit.
func (g *GatedDepositVault) RequestDeposit(actor ethcommon.Address, assets *big.Int, receiver ethcommon.Address) (*PendingDeposit, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if receiver == agreement.ZeroAddress {
		return nil, ErrZeroAddress
	}
	// the ledger stores amounts as signed 64-bit integers
	if !assets.IsInt64() {
		return nil, ErrAmountTooLarge
	}

	shares, err := g.vault.PreviewDeposit(assets)
	if err != nil {
		return nil, err
	}
	if err := g.vault.Pipeline().RunAll(agreement.TagDeposit, &hookpipe.HookContext{
		Actor:    actor,
		Receiver: receiver,
		Assets:   assets,
		Shares:   shares,
	}); err != nil {
		return nil, vault.WrapHookErr(err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	round, err := g.db.GetRound()
	if err != nil {
		return nil, err
	}

	tx, err := g.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	counter, err := g.db.nextCounter(tx, actor)
	if err != nil {
		return nil, err
	}

	d := &PendingDeposit{
		ID:              DeriveDepositID(actor, receiver, assets, now, g.vault.Address(), counter),
		Depositor:       actor,
		Recipient:       receiver,
		AssetAmount:     new(big.Int).Set(assets),
		CreatedAt:       now,
		ExpirationTime:  now + g.cfg.PendingTTLSeconds,
		State:           DepositStatePending,
		RoundAtCreation: round,
	}
	if err := g.db.InsertPending(tx, d); err != nil {
		return nil, err
	}

	if err := g.relay.Pull(g.vault.Asset(), actor, g.cfg.EscrowAddress, assets); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	g.vault.Pipeline().MarkExecuted(agreement.TagDeposit)
	g.sink.Emit(&agreement.DepositPendingEvent{
		ID:          d.ID,
		Depositor:   d.Depositor,
		Recipient:   d.Recipient,
		AssetAmount: d.AssetAmount,
		Round:       round,
	})
	return d.Clone(), nil
}

// AcceptDeposit resolves a single pending deposit into minted shares.
func (g *GatedDepositVault) AcceptDeposit(caller ethcommon.Address, id ethcommon.Hash) error {
	return g.resolve(caller, []ethcommon.Hash{id}, true)
}

// BatchAcceptDeposits resolves a batch. The round advances once per
// call, not per id; the whole batch fails on the first bad entry.
func (g *GatedDepositVault) BatchAcceptDeposits(caller ethcommon.Address, ids []ethcommon.Hash) error {
	return g.resolve(caller, ids, true)
}

// RefundDeposit returns a single pending deposit to its depositor.
func (g *GatedDepositVault) RefundDeposit(caller ethcommon.Address, id ethcommon.Hash) error {
	return g.resolve(caller, []ethcommon.Hash{id}, false)
}

func (g *GatedDepositVault) BatchRefundDeposits(caller ethcommon.Address, ids []ethcommon.Hash) error {
	return g.resolve(caller, ids, false)
}

func (g *GatedDepositVault) resolve(caller ethcommon.Address, ids []ethcommon.Hash, accept bool) error {
	if !g.auth.IsAuthorized(caller, agreement.RoleOperator) {
		return ErrUnauthorized
	}
	if len(ids) == 0 {
		return ErrEmptyBatch
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// load and flip every entry first; any bad id aborts the call
	deposits := make([]*PendingDeposit, 0, len(ids))
	sum := new(big.Int)
	target := DepositStateAccepted
	if !accept {
		target = DepositStateRefunded
	}
	for _, id := range ids {
		d, ok, err := g.db.getDepositTx(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDepositNotFound
		}
		flipped, err := g.db.transitionState(tx, id, DepositStatePending, target)
		if err != nil {
			return err
		}
		if !flipped {
			return ErrDepositNotPending
		}
		deposits = append(deposits, d)
		sum.Add(sum, d.AssetAmount)
	}

	round, err := g.db.GetRound()
	if err != nil {
		return err
	}
	round++
	if err := g.db.setRound(tx, round); err != nil {
		return err
	}

	var shares []*big.Int
	if accept {
		// batch share math at the pre-move exchange rate: one preview
		// for the batch total, then proportional apportionment with
		// floor division. Residual dust is retained by the protocol.
		totalShares, err := g.vault.PreviewDeposit(sum)
		if err != nil {
			return err
		}
		recipients := make([]ethcommon.Address, len(deposits))
		assets := make([]*big.Int, len(deposits))
		shares = make([]*big.Int, len(deposits))
		for i, d := range deposits {
			recipients[i] = d.Recipient
			assets[i] = d.AssetAmount
			s := new(big.Int).Mul(d.AssetAmount, totalShares)
			shares[i] = s.Div(s, sum)
		}

		// the mint runs first: its pipeline checks evaluate before any
		// share is credited, so a hook rejection aborts the call with
		// the escrow custody untouched
		if err := g.vault.BatchMintTo(g.cfg.EscrowAddress, recipients, assets, shares); err != nil {
			return err
		}
		if err := g.relay.Push(g.vault.Asset(), g.cfg.EscrowAddress, g.vault.Address(), sum); err != nil {
			return err
		}
	} else {
		for _, d := range deposits {
			if err := g.relay.Push(g.vault.Asset(), g.cfg.EscrowAddress, d.Depositor, d.AssetAmount); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for i, d := range deposits {
		if accept {
			g.sink.Emit(&agreement.DepositAcceptedEvent{
				ID:          d.ID,
				Recipient:   d.Recipient,
				AssetAmount: d.AssetAmount,
				Shares:      shares[i],
				Round:       round,
			})
		} else {
			g.sink.Emit(&agreement.DepositRefundedEvent{
				ID:          d.ID,
				Depositor:   d.Depositor,
				AssetAmount: d.AssetAmount,
				Round:       round,
			})
		}
	}
	g.sink.Emit(&agreement.BatchResolvedEvent{
		Accepted: accept,
		Totals:   agreement.BatchTotals{Count: len(deposits), TotalAssets: sum},
		Round:    round,
	})

	logger.WithFields(logger.Fields{
		"accepted": accept,
		"count":    len(deposits),
		"assets":   sum.String(),
		"round":    round,
	}).Info("deposit batch resolved")

	return nil
}

// ReclaimDeposit is the depositor's emergency exit. A pending deposit
// is reclaimable once expired, or earlier as soon as the operator's
// round has advanced past the deposit's creation round. Reclaims never
// advance the round.
func (g *GatedDepositVault) ReclaimDeposit(caller ethcommon.Address, id ethcommon.Hash) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok, err := g.db.GetDeposit(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDepositNotFound
	}
	if caller != d.Depositor {
		return ErrUnauthorized
	}
	if d.State != DepositStatePending {
		return ErrDepositNotPending
	}

	round, err := g.db.GetRound()
	if err != nil {
		return err
	}
	if g.nowFn() < d.ExpirationTime && round <= d.RoundAtCreation {
		return ErrReclaimNotEligible
	}

	tx, err := g.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	flipped, err := g.db.transitionState(tx, id, DepositStatePending, DepositStateRefunded)
	if err != nil {
		return err
	}
	if !flipped {
		return ErrDepositNotPending
	}
	if err := g.relay.Push(g.vault.Asset(), g.cfg.EscrowAddress, d.Depositor, d.AssetAmount); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	g.sink.Emit(&agreement.DepositReclaimedEvent{
		ID:          d.ID,
		Depositor:   d.Depositor,
		AssetAmount: d.AssetAmount,
	})
	return nil
}
