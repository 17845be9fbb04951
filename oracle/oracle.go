package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/sharebridge/vault-go/agreement"
	"github.com/sharebridge/vault-go/common"
)

var (
	ErrUnauthorized = errors.New("caller is not authorized")
	ErrEmptySource  = errors.New("update source is empty")
	ErrZeroPrice    = errors.New("price must be positive")
)

// Oracle is the rate-limited price feed. A per-period budget of
// applied change caps how fast the reported price may move; updates
// beyond the budget become gradual transitions that release the
// remaining distance at the policy rate.
type Oracle struct {
	mu   sync.Mutex
	snap *Snapshot
	db   *OracleDB
	auth agreement.AuthOracle
	sink agreement.EventSink

	nowFn func() int64
}

// New restores the persisted snapshot when one exists, otherwise seeds
// the oracle from the config and persists the seed.
func New(cfg *Config, db *OracleDB, auth agreement.AuthOracle, sink agreement.EventSink) (*Oracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = &agreement.LogSink{}
	}

	o := &Oracle{
		db:    db,
		auth:  auth,
		sink:  sink,
		nowFn: func() int64 { return time.Now().Unix() },
	}

	snap, ok, err := db.LoadSnapshot()
	if err != nil {
		return nil, err
	}
	if !ok {
		snap = &Snapshot{
			TargetPrice:          new(big.Int).Set(cfg.InitialPrice),
			TransitionStartPrice: new(big.Int).Set(cfg.InitialPrice),
			LastUpdateAt:         o.nowFn(),
			MaxDeviationBps:      cfg.MaxDeviationBps,
			PeriodSeconds:        cfg.PeriodSeconds,
		}
		if err := o.persist(snap, nil); err != nil {
			return nil, err
		}
	}
	o.snap = snap
	return o, nil
}

// Snapshot returns a copy of the current state.
func (o *Oracle) Snapshot() *Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap.clone()
}

// CurrentPrice returns the interpolated price at this instant.
func (o *Oracle) CurrentPrice() *big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return priceAt(o.snap, o.nowFn())
}

// TransitionProgress reports 0-10000 completion of the active
// transition, 10000 when idle.
func (o *Oracle) TransitionProgress() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return transitionProgress(o.snap, o.nowFn())
}

// Report encodes the current price as one 32-byte big-endian word.
func (o *Oracle) Report() ([]byte, error) {
	word := common.BigInt2Bytes32(o.CurrentPrice())
	return word[:], nil
}

// Update applies a new target price. Within the period budget the
// price moves immediately and the move is charged against the budget;
// beyond it the current interpolated value is frozen as the new
// baseline and a gradual transition toward the target begins. The
// gradual path deliberately leaves the budget untouched, so a large
// jump can never complete faster by spending budget first.
func (o *Oracle) Update(caller ethcommon.Address, newPrice *big.Int, source string) error {
	if !o.auth.IsAuthorized(caller, agreement.RoleUpdater) {
		return ErrUnauthorized
	}
	if source == "" {
		return ErrEmptySource
	}
	if newPrice == nil || newPrice.Sign() <= 0 {
		return ErrZeroPrice
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.nowFn()
	cur := priceAt(o.snap, now)
	next := o.snap.clone()

	if now-next.LastUpdateAt >= int64(next.PeriodSeconds) {
		next.AppliedChangeBpsInPeriod = 0
	}

	deltaBps := new(big.Int).Sub(newPrice, cur)
	deltaBps.Abs(deltaBps)
	deltaBps.Mul(deltaBps, bps10000)
	deltaBps.Div(deltaBps, cur)

	budget := new(big.Int).SetUint64(next.MaxDeviationBps - next.AppliedChangeBpsInPeriod)
	if deltaBps.Cmp(budget) <= 0 {
		next.TransitionStartPrice = new(big.Int).Set(newPrice)
		next.TargetPrice = new(big.Int).Set(newPrice)
		next.AppliedChangeBpsInPeriod += deltaBps.Uint64()
	} else {
		next.TransitionStartPrice = cur
		next.TargetPrice = new(big.Int).Set(newPrice)
	}
	next.LastUpdateAt = now
	next.Round++

	if err := o.persist(next, &AppliedUpdate{
		Round:     next.Round,
		Target:    next.TargetPrice,
		Start:     next.TransitionStartPrice,
		Source:    source,
		AppliedAt: now,
	}); err != nil {
		return err
	}
	o.snap = next

	o.sink.Emit(&agreement.PriceUpdateEvent{
		Round:  next.Round,
		Target: next.TargetPrice,
		Start:  next.TransitionStartPrice,
		Source: source,
	})
	logger.WithFields(logger.Fields{
		"round":  next.Round,
		"target": next.TargetPrice.String(),
		"start":  next.TransitionStartPrice.String(),
		"source": source,
	}).Info("oracle price update")
	return nil
}

// SetMaxDeviation changes the rate policy. A transition in flight is
// re-anchored on the current interpolated value first, so the policy
// change never causes a price jump. The period budget resets.
func (o *Oracle) SetMaxDeviation(caller ethcommon.Address, maxDeviationBps, periodSeconds uint64) error {
	if !o.auth.IsAuthorized(caller, agreement.RoleOwner) {
		return ErrUnauthorized
	}
	if maxDeviationBps == 0 {
		return ErrCfgZeroDeviation
	}
	if periodSeconds == 0 {
		return ErrCfgZeroPeriod
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.nowFn()
	next := o.snap.clone()
	oldBps, oldPeriod := next.MaxDeviationBps, next.PeriodSeconds

	if next.inTransition() {
		next.TransitionStartPrice = priceAt(o.snap, now)
	}
	next.AppliedChangeBpsInPeriod = 0
	next.LastUpdateAt = now
	next.MaxDeviationBps = maxDeviationBps
	next.PeriodSeconds = periodSeconds

	if err := o.persist(next, nil); err != nil {
		return err
	}
	o.snap = next

	o.sink.Emit(&agreement.PolicyChangeEvent{
		OldMaxDeviationBps: oldBps,
		NewMaxDeviationBps: maxDeviationBps,
		OldPeriodSeconds:   oldPeriod,
		NewPeriodSeconds:   periodSeconds,
	})
	return nil
}

// ForceCompleteTransition collapses any transition in flight onto its
// target.
func (o *Oracle) ForceCompleteTransition(caller ethcommon.Address) error {
	if !o.auth.IsAuthorized(caller, agreement.RoleOwner) {
		return ErrUnauthorized
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	next := o.snap.clone()
	next.TransitionStartPrice = new(big.Int).Set(next.TargetPrice)
	next.LastUpdateAt = o.nowFn()

	if err := o.persist(next, nil); err != nil {
		return err
	}
	o.snap = next

	o.sink.Emit(&agreement.ForcedCompletionEvent{Price: next.TargetPrice})
	return nil
}

// persist writes the snapshot, and the log row when one is given, in
// a single transaction.
func (o *Oracle) persist(s *Snapshot, u *AppliedUpdate) error {
	tx, err := o.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if u != nil {
		if err := o.db.InsertUpdate(tx, u); err != nil {
			return err
		}
	}
	if err := o.db.SaveSnapshot(tx, s); err != nil {
		return err
	}
	return tx.Commit()
}
