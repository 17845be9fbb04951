package oracle

import "math/big"

var bps10000 = big.NewInt(10000)

// Snapshot is the full oracle state between writes. Reads never mutate
// it; the write paths replace it wholesale, so the interpolation math
// below stays pure over (snapshot, now).
type Snapshot struct {
	TargetPrice              *big.Int
	TransitionStartPrice     *big.Int
	LastUpdateAt             int64
	MaxDeviationBps          uint64
	PeriodSeconds            uint64
	AppliedChangeBpsInPeriod uint64
	Round                    uint64
}

func (s *Snapshot) clone() *Snapshot {
	c := *s
	c.TargetPrice = new(big.Int).Set(s.TargetPrice)
	c.TransitionStartPrice = new(big.Int).Set(s.TransitionStartPrice)
	return &c
}

func (s *Snapshot) inTransition() bool {
	return s.TransitionStartPrice.Cmp(s.TargetPrice) != 0
}

// neededBps is the total distance of the active transition, measured
// against the pre-transition price.
func neededBps(s *Snapshot) *big.Int {
	diff := new(big.Int).Sub(s.TargetPrice, s.TransitionStartPrice)
	diff.Abs(diff)
	diff.Mul(diff, bps10000)
	return diff.Div(diff, s.TransitionStartPrice)
}

// elapsedBps is how much of the distance the policy rate has released
// since the transition began.
func elapsedBps(s *Snapshot, now int64) *big.Int {
	elapsed := now - s.LastUpdateAt
	if elapsed < 0 {
		elapsed = 0
	}
	out := new(big.Int).SetInt64(elapsed)
	out.Mul(out, new(big.Int).SetUint64(s.MaxDeviationBps))
	return out.Div(out, new(big.Int).SetUint64(s.PeriodSeconds))
}

// priceAt interpolates the price at the given instant. The rate is
// bounded against the pre-transition price, so a larger target jump
// takes proportionally longer and the value converges monotonically
// onto the target with no overshoot.
func priceAt(s *Snapshot, now int64) *big.Int {
	if !s.inTransition() {
		return new(big.Int).Set(s.TargetPrice)
	}

	needed := neededBps(s)
	progress := elapsedBps(s, now)
	if progress.Cmp(needed) > 0 {
		progress = needed
	}

	delta := new(big.Int).Mul(s.TransitionStartPrice, progress)
	delta.Div(delta, bps10000)

	out := new(big.Int).Set(s.TransitionStartPrice)
	if s.TargetPrice.Cmp(s.TransitionStartPrice) > 0 {
		return out.Add(out, delta)
	}
	return out.Sub(out, delta)
}

// transitionProgress reports completion of the active transition as a
// 0-10000 fraction of the needed distance, 10000 when idle.
func transitionProgress(s *Snapshot, now int64) uint64 {
	if !s.inTransition() {
		return 10000
	}

	needed := neededBps(s)
	if needed.Sign() == 0 {
		return 10000
	}
	progress := elapsedBps(s, now)
	if progress.Cmp(needed) > 0 {
		progress = needed
	}

	out := new(big.Int).Mul(progress, bps10000)
	out.Div(out, needed)
	return out.Uint64()
}
