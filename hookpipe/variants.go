package hookpipe

import (
	"math/big"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/sharebridge/vault-go/agreement"
)

// AllowlistHook approves an operation only when the acting party is on
// its allow list. Zero-address parties (mint/burn transfer legs) pass.
type AllowlistHook struct {
	addr    ethcommon.Address
	mu      sync.Mutex
	allowed map[ethcommon.Address]bool
}

func NewAllowlistHook(addr ethcommon.Address) *AllowlistHook {
	return &AllowlistHook{addr: addr, allowed: make(map[ethcommon.Address]bool)}
}

func (h *AllowlistHook) Address() ethcommon.Address { return h.addr }

func (h *AllowlistHook) Allow(addr ethcommon.Address) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowed[addr] = true
}

func (h *AllowlistHook) Disallow(addr ethcommon.Address) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.allowed, addr)
}

func (h *AllowlistHook) check(parties ...ethcommon.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range parties {
		if p == agreement.ZeroAddress {
			continue
		}
		if !h.allowed[p] {
			return &Rejection{Hook: h.addr, Reason: "party not on allow list"}
		}
	}
	return nil
}

func (h *AllowlistHook) OnBeforeDeposit(ctx *HookContext) error {
	return h.check(ctx.Actor, ctx.Receiver)
}

func (h *AllowlistHook) OnBeforeWithdraw(ctx *HookContext) error {
	return h.check(ctx.Actor, ctx.Receiver, ctx.Owner)
}

func (h *AllowlistHook) OnBeforeTransfer(ctx *HookContext) error {
	return h.check(ctx.Actor, ctx.Receiver)
}

// CapacityHook caps the asset size of a single deposit and, optionally,
// the running total of assets it has approved. The aggregate budget is
// charged when the hook approves, not when the operation settles: a
// deposit a later hook rejects still consumes budget. Callers that need
// exact settled totals should size maxTotal with that slack in mind.
type CapacityHook struct {
	addr     ethcommon.Address
	mu       sync.Mutex
	maxPerOp *big.Int
	maxTotal *big.Int // nil = unlimited
	approved *big.Int
}

func NewCapacityHook(addr ethcommon.Address, maxPerOp, maxTotal *big.Int) *CapacityHook {
	h := &CapacityHook{
		addr:     addr,
		maxPerOp: new(big.Int).Set(maxPerOp),
		approved: new(big.Int),
	}
	if maxTotal != nil {
		h.maxTotal = new(big.Int).Set(maxTotal)
	}
	return h
}

func (h *CapacityHook) Address() ethcommon.Address { return h.addr }

func (h *CapacityHook) OnBeforeDeposit(ctx *HookContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ctx.Assets.Cmp(h.maxPerOp) > 0 {
		return &Rejection{Hook: h.addr, Reason: "deposit exceeds per-operation cap"}
	}
	if h.maxTotal != nil {
		next := new(big.Int).Add(h.approved, ctx.Assets)
		if next.Cmp(h.maxTotal) > 0 {
			return &Rejection{Hook: h.addr, Reason: "deposit exceeds aggregate cap"}
		}
		h.approved = next
	}
	return nil
}

func (h *CapacityHook) OnBeforeWithdraw(ctx *HookContext) error { return nil }
func (h *CapacityHook) OnBeforeTransfer(ctx *HookContext) error { return nil }

// CompositeHook aggregates child hooks and applies them in order, first
// rejection wins. Same ordered-evaluation algorithm as the pipeline.
type CompositeHook struct {
	addr     ethcommon.Address
	children []Hook
}

func NewCompositeHook(addr ethcommon.Address, children ...Hook) *CompositeHook {
	return &CompositeHook{addr: addr, children: children}
}

func (h *CompositeHook) Address() ethcommon.Address { return h.addr }

func (h *CompositeHook) OnBeforeDeposit(ctx *HookContext) error {
	for _, c := range h.children {
		if err := c.OnBeforeDeposit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *CompositeHook) OnBeforeWithdraw(ctx *HookContext) error {
	for _, c := range h.children {
		if err := c.OnBeforeWithdraw(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *CompositeHook) OnBeforeTransfer(ctx *HookContext) error {
	for _, c := range h.children {
		if err := c.OnBeforeTransfer(ctx); err != nil {
			return err
		}
	}
	return nil
}
