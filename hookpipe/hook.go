package hookpipe

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/sharebridge/vault-go/agreement"
)

// Hook is a pluggable validator consulted before a balance-changing
// operation. A hook approves by returning nil and rejects by returning
// a *Rejection carrying its business reason. Hooks may keep their own
// state (e.g. an allow list); the pipeline itself never mutates vault
// state during evaluation.
//
// Transfer hooks are also invoked on mint and burn paths, where the
// sender or the receiver is the zero address. Implementations must
// tolerate the null identity there.
type Hook interface {
	Address() ethcommon.Address
	OnBeforeDeposit(ctx *HookContext) error
	OnBeforeWithdraw(ctx *HookContext) error
	OnBeforeTransfer(ctx *HookContext) error
}

// HookContext carries the parameters of the gated operation.
// Owner is only set on the withdraw path.
type HookContext struct {
	Tag      agreement.OperationTag
	Actor    ethcommon.Address
	Receiver ethcommon.Address
	Owner    ethcommon.Address
	Assets   *big.Int
	Shares   *big.Int
}

// Rejection is the error a hook returns to veto an operation.
// The reason travels verbatim to the caller of the gated operation.
type Rejection struct {
	Hook   ethcommon.Address
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("hook %s rejected: %s", r.Hook.Hex(), r.Reason)
}

func dispatch(h Hook, ctx *HookContext) error {
	switch ctx.Tag {
	case agreement.TagDeposit:
		return h.OnBeforeDeposit(ctx)
	case agreement.TagWithdraw:
		return h.OnBeforeWithdraw(ctx)
	case agreement.TagTransfer:
		return h.OnBeforeTransfer(ctx)
	default:
		return &Rejection{Hook: h.Address(), Reason: "unknown operation tag"}
	}
}
