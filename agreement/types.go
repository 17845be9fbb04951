// Global agreement on types shared across the vault components.

package agreement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OperationTag is the category a hook list and its watermark are keyed by.
type OperationTag string

const (
	TagDeposit  OperationTag = "deposit"
	TagWithdraw OperationTag = "withdraw"
	TagTransfer OperationTag = "transfer"
)

// Role is the coarse permission a privileged entry point requires.
type Role string

const (
	RoleOwner    Role = "owner"    // policy changes (oracle deviation, forced completion)
	RoleOperator Role = "operator" // deposit resolution, managed redeem, signed withdrawal submission
	RoleUpdater  Role = "updater"  // oracle price updates
)

// ZeroAddress is the null identity used on mint/burn transfer paths.
var ZeroAddress = common.Address{}

// BatchTotals carries the aggregate numbers of a batch resolution.
type BatchTotals struct {
	Count       int
	TotalAssets *big.Int
}
