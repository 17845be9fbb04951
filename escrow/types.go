package escrow

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sharebridge/vault-go/common"
)

type DepositState string

const (
	DepositStatePending  DepositState = "pending"  // waiting for operator decision
	DepositStateAccepted DepositState = "accepted" // operator accepted, shares minted
	DepositStateRefunded DepositState = "refunded" // operator rejected or depositor reclaimed
)

// PendingDeposit is the full lifecycle record of one escrowed deposit.
// Terminal states (accepted, refunded) are immutable.
type PendingDeposit struct {
	ID              ethcommon.Hash
	Depositor       ethcommon.Address
	Recipient       ethcommon.Address
	AssetAmount     *big.Int
	CreatedAt       int64
	ExpirationTime  int64
	State           DepositState
	RoundAtCreation uint64
}

func (d *PendingDeposit) Clone() *PendingDeposit {
	clone := *d
	clone.AssetAmount = new(big.Int).Set(d.AssetAmount)
	return &clone
}

// DeriveDepositID builds the deposit identifier. A strictly monotonic
// per-depositor counter is mixed into the digest so two requests with
// identical parameters in the same second still get distinct ids.
func DeriveDepositID(depositor, recipient ethcommon.Address, amount *big.Int, createdAt int64, vaultAddr ethcommon.Address, counter uint64) ethcommon.Hash {
	return crypto.Keccak256Hash(common.EncodePacked(
		depositor,
		recipient,
		amount,
		createdAt,
		vaultAddr,
		counter,
	))
}

type JSONDeposit struct {
	ID              string `json:"id"`
	Depositor       string `json:"depositor"`
	Recipient       string `json:"recipient"`
	AssetAmount     string `json:"asset_amount"`
	CreatedAt       int64  `json:"created_at"`
	ExpirationTime  int64  `json:"expiration_time"`
	State           string `json:"state"`
	RoundAtCreation uint64 `json:"round_at_creation"`
}

func (d *PendingDeposit) JSONView() *JSONDeposit {
	return &JSONDeposit{
		ID:              d.ID.String(),
		Depositor:       d.Depositor.Hex(),
		Recipient:       d.Recipient.Hex(),
		AssetAmount:     common.BigIntToHexStr(d.AssetAmount),
		CreatedAt:       d.CreatedAt,
		ExpirationTime:  d.ExpirationTime,
		State:           string(d.State),
		RoundAtCreation: d.RoundAtCreation,
	}
}
