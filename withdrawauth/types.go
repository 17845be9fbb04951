package withdrawauth

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sharebridge/vault-go/common"
)

// WithdrawalRequest is the off-chain signed authorization to redeem
// shares on the owner's behalf.
type WithdrawalRequest struct {
	Owner          ethcommon.Address
	To             ethcommon.Address
	Shares         *big.Int
	MinAssets      *big.Int
	Nonce          uint64
	ExpirationTime int64
}

// SignedRequest pairs a request with its 65-byte [R || S || V]
// signature.
type SignedRequest struct {
	Request   *WithdrawalRequest
	Signature []byte
}

// Domain binds signatures to one deployment: same request signed for a
// different vault or chain produces a different digest.
type Domain struct {
	Name     string
	Version  string
	ChainID  *big.Int
	Contract ethcommon.Address
}

func (d *Domain) Separator() ethcommon.Hash {
	return crypto.Keccak256Hash(common.EncodePacked(
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		d.ChainID,
		d.Contract,
	))
}

// Digest computes the signing digest for a request under the domain.
func (d *Domain) Digest(req *WithdrawalRequest) ethcommon.Hash {
	structHash := crypto.Keccak256Hash(common.EncodePacked(
		req.Owner,
		req.To,
		req.Shares,
		req.MinAssets,
		req.Nonce,
		req.ExpirationTime,
	))
	return crypto.Keccak256Hash(common.EncodePacked(
		[]byte{0x19, 0x01},
		d.Separator(),
		structHash,
	))
}

// RecoverSigner recovers the signing address from a 65-byte signature
// over the digest. Both the 0/1 and the 27/28 recovery id conventions
// are accepted.
func RecoverSigner(digest ethcommon.Hash, sig []byte) (ethcommon.Address, error) {
	if len(sig) != 65 {
		return ethcommon.Address{}, ErrWithdrawInvalidSignature
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return ethcommon.Address{}, ErrWithdrawInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}
