package withdrawauth

import (
	"errors"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/sharebridge/vault-go/agreement"
	"github.com/sharebridge/vault-go/vault"
)

var (
	ErrUnauthorized             = errors.New("caller is not authorized")
	ErrEmptyBatch               = errors.New("batch contains no requests")
	ErrWithdrawalRequestExpired = errors.New("withdrawal request expired")
	ErrWithdrawNonceReuse       = errors.New("withdrawal nonce already used")
	ErrWithdrawInvalidSignature = errors.New("withdrawal signature invalid")
)

// Executor settles owner-signed withdrawal requests submitted by the
// operator. Nonces are single use per owner; a batch is all-or-nothing
// and aborts on the first failing entry.
type Executor struct {
	domain *Domain
	mu     sync.Mutex
	db     *NonceDB
	vault  *vault.ManagedVault
	auth   agreement.AuthOracle
	sink   agreement.EventSink

	nowFn func() int64
}

func NewExecutor(domain *Domain, db *NonceDB, mv *vault.ManagedVault, auth agreement.AuthOracle, sink agreement.EventSink) *Executor {
	if sink == nil {
		sink = &agreement.LogSink{}
	}
	return &Executor{
		domain: domain,
		db:     db,
		vault:  mv,
		auth:   auth,
		sink:   sink,
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

func (x *Executor) Domain() *Domain { return x.domain }

// IsNonceUsed reports whether the owner's nonce has been consumed.
func (x *Executor) IsNonceUsed(owner ethcommon.Address, nonce uint64) (bool, error) {
	return x.db.IsUsed(owner, nonce)
}

// Execute settles a single signed request.
func (x *Executor) Execute(caller ethcommon.Address, req *WithdrawalRequest, sig []byte) (*big.Int, error) {
	assets, err := x.ExecuteBatch(caller, []*SignedRequest{{Request: req, Signature: sig}})
	if err != nil {
		return nil, err
	}
	return assets[0], nil
}

// ExecuteBatch validates every entry before anything settles: expiry,
// then nonce freshness (including duplicates within the batch), then
// signature recovery against the owner. Nonces are consumed in one
// transaction that commits only after every redemption succeeds.
func (x *Executor) ExecuteBatch(caller ethcommon.Address, batch []*SignedRequest) ([]*big.Int, error) {
	if !x.auth.IsAuthorized(caller, agreement.RoleOperator) {
		return nil, ErrUnauthorized
	}
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.nowFn()

	type nonceKey struct {
		owner ethcommon.Address
		nonce uint64
	}
	seen := make(map[nonceKey]bool, len(batch))
	for _, entry := range batch {
		req := entry.Request
		if req.ExpirationTime < now {
			return nil, ErrWithdrawalRequestExpired
		}

		key := nonceKey{req.Owner, req.Nonce}
		if seen[key] {
			return nil, ErrWithdrawNonceReuse
		}
		used, err := x.db.IsUsed(req.Owner, req.Nonce)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, ErrWithdrawNonceReuse
		}
		seen[key] = true

		signer, err := RecoverSigner(x.domain.Digest(req), entry.Signature)
		if err != nil {
			return nil, err
		}
		if signer != req.Owner {
			return nil, ErrWithdrawInvalidSignature
		}
	}

	tx, err := x.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for _, entry := range batch {
		if err := x.db.markUsed(tx, entry.Request.Owner, entry.Request.Nonce, now); err != nil {
			return nil, err
		}
	}

	// one all-or-nothing vault call: if any entry cannot settle, no
	// entry settles and the rollback frees every nonce again
	shares := make([]*big.Int, len(batch))
	receivers := make([]ethcommon.Address, len(batch))
	owners := make([]ethcommon.Address, len(batch))
	minAssets := make([]*big.Int, len(batch))
	for i, entry := range batch {
		shares[i] = entry.Request.Shares
		receivers[i] = entry.Request.To
		owners[i] = entry.Request.Owner
		minAssets[i] = entry.Request.MinAssets
	}
	out, err := x.vault.BatchRedeem(caller, shares, receivers, owners, minAssets)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i, entry := range batch {
		req := entry.Request
		x.sink.Emit(&agreement.WithdrawalExecutedEvent{
			Owner:  req.Owner,
			To:     req.To,
			Shares: req.Shares,
			Assets: out[i],
			Nonce:  req.Nonce,
		})
	}

	logger.WithFields(logger.Fields{
		"count": len(batch),
	}).Info("signed withdrawals executed")
	return out, nil
}
