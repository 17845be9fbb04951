// Simulated collaborators for tests and the demo server.
// They honor the interface contracts but keep everything in memory.

package agreement

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrRelayInsufficientBalance = errors.New("relay: insufficient balance")
	ErrRelayInvalidAmount       = errors.New("relay: amount must be positive")
)

// SimAuthOracle grants roles from a static map.
type SimAuthOracle struct {
	mu    sync.Mutex
	roles map[common.Address]map[Role]bool
}

func NewSimAuthOracle() *SimAuthOracle {
	return &SimAuthOracle{roles: make(map[common.Address]map[Role]bool)}
}

func (o *SimAuthOracle) Grant(addr common.Address, role Role) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.roles[addr] == nil {
		o.roles[addr] = make(map[Role]bool)
	}
	o.roles[addr][role] = true
}

func (o *SimAuthOracle) IsAuthorized(caller common.Address, role Role) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.roles[caller][role]
}

// SimAssetRelay keeps per-asset balances and moves them on Pull/Push.
type SimAssetRelay struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int // asset -> holder -> balance
}

func NewSimAssetRelay() *SimAssetRelay {
	return &SimAssetRelay{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

// Fund credits a holder out of thin air. Test setup only.
func (r *SimAssetRelay) Fund(asset, holder common.Address, amount *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credit(asset, holder, amount)
}

func (r *SimAssetRelay) BalanceOf(asset, holder common.Address) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.balances[asset][holder]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (r *SimAssetRelay) Pull(asset, from, to common.Address, amount *big.Int) error {
	return r.move(asset, from, to, amount)
}

func (r *SimAssetRelay) Push(asset, from, to common.Address, amount *big.Int) error {
	return r.move(asset, from, to, amount)
}

func (r *SimAssetRelay) move(asset, from, to common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrRelayInvalidAmount
	}

	bal, ok := r.balances[asset][from]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrRelayInsufficientBalance
	}

	bal.Sub(bal, amount)
	r.credit(asset, to, amount)
	return nil
}

func (r *SimAssetRelay) credit(asset, holder common.Address, amount *big.Int) {
	if r.balances[asset] == nil {
		r.balances[asset] = make(map[common.Address]*big.Int)
	}
	if r.balances[asset][holder] == nil {
		r.balances[asset][holder] = new(big.Int)
	}
	r.balances[asset][holder].Add(r.balances[asset][holder], amount)
}

// SimRegistry is a static allow-list of components.
type SimRegistry struct {
	mu     sync.Mutex
	listed map[common.Address]bool
}

func NewSimRegistry() *SimRegistry {
	return &SimRegistry{listed: make(map[common.Address]bool)}
}

func (r *SimRegistry) List(component common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listed[component] = true
}

func (r *SimRegistry) IsListed(component common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listed[component]
}

// RelayValuation values the vault at its custody balance on a
// simulated relay. Handy in tests where the pool is worth exactly what
// it holds.
type RelayValuation struct {
	Relay   *SimAssetRelay
	Asset   common.Address
	Custody common.Address
}

func (v *RelayValuation) TotalAssets() (*big.Int, error) {
	return v.Relay.BalanceOf(v.Asset, v.Custody), nil
}

// SimValuation reports a settable total-assets figure.
type SimValuation struct {
	mu    sync.Mutex
	total *big.Int
}

func NewSimValuation(total *big.Int) *SimValuation {
	return &SimValuation{total: new(big.Int).Set(total)}
}

func (v *SimValuation) Set(total *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.total.Set(total)
}

func (v *SimValuation) Add(delta *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.total.Add(v.total, delta)
}

func (v *SimValuation) TotalAssets() (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.total), nil
}
