package agreement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AuthOracle answers whether a caller carries a required role.
// The concrete role/permission bitmask checker lives outside this module.
type AuthOracle interface {
	IsAuthorized(caller common.Address, role Role) bool
}

// AssetRelay is the guarded transfer relay that moves the underlying
// asset between custody accounts. Pull moves assets from a holder into
// a custody address, Push releases them out of custody. The relay is
// expected to restrict recognized callers and destinations on its own.
type AssetRelay interface {
	Pull(asset common.Address, from common.Address, to common.Address, amount *big.Int) error
	Push(asset common.Address, from common.Address, to common.Address, amount *big.Int) error
}

// ComponentRegistry answers allow-list membership of components that may
// use privileged vault entry points (e.g. the escrow's mint callback).
type ComponentRegistry interface {
	IsListed(component common.Address) bool
}

// ValuationSource feeds the vault's total-assets computation.
// The price transition oracle's Report() is one concrete instance,
// decodable as a single unsigned integer.
type ValuationSource interface {
	TotalAssets() (*big.Int, error)
}
