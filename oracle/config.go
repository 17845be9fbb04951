package oracle

import (
	"errors"
	"math/big"
)

var (
	ErrCfgZeroPrice     = errors.New("initial price must be positive")
	ErrCfgZeroDeviation = errors.New("max deviation bps must be positive")
	ErrCfgZeroPeriod    = errors.New("period seconds must be positive")
)

type Config struct {
	// InitialPrice seeds the oracle when no persisted snapshot exists.
	InitialPrice *big.Int
	// MaxDeviationBps is the applied-change budget per rolling period.
	MaxDeviationBps uint64
	// PeriodSeconds is the length of the rolling period.
	PeriodSeconds uint64
}

func (cfg *Config) Validate() error {
	if cfg.InitialPrice == nil || cfg.InitialPrice.Sign() <= 0 {
		return ErrCfgZeroPrice
	}
	if cfg.MaxDeviationBps == 0 {
		return ErrCfgZeroDeviation
	}
	if cfg.PeriodSeconds == 0 {
		return ErrCfgZeroPeriod
	}
	return nil
}
