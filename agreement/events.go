package agreement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

// EventSink receives the domain events the core emits for audit.
// The default sink writes them to the log; callers may swap in their own.
type EventSink interface {
	Emit(ev Event)
}

type Event interface {
	Name() string
}

// HookAddedEvent fires when a hook is appended to a tag's pipeline.
type HookAddedEvent struct {
	Tag             OperationTag
	Hook            common.Address
	RegisteredAtSeq uint64
	Index           int
}

func (ev *HookAddedEvent) Name() string   { return "HookAdded" }
func (ev *HookAddedEvent) String() string { return fmt.Sprintf("%+v", *ev) }

type HookRemovedEvent struct {
	Tag   OperationTag
	Hook  common.Address
	Index int
}

func (ev *HookRemovedEvent) Name() string   { return "HookRemoved" }
func (ev *HookRemovedEvent) String() string { return fmt.Sprintf("%+v", *ev) }

type HookReorderedEvent struct {
	Tag      OperationTag
	NewOrder []int
}

func (ev *HookReorderedEvent) Name() string   { return "HookReordered" }
func (ev *HookReorderedEvent) String() string { return fmt.Sprintf("%+v", *ev) }

// DepositPendingEvent fires when a requested deposit enters escrow.
type DepositPendingEvent struct {
	ID          common.Hash
	Depositor   common.Address
	Recipient   common.Address
	AssetAmount *big.Int
	Round       uint64
}

func (ev *DepositPendingEvent) Name() string   { return "DepositPending" }
func (ev *DepositPendingEvent) String() string { return fmt.Sprintf("%+v", *ev) }

type DepositAcceptedEvent struct {
	ID          common.Hash
	Recipient   common.Address
	AssetAmount *big.Int
	Shares      *big.Int
	Round       uint64
}

func (ev *DepositAcceptedEvent) Name() string   { return "DepositAccepted" }
func (ev *DepositAcceptedEvent) String() string { return fmt.Sprintf("%+v", *ev) }

type DepositRefundedEvent struct {
	ID          common.Hash
	Depositor   common.Address
	AssetAmount *big.Int
	Round       uint64
}

func (ev *DepositRefundedEvent) Name() string   { return "DepositRefunded" }
func (ev *DepositRefundedEvent) String() string { return fmt.Sprintf("%+v", *ev) }

type DepositReclaimedEvent struct {
	ID          common.Hash
	Depositor   common.Address
	AssetAmount *big.Int
}

func (ev *DepositReclaimedEvent) Name() string   { return "DepositReclaimed" }
func (ev *DepositReclaimedEvent) String() string { return fmt.Sprintf("%+v", *ev) }

// BatchResolvedEvent fires once per operator batch accept/refund call
// with the aggregate totals of the batch.
type BatchResolvedEvent struct {
	Accepted bool
	Totals   BatchTotals
	Round    uint64
}

func (ev *BatchResolvedEvent) Name() string   { return "BatchResolved" }
func (ev *BatchResolvedEvent) String() string { return fmt.Sprintf("%+v", *ev) }

type PriceUpdateEvent struct {
	Round  uint64
	Target *big.Int
	Start  *big.Int
	Source string
}

func (ev *PriceUpdateEvent) Name() string   { return "PriceUpdate" }
func (ev *PriceUpdateEvent) String() string { return fmt.Sprintf("%+v", *ev) }

type PolicyChangeEvent struct {
	OldMaxDeviationBps uint64
	NewMaxDeviationBps uint64
	OldPeriodSeconds   uint64
	NewPeriodSeconds   uint64
}

func (ev *PolicyChangeEvent) Name() string   { return "PolicyChange" }
func (ev *PolicyChangeEvent) String() string { return fmt.Sprintf("%+v", *ev) }

type ForcedCompletionEvent struct {
	Price *big.Int
}

func (ev *ForcedCompletionEvent) Name() string   { return "ForcedCompletion" }
func (ev *ForcedCompletionEvent) String() string { return fmt.Sprintf("%+v", *ev) }

type WithdrawalExecutedEvent struct {
	Owner  common.Address
	To     common.Address
	Shares *big.Int
	Assets *big.Int
	Nonce  uint64
}

func (ev *WithdrawalExecutedEvent) Name() string   { return "WithdrawalExecuted" }
func (ev *WithdrawalExecutedEvent) String() string { return fmt.Sprintf("%+v", *ev) }

// LogSink is the default event sink. It writes each event as a
// structured log line.
type LogSink struct{}

func (s *LogSink) Emit(ev Event) {
	logger.WithFields(logger.Fields{
		"event":  ev.Name(),
		"detail": fmt.Sprintf("%v", ev),
	}).Info("domain event")
}

// CollectSink buffers events in memory. Used in tests.
type CollectSink struct {
	Events []Event
}

func (s *CollectSink) Emit(ev Event) {
	s.Events = append(s.Events, ev)
}

// Named returns the buffered events matching the given name.
func (s *CollectSink) Named(name string) []Event {
	var out []Event
	for _, ev := range s.Events {
		if ev.Name() == name {
			out = append(out, ev)
		}
	}
	return out
}
