package hookpipe

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharebridge/vault-go/agreement"
	"github.com/sharebridge/vault-go/common"
)

// recordingHook approves or rejects every operation and counts calls.
type recordingHook struct {
	addr   ethcommon.Address
	reason string // non-empty = reject
	calls  int
}

func newRecordingHook(reason string) *recordingHook {
	return &recordingHook{addr: common.RandEthAddress(), reason: reason}
}

func (h *recordingHook) Address() ethcommon.Address { return h.addr }

func (h *recordingHook) run() error {
	h.calls++
	if h.reason != "" {
		return &Rejection{Hook: h.addr, Reason: h.reason}
	}
	return nil
}

func (h *recordingHook) OnBeforeDeposit(ctx *HookContext) error  { return h.run() }
func (h *recordingHook) OnBeforeWithdraw(ctx *HookContext) error { return h.run() }
func (h *recordingHook) OnBeforeTransfer(ctx *HookContext) error { return h.run() }

func depositCtx() *HookContext {
	return &HookContext{
		Actor:    common.RandEthAddress(),
		Receiver: common.RandEthAddress(),
		Assets:   big.NewInt(100),
		Shares:   big.NewInt(100),
	}
}

func TestRunAllOrderingAndShortCircuit(t *testing.T) {
	p := NewPipeline(nil)

	h0 := newRecordingHook("")
	h1 := newRecordingHook("blocked by policy")
	h2 := newRecordingHook("")

	require.NoError(t, p.AddHook(agreement.TagDeposit, h0))
	require.NoError(t, p.AddHook(agreement.TagDeposit, h1))
	require.NoError(t, p.AddHook(agreement.TagDeposit, h2))

	err := p.RunAll(agreement.TagDeposit, depositCtx())
	require.Error(t, err)

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "blocked by policy", rej.Reason)
	assert.Equal(t, h1.addr, rej.Hook)

	// hooks after the rejecting one never run
	assert.Equal(t, 1, h0.calls)
	assert.Equal(t, 1, h1.calls)
	assert.Equal(t, 0, h2.calls)
}

func TestRunAllApprovesWhenAllPass(t *testing.T) {
	p := NewPipeline(nil)
	h0 := newRecordingHook("")
	h1 := newRecordingHook("")
	require.NoError(t, p.AddHook(agreement.TagWithdraw, h0))
	require.NoError(t, p.AddHook(agreement.TagWithdraw, h1))

	assert.NoError(t, p.RunAll(agreement.TagWithdraw, depositCtx()))
	assert.Equal(t, 1, h0.calls)
	assert.Equal(t, 1, h1.calls)
}

func TestAddNilHook(t *testing.T) {
	p := NewPipeline(nil)
	assert.ErrorIs(t, p.AddHook(agreement.TagDeposit, nil), ErrNilHook)
}

func TestRemoveHookWatermarkSafety(t *testing.T) {
	p := NewPipeline(nil)

	early := newRecordingHook("")
	require.NoError(t, p.AddHook(agreement.TagDeposit, early))

	// removable before any deposit executed
	require.NoError(t, p.RemoveHook(agreement.TagDeposit, 0))
	require.NoError(t, p.AddHook(agreement.TagDeposit, early))

	// one deposit executes, the hook is frozen in
	p.MarkExecuted(agreement.TagDeposit)
	assert.ErrorIs(t, p.RemoveHook(agreement.TagDeposit, 0), ErrHookInUse)

	// a hook registered after the execution is still removable
	late := newRecordingHook("")
	require.NoError(t, p.AddHook(agreement.TagDeposit, late))
	require.NoError(t, p.RemoveHook(agreement.TagDeposit, 1))

	// the watermark is per tag: withdraw hooks are unaffected
	wh := newRecordingHook("")
	require.NoError(t, p.AddHook(agreement.TagWithdraw, wh))
	require.NoError(t, p.RemoveHook(agreement.TagWithdraw, 0))
}

func TestRemoveHookOutOfBounds(t *testing.T) {
	p := NewPipeline(nil)
	assert.ErrorIs(t, p.RemoveHook(agreement.TagDeposit, 0), ErrIndexOutOfBounds)
	require.NoError(t, p.AddHook(agreement.TagDeposit, newRecordingHook("")))
	assert.ErrorIs(t, p.RemoveHook(agreement.TagDeposit, -1), ErrIndexOutOfBounds)
	assert.ErrorIs(t, p.RemoveHook(agreement.TagDeposit, 1), ErrIndexOutOfBounds)
}

func TestRemoveHookSwapWithLast(t *testing.T) {
	p := NewPipeline(nil)
	h0 := newRecordingHook("")
	h1 := newRecordingHook("")
	h2 := newRecordingHook("")
	require.NoError(t, p.AddHook(agreement.TagDeposit, h0))
	require.NoError(t, p.AddHook(agreement.TagDeposit, h1))
	require.NoError(t, p.AddHook(agreement.TagDeposit, h2))

	require.NoError(t, p.RemoveHook(agreement.TagDeposit, 0))

	list := p.ListHooks(agreement.TagDeposit)
	require.Len(t, list, 2)
	assert.Equal(t, h2.addr, list[0].Hook.Address())
	assert.Equal(t, h1.addr, list[1].Hook.Address())
}

func TestReorderValidation(t *testing.T) {
	p := NewPipeline(nil)
	h0 := newRecordingHook("first rejects")
	h1 := newRecordingHook("")
	require.NoError(t, p.AddHook(agreement.TagDeposit, h0))
	require.NoError(t, p.AddHook(agreement.TagDeposit, h1))

	assert.ErrorIs(t, p.Reorder(agreement.TagDeposit, []int{0}), ErrOrderWrongLength)
	assert.ErrorIs(t, p.Reorder(agreement.TagDeposit, []int{0, 2}), ErrOrderIndexOutOfBounds)
	assert.ErrorIs(t, p.Reorder(agreement.TagDeposit, []int{1, 1}), ErrOrderDuplicateIndex)

	require.NoError(t, p.Reorder(agreement.TagDeposit, []int{1, 0}))

	// h1 now runs first, approves, then h0 rejects
	err := p.RunAll(agreement.TagDeposit, depositCtx())
	require.Error(t, err)
	assert.Equal(t, 1, h1.calls)
	assert.Equal(t, 1, h0.calls)
}

func TestDuplicateHookEntriesAccepted(t *testing.T) {
	p := NewPipeline(nil)
	h := newRecordingHook("")
	require.NoError(t, p.AddHook(agreement.TagDeposit, h))
	require.NoError(t, p.AddHook(agreement.TagDeposit, h))

	require.NoError(t, p.RunAll(agreement.TagDeposit, depositCtx()))
	assert.Equal(t, 2, h.calls)
}

func TestWatermarkAdvances(t *testing.T) {
	p := NewPipeline(nil)
	assert.Equal(t, uint64(0), p.Watermark(agreement.TagDeposit))

	p.MarkExecuted(agreement.TagDeposit)
	assert.Equal(t, uint64(1), p.Watermark(agreement.TagDeposit))
	assert.Equal(t, uint64(0), p.Watermark(agreement.TagWithdraw))

	p.MarkExecuted(agreement.TagWithdraw)
	assert.Equal(t, uint64(2), p.Watermark(agreement.TagWithdraw))
	assert.Equal(t, uint64(1), p.Watermark(agreement.TagDeposit))
}

func TestPipelineEvents(t *testing.T) {
	sink := &agreement.CollectSink{}
	p := NewPipeline(sink)

	h := newRecordingHook("")
	require.NoError(t, p.AddHook(agreement.TagDeposit, h))
	require.NoError(t, p.Reorder(agreement.TagDeposit, []int{0}))
	require.NoError(t, p.RemoveHook(agreement.TagDeposit, 0))

	assert.Len(t, sink.Named("HookAdded"), 1)
	assert.Len(t, sink.Named("HookReordered"), 1)
	assert.Len(t, sink.Named("HookRemoved"), 1)
}
