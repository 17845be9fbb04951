package hookpipe

import (
	"errors"
	"sync"

	logger "github.com/sirupsen/logrus"

	"github.com/sharebridge/vault-go/agreement"
)

var (
	ErrNilHook               = errors.New("hook reference is nil")
	ErrIndexOutOfBounds      = errors.New("hook index out of bounds")
	ErrHookInUse             = errors.New("hook has gated an executed operation and cannot be removed")
	ErrOrderWrongLength      = errors.New("new order length does not match hook count")
	ErrOrderIndexOutOfBounds = errors.New("new order contains an out-of-bounds index")
	ErrOrderDuplicateIndex   = errors.New("new order contains a duplicate index")
)

// Entry is one hook registration. RegisteredAtSeq is the sequence number
// of the first operation the hook could have gated; a hook is removable
// only while the tag's watermark is still below it.
type Entry struct {
	Hook            Hook
	RegisteredAtSeq uint64
}

// Pipeline keeps one ordered, mutable hook list per operation tag, plus
// a per-tag watermark of the last executed operation sequence. The
// watermark freezes removal eligibility: the filter set that governed a
// completed operation can never be retroactively thinned out.
type Pipeline struct {
	mu         sync.Mutex
	sink       agreement.EventSink
	seq        uint64 // completed operation count, all tags
	entries    map[agreement.OperationTag][]Entry
	watermarks map[agreement.OperationTag]uint64
}

func NewPipeline(sink agreement.EventSink) *Pipeline {
	if sink == nil {
		sink = &agreement.LogSink{}
	}
	return &Pipeline{
		sink:       sink,
		entries:    make(map[agreement.OperationTag][]Entry),
		watermarks: make(map[agreement.OperationTag]uint64),
	}
}

// AddHook appends a hook to the tag's list, stamped with the next
// operation sequence. Duplicate references are accepted as-is.
func (p *Pipeline) AddHook(tag agreement.OperationTag, h Hook) error {
	if h == nil {
		return ErrNilHook
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry := Entry{Hook: h, RegisteredAtSeq: p.seq + 1}
	p.entries[tag] = append(p.entries[tag], entry)

	p.sink.Emit(&agreement.HookAddedEvent{
		Tag:             tag,
		Hook:            h.Address(),
		RegisteredAtSeq: entry.RegisteredAtSeq,
		Index:           len(p.entries[tag]) - 1,
	})
	return nil
}

// RemoveHook removes the entry at index via swap-with-last-and-truncate.
// Removal is refused once any operation of the tag has executed at or
// after the entry's registration.
func (p *Pipeline) RemoveHook(tag agreement.OperationTag, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.entries[tag]
	if index < 0 || index >= len(list) {
		return ErrIndexOutOfBounds
	}

	entry := list[index]
	if p.watermarks[tag] >= entry.RegisteredAtSeq {
		return ErrHookInUse
	}

	last := len(list) - 1
	list[index] = list[last]
	p.entries[tag] = list[:last]

	p.sink.Emit(&agreement.HookRemovedEvent{
		Tag:   tag,
		Hook:  entry.Hook.Address(),
		Index: index,
	})
	return nil
}

// Reorder rearranges the tag's list. newOrder[i] is the old index that
// now sits at position i; it must be a permutation of the current
// indices.
func (p *Pipeline) Reorder(tag agreement.OperationTag, newOrder []int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.entries[tag]
	if len(newOrder) != len(list) {
		return ErrOrderWrongLength
	}

	seen := make(map[int]bool, len(newOrder))
	for _, old := range newOrder {
		if old < 0 || old >= len(list) {
			return ErrOrderIndexOutOfBounds
		}
		if seen[old] {
			return ErrOrderDuplicateIndex
		}
		seen[old] = true
	}

	reordered := make([]Entry, len(list))
	for i, old := range newOrder {
		reordered[i] = list[old]
	}
	p.entries[tag] = reordered

	p.sink.Emit(&agreement.HookReorderedEvent{Tag: tag, NewOrder: newOrder})
	return nil
}

// ListHooks returns a copy of the tag's ordered entries.
func (p *Pipeline) ListHooks(tag agreement.OperationTag) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Entry, len(p.entries[tag]))
	copy(out, p.entries[tag])
	return out
}

// RunAll evaluates the tag's hooks strictly in order. The first
// rejection short-circuits and is returned; nil means all approved.
// Hooks run outside the pipeline lock so a hook may inspect the
// pipeline without deadlocking.
func (p *Pipeline) RunAll(tag agreement.OperationTag, ctx *HookContext) error {
	p.mu.Lock()
	list := make([]Entry, len(p.entries[tag]))
	copy(list, p.entries[tag])
	p.mu.Unlock()

	ctx.Tag = tag
	for _, entry := range list {
		if err := dispatch(entry.Hook, ctx); err != nil {
			logger.WithFields(logger.Fields{
				"tag":  tag,
				"hook": entry.Hook.Address().Hex(),
			}).Debugf("hook rejected operation: %v", err)
			return err
		}
	}
	return nil
}

// MarkExecuted advances the global sequence and the tag's watermark.
// Called by the vault after every successful operation of the tag.
func (p *Pipeline) MarkExecuted(tag agreement.OperationTag) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	p.watermarks[tag] = p.seq
}

// Watermark returns the last executed operation sequence for the tag.
func (p *Pipeline) Watermark(tag agreement.OperationTag) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermarks[tag]
}

// Sequence returns the global completed-operation count.
func (p *Pipeline) Sequence() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}
