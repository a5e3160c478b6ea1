package allocation

import (
	"context"
	"errors"

	"barcodeseq/internal/core/apperror"
	"barcodeseq/internal/core/sequence"
)

// block is the store mutation an allocation commits: move key from expected
// to expected+count and hand out the serials in between.
type block struct {
	key      sequence.Key
	expected int
	count    int
}

func (b block) next() int { return b.expected + b.count }

// planSimple decides the block for a prefix-only scope.
// current is nil when the prefix has never been used.
func planSimple(key sequence.Key, current *sequence.Record, count int) (block, error) {
	last := 0
	if current != nil {
		last = current.LastNumber
	}
	if count > sequence.MaxSerial-last {
		return block{}, apperror.NewRangeExhausted(key.String(), count).
			WithDetail("last_number", last)
	}
	return block{key: key, expected: last, count: count}, nil
}

// planCompound decides the block for a compound scope given its highest slot.
//
// A request never straddles two slots: when the active slot cannot hold the
// whole block, the entire block moves to the next slot, starting from 1.
// Past the mode's last slot the scope is exhausted.
func planCompound(prefix, week string, mode sequence.Mode, highest *sequence.Record, count int) (block, error) {
	firstSlot, lastSlot := mode.SlotRange()
	scope := sequence.CompoundKey(prefix, week, mode, firstSlot).String()

	if count > sequence.MaxSerial {
		return block{}, apperror.NewRangeExhausted(scope, count).
			WithDetail("max_per_slot", sequence.MaxSerial)
	}

	if highest == nil {
		return block{key: sequence.CompoundKey(prefix, week, mode, firstSlot), count: count}, nil
	}

	if count <= sequence.MaxSerial-highest.LastNumber {
		return block{key: highest.Key, expected: highest.LastNumber, count: count}, nil
	}

	nextSlot := highest.Key.Slot + 1
	if nextSlot > lastSlot {
		return block{}, apperror.NewRangeExhausted(highest.Key.String(), count).
			WithDetail("last_number", highest.LastNumber).
			WithDetail("last_slot", lastSlot)
	}
	return block{key: sequence.CompoundKey(prefix, week, mode, nextSlot), count: count}, nil
}

// allocateSimple runs one read-modify-write cycle for a simple scope.
func (e *Engine) allocateSimple(ctx context.Context, req Request) (Result, error) {
	key := sequence.SimpleKey(req.Prefix)

	var current *sequence.Record
	rec, err := e.store.Get(ctx, key)
	switch {
	case err == nil:
		current = &rec
	case errors.Is(err, sequence.ErrNotFound):
	default:
		return Result{}, storeError(key, err)
	}

	b, err := planSimple(key, current, req.Count)
	if err != nil {
		return Result{}, err
	}
	return e.commit(ctx, b)
}

// allocateCompound runs one read-modify-write cycle for a compound scope.
func (e *Engine) allocateCompound(ctx context.Context, req Request) (Result, error) {
	mode := req.mode()

	var highest *sequence.Record
	rec, err := e.store.Highest(ctx, req.Prefix, req.Week, mode)
	switch {
	case err == nil:
		highest = &rec
	case errors.Is(err, sequence.ErrNotFound):
	default:
		return Result{}, storeError(sequence.CompoundKey(req.Prefix, req.Week, mode, 0), err)
	}

	b, err := planCompound(req.Prefix, req.Week, mode, highest, req.Count)
	if err != nil {
		return Result{}, err
	}
	return e.commit(ctx, b)
}

func (e *Engine) commit(ctx context.Context, b block) (Result, error) {
	if err := e.store.Upsert(ctx, b.key, b.expected, b.next()); err != nil {
		return Result{}, storeError(b.key, err)
	}
	return newResult(b.key, b.expected+1, b.count), nil
}

func storeError(key sequence.Key, err error) error {
	if errors.Is(err, sequence.ErrConflict) {
		return apperror.NewConflict(key.String()).WithCause(err)
	}
	return apperror.NewStoreUnavailable(err).WithDetail("scope", key.String())
}
