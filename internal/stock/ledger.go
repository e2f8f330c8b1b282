package stock

import (
	"context"
	"errors"
	"sort"
)

// qtyEpsilon absorbs float noise when comparing ledger quantities.
const qtyEpsilon = 1e-9

type balanceKey struct {
	kind Kind
	id   int64
}

// ledgerView holds the locked balances of one conversion. Every key the
// conversion reads or writes is locked up front, in a fixed global order, so
// two conversions over overlapping key sets serialize instead of deadlocking
// or jointly overdrawing a resource.
type ledgerView struct {
	tx       TxLedger
	balances map[balanceKey]*Balance
	dirty    map[balanceKey]bool
}

// lockAll acquires row locks for every key, sorted by ledger kind then
// resource id. Absent records enter the view with a zero balance; they are
// only persisted when credited.
func lockAll(ctx context.Context, tx TxLedger, keys []balanceKey) (*ledgerView, error) {
	ordered := make([]balanceKey, 0, len(keys))
	seen := make(map[balanceKey]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			ordered = append(ordered, k)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].kind.rank() != ordered[j].kind.rank() {
			return ordered[i].kind.rank() < ordered[j].kind.rank()
		}
		return ordered[i].id < ordered[j].id
	})

	view := &ledgerView{
		tx:       tx,
		balances: make(map[balanceKey]*Balance, len(ordered)),
		dirty:    make(map[balanceKey]bool),
	}
	for _, k := range ordered {
		bal, err := tx.GetBalanceForUpdate(ctx, k.kind, k.id)
		if err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return nil, err
		}
		copied := bal
		view.balances[k] = &copied
	}
	return view, nil
}

// available returns the current balance of a locked key.
func (v *ledgerView) available(kind Kind, id int64) float64 {
	if bal, ok := v.balances[balanceKey{kind, id}]; ok {
		return bal.Qty
	}
	return 0
}

// sufficient reports whether a locked key covers the required amount.
func (v *ledgerView) sufficient(kind Kind, id int64, required float64) bool {
	return v.available(kind, id)+qtyEpsilon >= required
}

// debit subtracts amount from a locked key, failing when the balance would go
// negative. The caller validates every requirement before the first debit, so
// a failure here means the validate phase was skipped.
func (v *ledgerView) debit(kind Kind, id int64, amount float64) error {
	k := balanceKey{kind, id}
	bal, ok := v.balances[k]
	if !ok || bal.Qty+qtyEpsilon < amount {
		return &InsufficientStockError{Kind: kind, ResourceID: id, Required: amount, Available: v.available(kind, id)}
	}
	bal.Qty -= amount
	if bal.Qty < 0 {
		bal.Qty = 0
	}
	v.dirty[k] = true
	return nil
}

// credit adds amount to a locked key, creating the record when absent.
func (v *ledgerView) credit(kind Kind, id int64, amount float64) {
	k := balanceKey{kind, id}
	bal, ok := v.balances[k]
	if !ok {
		bal = &Balance{Kind: kind, ResourceID: id}
		v.balances[k] = bal
	}
	bal.Qty += amount
	v.dirty[k] = true
}

// flush persists every mutated balance, in the same global order used for
// locking.
func (v *ledgerView) flush(ctx context.Context) error {
	keys := make([]balanceKey, 0, len(v.dirty))
	for k := range v.dirty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind.rank() != keys[j].kind.rank() {
			return keys[i].kind.rank() < keys[j].kind.rank()
		}
		return keys[i].id < keys[j].id
	})
	for _, k := range keys {
		if err := v.tx.UpsertBalance(ctx, *v.balances[k]); err != nil {
			return err
		}
	}
	return nil
}
