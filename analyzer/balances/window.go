package balances

import "github.com/oasisprotocol/nexus-ledger/common"

// Window accumulates the accounts touched since the last reconciliation,
// in first-seen order.
type Window struct {
	seen map[string]struct{}
	ids  []common.AccountID
}

func NewWindow() *Window {
	return &Window{seen: map[string]struct{}{}}
}

func (w *Window) Add(ids ...common.AccountID) {
	for _, id := range ids {
		if _, ok := w.seen[string(id)]; ok {
			continue
		}
		w.seen[string(id)] = struct{}{}
		w.ids = append(w.ids, id)
	}
}

func (w *Window) IDs() []common.AccountID {
	return w.ids
}

func (w *Window) Len() int {
	return len(w.ids)
}

func (w *Window) Clear() {
	w.seen = map[string]struct{}{}
	w.ids = nil
}
