package asset

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Balance struct {
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

type Allowance struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

// Snapshot is the persisted form of a ledger. The transfer journal is not
// included; sequence numbering resumes from Sequence.
type Snapshot struct {
	Symbol     string      `json:"symbol"`
	Sequence   uint64      `json:"sequence"`
	Balances   []Balance   `json:"balances"`
	Allowances []Allowance `json:"allowances,omitempty"`
}

// Snapshot captures non-zero balances and allowances in address order.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := Snapshot{Symbol: l.symbol, Sequence: l.seq}
	for addr, bal := range l.balances {
		if bal.IsZero() {
			continue
		}
		snap.Balances = append(snap.Balances, Balance{Account: addr, Amount: bal.Clone()})
	}
	for key, amt := range l.allowances {
		if amt.IsZero() {
			continue
		}
		snap.Allowances = append(snap.Allowances, Allowance{Owner: key.owner, Spender: key.spender, Amount: amt.Clone()})
	}
	sort.Slice(snap.Balances, func(i, j int) bool {
		return bytes.Compare(snap.Balances[i].Account[:], snap.Balances[j].Account[:]) < 0
	})
	sort.Slice(snap.Allowances, func(i, j int) bool {
		a, b := snap.Allowances[i], snap.Allowances[j]
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Spender[:], b.Spender[:]) < 0
	})
	return snap
}

// Restore replaces balances and allowances with snap and recomputes supply.
func (l *Ledger) Restore(snap Snapshot) error {
	balances := make(map[common.Address]*uint256.Int, len(snap.Balances))
	supply := new(uint256.Int)
	for _, b := range snap.Balances {
		amt := cloneAmount(b.Amount)
		next, overflow := new(uint256.Int).AddOverflow(supply, amt)
		if overflow {
			return ErrOverflow
		}
		supply = next
		balances[b.Account] = new(uint256.Int).Add(cloneAmount(balances[b.Account]), amt)
	}
	allowances := make(map[allowanceKey]*uint256.Int, len(snap.Allowances))
	for _, a := range snap.Allowances {
		allowances[allowanceKey{owner: a.Owner, spender: a.Spender}] = cloneAmount(a.Amount)
	}

	l.mu.Lock()
	l.balances = balances
	l.allowances = allowances
	l.supply = supply
	l.seq = snap.Sequence
	l.journal = nil
	l.mu.Unlock()
	return nil
}
