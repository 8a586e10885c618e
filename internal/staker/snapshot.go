package staker

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Snapshot is the persisted form of the ledger state.
type Snapshot struct {
	Halted   bool             `json:"halted"`
	Lockers  []common.Address `json:"lockers"`
	Accounts []Account        `json:"accounts"`
}

// Snapshot captures the ledger state with accounts sorted by address.
func (l *Ledger) Snapshot() Snapshot {
	lockers := l.Lockers()

	l.mu.Lock()
	defer l.mu.Unlock()
	snap := Snapshot{Halted: l.halted, Lockers: lockers, Accounts: make([]Account, 0, len(l.positions))}
	for addr, pos := range l.positions {
		snap.Accounts = append(snap.Accounts, Account{Address: addr, Staked: pos.staked.Clone(), LockUntil: pos.lockUntil})
	}
	sort.Slice(snap.Accounts, func(i, j int) bool {
		return snap.Accounts[i].Address.Cmp(snap.Accounts[j].Address) < 0
	})
	return snap
}

// Restore replaces the ledger state with snap. It does not move tokens; the
// custody balance is expected to match the restored total.
func (l *Ledger) Restore(snap Snapshot) error {
	positions := make(map[common.Address]*position, len(snap.Accounts))
	total := new(uint256.Int)
	for _, acc := range snap.Accounts {
		staked := new(uint256.Int)
		if acc.Staked != nil {
			staked = acc.Staked.Clone()
		}
		next, overflow := new(uint256.Int).AddOverflow(total, staked)
		if overflow {
			return ErrOverflow
		}
		total = next
		positions[acc.Address] = &position{staked: staked, lockUntil: acc.LockUntil}
	}
	lockers := make(map[common.Address]struct{}, len(snap.Lockers))
	for _, addr := range snap.Lockers {
		lockers[addr] = struct{}{}
	}

	l.mu.Lock()
	l.positions = positions
	l.lockers = lockers
	l.halted = snap.Halted
	l.total = total
	l.mu.Unlock()
	return nil
}
