package raffle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolSnapshot is the persisted form of one pool.
type PoolSnapshot struct {
	Entries       []Entry        `json:"entries"`
	Status        PoolStatus     `json:"status"`
	RequestID     common.Hash    `json:"requestId"`
	Randomness    *uint256.Int   `json:"randomness,omitempty"`
	WinningTicket uint64         `json:"winningTicket"`
	Winner        common.Address `json:"winner"`
	Claimed       bool           `json:"claimed"`
}

// Snapshot is the persisted form of a raffle's mutable state.
type Snapshot struct {
	Initialized bool           `json:"initialized"`
	Start       int64          `json:"start"`
	Pools       []PoolSnapshot `json:"pools"`
}

func (r *Raffle) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{Initialized: r.initialized, Start: r.start, Pools: make([]PoolSnapshot, 0, len(r.pools))}
	for _, p := range r.pools {
		status := p.status
		if status == PoolAwaitingRandomness && p.requestID == (common.Hash{}) {
			status = PoolOpen
		}
		ps := PoolSnapshot{
			Entries:       append([]Entry(nil), p.entries...),
			Status:        status,
			RequestID:     p.requestID,
			WinningTicket: p.winningTicket,
			Winner:        p.winner,
			Claimed:       p.claimed,
		}
		if p.randomness != nil {
			ps.Randomness = p.randomness.Clone()
		}
		snap.Pools = append(snap.Pools, ps)
	}
	return snap
}

// Restore rebuilds pools, the request table and per-account counters from
// snap. A pool restored as AwaitingRandomness still accepts its fulfillment.
func (r *Raffle) Restore(snap Snapshot) error {
	pools := make([]*pool, 0, len(snap.Pools))
	requests := make(map[common.Hash]int)
	perAccount := make(map[common.Address]uint64)
	var sold uint64
	for i, ps := range snap.Pools {
		p := newPool()
		for _, e := range ps.Entries {
			p.add(e.Account, e.Tickets)
			perAccount[e.Account] += e.Tickets
		}
		if p.tickets > r.cfg.PoolCapacity {
			return fmt.Errorf("%w: pool %d holds %d tickets", ErrCapacityExceeded, i, p.tickets)
		}
		p.status = ps.Status
		p.requestID = ps.RequestID
		// A draw without a recorded id can never be fulfilled; reopen it.
		if p.status == PoolAwaitingRandomness && p.requestID == (common.Hash{}) {
			p.status = PoolOpen
		}
		p.winningTicket = ps.WinningTicket
		p.winner = ps.Winner
		p.claimed = ps.Claimed
		if ps.Randomness != nil {
			p.randomness = ps.Randomness.Clone()
		}
		if p.status != PoolOpen {
			requests[p.requestID] = i
		}
		sold += p.tickets
		pools = append(pools, p)
	}
	if sold > r.cfg.MaxTickets() {
		return fmt.Errorf("%w: %d tickets sold", ErrCapacityExceeded, sold)
	}

	r.mu.Lock()
	r.initialized = snap.Initialized
	r.start = snap.Start
	r.pools = pools
	r.requests = requests
	r.perAccount = perAccount
	r.ticketsSold = sold
	r.reserved = 0
	r.mu.Unlock()
	return nil
}

// PendingDraw is a randomness request issued but not yet fulfilled.
type PendingDraw struct {
	Pool      int
	RequestID common.Hash
	Seed      common.Hash
}

// PendingDraws lists pools awaiting randomness in pool order. After a restore
// the randomness source has to be told about them again.
func (r *Raffle) PendingDraws() []PendingDraw {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PendingDraw
	for i, p := range r.pools {
		if p.status != PoolAwaitingRandomness || p.requestID == (common.Hash{}) {
			continue
		}
		out = append(out, PendingDraw{Pool: i, RequestID: p.requestID, Seed: r.seed(i)})
	}
	return out
}
