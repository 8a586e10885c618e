package raffle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolStatus advances Open -> AwaitingRandomness -> Resolved and never back.
type PoolStatus uint8

const (
	PoolOpen PoolStatus = iota
	PoolAwaitingRandomness
	PoolResolved
)

func (s PoolStatus) String() string {
	switch s {
	case PoolOpen:
		return "open"
	case PoolAwaitingRandomness:
		return "awaiting_randomness"
	case PoolResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

func (s PoolStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PoolStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "open":
		*s = PoolOpen
	case "awaiting_randomness":
		*s = PoolAwaitingRandomness
	case "resolved":
		*s = PoolResolved
	default:
		return fmt.Errorf("raffle: unknown pool status %q", b)
	}
	return nil
}

// Entry is an account's aggregated ticket count within one pool.
type Entry struct {
	Account common.Address `json:"account"`
	Tickets uint64         `json:"tickets"`
}

type pool struct {
	entries   []Entry
	byAccount map[common.Address]int
	tickets   uint64
	status    PoolStatus

	requestID     common.Hash
	randomness    *uint256.Int
	winningTicket uint64
	winner        common.Address
	claimed       bool
}

func newPool() *pool {
	return &pool{byAccount: make(map[common.Address]int)}
}

func (p *pool) add(account common.Address, n uint64) {
	if i, ok := p.byAccount[account]; ok {
		p.entries[i].Tickets += n
	} else {
		p.byAccount[account] = len(p.entries)
		p.entries = append(p.entries, Entry{Account: account, Tickets: n})
	}
	p.tickets += n
}

// ownerOf walks entries in purchase order and returns the holder of ticket
// index t, which must be below p.tickets.
func (p *pool) ownerOf(t uint64) common.Address {
	var upto uint64
	for _, e := range p.entries {
		upto += e.Tickets
		if t < upto {
			return e.Account
		}
	}
	return common.Address{}
}

// PoolView is the public view of a pool.
type PoolView struct {
	Index         int            `json:"index"`
	Capacity      uint64         `json:"capacity"`
	Tickets       uint64         `json:"tickets"`
	Participants  int            `json:"participants"`
	Status        PoolStatus     `json:"status"`
	RequestID     *common.Hash   `json:"requestId,omitempty"`
	Randomness    *uint256.Int   `json:"randomness,omitempty"`
	WinningTicket uint64         `json:"winningTicket"`
	Winner        common.Address `json:"winner"`
	Claimed       bool           `json:"claimed"`
	Entries       []Entry        `json:"entries"`
}

func (p *pool) view(index int, capacity uint64) PoolView {
	v := PoolView{
		Index:         index,
		Capacity:      capacity,
		Tickets:       p.tickets,
		Participants:  len(p.entries),
		Status:        p.status,
		WinningTicket: p.winningTicket,
		Winner:        p.winner,
		Claimed:       p.claimed,
		Entries:       append([]Entry(nil), p.entries...),
	}
	if p.status != PoolOpen {
		id := p.requestID
		v.RequestID = &id
	}
	if p.randomness != nil {
		v.Randomness = p.randomness.Clone()
	}
	return v
}
