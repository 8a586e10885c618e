package sale

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TierInfo describes one tier at the time of the query.
type TierInfo struct {
	Tier        uint8        `json:"tier"`
	Threshold   *uint256.Int `json:"threshold"`
	WeightBps   uint32       `json:"weightBps"`
	Registrants uint64       `json:"registrants"`
	Units       *uint256.Int `json:"units"`
	Price       *uint256.Int `json:"price"`
}

// Info is a read-only summary of the sale.
type Info struct {
	Address      common.Address `json:"address"`
	Owner        common.Address `json:"owner"`
	Phase        Phase          `json:"phase"`
	Initialized  bool           `json:"initialized"`
	Schedule     *Schedule      `json:"schedule,omitempty"`
	TotalUnits   *uint256.Int   `json:"totalUnits"`
	PricePerUnit *uint256.Int   `json:"pricePerUnit"`
	Tiers        []TierInfo     `json:"tiers"`
}

func (s *Sale) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Address:      s.address,
		Owner:        s.owner.Owner(),
		Phase:        s.phaseLocked(),
		Initialized:  s.initialized,
		TotalUnits:   s.cfg.TotalUnits.Clone(),
		PricePerUnit: s.cfg.PricePerUnit.Clone(),
		Tiers:        make([]TierInfo, 0, NumTiers),
	}
	if s.initialized {
		sched := ScheduleFor(s.start, s.cfg)
		info.Schedule = &sched
	}
	for i := 0; i < NumTiers; i++ {
		tier := uint8(i + 1)
		ti := TierInfo{
			Tier:        tier,
			Threshold:   s.cfg.Thresholds[i].Clone(),
			WeightBps:   s.cfg.WeightsBps[i],
			Registrants: s.registrants[i],
		}
		if units, price, err := s.quoteLocked(tier); err == nil {
			ti.Units, ti.Price = units, price
		}
		info.Tiers = append(info.Tiers, ti)
	}
	return info
}

// Snapshot is the persisted form of a sale's mutable state.
type Snapshot struct {
	Initialized  bool          `json:"initialized"`
	Start        int64         `json:"start"`
	Participants []Participant `json:"participants"`
}

// Snapshot captures settled registrations sorted by address. Registrations in
// flight are omitted.
func (s *Sale) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Initialized: s.initialized, Start: s.start, Participants: make([]Participant, 0, len(s.participants))}
	for addr, rec := range s.participants {
		if rec.pending {
			continue
		}
		p := Participant{Address: addr, Registered: true, Tier: rec.tier, Purchased: rec.purchased, Units: new(uint256.Int), Paid: new(uint256.Int)}
		if rec.units != nil {
			p.Units = rec.units.Clone()
		}
		if rec.paid != nil {
			p.Paid = rec.paid.Clone()
		}
		snap.Participants = append(snap.Participants, p)
	}
	sort.Slice(snap.Participants, func(i, j int) bool {
		return snap.Participants[i].Address.Cmp(snap.Participants[j].Address) < 0
	})
	return snap
}

// Restore replaces the sale state with snap.
func (s *Sale) Restore(snap Snapshot) error {
	participants := make(map[common.Address]*participant, len(snap.Participants))
	var registrants [NumTiers]uint64
	for _, p := range snap.Participants {
		if p.Tier < 1 || p.Tier > NumTiers {
			return fmt.Errorf("%w: participant %s tier %d", ErrInvalidTier, p.Address.Hex(), p.Tier)
		}
		if _, dup := participants[p.Address]; dup {
			return fmt.Errorf("%w: participant %s", ErrAlreadyRegistered, p.Address.Hex())
		}
		rec := &participant{tier: p.Tier, purchased: p.Purchased}
		if p.Units != nil {
			rec.units = p.Units.Clone()
		}
		if p.Paid != nil {
			rec.paid = p.Paid.Clone()
		}
		participants[p.Address] = rec
		registrants[p.Tier-1]++
	}

	s.mu.Lock()
	s.initialized = snap.Initialized
	s.start = snap.Start
	s.participants = participants
	s.registrants = registrants
	s.mu.Unlock()
	return nil
}
