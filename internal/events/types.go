package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	TypeStaked        = "stake.staked"
	TypeUnstaked      = "stake.unstaked"
	TypeLockRaised    = "stake.lock_raised"
	TypeLockerAdded   = "stake.locker_added"
	TypeLockerRemoved = "stake.locker_removed"
	TypeHaltChanged   = "stake.halt_changed"

	TypeSaleInitialized    = "sale.initialized"
	TypeSaleRegistered     = "sale.registered"
	TypeSalePurchased      = "sale.purchased"
	TypeSaleDeliveryFailed = "sale.delivery_failed"

	TypeRaffleInitialized   = "raffle.initialized"
	TypeTicketsPurchased    = "raffle.tickets_purchased"
	TypeRandomnessRequested = "raffle.randomness_requested"
	TypePoolResolved        = "raffle.pool_resolved"
	TypeAllocationClaimed   = "raffle.allocation_claimed"

	TypeAssetRecovered = "admin.asset_recovered"
)

type Staked struct {
	Account common.Address
	Amount  *uint256.Int
	Total   *uint256.Int
}

func (Staked) EventType() string { return TypeStaked }

func (e Staked) Attributes() map[string]string {
	return map[string]string{
		"account": e.Account.Hex(),
		"amount":  formatAmount(e.Amount),
		"total":   formatAmount(e.Total),
	}
}

type Unstaked struct {
	Account common.Address
	Amount  *uint256.Int
	Total   *uint256.Int
}

func (Unstaked) EventType() string { return TypeUnstaked }

func (e Unstaked) Attributes() map[string]string {
	return map[string]string{
		"account": e.Account.Hex(),
		"amount":  formatAmount(e.Amount),
		"total":   formatAmount(e.Total),
	}
}

type LockRaised struct {
	Locker  common.Address
	Account common.Address
	Until   int64
}

func (LockRaised) EventType() string { return TypeLockRaised }

func (e LockRaised) Attributes() map[string]string {
	return map[string]string{
		"locker":  e.Locker.Hex(),
		"account": e.Account.Hex(),
		"until":   formatTime(e.Until),
	}
}

type LockerChanged struct {
	Locker common.Address
	Added  bool
}

func (e LockerChanged) EventType() string {
	if e.Added {
		return TypeLockerAdded
	}
	return TypeLockerRemoved
}

func (e LockerChanged) Attributes() map[string]string {
	return map[string]string{"locker": e.Locker.Hex()}
}

type HaltChanged struct {
	Halted bool
}

func (HaltChanged) EventType() string { return TypeHaltChanged }

func (e HaltChanged) Attributes() map[string]string {
	if e.Halted {
		return map[string]string{"halted": "true"}
	}
	return map[string]string{"halted": "false"}
}

type SaleInitialized struct {
	Sale  common.Address
	Start int64
}

func (SaleInitialized) EventType() string { return TypeSaleInitialized }

func (e SaleInitialized) Attributes() map[string]string {
	return map[string]string{
		"sale":  e.Sale.Hex(),
		"start": formatTime(e.Start),
	}
}

type SaleRegistered struct {
	Sale      common.Address
	Account   common.Address
	Tier      uint8
	LockUntil int64
}

func (SaleRegistered) EventType() string { return TypeSaleRegistered }

func (e SaleRegistered) Attributes() map[string]string {
	return map[string]string{
		"sale":      e.Sale.Hex(),
		"account":   e.Account.Hex(),
		"tier":      formatUint(uint64(e.Tier)),
		"lockUntil": formatTime(e.LockUntil),
	}
}

type SalePurchased struct {
	Sale    common.Address
	Account common.Address
	Tier    uint8
	Units   *uint256.Int
	Paid    *uint256.Int
}

func (SalePurchased) EventType() string { return TypeSalePurchased }

func (e SalePurchased) Attributes() map[string]string {
	return map[string]string{
		"sale":    e.Sale.Hex(),
		"account": e.Account.Hex(),
		"tier":    formatUint(uint64(e.Tier)),
		"units":   formatAmount(e.Units),
		"paid":    formatAmount(e.Paid),
	}
}

// SaleDeliveryFailed reports a purchase whose delivery and refund both
// failed. Paid stays with the sale until the owner reconciles it.
type SaleDeliveryFailed struct {
	Sale    common.Address
	Account common.Address
	Tier    uint8
	Paid    *uint256.Int
}

func (SaleDeliveryFailed) EventType() string { return TypeSaleDeliveryFailed }

func (e SaleDeliveryFailed) Attributes() map[string]string {
	return map[string]string{
		"sale":    e.Sale.Hex(),
		"account": e.Account.Hex(),
		"tier":    formatUint(uint64(e.Tier)),
		"paid":    formatAmount(e.Paid),
	}
}

type RaffleInitialized struct {
	Raffle common.Address
	Start  int64
}

func (RaffleInitialized) EventType() string { return TypeRaffleInitialized }

func (e RaffleInitialized) Attributes() map[string]string {
	return map[string]string{
		"raffle": e.Raffle.Hex(),
		"start":  formatTime(e.Start),
	}
}

// TicketsPurchased is emitted once per pool touched by a purchase, so a
// purchase that spills into the next pool produces two events.
type TicketsPurchased struct {
	Raffle  common.Address
	Account common.Address
	Pool    int
	Count   uint64
	Paid    *uint256.Int
}

func (TicketsPurchased) EventType() string { return TypeTicketsPurchased }

func (e TicketsPurchased) Attributes() map[string]string {
	return map[string]string{
		"raffle":  e.Raffle.Hex(),
		"account": e.Account.Hex(),
		"pool":    formatInt(int64(e.Pool)),
		"count":   formatUint(e.Count),
		"paid":    formatAmount(e.Paid),
	}
}

type RandomnessRequested struct {
	Raffle    common.Address
	Pool      int
	RequestID common.Hash
}

func (RandomnessRequested) EventType() string { return TypeRandomnessRequested }

func (e RandomnessRequested) Attributes() map[string]string {
	return map[string]string{
		"raffle":    e.Raffle.Hex(),
		"pool":      formatInt(int64(e.Pool)),
		"requestId": e.RequestID.Hex(),
	}
}

type PoolResolved struct {
	Raffle        common.Address
	Pool          int
	RequestID     common.Hash
	WinningTicket uint64
	Winner        common.Address
}

func (PoolResolved) EventType() string { return TypePoolResolved }

func (e PoolResolved) Attributes() map[string]string {
	return map[string]string{
		"raffle":        e.Raffle.Hex(),
		"pool":          formatInt(int64(e.Pool)),
		"requestId":     e.RequestID.Hex(),
		"winningTicket": formatUint(e.WinningTicket),
		"winner":        e.Winner.Hex(),
	}
}

type AllocationClaimed struct {
	Raffle  common.Address
	Pool    int
	Account common.Address
	Units   *uint256.Int
}

func (AllocationClaimed) EventType() string { return TypeAllocationClaimed }

func (e AllocationClaimed) Attributes() map[string]string {
	return map[string]string{
		"raffle":  e.Raffle.Hex(),
		"pool":    formatInt(int64(e.Pool)),
		"account": e.Account.Hex(),
		"units":   formatAmount(e.Units),
	}
}

type AssetRecovered struct {
	Instance common.Address
	Symbol   string
	To       common.Address
	Amount   *uint256.Int
}

func (AssetRecovered) EventType() string { return TypeAssetRecovered }

func (e AssetRecovered) Attributes() map[string]string {
	return map[string]string{
		"instance": e.Instance.Hex(),
		"symbol":   e.Symbol,
		"to":       e.To.Hex(),
		"amount":   formatAmount(e.Amount),
	}
}
