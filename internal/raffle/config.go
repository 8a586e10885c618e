package raffle

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// DefaultPoolCapacity is the number of ticket slots per pool.
const DefaultPoolCapacity = 30

// Config is the immutable configuration of a raffle instance.
type Config struct {
	// TotalUnits is the amount of sale asset on offer, in its smallest unit.
	TotalUnits *uint256.Int
	// UnitSize is the sale asset amount backing one ticket.
	UnitSize *uint256.Int
	// TotalPrice is the stake asset amount the whole offer costs.
	TotalPrice *uint256.Int
	// MinStake is the staked balance a buyer must hold.
	MinStake *uint256.Int

	PoolCapacity uint64
	TicketWindow time.Duration
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.TotalUnits == nil || c.UnitSize == nil || c.UnitSize.IsZero() {
		return fmt.Errorf("%w: total units and unit size are required", ErrInvalidConfig)
	}
	if c.TotalUnits.Lt(c.UnitSize) {
		return fmt.Errorf("%w: total units below one ticket", ErrInvalidConfig)
	}
	if c.TotalPrice == nil {
		return fmt.Errorf("%w: total price is required", ErrInvalidConfig)
	}
	if _, overflow := new(uint256.Int).MulOverflow(c.TotalPrice, c.UnitSize); overflow {
		return fmt.Errorf("%w: ticket price overflows", ErrInvalidConfig)
	}
	if c.PoolCapacity == 0 {
		return fmt.Errorf("%w: pool capacity must be positive", ErrInvalidConfig)
	}
	if c.TicketWindow <= 0 {
		return fmt.Errorf("%w: ticket window must be positive", ErrInvalidConfig)
	}
	return nil
}

// TicketPrice is TotalPrice spread evenly over the ticket space.
func (c Config) TicketPrice() *uint256.Int {
	price := new(uint256.Int).Mul(c.TotalPrice, c.UnitSize)
	return price.Div(price, c.TotalUnits)
}

// MaxTickets is the number of tickets the offer can back.
func (c Config) MaxTickets() uint64 {
	return new(uint256.Int).Div(c.TotalUnits, c.UnitSize).Uint64()
}

func (c Config) minStake() *uint256.Int {
	if c.MinStake == nil {
		return new(uint256.Int)
	}
	return c.MinStake
}
