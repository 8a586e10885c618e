package sale

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// NumTiers is the fixed number of eligibility tiers. Tiers are numbered 1..5.
const NumTiers = 5

// TotalWeightBps is the sum every tier weight table must reach.
const TotalWeightBps = 10_000

// Config is the immutable configuration of a sale instance.
type Config struct {
	// TotalUnits is the amount of sale asset on offer, in its smallest unit.
	TotalUnits *uint256.Int
	// PricePerUnit is the payment owed per UnitSize of sale asset.
	PricePerUnit *uint256.Int
	// UnitSize is one whole token of the sale asset (10^decimals).
	UnitSize *uint256.Int

	// Thresholds holds the minimum stake per tier, strictly increasing.
	Thresholds [NumTiers]*uint256.Int
	// WeightsBps is each tier's share of TotalUnits in basis points.
	WeightsBps [NumTiers]uint32

	RegistrationDuration time.Duration
	SaleGap              time.Duration
	SaleDuration         time.Duration
	// LockGrace extends the participant lock past the end of the sale window.
	LockGrace time.Duration
}

// DefaultWeightsBps gives larger tiers a larger share of the sale.
var DefaultWeightsBps = [NumTiers]uint32{500, 1000, 1500, 2500, 4500}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.TotalUnits == nil || c.TotalUnits.IsZero() {
		return fmt.Errorf("%w: total units must be positive", ErrInvalidConfig)
	}
	if c.PricePerUnit == nil {
		return fmt.Errorf("%w: price per unit is required", ErrInvalidConfig)
	}
	if c.UnitSize == nil || c.UnitSize.IsZero() {
		return fmt.Errorf("%w: unit size must be positive", ErrInvalidConfig)
	}
	var prev *uint256.Int
	for i, th := range c.Thresholds {
		if th == nil {
			return fmt.Errorf("%w: tier %d threshold missing", ErrInvalidConfig, i+1)
		}
		if prev != nil && !prev.Lt(th) {
			return fmt.Errorf("%w: tier %d threshold must exceed tier %d", ErrInvalidConfig, i+1, i)
		}
		prev = th
	}
	var sum uint32
	for _, w := range c.WeightsBps {
		sum += w
	}
	if sum != TotalWeightBps {
		return fmt.Errorf("%w: tier weights sum to %d bps, want %d", ErrInvalidConfig, sum, TotalWeightBps)
	}
	if c.RegistrationDuration <= 0 || c.SaleDuration <= 0 {
		return fmt.Errorf("%w: registration and sale durations must be positive", ErrInvalidConfig)
	}
	if c.SaleGap < 0 || c.LockGrace < 0 {
		return fmt.Errorf("%w: gap and grace must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Threshold returns the minimum stake for tier.
func (c Config) Threshold(tier uint8) (*uint256.Int, error) {
	if tier < 1 || tier > NumTiers {
		return nil, ErrInvalidTier
	}
	return c.Thresholds[tier-1].Clone(), nil
}

// TierShare returns the slice of TotalUnits reserved for tier.
func (c Config) TierShare(tier uint8) (*uint256.Int, error) {
	if tier < 1 || tier > NumTiers {
		return nil, ErrInvalidTier
	}
	share := new(uint256.Int).Mul(c.TotalUnits, uint256.NewInt(uint64(c.WeightsBps[tier-1])))
	return share.Div(share, uint256.NewInt(TotalWeightBps)), nil
}
