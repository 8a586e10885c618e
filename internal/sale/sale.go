// Package sale implements the timed fixed-price sale: a registration window in
// which staked accounts claim one of five tiers, followed by a purchase window in
// which each registrant buys its tier allocation exactly once.
package sale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"launchpad.org/internal/access"
	"launchpad.org/internal/asset"
	"launchpad.org/internal/events"
)

// StakeLedger is the subset of the stake ledger a sale depends on.
type StakeLedger interface {
	StakedOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Lock(ctx context.Context, caller, account common.Address, until int64) error
}

// Participant is the public view of an account's registration and purchase.
type Participant struct {
	Address    common.Address `json:"address"`
	Registered bool           `json:"registered"`
	Tier       uint8          `json:"tier"`
	Purchased  bool           `json:"purchased"`
	Units      *uint256.Int   `json:"units"`
	Paid       *uint256.Int   `json:"paid"`
}

type participant struct {
	tier      uint8
	pending   bool // registration in flight
	purchased bool
	units     *uint256.Int
	paid      *uint256.Int
}

// Sale is a single sale instance. It holds the sale asset and collected payment
// at its own address.
type Sale struct {
	owner   access.Owner
	address common.Address
	cfg     Config
	stake   StakeLedger
	asset   asset.Token
	payment asset.Token
	emitter events.Emitter
	nowFn   func() int64

	mu           sync.Mutex
	initialized  bool
	start        int64
	participants map[common.Address]*participant
	registrants  [NumTiers]uint64
}

// New creates an uninitialized sale. saleAsset is delivered to buyers and
// payment is the asset buyers pay in.
func New(address, owner common.Address, cfg Config, stake StakeLedger, saleAsset, payment asset.Token) (*Sale, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stake == nil || saleAsset == nil || payment == nil {
		return nil, fmt.Errorf("%w: stake ledger and assets are required", ErrInvalidConfig)
	}
	return &Sale{
		owner:        access.NewOwner(owner),
		address:      address,
		cfg:          cfg,
		stake:        stake,
		asset:        saleAsset,
		payment:      payment,
		emitter:      events.NoopEmitter{},
		nowFn:        func() int64 { return time.Now().Unix() },
		participants: make(map[common.Address]*participant),
	}, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (s *Sale) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

// SetNowFunc overrides the unix-seconds clock. Intended for tests.
func (s *Sale) SetNowFunc(now func() int64) {
	if now == nil {
		s.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	s.nowFn = now
}

func (s *Sale) Address() common.Address { return s.address }

func (s *Sale) Owner() common.Address { return s.owner.Owner() }

func (s *Sale) Config() Config { return s.cfg }

// Initialize anchors the registration window at start. It can only be called
// once.
func (s *Sale) Initialize(ctx context.Context, caller common.Address, start int64) error {
	if err := s.owner.Check(caller); err != nil {
		return err
	}
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.initialized = true
	s.start = start
	s.mu.Unlock()

	s.emitter.Emit(events.SaleInitialized{Sale: s.address, Start: start})
	return nil
}

// Phase returns the phase at the current clock.
func (s *Sale) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseLocked()
}

// Schedule returns the window boundaries. ok is false before Initialize.
func (s *Sale) Schedule() (Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ScheduleFor(s.start, s.cfg), s.initialized
}

// Register records caller in tier and raises its stake lock to the end of the
// sale. The slot is reserved before the ledger is consulted so a concurrent
// registration from the same account is rejected.
func (s *Sale) Register(ctx context.Context, caller common.Address, tier uint8) error {
	threshold, err := s.cfg.Threshold(tier)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if p := s.phaseLocked(); p != PhaseRegistration {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidPhase, p)
	}
	if _, ok := s.participants[caller]; ok {
		s.mu.Unlock()
		return ErrAlreadyRegistered
	}
	s.participants[caller] = &participant{tier: tier, pending: true}
	lockUntil := ScheduleFor(s.start, s.cfg).LockUntil
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		delete(s.participants, caller)
		s.mu.Unlock()
	}

	staked, err := s.stake.StakedOf(ctx, caller)
	if err != nil {
		rollback()
		return fmt.Errorf("sale: read stake: %w", err)
	}
	if staked.Lt(threshold) {
		rollback()
		return ErrInsufficientStake
	}
	if err := s.stake.Lock(ctx, s.address, caller, lockUntil); err != nil {
		rollback()
		return fmt.Errorf("sale: raise lock: %w", err)
	}

	s.mu.Lock()
	s.participants[caller].pending = false
	s.registrants[tier-1]++
	s.mu.Unlock()

	s.emitter.Emit(events.SaleRegistered{Sale: s.address, Account: caller, Tier: tier, LockUntil: lockUntil})
	return nil
}

// BuyNow settles caller's tier allocation for exactly value of the payment
// asset. The purchase is marked before any asset moves and undone if either
// leg fails. If delivery fails and the refund fails too, the purchase stays
// marked with zero units and the payment held.
func (s *Sale) BuyNow(ctx context.Context, caller common.Address, value *uint256.Int) error {
	if value == nil {
		return ErrWrongPayment
	}

	s.mu.Lock()
	if p := s.phaseLocked(); p != PhaseSale {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidPhase, p)
	}
	rec, ok := s.participants[caller]
	if !ok || rec.pending {
		s.mu.Unlock()
		return ErrNotRegistered
	}
	if rec.purchased {
		s.mu.Unlock()
		return ErrAlreadyPurchased
	}
	units, price, err := s.quoteLocked(rec.tier)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !price.Eq(value) {
		s.mu.Unlock()
		return fmt.Errorf("%w: expected %s, got %s", ErrWrongPayment, price.Dec(), value.Dec())
	}
	rec.purchased = true
	tier := rec.tier
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		rec.purchased = false
		s.mu.Unlock()
	}

	if err := s.payment.Transfer(ctx, caller, s.address, price); err != nil {
		rollback()
		return fmt.Errorf("%w: collect payment: %v", ErrTransferFailed, err)
	}
	if err := s.asset.Transfer(ctx, s.address, caller, units); err != nil {
		if refundErr := s.payment.Transfer(ctx, s.address, caller, price); refundErr != nil {
			// The payment stays with the sale and the purchase stays marked so
			// the account cannot be charged twice. Paid records what is owed.
			s.mu.Lock()
			rec.units = new(uint256.Int)
			rec.paid = price.Clone()
			s.mu.Unlock()
			s.emitter.Emit(events.SaleDeliveryFailed{Sale: s.address, Account: caller, Tier: tier, Paid: price})
			return fmt.Errorf("%w: deliver: %v; refund: %v", ErrTransferFailed, err, refundErr)
		}
		rollback()
		return fmt.Errorf("%w: deliver: %v", ErrTransferFailed, err)
	}

	s.mu.Lock()
	rec.units = units.Clone()
	rec.paid = price.Clone()
	s.mu.Unlock()

	s.emitter.Emit(events.SalePurchased{Sale: s.address, Account: caller, Tier: tier, Units: units, Paid: price})
	return nil
}

// Quote returns the per-participant allocation and price for tier given the
// registrations so far.
func (s *Sale) Quote(tier uint8) (units, price *uint256.Int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quoteLocked(tier)
}

// TierOf returns the tier caller registered in, or 0.
func (s *Sale) TierOf(account common.Address) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.participants[account]; ok && !rec.pending {
		return rec.tier
	}
	return 0
}

func (s *Sale) Participant(account common.Address) Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Participant{Address: account, Units: new(uint256.Int), Paid: new(uint256.Int)}
	rec, ok := s.participants[account]
	if !ok || rec.pending {
		return out
	}
	out.Registered = true
	out.Tier = rec.tier
	out.Purchased = rec.purchased
	if rec.units != nil {
		out.Units = rec.units.Clone()
	}
	if rec.paid != nil {
		out.Paid = rec.paid.Clone()
	}
	return out
}

// RecoverAsset sweeps the sale's whole balance of token to to. It has no phase
// restriction.
func (s *Sale) RecoverAsset(ctx context.Context, caller common.Address, token asset.Token, to common.Address) (*uint256.Int, error) {
	if err := s.owner.Check(caller); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	amount, err := asset.Sweep(ctx, token, s.address, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	s.emitter.Emit(events.AssetRecovered{Instance: s.address, Symbol: token.Symbol(), To: to, Amount: amount})
	return amount, nil
}

// RecoverNative sweeps collected payment to to.
func (s *Sale) RecoverNative(ctx context.Context, caller common.Address, to common.Address) (*uint256.Int, error) {
	return s.RecoverAsset(ctx, caller, s.payment, to)
}

// SaleAsset returns the asset delivered to buyers.
func (s *Sale) SaleAsset() asset.Token { return s.asset }

// PaymentAsset returns the asset buyers pay in.
func (s *Sale) PaymentAsset() asset.Token { return s.payment }

func (s *Sale) phaseLocked() Phase {
	return PhaseAt(s.nowFn(), s.initialized, ScheduleFor(s.start, s.cfg))
}

func (s *Sale) quoteLocked(tier uint8) (*uint256.Int, *uint256.Int, error) {
	share, err := s.cfg.TierShare(tier)
	if err != nil {
		return nil, nil, err
	}
	n := s.registrants[tier-1]
	if n == 0 {
		n = 1
	}
	units := new(uint256.Int).Div(share, uint256.NewInt(n))
	price, overflow := new(uint256.Int).MulOverflow(units, s.cfg.PricePerUnit)
	if overflow {
		return nil, nil, errors.New("sale: price overflow")
	}
	price.Div(price, s.cfg.UnitSize)
	return units, price, nil
}
