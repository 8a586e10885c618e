// Package raffle implements the randomized allocator. Tickets bought with stake
// asset fill fixed-capacity pools in purchase order; each pool is drawn once
// from an external randomness source and its winner claims the pool's
// allocation of sale asset.
package raffle

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"launchpad.org/internal/access"
	"launchpad.org/internal/asset"
	"launchpad.org/internal/events"
)

// StakeLedger is the subset of the stake ledger a raffle depends on.
type StakeLedger interface {
	StakedOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Lock(ctx context.Context, caller, account common.Address, until int64) error
}

// RandomnessSource issues randomness requests. Fulfillment arrives later
// through FulfillRandomness with Address as the sender. RequestRandomness is
// called with the raffle locked, so implementations must not fulfill or call
// back into the raffle from inside it.
type RandomnessSource interface {
	Address() common.Address
	RequestRandomness(ctx context.Context, consumer common.Address, seed common.Hash) (common.Hash, error)
}

// Assets groups the tokens a raffle touches.
type Assets struct {
	Stake  asset.Token // ticket payment
	Sale   asset.Token // allocation paid to winners
	Native asset.Token // recoverable only
}

// Phase is the derived ticket window state.
type Phase uint8

const (
	PhaseUninitialized Phase = iota
	PhaseScheduled
	PhaseOpen
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseScheduled:
		return "scheduled"
	case PhaseOpen:
		return "open"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Raffle is a single raffle instance holding ticket payments and the sale
// allocation at its own address.
type Raffle struct {
	owner   access.Owner
	address common.Address
	cfg     Config
	stake   StakeLedger
	assets  Assets
	rng     RandomnessSource
	emitter events.Emitter
	nowFn   func() int64

	mu          sync.Mutex
	initialized bool
	start       int64
	pools       []*pool
	requests    map[common.Hash]int
	ticketsSold uint64
	reserved    uint64
	perAccount  map[common.Address]uint64
}

// New creates an uninitialized raffle.
func New(address, owner common.Address, cfg Config, stake StakeLedger, assets Assets, rng RandomnessSource) (*Raffle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stake == nil || assets.Stake == nil || assets.Sale == nil || rng == nil {
		return nil, fmt.Errorf("%w: stake ledger, assets and randomness source are required", ErrInvalidConfig)
	}
	return &Raffle{
		owner:      access.NewOwner(owner),
		address:    address,
		cfg:        cfg,
		stake:      stake,
		assets:     assets,
		rng:        rng,
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
		requests:   make(map[common.Hash]int),
		perAccount: make(map[common.Address]uint64),
	}, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Raffle) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the unix-seconds clock. Intended for tests.
func (r *Raffle) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Raffle) Address() common.Address { return r.address }

func (r *Raffle) Owner() common.Address { return r.owner.Owner() }

func (r *Raffle) Config() Config { return r.cfg }

func (r *Raffle) Initialize(ctx context.Context, caller common.Address, start int64) error {
	if err := r.owner.Check(caller); err != nil {
		return err
	}
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return ErrAlreadyInitialized
	}
	r.initialized = true
	r.start = start
	r.mu.Unlock()

	r.emitter.Emit(events.RaffleInitialized{Raffle: r.address, Start: start})
	return nil
}

func (r *Raffle) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phaseLocked()
}

// BuyTickets sells count tickets to caller. Capacity is reserved first, the
// payment is pulled, the caller's stake lock is raised to the window end and
// only then are the tickets placed. A failure at any step releases the
// reservation and refunds what was collected.
func (r *Raffle) BuyTickets(ctx context.Context, caller common.Address, count uint64) error {
	if count == 0 {
		return ErrInvalidAmount
	}

	r.mu.Lock()
	if p := r.phaseLocked(); p != PhaseOpen {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidPhase, p)
	}
	if remaining := r.cfg.MaxTickets() - r.ticketsSold - r.reserved; count > remaining {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d tickets left", ErrCapacityExceeded, remaining)
	}
	r.reserved += count
	windowEnd := r.windowEndLocked()
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		r.reserved -= count
		r.mu.Unlock()
	}

	staked, err := r.stake.StakedOf(ctx, caller)
	if err != nil {
		release()
		return fmt.Errorf("raffle: read stake: %w", err)
	}
	if staked.Lt(r.cfg.minStake()) {
		release()
		return ErrInsufficientStake
	}

	ticketPrice := r.cfg.TicketPrice()
	cost := new(uint256.Int).Mul(ticketPrice, uint256.NewInt(count))
	if err := r.assets.Stake.TransferFrom(ctx, r.address, caller, r.address, cost); err != nil {
		release()
		return fmt.Errorf("%w: collect payment: %v", ErrTransferFailed, err)
	}
	if err := r.stake.Lock(ctx, r.address, caller, windowEnd); err != nil {
		if refundErr := r.assets.Stake.Transfer(ctx, r.address, caller, cost); refundErr != nil {
			err = fmt.Errorf("%v; refund: %v", err, refundErr)
		}
		release()
		return fmt.Errorf("raffle: raise lock: %w", err)
	}

	r.mu.Lock()
	r.reserved -= count
	placed := r.placeLocked(caller, count)
	r.ticketsSold += count
	r.perAccount[caller] += count
	r.mu.Unlock()

	for _, pl := range placed {
		r.emitter.Emit(events.TicketsPurchased{
			Raffle:  r.address,
			Account: caller,
			Pool:    pl.index,
			Count:   pl.count,
			Paid:    new(uint256.Int).Mul(ticketPrice, uint256.NewInt(pl.count)),
		})
	}
	return nil
}

type placement struct {
	index int
	count uint64
}

// placeLocked appends tickets to the current open pool, opening new pools as
// each fills.
func (r *Raffle) placeLocked(account common.Address, count uint64) []placement {
	var out []placement
	for count > 0 {
		idx := len(r.pools) - 1
		if idx < 0 || r.pools[idx].tickets >= r.cfg.PoolCapacity || r.pools[idx].status != PoolOpen {
			r.pools = append(r.pools, newPool())
			idx++
		}
		p := r.pools[idx]
		take := r.cfg.PoolCapacity - p.tickets
		if take > count {
			take = count
		}
		p.add(account, take)
		out = append(out, placement{index: idx, count: take})
		count -= take
	}
	return out
}

// RequestRandomness asks the randomness source to draw poolIndex. A pool is
// drawable once full, or once the ticket window has closed with at least one
// ticket in it.
func (r *Raffle) RequestRandomness(ctx context.Context, poolIndex int) (common.Hash, error) {
	r.mu.Lock()
	p, err := r.poolLocked(poolIndex)
	if err != nil {
		r.mu.Unlock()
		return common.Hash{}, err
	}
	if p.status != PoolOpen {
		r.mu.Unlock()
		return common.Hash{}, ErrAlreadyRequested
	}
	full := p.tickets >= r.cfg.PoolCapacity
	closed := r.phaseLocked() == PhaseClosed && p.tickets > 0
	if !full && !closed {
		r.mu.Unlock()
		return common.Hash{}, ErrPoolNotReady
	}
	// Held across the request: the id is recorded before the source's worker
	// can deliver it.
	id, err := r.rng.RequestRandomness(ctx, r.address, r.seed(poolIndex))
	if err != nil {
		r.mu.Unlock()
		return common.Hash{}, fmt.Errorf("raffle: request randomness: %w", err)
	}
	p.status = PoolAwaitingRandomness
	p.requestID = id
	r.requests[id] = poolIndex
	r.mu.Unlock()

	r.emitter.Emit(events.RandomnessRequested{Raffle: r.address, Pool: poolIndex, RequestID: id})
	return id, nil
}

// FulfillRandomness resolves the pool correlated with requestID. Only the
// randomness source may call it, and each pool accepts exactly one value.
func (r *Raffle) FulfillRandomness(ctx context.Context, from common.Address, requestID common.Hash, value *uint256.Int) error {
	if from != r.rng.Address() {
		return ErrUnauthorized
	}
	if value == nil {
		return fmt.Errorf("%w: missing value", ErrUnknownRequest)
	}

	r.mu.Lock()
	idx, ok := r.requests[requestID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownRequest
	}
	p := r.pools[idx]
	if p.status == PoolResolved {
		r.mu.Unlock()
		return ErrAlreadyResolved
	}
	winning := new(uint256.Int).Mod(value, uint256.NewInt(p.tickets)).Uint64()
	p.randomness = value.Clone()
	p.winningTicket = winning
	p.winner = p.ownerOf(winning)
	p.status = PoolResolved
	winner := p.winner
	r.mu.Unlock()

	r.emitter.Emit(events.PoolResolved{
		Raffle:        r.address,
		Pool:          idx,
		RequestID:     requestID,
		WinningTicket: winning,
		Winner:        winner,
	})
	return nil
}

// Claim pays the winner of poolIndex one UnitSize of sale asset per ticket in
// the pool.
func (r *Raffle) Claim(ctx context.Context, caller common.Address, poolIndex int) (*uint256.Int, error) {
	r.mu.Lock()
	p, err := r.poolLocked(poolIndex)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if p.status != PoolResolved {
		r.mu.Unlock()
		return nil, ErrNotResolved
	}
	if caller != p.winner {
		r.mu.Unlock()
		return nil, ErrNotWinner
	}
	if p.claimed {
		r.mu.Unlock()
		return nil, ErrAlreadyClaimed
	}
	p.claimed = true
	units := new(uint256.Int).Mul(r.cfg.UnitSize, uint256.NewInt(p.tickets))
	r.mu.Unlock()

	if err := r.assets.Sale.Transfer(ctx, r.address, caller, units); err != nil {
		r.mu.Lock()
		p.claimed = false
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	r.emitter.Emit(events.AllocationClaimed{Raffle: r.address, Pool: poolIndex, Account: caller, Units: units})
	return units, nil
}

// RecoverAsset sweeps the raffle's whole balance of token to to.
func (r *Raffle) RecoverAsset(ctx context.Context, caller common.Address, token asset.Token, to common.Address) (*uint256.Int, error) {
	if err := r.owner.Check(caller); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	amount, err := asset.Sweep(ctx, token, r.address, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	r.emitter.Emit(events.AssetRecovered{Instance: r.address, Symbol: token.Symbol(), To: to, Amount: amount})
	return amount, nil
}

func (r *Raffle) RecoverNative(ctx context.Context, caller common.Address, to common.Address) (*uint256.Int, error) {
	if r.assets.Native == nil {
		if err := r.owner.Check(caller); err != nil {
			return nil, err
		}
		return new(uint256.Int), nil
	}
	return r.RecoverAsset(ctx, caller, r.assets.Native, to)
}

// Assets returns the tokens the raffle was built with.
func (r *Raffle) Assets() Assets { return r.assets }

// TicketsSold returns the tickets sold across all pools.
func (r *Raffle) TicketsSold() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticketsSold
}

// TicketCount returns the tickets account holds across all pools.
func (r *Raffle) TicketCount(account common.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perAccount[account]
}

// PoolCount returns the number of pools opened so far.
func (r *Raffle) PoolCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// Pool returns a view of the pool at index or ErrPoolNotFound.
func (r *Raffle) Pool(index int) (PoolView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.poolLocked(index)
	if err != nil {
		return PoolView{}, err
	}
	return p.view(index, r.cfg.PoolCapacity), nil
}

// Info is a read-only summary of the raffle.
type Info struct {
	Address      common.Address `json:"address"`
	Owner        common.Address `json:"owner"`
	Phase        Phase          `json:"phase"`
	Start        int64          `json:"start"`
	WindowEnd    int64          `json:"windowEnd"`
	TicketPrice  *uint256.Int   `json:"ticketPrice"`
	MinStake     *uint256.Int   `json:"minStake"`
	MaxTickets   uint64         `json:"maxTickets"`
	TicketsSold  uint64         `json:"ticketsSold"`
	PoolCapacity uint64         `json:"poolCapacity"`
	PoolCount    int            `json:"poolCount"`
}

func (r *Raffle) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := Info{
		Address:      r.address,
		Owner:        r.owner.Owner(),
		Phase:        r.phaseLocked(),
		TicketPrice:  r.cfg.TicketPrice(),
		MinStake:     r.cfg.minStake().Clone(),
		MaxTickets:   r.cfg.MaxTickets(),
		TicketsSold:  r.ticketsSold,
		PoolCapacity: r.cfg.PoolCapacity,
		PoolCount:    len(r.pools),
	}
	if r.initialized {
		info.Start = r.start
		info.WindowEnd = r.windowEndLocked()
	}
	return info
}

func (r *Raffle) poolLocked(index int) (*pool, error) {
	if index < 0 || index >= len(r.pools) {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, index)
	}
	return r.pools[index], nil
}

func (r *Raffle) windowEndLocked() int64 {
	return r.start + int64(r.cfg.TicketWindow/time.Second)
}

func (r *Raffle) phaseLocked() Phase {
	now := r.nowFn()
	switch {
	case !r.initialized:
		return PhaseUninitialized
	case now < r.start:
		return PhaseScheduled
	case now < r.windowEndLocked():
		return PhaseOpen
	default:
		return PhaseClosed
	}
}

func (r *Raffle) seed(poolIndex int) common.Hash {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(poolIndex))
	return crypto.Keccak256Hash(r.address.Bytes(), idx[:])
}
