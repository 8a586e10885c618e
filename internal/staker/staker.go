// Package staker implements the stake ledger: per-account deposits, lock-until
// timestamps raised by authorized lockers, and the global halt switch.
package staker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"launchpad.org/internal/access"
	"launchpad.org/internal/asset"
	"launchpad.org/internal/events"
)

// Config tunes ledger behaviour.
type Config struct {
	// HaltBlocksUnstake extends the halt switch to withdrawals. By default halt
	// only gates new deposits and unstake is governed solely by lock state.
	HaltBlocksUnstake bool
}

// Account is a read-only view of a staking position.
type Account struct {
	Address   common.Address `json:"address"`
	Staked    *uint256.Int   `json:"staked"`
	LockUntil int64          `json:"lockUntil"`
}

type position struct {
	staked    *uint256.Int
	lockUntil int64
}

// Ledger is the stake ledger. It holds deposited tokens at its own address.
type Ledger struct {
	owner   access.Owner
	address common.Address
	token   asset.Token
	cfg     Config
	emitter events.Emitter
	nowFn   func() int64

	mu        sync.Mutex
	positions map[common.Address]*position
	lockers   map[common.Address]struct{}
	halted    bool
	total     *uint256.Int
}

// New creates a ledger custodying token at address and administered by owner.
func New(address, owner common.Address, token asset.Token, cfg Config) *Ledger {
	return &Ledger{
		owner:     access.NewOwner(owner),
		address:   address,
		token:     token,
		cfg:       cfg,
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		positions: make(map[common.Address]*position),
		lockers:   make(map[common.Address]struct{}),
		total:     new(uint256.Int),
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the unix-seconds clock. Intended for tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) Address() common.Address { return l.address }

func (l *Ledger) Owner() common.Address { return l.owner.Owner() }

func (l *Ledger) Token() asset.Token { return l.token }

// Stake pulls amount from account through the token allowance and credits it.
// The transfer happens before the credit so an in-flight deposit can never be
// withdrawn by a reentrant call.
func (l *Ledger) Stake(ctx context.Context, account common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if account == (common.Address{}) {
		return ErrZeroAddress
	}

	l.mu.Lock()
	if l.halted {
		l.mu.Unlock()
		return ErrHalted
	}
	if _, overflow := new(uint256.Int).AddOverflow(l.total, amount); overflow {
		l.mu.Unlock()
		return ErrOverflow
	}
	l.mu.Unlock()

	if err := l.token.TransferFrom(ctx, l.address, account, l.address, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	l.mu.Lock()
	pos := l.positionLocked(account)
	pos.staked = new(uint256.Int).Add(pos.staked, amount)
	l.total = new(uint256.Int).Add(l.total, amount)
	total := pos.staked.Clone()
	l.mu.Unlock()

	l.emitter.Emit(events.Staked{Account: account, Amount: amount.Clone(), Total: total})
	return nil
}

// Unstake debits the position and sends the tokens back. It fails while the
// account's lock is active.
func (l *Ledger) Unstake(ctx context.Context, account common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	if l.halted && l.cfg.HaltBlocksUnstake {
		l.mu.Unlock()
		return ErrHalted
	}
	pos, ok := l.positions[account]
	if !ok || pos.staked.Lt(amount) {
		l.mu.Unlock()
		return ErrInsufficientStake
	}
	if l.nowFn() < pos.lockUntil {
		l.mu.Unlock()
		return ErrLockActive
	}
	pos.staked = new(uint256.Int).Sub(pos.staked, amount)
	l.total = new(uint256.Int).Sub(l.total, amount)
	total := pos.staked.Clone()
	l.mu.Unlock()

	if err := l.token.Transfer(ctx, l.address, account, amount); err != nil {
		l.mu.Lock()
		pos.staked = new(uint256.Int).Add(pos.staked, amount)
		l.total = new(uint256.Int).Add(l.total, amount)
		l.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	l.emitter.Emit(events.Unstaked{Account: account, Amount: amount.Clone(), Total: total})
	return nil
}

// Lock raises the account's lock-until to until. Only registered lockers may
// call it and a lock is never lowered.
func (l *Ledger) Lock(ctx context.Context, caller, account common.Address, until int64) error {
	l.mu.Lock()
	if _, ok := l.lockers[caller]; !ok {
		l.mu.Unlock()
		return ErrUnauthorized
	}
	pos := l.positionLocked(account)
	raised := until > pos.lockUntil
	if raised {
		pos.lockUntil = until
	}
	l.mu.Unlock()

	if raised {
		l.emitter.Emit(events.LockRaised{Locker: caller, Account: account, Until: until})
	}
	return nil
}

// AddLocker lets locker raise stake locks. Owner only.
func (l *Ledger) AddLocker(ctx context.Context, caller, locker common.Address) error {
	if err := l.owner.Check(caller); err != nil {
		return err
	}
	if locker == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	_, exists := l.lockers[locker]
	l.lockers[locker] = struct{}{}
	l.mu.Unlock()

	if !exists {
		l.emitter.Emit(events.LockerChanged{Locker: locker, Added: true})
	}
	return nil
}

// RemoveLocker revokes the capability. Locks already raised stay in place.
func (l *Ledger) RemoveLocker(ctx context.Context, caller, locker common.Address) error {
	if err := l.owner.Check(caller); err != nil {
		return err
	}
	l.mu.Lock()
	_, exists := l.lockers[locker]
	delete(l.lockers, locker)
	l.mu.Unlock()

	if exists {
		l.emitter.Emit(events.LockerChanged{Locker: locker, Added: false})
	}
	return nil
}

// Halt toggles the emergency switch. Owner only.
func (l *Ledger) Halt(ctx context.Context, caller common.Address, halted bool) error {
	if err := l.owner.Check(caller); err != nil {
		return err
	}
	l.mu.Lock()
	changed := l.halted != halted
	l.halted = halted
	l.mu.Unlock()

	if changed {
		l.emitter.Emit(events.HaltChanged{Halted: halted})
	}
	return nil
}

// StakedOf returns the stake held for account.
func (l *Ledger) StakedOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[account]; ok {
		return pos.staked.Clone(), nil
	}
	return new(uint256.Int), nil
}

// LockedUntil returns the unix time before which account cannot unstake.
func (l *Ledger) LockedUntil(ctx context.Context, account common.Address) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[account]; ok {
		return pos.lockUntil, nil
	}
	return 0, nil
}

// Account returns a point-in-time view of account.
func (l *Ledger) Account(ctx context.Context, account common.Address) Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := Account{Address: account, Staked: new(uint256.Int)}
	if pos, ok := l.positions[account]; ok {
		out.Staked = pos.staked.Clone()
		out.LockUntil = pos.lockUntil
	}
	return out
}

func (l *Ledger) IsLocker(addr common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.lockers[addr]
	return ok
}

// Lockers returns the registry sorted by address.
func (l *Ledger) Lockers() []common.Address {
	l.mu.Lock()
	out := make([]common.Address, 0, len(l.lockers))
	for addr := range l.lockers {
		out = append(out, addr)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

func (l *Ledger) TotalStaked() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total.Clone()
}

func (l *Ledger) positionLocked(account common.Address) *position {
	pos, ok := l.positions[account]
	if !ok {
		pos = &position{staked: new(uint256.Int)}
		l.positions[account] = pos
	}
	return pos
}
