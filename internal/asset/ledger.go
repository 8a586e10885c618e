package asset

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Ledger implements Token with in-process concurrency safety. It stands in for an
// external ERC20-style contract.
type Ledger struct {
	symbol string

	mu         sync.RWMutex
	balances   map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	supply     *uint256.Int
	seq        uint64
	journal    []Transfer
}

var _ Token = (*Ledger)(nil)

// NewLedger creates an empty ledger for the given symbol.
func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:     symbol,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		supply:     new(uint256.Int),
	}
}

func (l *Ledger) Symbol() string { return l.symbol }

// Mint credits new units to an account. It is the genesis path used when
// platforms are assembled and in tests.
func (l *Ledger) Mint(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow {
		return ErrOverflow
	}
	l.supply = supply
	l.balances[to] = new(uint256.Int).Add(l.balanceLocked(to), amount)
	l.record(common.Address{}, to, common.Address{}, amount)
	return nil
}

func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply.Clone()
}

func (l *Ledger) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(account).Clone(), nil
}

func (l *Ledger) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneAmount(l.allowances[allowanceKey{owner: owner, spender: spender}]), nil
}

func (l *Ledger) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner: owner, spender: spender}] = amount.Clone()
	return nil
}

func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, common.Address{}, amount)
}

func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{owner: from, spender: spender}
	allowed := cloneAmount(l.allowances[key])
	if allowed.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := l.move(from, to, spender, amount); err != nil {
		return err
	}
	l.allowances[key] = allowed.Sub(allowed, amount)
	return nil
}

// ListTransfers pages through the journal by sequence number.
func (l *Ledger) ListTransfers(ctx context.Context, limit int, afterSeq uint64) ([]Transfer, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var res []Transfer
	var last uint64
	for _, tr := range l.journal {
		if tr.Sequence <= afterSeq {
			continue
		}
		tr.Amount = tr.Amount.Clone()
		res = append(res, tr)
		last = tr.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}

func (l *Ledger) move(from, to, spender common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	fromBal := l.balanceLocked(from)
	if fromBal.Lt(amount) {
		return ErrInsufficientFunds
	}
	if from == to {
		l.record(from, to, spender, amount)
		return nil
	}
	l.balances[from] = new(uint256.Int).Sub(fromBal, amount)
	l.balances[to] = new(uint256.Int).Add(l.balanceLocked(to), amount)
	l.record(from, to, spender, amount)
	return nil
}

func (l *Ledger) balanceLocked(account common.Address) *uint256.Int {
	if bal, ok := l.balances[account]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (l *Ledger) record(from, to, spender common.Address, amount *uint256.Int) {
	l.seq++
	l.journal = append(l.journal, Transfer{
		Sequence:  l.seq,
		CreatedAt: time.Now().UTC(),
		Symbol:    l.symbol,
		From:      from,
		To:        to,
		Amount:    amount.Clone(),
		Spender:   spender,
	})
}
