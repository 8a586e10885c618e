package asset

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token is the fungible-asset surface the staking core consumes. Amounts are in
// the asset's smallest unit. The from/owner/spender arguments carry the
// authenticated caller identity.
type Token interface {
	Symbol() string
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
}

// Transfer is a journal entry for a completed balance movement.
type Transfer struct {
	Sequence  uint64         `json:"sequence"` // monotonic sequence number
	CreatedAt time.Time      `json:"created_at"`
	Symbol    string         `json:"symbol"`
	From      common.Address `json:"from"` // zero address for mints
	To        common.Address `json:"to"`
	Amount    *uint256.Int   `json:"amount"`
	Spender   common.Address `json:"spender,omitempty"`
}

var (
	ErrInsufficientFunds     = errors.New("asset: insufficient funds")
	ErrInsufficientAllowance = errors.New("asset: insufficient allowance")
	ErrInvalidAmount         = errors.New("asset: invalid amount")
	ErrZeroAddress           = errors.New("asset: zero address")
	ErrOverflow              = errors.New("asset: balance overflow")
)

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
