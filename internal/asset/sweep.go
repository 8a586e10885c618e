package asset

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Sweep moves the entire balance held by from to to and returns the amount
// moved. An empty balance is not an error.
func Sweep(ctx context.Context, token Token, from, to common.Address) (*uint256.Int, error) {
	if token == nil {
		return nil, fmt.Errorf("sweep: nil token")
	}
	bal, err := token.BalanceOf(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("sweep %s balance: %w", token.Symbol(), err)
	}
	if bal.IsZero() {
		return bal, nil
	}
	if err := token.Transfer(ctx, from, to, bal); err != nil {
		return nil, fmt.Errorf("sweep %s: %w", token.Symbol(), err)
	}
	return bal, nil
}
