package raffle

import (
	"errors"

	"launchpad.org/internal/access"
)

var (
	ErrUnauthorized       = access.ErrUnauthorized
	ErrInvalidConfig      = errors.New("raffle: invalid config")
	ErrNotInitialized     = errors.New("raffle: not initialized")
	ErrAlreadyInitialized = errors.New("raffle: already initialized")
	ErrInvalidPhase       = errors.New("raffle: invalid phase")
	ErrInvalidAmount      = errors.New("raffle: invalid ticket count")
	ErrInsufficientStake  = errors.New("raffle: insufficient stake")
	ErrCapacityExceeded   = errors.New("raffle: capacity exceeded")
	ErrPoolNotFound       = errors.New("raffle: pool not found")
	ErrPoolNotReady       = errors.New("raffle: pool not ready for draw")
	ErrAlreadyRequested   = errors.New("raffle: randomness already requested")
	ErrUnknownRequest     = errors.New("raffle: stale or unknown randomness request")
	ErrAlreadyResolved    = errors.New("raffle: pool already resolved")
	ErrNotResolved        = errors.New("raffle: pool not resolved")
	ErrNotWinner          = errors.New("raffle: caller is not the winner")
	ErrAlreadyClaimed     = errors.New("raffle: allocation already claimed")
	ErrTransferFailed     = errors.New("raffle: asset transfer failed")
	ErrZeroAddress        = errors.New("raffle: zero address")
)
