package sale

import (
	"errors"

	"launchpad.org/internal/access"
)

var (
	ErrUnauthorized       = access.ErrUnauthorized
	ErrInvalidConfig      = errors.New("sale: invalid config")
	ErrNotInitialized     = errors.New("sale: not initialized")
	ErrAlreadyInitialized = errors.New("sale: already initialized")
	ErrInvalidPhase       = errors.New("sale: invalid phase")
	ErrInvalidTier        = errors.New("sale: invalid tier")
	ErrAlreadyRegistered  = errors.New("sale: already registered")
	ErrNotRegistered      = errors.New("sale: not registered")
	ErrAlreadyPurchased   = errors.New("sale: already purchased")
	ErrInsufficientStake  = errors.New("sale: insufficient stake")
	ErrWrongPayment       = errors.New("sale: wrong payment")
	ErrTransferFailed     = errors.New("sale: asset transfer failed")
	ErrZeroAddress        = errors.New("sale: zero address")
)
