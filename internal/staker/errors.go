package staker

import (
	"errors"

	"launchpad.org/internal/access"
)

var (
	ErrUnauthorized      = access.ErrUnauthorized
	ErrHalted            = errors.New("staker: halted")
	ErrInvalidAmount     = errors.New("staker: invalid amount")
	ErrInsufficientStake = errors.New("staker: insufficient stake")
	ErrLockActive        = errors.New("staker: stake is locked")
	ErrTransferFailed    = errors.New("staker: asset transfer failed")
	ErrOverflow          = errors.New("staker: amount overflow")
	ErrZeroAddress       = errors.New("staker: zero address")
)
