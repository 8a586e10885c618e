package auth

import "errors"

var (
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrInvalidSignature = errors.New("auth: invalid login signature")
	ErrStaleLogin       = errors.New("auth: login timestamp outside accepted window")
	ErrUnauthorized     = errors.New("auth: unauthorized")
)
