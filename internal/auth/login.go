package auth

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// LoginMessage is the text an account signs (EIP-191 personal_sign) to
// obtain a session token.
func LoginMessage(addr common.Address, issuedAt int64) string {
	return fmt.Sprintf("launchpad login:%s:%d", addr.Hex(), issuedAt)
}

// SignLogin produces a login signature with key.
func SignLogin(key *ecdsa.PrivateKey, issuedAt int64) ([]byte, error) {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return crypto.Sign(accounts.TextHash([]byte(LoginMessage(addr, issuedAt))), key)
}

// VerifyLogin checks that sig is addr's signature over the login message and
// that issuedAt lies within skew of now.
func VerifyLogin(addr common.Address, issuedAt int64, sig []byte, now time.Time, skew time.Duration) error {
	ts := time.Unix(issuedAt, 0)
	if d := now.Sub(ts); d > skew || d < -skew {
		return ErrStaleLogin
	}
	if len(sig) != crypto.SignatureLength {
		return ErrInvalidSignature
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(LoginMessage(addr, issuedAt))), normalized)
	if err != nil {
		return ErrInvalidSignature
	}
	if crypto.PubkeyToAddress(*pub) != addr {
		return ErrInvalidSignature
	}
	return nil
}
