package vrf

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var ErrInvalidProof = errors.New("vrf: invalid proof")

// Prove derives the randomness for requestID. The proof is a deterministic
// secp256k1 signature over keccak256(requestID) and the value is the keccak256
// of the proof, so only the key holder can compute it and anyone with the
// public key can check it.
func Prove(key *ecdsa.PrivateKey, requestID common.Hash) (proof []byte, value *uint256.Int, err error) {
	digest := crypto.Keccak256(requestID.Bytes())
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, nil, fmt.Errorf("vrf: sign: %w", err)
	}
	return sig, valueOf(sig), nil
}

// Verify checks that proof was produced by pub for requestID and that value is
// derived from it.
func Verify(pub *ecdsa.PublicKey, requestID common.Hash, proof []byte, value *uint256.Int) error {
	if pub == nil || len(proof) != crypto.SignatureLength || value == nil {
		return ErrInvalidProof
	}
	digest := crypto.Keccak256(requestID.Bytes())
	if !crypto.VerifySignature(crypto.FromECDSAPub(pub), digest, proof[:crypto.RecoveryIDOffset]) {
		return ErrInvalidProof
	}
	if !valueOf(proof).Eq(value) {
		return ErrInvalidProof
	}
	return nil
}

// KeyHash identifies an oracle key.
func KeyHash(pub *ecdsa.PublicKey) common.Hash {
	return crypto.Keccak256Hash(crypto.FromECDSAPub(pub))
}

func valueOf(proof []byte) *uint256.Int {
	return new(uint256.Int).SetBytes32(crypto.Keccak256(proof))
}
