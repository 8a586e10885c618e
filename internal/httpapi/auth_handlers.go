package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"launchpad.org/internal/audit"
	"launchpad.org/internal/auth"
)

// tokenRequest carries an EIP-191 signature over auth.LoginMessage.
type tokenRequest struct {
	Address   string `json:"address"`
	IssuedAt  int64  `json:"issuedAt"`
	Signature string `json:"signature"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Roles     []string  `json:"roles"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := parseAddress(req.Address, "address")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := hexutil.Decode(strings.TrimSpace(req.Signature))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "signature must be 0x-prefixed hex")
		return
	}

	token, expiresAt, err := a.issuer.Login(addr, req.IssuedAt, sig)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrStaleLogin), errors.Is(err, auth.ErrInvalidSignature):
			unauthorized(w, r, err.Error())
		default:
			a.fail(w, r, err)
		}
		return
	}

	roles := a.issuer.RolesFor(addr)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"account":    addr.Hex(),
		"roles":      roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Roles:     roles,
	})
}
