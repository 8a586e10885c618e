package httpapi

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"launchpad.org/internal/asset"
)

// amountView reports an amount in the smallest unit and as a decimal token
// string.
type amountView struct {
	Units  *uint256.Int `json:"units"`
	Tokens string       `json:"tokens"`
}

func (a *API) view(v *uint256.Int) amountView {
	if v == nil {
		v = new(uint256.Int)
	}
	return amountView{Units: v, Tokens: asset.FormatUnits(v, a.platform.Decimals())}
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type lockerRequest struct {
	Address string `json:"address"`
}

type haltRequest struct {
	Halted bool `json:"halted"`
}

func (a *API) getBalance(w http.ResponseWriter, r *http.Request) {
	token, err := a.platform.Token(chi.URLParam(r, "symbol"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	addr, err := addressParam(r, "address")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	bal, err := token.BalanceOf(r.Context(), addr)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  token.Symbol(),
		"account": addr,
		"balance": a.view(bal),
	})
}

func (a *API) approve(w http.ResponseWriter, r *http.Request) {
	token, err := a.platform.Token(chi.URLParam(r, "symbol"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	spender, err := parseAddress(req.Spender, "spender")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	amount, err := a.amount(req.Amount, "amount")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	owner, err := caller(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := token.Approve(r.Context(), owner, spender, amount); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    token.Symbol(),
		"owner":     owner,
		"spender":   spender,
		"allowance": a.view(amount),
	})
}

func (a *API) stakerInfo(w http.ResponseWriter, r *http.Request) {
	l := a.platform.Staker()
	writeJSON(w, http.StatusOK, map[string]any{
		"address": l.Address(),
		"owner":   l.Owner(),
		"token":   l.Token().Symbol(),
		"halted":  l.Halted(),
		"lockers": l.Lockers(),
		"total":   a.view(l.TotalStaked()),
	})
}

func (a *API) stakeAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	acct := a.platform.Staker().Account(r.Context(), addr)
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   acct.Address,
		"staked":    a.view(acct.Staked),
		"lockUntil": acct.LockUntil,
	})
}

func (a *API) stake(w http.ResponseWriter, r *http.Request) {
	a.moveStake(w, r, true)
}

func (a *API) unstake(w http.ResponseWriter, r *http.Request) {
	a.moveStake(w, r, false)
}

func (a *API) moveStake(w http.ResponseWriter, r *http.Request, deposit bool) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := a.amount(req.Amount, "amount")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	account, err := caller(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	l := a.platform.Staker()
	if deposit {
		err = l.Stake(r.Context(), account, amount)
	} else {
		err = l.Unstake(r.Context(), account, amount)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	acct := l.Account(r.Context(), account)
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   acct.Address,
		"staked":    a.view(acct.Staked),
		"lockUntil": acct.LockUntil,
	})
}

func (a *API) halt(w http.ResponseWriter, r *http.Request) {
	var req haltRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := caller(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.platform.Staker().Halt(r.Context(), owner, req.Halted); err != nil {
		a.fail(w, r, err)
		return
	}
	auditAdmin(r, "admin.staker.halt", map[string]any{"halted": req.Halted})
	writeJSON(w, http.StatusOK, map[string]any{"halted": a.platform.Staker().Halted()})
}

func (a *API) addLocker(w http.ResponseWriter, r *http.Request) {
	var req lockerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	locker, err := parseAddress(req.Address, "address")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.changeLocker(w, r, locker, true)
}

func (a *API) removeLocker(w http.ResponseWriter, r *http.Request) {
	locker, err := addressParam(r, "address")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.changeLocker(w, r, locker, false)
}

func (a *API) changeLocker(w http.ResponseWriter, r *http.Request, locker common.Address, add bool) {
	owner, err := caller(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	l := a.platform.Staker()
	event := "admin.staker.locker_added"
	if add {
		err = l.AddLocker(r.Context(), owner, locker)
	} else {
		event = "admin.staker.locker_removed"
		err = l.RemoveLocker(r.Context(), owner, locker)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	auditAdmin(r, event, map[string]any{"locker": locker.Hex()})
	writeJSON(w, http.StatusOK, map[string]any{"lockers": l.Lockers()})
}
