package httpapi

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"launchpad.org/internal/raffle"
)

type ticketsRequest struct {
	Count uint64 `json:"count"`
}

func (a *API) raffleByName(w http.ResponseWriter, r *http.Request) (*raffle.Raffle, bool) {
	rf, err := a.platform.Raffle(chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	return rf, true
}

func (a *API) raffleInfo(w http.ResponseWriter, r *http.Request) {
	rf, ok := a.raffleByName(w, r)
	if !ok {
		return
	}
	assets := rf.Assets()
	writeJSON(w, http.StatusOK, map[string]any{
		"raffle": rf.Info(),
		"stake":  assets.Stake.Symbol(),
		"asset":  assets.Sale.Symbol(),
	})
}

func (a *API) rafflePool(w http.ResponseWriter, r *http.Request) {
	rf, ok := a.raffleByName(w, r)
	if !ok {
		return
	}
	index, err := indexParam(r, "index")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	pool, err := rf.Pool(index)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (a *API) raffleTickets(w http.ResponseWriter, r *http.Request) {
	rf, ok := a.raffleByName(w, r)
	if !ok {
		return
	}
	addr, err := addressParam(r, "address")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": addr,
		"tickets": rf.TicketCount(addr),
	})
}

func (a *API) buyTickets(w http.ResponseWriter, r *http.Request) {
	rf, ok := a.raffleByName(w, r)
	if !ok {
		return
	}
	var req ticketsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	account, err := caller(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := rf.BuyTickets(r.Context(), account, req.Count); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":     account,
		"tickets":     rf.TicketCount(account),
		"ticketsSold": rf.TicketsSold(),
	})
}

func (a *API) requestRandomness(w http.ResponseWriter, r *http.Request) {
	rf, ok := a.raffleByName(w, r)
	if !ok {
		return
	}
	index, err := indexParam(r, "index")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := rf.RequestRandomness(r.Context(), index)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"pool":      index,
		"requestId": id,
	})
}

func (a *API) claim(w http.ResponseWriter, r *http.Request) {
	rf, ok := a.raffleByName(w, r)
	if !ok {
		return
	}
	index, err := indexParam(r, "index")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	account, err := caller(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	units, err := rf.Claim(r.Context(), account, index)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pool":    index,
		"account": account,
		"units":   a.view(units),
	})
}

func (a *API) initializeRaffle(w http.ResponseWriter, r *http.Request) {
	rf, ok := a.raffleByName(w, r)
	if !ok {
		return
	}
	var req initializeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := caller(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	start := req.Start
	if start == 0 {
		start = a.now().Unix()
	}
	if err := rf.Initialize(r.Context(), owner, start); err != nil {
		a.fail(w, r, err)
		return
	}
	auditAdmin(r, "admin.raffle.initialized", map[string]any{
		"raffle": rf.Address().Hex(),
		"start":  start,
	})
	writeJSON(w, http.StatusOK, rf.Info())
}

func (a *API) recoverRaffle(w http.ResponseWriter, r *http.Request) {
	rf, ok := a.raffleByName(w, r)
	if !ok {
		return
	}
	var req recoverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	owner, err := caller(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var (
		amount *uint256.Int
		symbol = strings.TrimSpace(req.Symbol)
	)
	if native := a.platform.NativeToken().Symbol(); symbol == "" || symbol == native {
		symbol = native
		amount, err = rf.RecoverNative(r.Context(), owner, to)
	} else {
		token, terr := a.platform.Token(symbol)
		if terr != nil {
			a.fail(w, r, terr)
			return
		}
		amount, err = rf.RecoverAsset(r.Context(), owner, token, to)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	auditAdmin(r, "admin.raffle.recovered", map[string]any{
		"raffle": rf.Address().Hex(),
		"symbol": symbol,
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"to":     to,
		"amount": a.view(amount),
	})
}

type oracleRequestView struct {
	ID          common.Hash    `json:"id"`
	Consumer    common.Address `json:"consumer"`
	Seed        common.Hash    `json:"seed"`
	RequestedAt int64          `json:"requestedAt"`
	Fulfilled   bool           `json:"fulfilled"`
	Proof       hexutil.Bytes  `json:"proof,omitempty"`
	Value       *uint256.Int   `json:"value,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func (a *API) oracleRequest(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		a.fail(w, r, badRequest("id must be a 32-byte hex hash"))
		return
	}
	req, err := a.platform.Oracle().Request(common.BytesToHash(b))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, oracleRequestView{
		ID:          req.ID,
		Consumer:    req.Consumer,
		Seed:        req.Seed,
		RequestedAt: req.RequestedAt.Unix(),
		Fulfilled:   req.FulfilledAt != nil,
		Proof:       req.Proof,
		Value:       req.Value,
		Error:       req.Error,
	})
}
