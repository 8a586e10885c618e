package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"launchpad.org/internal/sale"
)

type registerRequest struct {
	Tier uint8 `json:"tier"`
}

type buyRequest struct {
	// Value is the payment in native tokens; it must equal the tier price.
	Value string `json:"value"`
}

type initializeRequest struct {
	// Start is the window anchor in unix seconds. Zero means now.
	Start int64 `json:"start"`
}

type recoverRequest struct {
	// Symbol selects the asset to sweep. Empty sweeps the native asset.
	Symbol string `json:"symbol"`
	To     string `json:"to"`
}

func (a *API) saleByName(w http.ResponseWriter, r *http.Request) (*sale.Sale, bool) {
	s, err := a.platform.Sale(chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	return s, true
}

func (a *API) saleInfo(w http.ResponseWriter, r *http.Request) {
	s, ok := a.saleByName(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sale":    s.Info(),
		"asset":   s.SaleAsset().Symbol(),
		"payment": s.PaymentAsset().Symbol(),
	})
}

func (a *API) saleQuote(w http.ResponseWriter, r *http.Request) {
	s, ok := a.saleByName(w, r)
	if !ok {
		return
	}
	tier, err := strconv.ParseUint(chi.URLParam(r, "tier"), 10, 8)
	if err != nil {
		a.fail(w, r, badRequest("tier must be between 1 and %d", sale.NumTiers))
		return
	}
	units, price, err := s.Quote(uint8(tier))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tier":  tier,
		"units": a.view(units),
		"price": a.view(price),
	})
}

func (a *API) saleParticipant(w http.ResponseWriter, r *http.Request) {
	s, ok := a.saleByName(w, r)
	if !ok {
		return
	}
	addr, err := addressParam(r, "address")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Participant(addr))
}

func (a *API) saleRegister(w http.ResponseWriter, r *http.Request) {
	s, ok := a.saleByName(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	account, err := caller(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := s.Register(r.Context(), account, req.Tier); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Participant(account))
}

func (a *API) saleBuy(w http.ResponseWriter, r *http.Request) {
	s, ok := a.saleByName(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	value, err := a.amount(req.Value, "value")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	account, err := caller(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := s.BuyNow(r.Context(), account, value); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Participant(account))
}

func (a *API) initializeSale(w http.ResponseWriter, r *http.Request) {
	s, ok := a.saleByName(w, r)
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
	if err := s.Initialize(r.Context(), owner, start); err != nil {
		a.fail(w, r, err)
		return
	}
	auditAdmin(r, "admin.sale.initialized", map[string]any{
		"sale":  s.Address().Hex(),
		"start": start,
	})
	writeJSON(w, http.StatusOK, s.Info())
}

func (a *API) recoverSale(w http.ResponseWriter, r *http.Request) {
	s, ok := a.saleByName(w, r)
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
	if symbol == "" || symbol == s.PaymentAsset().Symbol() {
		symbol = s.PaymentAsset().Symbol()
		amount, err = s.RecoverNative(r.Context(), owner, to)
	} else {
		token, terr := a.platform.Token(symbol)
		if terr != nil {
			a.fail(w, r, terr)
			return
		}
		amount, err = s.RecoverAsset(r.Context(), owner, token, to)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	auditAdmin(r, "admin.sale.recovered", map[string]any{
		"sale":   s.Address().Hex(),
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
