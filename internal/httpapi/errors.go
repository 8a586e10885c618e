package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"launchpad.org/internal/access"
	"launchpad.org/internal/asset"
	"launchpad.org/internal/auth"
	"launchpad.org/internal/platform"
	"launchpad.org/internal/raffle"
	"launchpad.org/internal/sale"
	"launchpad.org/internal/staker"
	"launchpad.org/internal/vrf"
)

var errBadRequest = errors.New("bad request")

// statusFor maps engine errors onto HTTP status codes. Transfer failures are
// matched first since they wrap the asset error that caused them.
func statusFor(err error) int {
	switch {
	case errors.Is(err, staker.ErrTransferFailed),
		errors.Is(err, sale.ErrTransferFailed),
		errors.Is(err, raffle.ErrTransferFailed):
		return http.StatusBadGateway

	case errors.Is(err, access.ErrUnauthorized),
		errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, raffle.ErrNotWinner):
		return http.StatusForbidden

	case errors.Is(err, platform.ErrUnknownInstance),
		errors.Is(err, platform.ErrUnknownSymbol),
		errors.Is(err, raffle.ErrPoolNotFound),
		errors.Is(err, vrf.ErrUnknownRequest):
		return http.StatusNotFound

	case errors.Is(err, errBadRequest),
		errors.Is(err, asset.ErrInvalidAmount),
		errors.Is(err, asset.ErrZeroAddress),
		errors.Is(err, asset.ErrOverflow),
		errors.Is(err, staker.ErrInvalidAmount),
		errors.Is(err, staker.ErrZeroAddress),
		errors.Is(err, staker.ErrOverflow),
		errors.Is(err, sale.ErrWrongPayment),
		errors.Is(err, sale.ErrInvalidTier),
		errors.Is(err, sale.ErrZeroAddress),
		errors.Is(err, raffle.ErrInvalidAmount),
		errors.Is(err, raffle.ErrZeroAddress):
		return http.StatusBadRequest

	case errors.Is(err, staker.ErrHalted),
		errors.Is(err, staker.ErrLockActive),
		errors.Is(err, staker.ErrInsufficientStake),
		errors.Is(err, asset.ErrInsufficientFunds),
		errors.Is(err, asset.ErrInsufficientAllowance),
		errors.Is(err, sale.ErrNotInitialized),
		errors.Is(err, sale.ErrAlreadyInitialized),
		errors.Is(err, sale.ErrInvalidPhase),
		errors.Is(err, sale.ErrAlreadyRegistered),
		errors.Is(err, sale.ErrNotRegistered),
		errors.Is(err, sale.ErrAlreadyPurchased),
		errors.Is(err, sale.ErrInsufficientStake),
		errors.Is(err, raffle.ErrNotInitialized),
		errors.Is(err, raffle.ErrAlreadyInitialized),
		errors.Is(err, raffle.ErrInvalidPhase),
		errors.Is(err, raffle.ErrInsufficientStake),
		errors.Is(err, raffle.ErrCapacityExceeded),
		errors.Is(err, raffle.ErrPoolNotReady),
		errors.Is(err, raffle.ErrAlreadyRequested),
		errors.Is(err, raffle.ErrUnknownRequest),
		errors.Is(err, raffle.ErrAlreadyResolved),
		errors.Is(err, raffle.ErrNotResolved),
		errors.Is(err, raffle.ErrAlreadyClaimed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Unmapped errors are logged and
// hidden from the client.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		a.log.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, code, "internal error")
		return
	}
	writeError(w, r, code, err.Error())
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func addressParam(r *http.Request, key string) (common.Address, error) {
	return parseAddress(chi.URLParam(r, key), key)
}

func parseAddress(raw, field string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("%s must be a hex address", field)
	}
	return common.HexToAddress(raw), nil
}

func indexParam(r *http.Request, key string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, key))
	if err != nil || v < 0 {
		return 0, badRequest("%s must be a non-negative integer", key)
	}
	return v, nil
}

// amount parses a decimal token string with the platform's decimals.
func (a *API) amount(raw, field string) (*uint256.Int, error) {
	v, err := a.platform.Units(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return v, nil
}

func parseLimit(raw string, def, upper int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("limit must be an integer")
	}
	if val < 1 || val > upper {
		return 0, badRequest("limit must be between 1 and %d", upper)
	}
	return val, nil
}
