package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"launchpad.org/internal/audit"
	"launchpad.org/internal/auth"
	"launchpad.org/internal/journal"
	"launchpad.org/internal/obs"
	"launchpad.org/internal/platform"
	"launchpad.org/internal/stream"
)

const serviceName = "launchpad"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe reports readiness by pinging the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps wires the API to the running launchpad. Stream and Journal are optional.
type Deps struct {
	Platform *platform.Platform
	Issuer   *auth.Issuer
	Stream   *stream.Stream
	Journal  *journal.Journal
	Ready    readinessChecker
	Version  string
	// RateBurst and RatePerSec configure the per-client token bucket.
	RateBurst  int
	RatePerSec float64
	Logger     *zap.Logger
}

// API is the HTTP surface of the launchpad.
type API struct {
	platform *platform.Platform
	issuer   *auth.Issuer
	stream   *stream.Stream
	journal  *journal.Journal
	ready    readinessChecker
	version  string
	log      *zap.Logger
	now      func() time.Time

	rateBurst  int
	ratePerSec float64
}

func New(d Deps) (*API, error) {
	if d.Platform == nil {
		return nil, errors.New("httpapi: platform is required")
	}
	if d.Issuer == nil {
		return nil, errors.New("httpapi: token issuer is required")
	}
	ready := d.Ready
	if ready == nil {
		ready = ReadyProbe{}
	}
	log := d.Logger
	if log == nil {
		log = obs.Logger()
	}
	a := &API{
		platform:   d.Platform,
		issuer:     d.Issuer,
		stream:     d.Stream,
		journal:    d.Journal,
		ready:      ready,
		version:    d.Version,
		log:        log.Named("http"),
		now:        time.Now,
		rateBurst:  d.RateBurst,
		ratePerSec: d.RatePerSec,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}
	return a, nil
}

// Handler builds the router. Middleware order: request id, recovery,
// metrics, access log, headers, rate limit, body cap, authentication.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.Recoverer)
	r.Use(obs.Instrument)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	r.Use(CORS)
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, 1<<20) })
	r.Use(a.authenticate)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1", func(v chi.Router) {
		v.Get("/info", a.Info)
		v.Post("/auth/token", a.handleAuthToken)

		v.Get("/instances", a.listInstances)
		v.Get("/events", a.listEvents)
		v.Get("/events/stream", a.Stream)
		v.Get("/oracle/requests/{id}", a.oracleRequest)

		v.Get("/assets/{symbol}/balances/{address}", a.getBalance)
		v.Get("/staker", a.stakerInfo)
		v.Get("/staker/accounts/{address}", a.stakeAccount)
		v.Get("/sales/{name}", a.saleInfo)
		v.Get("/sales/{name}/quote/{tier}", a.saleQuote)
		v.Get("/sales/{name}/participants/{address}", a.saleParticipant)
		v.Get("/raffles/{name}", a.raffleInfo)
		v.Get("/raffles/{name}/pools/{index}", a.rafflePool)
		v.Get("/raffles/{name}/tickets/{address}", a.raffleTickets)

		v.Group(func(p chi.Router) {
			p.Use(RequireRole(auth.RoleParticipant))
			p.Post("/assets/{symbol}/approve", a.approve)
			p.Post("/staker/stake", a.stake)
			p.Post("/staker/unstake", a.unstake)
			p.Post("/sales/{name}/register", a.saleRegister)
			p.Post("/sales/{name}/buy", a.saleBuy)
			p.Post("/raffles/{name}/tickets", a.buyTickets)
			p.Post("/raffles/{name}/pools/{index}/randomness", a.requestRandomness)
			p.Post("/raffles/{name}/pools/{index}/claim", a.claim)
		})

		v.Route("/admin", func(ad chi.Router) {
			ad.Use(RequireRole(auth.RoleOwner))
			ad.Post("/staker/halt", a.halt)
			ad.Post("/staker/lockers", a.addLocker)
			ad.Delete("/staker/lockers/{address}", a.removeLocker)
			ad.Post("/sales/{name}/initialize", a.initializeSale)
			ad.Post("/sales/{name}/recover", a.recoverSale)
			ad.Post("/raffles/{name}/initialize", a.initializeRaffle)
			ad.Post("/raffles/{name}/recover", a.recoverRaffle)
		})
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	p := a.platform
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"version":   a.version,
		"time":      a.now().UTC().Format(time.RFC3339),
		"owner":     p.Owner(),
		"decimals":  p.Decimals(),
		"staker":    p.Staker().Address(),
		"stake":     p.StakeToken().Symbol(),
		"native":    p.NativeToken().Symbol(),
		"oracle":    p.Oracle().Address(),
		"assets":    p.Symbols(),
		"instances": p.Instances(),
	})
}

func (a *API) listInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"instances": a.platform.Instances()})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// auditAdmin records an owner action under the request's principal.
func auditAdmin(r *http.Request, event string, fields map[string]any) {
	_ = audit.LogEvent(r.Context(), event, fields)
}
