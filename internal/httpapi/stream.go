package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"launchpad.org/internal/events"
	"launchpad.org/internal/journal"
)

const streamKeepAlive = 15 * time.Second

// eventQuery holds the type/account/instance filters shared by the journal
// listing and the live stream. Addresses are normalised to checksum form, the
// way engines render them in event attributes.
type eventQuery struct {
	Type     string
	Account  string
	Instance string
}

func parseEventQuery(r *http.Request) (eventQuery, error) {
	q := r.URL.Query()
	out := eventQuery{Type: strings.TrimSpace(q.Get("type"))}
	for _, f := range []struct {
		key string
		dst *string
	}{{"account", &out.Account}, {"instance", &out.Instance}} {
		raw := strings.TrimSpace(q.Get(f.key))
		if raw == "" {
			continue
		}
		if !common.IsHexAddress(raw) {
			return eventQuery{}, badRequest("%s must be a hex address", f.key)
		}
		*f.dst = common.HexToAddress(raw).Hex()
	}
	return out, nil
}

func (q eventQuery) match(rec events.Record) bool {
	if q.Type != "" && rec.Type != q.Type {
		return false
	}
	if q.Account != "" && rec.Attributes["account"] != q.Account {
		return false
	}
	if q.Instance != "" {
		attrs := rec.Attributes
		if attrs["sale"] != q.Instance && attrs["raffle"] != q.Instance && attrs["instance"] != q.Instance {
			return false
		}
	}
	return true
}

// listEvents pages through the journal in id order. next_after is the cursor
// for the following page.
func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event journal disabled")
		return
	}
	q, err := parseEventQuery(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, 1000)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	recs, err := a.journal.List(r.Context(), journal.Filter{
		Type:     q.Type,
		Account:  q.Account,
		Instance: q.Instance,
		After:    strings.TrimSpace(r.URL.Query().Get("after")),
		Limit:    limit,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := map[string]any{"events": recs}
	if len(recs) == limit {
		resp["next_after"] = recs[len(recs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stream serves live engine events as Server-Sent Events, filtered like
// listEvents.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	q, err := parseEventQuery(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx, q.match)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case rec, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", rec.ID, rec.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
