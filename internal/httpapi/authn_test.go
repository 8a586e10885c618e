package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"launchpad.org/internal/auth"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func withPrincipal(r *http.Request, roles ...string) *http.Request {
	p := auth.Principal{Address: common.HexToAddress("0x00000000000000000000000000000000000000a1"), Roles: roles}
	return r.WithContext(auth.ContextWithPrincipal(r.Context(), p))
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole(auth.RoleOwner)(okHandler)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/internal", nil), auth.RoleOwner, auth.RoleParticipant)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole(auth.RoleOwner)(okHandler)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/internal", nil), auth.RoleParticipant)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsMissingUser(t *testing.T) {
	handler := RequireRole(auth.RoleOwner)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc":  true,
		"bearer abc":  true,
		"Basic abc":   false,
		"Bearer":      false,
		"Bearer    ":  false,
		"":            false,
		"Bearerabcde": false,
	}
	for header, ok := range cases {
		token, err := extractBearerToken(header)
		if ok && (err != nil || token != "abc") {
			t.Fatalf("%q: token=%q err=%v", header, token, err)
		}
		if !ok && err == nil {
			t.Fatalf("%q: expected error, got token %q", header, token)
		}
	}
}
