package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleOwner       = "owner"
	RoleParticipant = "participant"

	// issuedAtSkew tolerates small clock drift on the iat claim.
	issuedAtSkew = 5 * time.Second
)

// Claims represents JWT claims used across the service. Subject carries the
// hex address of the authenticated account.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Address returns the subject as an account address.
func (c *Claims) Address() common.Address {
	return common.HexToAddress(c.Subject)
}

// Issuer signs and validates HS256 session tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	skew   time.Duration
	owner  common.Address
	now    func() time.Time
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	// LoginSkew bounds the age of a signed login message.
	LoginSkew time.Duration
	// Owner receives RoleOwner on login.
	Owner common.Address
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("auth secret must be at least 32 bytes")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("ttl must be greater than zero")
	}
	name := strings.TrimSpace(cfg.Issuer)
	if name == "" {
		name = "launchpad"
	}
	skew := cfg.LoginSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	return &Issuer{
		secret: append([]byte(nil), cfg.Secret...),
		issuer: name,
		ttl:    cfg.TTL,
		skew:   skew,
		owner:  cfg.Owner,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock overrides the time source.
func (i *Issuer) SetClock(now func() time.Time) {
	if now != nil {
		i.now = now
	}
}

// RolesFor returns the roles granted to addr.
func (i *Issuer) RolesFor(addr common.Address) []string {
	if addr == i.owner {
		return []string{RoleOwner, RoleParticipant}
	}
	return []string{RoleParticipant}
}

// GenerateToken signs a JWT for the given account and roles.
func (i *Issuer) GenerateToken(addr common.Address, roles []string) (string, time.Time, error) {
	if addr == (common.Address{}) {
		return "", time.Time{}, errors.New("address is required")
	}
	now := i.now()
	expires := now.Add(i.ttl)
	claims := Claims{
		Roles: dedupeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   addr.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Login verifies a signed login message and issues a session token.
func (i *Issuer) Login(addr common.Address, issuedAt int64, sig []byte) (string, time.Time, error) {
	if err := VerifyLogin(addr, issuedAt, sig, i.now(), i.skew); err != nil {
		return "", time.Time{}, err
	}
	return i.GenerateToken(addr, i.RolesFor(addr))
}

// ParseAndValidate verifies the token signature and required claims.
func (i *Issuer) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := i.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	claims.Roles = dedupeRoles(claims.Roles)
	return claims, nil
}

func (i *Issuer) validateClaims(claims *Claims) error {
	if claims.Issuer != i.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if !common.IsHexAddress(claims.Subject) {
		return errors.New("subject is not an address")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := i.now()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return errors.New("token not yet valid")
	}
	if claims.IssuedAt.Time.After(now.Add(issuedAtSkew)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
