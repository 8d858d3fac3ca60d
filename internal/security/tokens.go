package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is the umbrella for every token verification failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidSignature is returned for malformed, unsigned, wrongly signed or mis-scoped tokens.
	ErrInvalidSignature = fmt.Errorf("%w: bad signature or claims", ErrInvalidToken)
	// ErrExpired is returned for a correctly signed token whose exp has passed.
	ErrExpired = fmt.Errorf("%w: expired", ErrInvalidToken)
	// ErrSharedKey is returned when access and refresh tokens would share a signing key.
	ErrSharedKey = errors.New("access and refresh tokens must use distinct keys")
)

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// AccessClaims holds JWT claims for the access token: subject and role only.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	TokenUse string `json:"token_use"`
}

// RefreshClaims holds JWT claims for the refresh token. RegisteredClaims.ID carries the jti.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	TokenUse string `json:"token_use"`
}

// TokenProvider signs and verifies access and refresh JWTs, each class with its own key.
// It holds no mutable state and is safe for concurrent use.
type TokenProvider struct {
	accessKey  SigningKey
	refreshKey SigningKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider. The two keys must differ; TTLs must be positive.
func NewTokenProvider(accessKey, refreshKey SigningKey, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	if accessKey.IsZero() || refreshKey.IsZero() {
		return nil, ErrInvalidKey
	}
	if accessKey.Equal(refreshKey) {
		return nil, ErrSharedKey
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &TokenProvider{
		accessKey:  accessKey,
		refreshKey: refreshKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithLeeway sets the clock-skew tolerance applied to exp/nbf checks.
func (p *TokenProvider) WithLeeway(d time.Duration) *TokenProvider {
	if d >= 0 {
		p.leeway = d
	}
	return p
}

// WithClock replaces the time source used for signing and verification.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	if now != nil {
		p.now = now
	}
	return p
}

// AccessTTL returns the access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// Now returns the provider's current time.
func (p *TokenProvider) Now() time.Time { return p.now() }

// SignAccess issues a short-lived access JWT carrying subject and role.
func (p *TokenProvider) SignAccess(subjectID, role string) (token string, expiresAt time.Time, err error) {
	now := p.now()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: p.registered(subjectID, "", now, expiresAt),
		Role:             role,
		TokenUse:         tokenUseAccess,
	}
	token, err = sign(p.accessKey, claims)
	return token, expiresAt, err
}

// SignRefresh issues a long-lived refresh JWT bound to jti. The caller persists Fingerprint(jti).
func (p *TokenProvider) SignRefresh(subjectID, role, jti string) (token string, expiresAt time.Time, err error) {
	if jti == "" {
		return "", time.Time{}, errors.New("refresh token requires a jti")
	}
	now := p.now()
	expiresAt = now.Add(p.refreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: p.registered(subjectID, jti, now, expiresAt),
		Role:             role,
		TokenUse:         tokenUseRefresh,
	}
	token, err = sign(p.refreshKey, claims)
	return token, expiresAt, err
}

// VerifyAccess checks signature, expiry, issuer and audience of an access token.
// Returns ErrExpired or ErrInvalidSignature on failure.
func (p *TokenProvider) VerifyAccess(tokenString string) (subjectID, role string, err error) {
	claims := &AccessClaims{}
	if err := p.parse(p.accessKey, tokenString, claims); err != nil {
		return "", "", err
	}
	if claims.TokenUse != tokenUseAccess || claims.Subject == "" {
		return "", "", ErrInvalidSignature
	}
	return claims.Subject, claims.Role, nil
}

// VerifyRefresh checks a refresh token and returns its subject, role and jti.
// Returns ErrExpired or ErrInvalidSignature on failure.
func (p *TokenProvider) VerifyRefresh(tokenString string) (subjectID, role, jti string, err error) {
	claims := &RefreshClaims{}
	if err := p.parse(p.refreshKey, tokenString, claims); err != nil {
		return "", "", "", err
	}
	if claims.TokenUse != tokenUseRefresh || claims.Subject == "" || claims.ID == "" {
		return "", "", "", ErrInvalidSignature
	}
	return claims.Subject, claims.Role, claims.ID, nil
}

func (p *TokenProvider) registered(subjectID, jti string, now, expiresAt time.Time) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subjectID,
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if p.audience != "" {
		rc.Audience = jwt.ClaimStrings{p.audience}
	}
	return rc
}

func (p *TokenProvider) parse(key SigningKey, tokenString string, claims jwt.Claims) error {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" || len(tokenString) > 8192 {
		return ErrInvalidSignature
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{key.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(p.leeway))
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != key.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key.verify, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return ErrInvalidSignature
	}
	if !token.Valid {
		return ErrInvalidSignature
	}
	return nil
}

func sign(key SigningKey, claims jwt.Claims) (string, error) {
	if key.IsZero() {
		return "", ErrInvalidKey
	}
	return jwt.NewWithClaims(key.method, claims).SignedString(key.sign)
}

// NewJTI returns a fresh random token id (UUIDv4, 122 random bits).
func NewJTI() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
