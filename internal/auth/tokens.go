package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"lmsportal.org/internal/ids"
)

const (
	defaultIssuer   = "lms-auth"
	defaultAudience = "lms-api"

	// Access tokens are short-lived by design so that a bumped token
	// version converges quickly without per-request storage lookups; the
	// refresh token is the long-lived revocation point.
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// SessionClaims is the stateless session payload carried by access tokens.
type SessionClaims struct {
	Email          string    `json:"email"`
	Roles          []RoleKey `json:"roles,omitempty"`
	ActiveRole     RoleKey   `json:"activeRole"`
	TenantID       string    `json:"tenantId,omitempty"`
	NodeID         string    `json:"nodeId,omitempty"`
	TokenVersion   int       `json:"tokenVersion"`
	IsImpersonated bool      `json:"isImpersonated,omitempty"`
	AdminID        string    `json:"adminId,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *SessionClaims) UserID() string { return c.Subject }

// TokenService issues, verifies, and rotates credentials. Access tokens are
// HS256 JWTs verified statelessly; refresh tokens are opaque `id.secret`
// pairs whose server half lives in the store so rotation can detect replays.
type TokenService struct {
	store      Store
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenService.
type TokenOption func(*TokenService)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(t *TokenService) {
		if ttl > 0 {
			t.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(t *TokenService) {
		if ttl > 0 {
			t.refreshTTL = ttl
		}
	}
}

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(t *TokenService) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

// WithTokenClock overrides the time source, for tests.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(t *TokenService) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokenService constructs a TokenService. The signing secret is required.
func NewTokenService(store Store, secret string, opts ...TokenOption) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 32 {
		return nil, errors.New("auth: signing secret must be at least 32 bytes")
	}
	t := &TokenService{
		store:      store,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		audience:   defaultAudience,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// AccessTTL returns the configured access token lifetime.
func (t *TokenService) AccessTTL() time.Duration { return t.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (t *TokenService) RefreshTTL() time.Duration { return t.refreshTTL }

// IssueAccess signs an access token for the given session claims. The
// registered claims are filled in here; callers only set the session fields.
func (t *TokenService) IssueAccess(userID string, claims SessionClaims) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := t.now().UTC()
	exp := now.Add(t.accessTTL)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Audience:  jwt.ClaimStrings{t.audience},
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccess validates signature, expiry, issuer, and audience. It does
// NOT check token-version freshness; Service.Authenticate layers that on so
// the stateless and stateful checks stay distinguishable.
func (t *TokenService) VerifyAccess(token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return t.now().UTC() }),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueRefresh mints an opaque refresh token bound to the user and persists
// its hashed server half so a later rotation can detect reuse.
func (t *TokenService) IssueRefresh(ctx context.Context, userID string, tokenVersion int, meta ClientMeta) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:           ids.New(),
		UserID:       userID,
		SecretHash:   hex.EncodeToString(sum[:]),
		TokenVersion: tokenVersion,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
		ExpiresAt:    t.now().UTC().Add(t.refreshTTL),
		CreatedAt:    t.now().UTC(),
	}
	if err := t.store.RefreshTokens().Create(ctx, rec); err != nil {
		return "", nil, err
	}
	return rec.ID + "." + secret, rec, nil
}

// Rotate consumes oldToken and issues a replacement. The consume step is a
// single check-and-set per token, so two concurrent rotations from the same
// credential cannot both succeed: the loser observes ErrTokenReuseDetected,
// as does any later replay of an already-rotated token. Ordinary invalidity
// (unknown, malformed, expired, stale version) returns ErrInvalidToken and
// sends the caller back to login.
func (t *TokenService) Rotate(ctx context.Context, oldToken string, meta ClientMeta) (string, *RefreshToken, error) {
	id, secret, err := splitRefreshToken(oldToken)
	if err != nil {
		return "", nil, ErrInvalidToken
	}

	rec, err := t.store.RefreshTokens().Consume(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTokenReuseDetected) {
			return "", rec, ErrTokenReuseDetected
		}
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrInvalidToken
		}
		return "", nil, err
	}

	if !matchesSecret(rec.SecretHash, secret) {
		return "", nil, ErrInvalidToken
	}
	if t.now().After(rec.ExpiresAt) {
		return "", nil, ErrInvalidToken
	}

	user, err := t.store.Users().Find(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrInvalidToken
		}
		return "", nil, err
	}
	if rec.TokenVersion != user.TokenVersion {
		// Global logout happened after this token was issued.
		return "", nil, ErrInvalidToken
	}

	newToken, newRec, err := t.IssueRefresh(ctx, user.ID, user.TokenVersion, meta)
	if err != nil {
		return "", nil, err
	}
	return newToken, newRec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("malformed refresh token")
	}
	return parts[0], parts[1], nil
}

func matchesSecret(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(actual) != len(expectedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expectedHash)) == 1
}
