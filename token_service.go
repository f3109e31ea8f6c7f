package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-tenant-auth/metrics"
)

// TokenKind distinguishes access from refresh tokens
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// SignerConfig holds the signing parameters of one token kind
type SignerConfig struct {
	Secret   []byte
	TTL      time.Duration
	Issuer   string
	Audience string
}

// TokenService mints and verifies access and refresh tokens. Each kind
// is signed with its own secret and carries its own audience, so a token
// of one kind never verifies as the other.
type TokenService struct {
	access  SignerConfig
	refresh SignerConfig
	now     Clock
	logger  Logger
}

// TokenServiceOption customizes the token service
type TokenServiceOption func(*TokenService)

// WithTokenClock injects a custom clock (useful for tests)
func WithTokenClock(clock Clock) TokenServiceOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger sets the logger used for verification failures
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		ts.logger = normalizeLogger(logger)
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(access, refresh SignerConfig, opts ...TokenServiceOption) (*TokenService, error) {
	if len(access.Secret) == 0 || len(refresh.Secret) == 0 {
		return nil, goerrors.New("token signing secrets are required", goerrors.CategoryBadInput)
	}
	if string(access.Secret) == string(refresh.Secret) {
		return nil, goerrors.New("access and refresh secrets must differ", goerrors.CategoryBadInput)
	}
	if access.Audience == "" || refresh.Audience == "" || access.Audience == refresh.Audience {
		return nil, goerrors.New("access and refresh audiences must be set and differ", goerrors.CategoryBadInput)
	}
	if access.TTL <= 0 {
		access.TTL = DefaultAccessTokenTTL
	}
	if refresh.TTL <= 0 {
		refresh.TTL = DefaultRefreshTokenTTL
	}

	ts := &TokenService{
		access:  access,
		refresh: refresh,
		now:     time.Now,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts, nil
}

// IssueAccessToken signs a short lived access token
func (ts *TokenService) IssueAccessToken(claims Claims) (string, error) {
	return ts.issue(ts.access, claims)
}

// IssueRefreshToken signs a long lived refresh token
func (ts *TokenService) IssueRefreshToken(claims Claims) (string, error) {
	return ts.issue(ts.refresh, claims)
}

// IssuePair signs an access and a refresh token for the same claims
func (ts *TokenService) IssuePair(claims Claims) (access, refresh string, err error) {
	if access, err = ts.IssueAccessToken(claims); err != nil {
		return "", "", err
	}
	if refresh, err = ts.IssueRefreshToken(claims); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// VerifyAccess verifies a token against the access audience
func (ts *TokenService) VerifyAccess(token string) (*Claims, error) {
	return ts.Verify(token, ts.access.Audience)
}

// VerifyRefresh verifies a token against the refresh audience
func (ts *TokenService) VerifyRefresh(token string) (*Claims, error) {
	return ts.Verify(token, ts.refresh.Audience)
}

// Verify parses a token expected to carry the given audience. The
// audience selects the signing secret. It returns ErrTokenExpired for
// expired tokens and ErrInvalidToken for everything else.
func (ts *TokenService) Verify(token, expectedAudience string) (*Claims, error) {
	var cfg SignerConfig
	var kind TokenKind
	switch expectedAudience {
	case ts.access.Audience:
		cfg, kind = ts.access, TokenKindAccess
	case ts.refresh.Audience:
		cfg, kind = ts.refresh, TokenKindRefresh
	default:
		ts.logger.Warn("token verification requested for unknown audience", "audience", expectedAudience)
		return nil, ErrInvalidToken
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(ts.now),
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return cfg.Secret, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			ts.logger.Debug("token verification failed", "kind", string(kind), "reason", "expired")
			metrics.TokenVerificationsTotal.WithLabelValues(string(kind), "expired").Inc()
			return nil, ErrTokenExpired
		}
		ts.logger.Warn("token verification failed", "kind", string(kind), "reason", err.Error())
		metrics.TokenVerificationsTotal.WithLabelValues(string(kind), "invalid").Inc()
		return nil, ErrInvalidToken
	}

	if !parsed.Valid || claims.RegisteredClaims.Subject == "" {
		metrics.TokenVerificationsTotal.WithLabelValues(string(kind), "invalid").Inc()
		return nil, ErrInvalidToken
	}

	metrics.TokenVerificationsTotal.WithLabelValues(string(kind), "ok").Inc()
	return claims, nil
}

// AccessTTL is the lifetime of access tokens
func (ts *TokenService) AccessTTL() time.Duration {
	return ts.access.TTL
}

func (ts *TokenService) issue(cfg SignerConfig, claims Claims) (string, error) {
	if claims.RegisteredClaims.Subject == "" {
		return "", goerrors.New("claims subject is required", goerrors.CategoryBadInput)
	}

	now := ts.now()
	out := claims
	out.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   claims.RegisteredClaims.Subject,
		Audience:  jwt.ClaimStrings{cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &out)
	signed, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, nil
}
