package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"followup-caller/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidAPIKey  = errors.New("auth: invalid api key")
	ErrUnknownSubject = errors.New("auth: unknown subject")
)

type credential struct {
	subject string
	role    string
	keyHash [sha256.Size]byte
}

type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration

	credentials []credential
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	m := &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}
	for _, k := range cfg.APIKeys {
		m.credentials = append(m.credentials, credential{
			subject: k.Subject,
			role:    k.Role,
			keyHash: sha256.Sum256([]byte(k.Key)),
		})
	}
	return m, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

/* ===================== API KEY EXCHANGE ===================== */

// Exchange trades a configured API key for a token pair.
func (m *Manager) Exchange(now time.Time, apiKey string) (TokenPair, error) {
	subject, role, err := m.Authenticate(apiKey)
	if err != nil {
		return TokenPair{}, err
	}
	return m.IssuePair(now, subject, role)
}

// Authenticate resolves a configured API key to its subject and role.
func (m *Manager) Authenticate(apiKey string) (subject, role string, err error) {
	if apiKey == "" {
		return "", "", ErrInvalidAPIKey
	}
	h := sha256.Sum256([]byte(apiKey))
	for _, c := range m.credentials {
		if subtle.ConstantTimeCompare(h[:], c.keyHash[:]) == 1 {
			return c.subject, c.role, nil
		}
	}
	return "", "", ErrInvalidAPIKey
}

// Refresh issues a new pair from a refresh token. The role is looked up again,
// so removing a key revokes refresh.
func (m *Manager) Refresh(now time.Time, refreshToken string) (TokenPair, error) {
	claims, err := m.Verify(refreshToken, TokenTypeRefresh, now)
	if err != nil {
		return TokenPair{}, err
	}
	for _, c := range m.credentials {
		if c.subject == claims.Subject {
			return m.IssuePair(now, c.subject, c.role)
		}
	}
	return TokenPair{}, ErrUnknownSubject
}

/* ===================== ISSUE TOKENS ===================== */

func (m *Manager) IssuePair(now time.Time, subject, role string) (TokenPair, error) {
	access, err := m.issue(now, TokenTypeAccess, subject, role, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}

	// refresh tokens DO NOT carry role
	refresh, err := m.issue(now, TokenTypeRefresh, subject, "", m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

/* ===================== VERIFY TOKEN ===================== */

func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	if err := jwt.NewValidator(opts...).Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, err
	}

	if claims.TokenType != expected {
		return Claims{}, errors.New("token_type mismatch")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("subject missing")
	}
	// Role is required ONLY for access tokens
	if expected == TokenTypeAccess && claims.Role == "" {
		return Claims{}, errors.New("role missing in access token")
	}

	return claims, nil
}

/* ===================== INTERNAL ISSUE ===================== */

func (m *Manager) issue(now time.Time, tokenType TokenType, subject, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:      role,
		TokenType: tokenType,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
