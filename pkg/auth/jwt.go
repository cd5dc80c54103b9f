package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims CrewLedger issues and validates.
type Claims struct {
	jwt.RegisteredClaims
	Role       Role   `json:"role"`
	TelegramID *int64 `json:"telegram_id,omitempty"`
	TokenUse   string `json:"token_use"` // "access" | "refresh"
}

// TokenIssuer signs and validates access/refresh tokens with a shared,
// env-driven HMAC secret (JWT_SECRET) rather than an asymmetric key
// set, since CrewLedger's single-process deployment has no need for
// multi-service key rotation.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer builds an issuer from the configured secret and TTLs.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (i *TokenIssuer) issue(userID int64, role Role, telegramID *int64, use string, ttl time.Duration) (string, string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	jti := uuid.New().String()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:       role,
		TelegramID: telegramID,
		TokenUse:   use,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, jti, expiresAt, nil
}

// IssueAccess issues a short-lived access token (~15 min default).
func (i *TokenIssuer) IssueAccess(userID int64, role Role, telegramID *int64) (string, time.Time, error) {
	signed, _, expiresAt, err := i.issue(userID, role, telegramID, "access", i.accessTTL)
	return signed, expiresAt, err
}

// IssueRefresh issues a long-lived refresh token (~7 days default),
// returning its jti alongside the signed token so the caller can
// record it for single-use rotation tracking.
func (i *TokenIssuer) IssueRefresh(userID int64, role Role, telegramID *int64) (token, jti string, expiresAt time.Time, err error) {
	return i.issue(userID, role, telegramID, "refresh", i.refreshTTL)
}

// AccessTTLSeconds reports the access token TTL in whole seconds, for
// the TokenResponse.expires_in field.
func (i *TokenIssuer) AccessTTLSeconds() int64 {
	return int64(i.accessTTL.Seconds())
}

// Validate parses and validates a token string, requiring it to carry
// the given token_use ("access" or "refresh").
func (i *TokenIssuer) Validate(tokenStr, wantUse string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("auth: token subject is required")
	}
	if claims.TokenUse != wantUse {
		return nil, fmt.Errorf("auth: expected %s token, got %s", wantUse, claims.TokenUse)
	}
	return claims, nil
}
