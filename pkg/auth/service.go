package auth

import (
	"context"
	"errors"
	"time"
)

// Errors returned by Service.Login / Service.Refresh. Callers in the
// HTTP layer map these to their canonical error codes.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccessDeniedWeb    = errors.New("auth: worker access via web channel is denied")
	ErrUserInactive       = errors.New("auth: user is inactive")
	ErrRefreshReused      = errors.New("auth: refresh token already used")
)

// Credential mirrors AuthCredential.
type Credential struct {
	UserID       int64
	PasswordHash string
	LastLogin    *time.Time
}

// UserRepository is the read/write surface the auth Service needs
// from the store layer.
type UserRepository interface {
	FindByName(ctx context.Context, username string) (User, error)
	FindByPIN(ctx context.Context, pin string) (User, error)
	Credential(ctx context.Context, userID int64) (Credential, error)
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) error
}

// RefreshTokenRepository tracks issued refresh tokens so rotation can
// revoke the prior token and detect reuse.
type RefreshTokenRepository interface {
	Record(ctx context.Context, jti string, userID int64, expiresAt time.Time) error
	// Consume marks jti used, returning false if it was already used
	// (replay) or never recorded.
	Consume(ctx context.Context, jti string) (bool, error)
}

// LoginRequest carries either username+password or a pin_code.
type LoginRequest struct {
	Username string
	Password string
	PINCode  string
}

// TokenResponse is the response shape for login/refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Role         Role   `json:"role"`
	UserID       int64  `json:"user_id"`
	Name         string `json:"name"`
	TelegramID   *int64 `json:"telegram_id,omitempty"`
}

// Service implements login, refresh and token validation.
type Service struct {
	users   UserRepository
	refresh RefreshTokenRepository
	issuer  *TokenIssuer
}

// NewService builds an auth Service.
func NewService(users UserRepository, refresh RefreshTokenRepository, issuer *TokenIssuer) *Service {
	return &Service{users: users, refresh: refresh, issuer: issuer}
}

// Login authenticates a caller and, on success, issues a token pair.
// channel distinguishes web vs bot/api origin so the worker-via-web
// rejection can be enforced regardless of how the
// credentials themselves resolved.
func (s *Service) Login(ctx context.Context, channel Channel, req LoginRequest) (TokenResponse, error) {
	var user User
	var err error

	if req.PINCode != "" {
		user, err = s.users.FindByPIN(ctx, req.PINCode)
		if err != nil {
			return TokenResponse{}, ErrInvalidCredentials
		}
	} else {
		user, err = s.users.FindByName(ctx, req.Username)
		if err != nil {
			return TokenResponse{}, ErrInvalidCredentials
		}
		cred, err := s.users.Credential(ctx, user.ID)
		if err != nil || cred.PasswordHash == "" {
			return TokenResponse{}, ErrInvalidCredentials
		}
		if !VerifyPassword(cred.PasswordHash, req.Password) {
			return TokenResponse{}, ErrInvalidCredentials
		}
	}

	if user.Status != "active" {
		return TokenResponse{}, ErrUserInactive
	}

	if channel == ChannelWeb && user.Role == RoleWorker {
		return TokenResponse{}, ErrAccessDeniedWeb
	}

	_ = s.users.TouchLastLogin(ctx, user.ID, time.Now())
	return s.issueTokenPair(ctx, user.ID, user.Role, user.Name, user.TelegramID)
}

func (s *Service) issueTokenPair(ctx context.Context, userID int64, role Role, name string, telegramID *int64) (TokenResponse, error) {
	access, _, err := s.issuer.IssueAccess(userID, role, telegramID)
	if err != nil {
		return TokenResponse{}, err
	}
	refresh, jti, expiresAt, err := s.issuer.IssueRefresh(userID, role, telegramID)
	if err != nil {
		return TokenResponse{}, err
	}
	if err := s.refresh.Record(ctx, jti, userID, expiresAt); err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    s.issuer.AccessTTLSeconds(),
		Role:         role,
		UserID:       userID,
		Name:         name,
		TelegramID:   telegramID,
	}, nil
}

// Refresh rotates a refresh token: the presented token is validated
// and consumed (single use), and a new token pair is issued. Reusing
// an already-consumed refresh token is rejected.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	claims, err := s.issuer.Validate(refreshToken, "refresh")
	if err != nil {
		return TokenResponse{}, ErrInvalidCredentials
	}

	ok, err := s.refresh.Consume(ctx, claims.ID)
	if err != nil {
		return TokenResponse{}, err
	}
	if !ok {
		return TokenResponse{}, ErrRefreshReused
	}

	userID := parseSubject(claims.Subject)
	return s.issueTokenPair(ctx, userID, claims.Role, "", claims.TelegramID)
}

func parseSubject(sub string) int64 {
	var id int64
	for _, c := range sub {
		if c < '0' || c > '9' {
			return id
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
