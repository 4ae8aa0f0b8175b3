package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrInvalidRefreshToken signals a missing, expired, or mismatched refresh token.
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	tokens    TokenStore
	jwtSecret []byte
	now       func() time.Time
}

// NewService creates a new authentication service.
func NewService(repo Repository, tokens TokenStore, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		tokens:    tokens,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.FullName == "" {
		return nil, fmt.Errorf("auth: email and full_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        strings.TrimSpace(strings.ToLower(req.Email)),
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
		FilingState:  strings.ToUpper(strings.TrimSpace(req.FilingState)),
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login authenticates a user and issues an access/refresh token pair. The
// refresh token is opaque and stored server-side, replacing any prior one.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	tokens, err := s.issueTokens(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{Tokens: tokens, User: user}, nil
}

// Refresh rotates the user's refresh token and issues a new access token.
func (s *Service) Refresh(ctx context.Context, userID, refreshToken string) (TokenPair, error) {
	stored, err := s.tokens.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRefreshNotFound) {
			return TokenPair{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(refreshToken)) != 1 {
		return TokenPair{}, ErrInvalidRefreshToken
	}

	return s.issueTokens(ctx, userID)
}

// Logout revokes the user's refresh token.
func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.tokens.Delete(ctx, userID)
}

// VerifyToken validates an access token and returns the user ID.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID, ok := claims["user_id"].(string)
		if !ok || userID == "" {
			return "", fmt.Errorf("auth: invalid user_id in token")
		}
		return userID, nil
	}

	return "", fmt.Errorf("auth: invalid token")
}

func (s *Service) issueTokens(ctx context.Context, userID string) (TokenPair, error) {
	access, err := s.generateAccessToken(userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: generate token: %w", err)
	}

	refresh := uuid.NewString()
	if err := s.tokens.Save(ctx, userID, refresh, refreshTokenTTL); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// generateAccessToken creates a short-lived JWT for the user.
func (s *Service) generateAccessToken(userID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(accessTokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
